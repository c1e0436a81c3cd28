package events

import "time"

// Event types produced by the automation and ingestion paths.
const (
	TypeRuleAlert  = "rule.alert"
	TypeRuleReport = "rule.report"
	TypeTelemetry  = "telemetry"
)

// Event is an ephemeral notification of an automation outcome or telemetry
// sample. Events live only in the per-company rolling buffer and on the
// websocket wire; they are never persisted.
type Event struct {
	Type        string           `json:"type"`
	RuleID      string           `json:"ruleId,omitempty"`
	Name        string           `json:"name,omitempty"`
	CompanyID   string           `json:"companyId"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Rows        []map[string]any `json:"rows,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}
