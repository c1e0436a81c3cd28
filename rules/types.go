package rules

import "time"

// RuleType determines the scheduling strategy for a rule.
type RuleType string

const (
	// TypeScheduleReport rules run on a cron expression and always fire when due.
	TypeScheduleReport RuleType = "schedule_report"
	// TypeThresholdAlert rules are polled continuously and fire only when
	// their query returns at least one row.
	TypeThresholdAlert RuleType = "threshold_alert"
)

// RuleStatus is the lifecycle status of a rule. Only active rules are
// scheduled or polled.
type RuleStatus string

const (
	StatusActive   RuleStatus = "active"
	StatusInactive RuleStatus = "inactive"
)

// CompanyIDParam is the symbolic placeholder in SQLParams that resolves to
// the rule's owning company id at execution time.
const CompanyIDParam = "$COMPANY_ID"

// Rule is a user-authored automation: a natural-language prompt translated
// into a Cypher/SQL query pair, executed on a cron schedule or by the
// continuous threshold poll.
type Rule struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"companyId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        RuleType   `json:"type"`
	Status      RuleStatus `json:"status"`

	// ScheduleCron is required (and validated) only for schedule_report rules.
	ScheduleCron string `json:"scheduleCron,omitempty"`

	Prompt string `json:"prompt"`
	Cypher string `json:"cypher,omitempty"`
	SQL    string `json:"sql,omitempty"`

	// SQLParams are the positional parameters for the SQL query. The
	// CompanyIDParam sentinel is substituted with the owning company id.
	SQLParams []any `json:"sqlParams,omitempty"`

	// Metadata carries UI-facing annotations (schedule summary text and the
	// like) without schema changes. Unknown keys pass through untouched.
	Metadata map[string]any `json:"metadata,omitempty"`

	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	LastResult      any        `json:"lastResult,omitempty"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy of the rule safe to hand across goroutine boundaries.
// SQLParams and Metadata are copied; LastResult is shared since it is
// treated as immutable once recorded.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	out := *r
	if r.SQLParams != nil {
		out.SQLParams = make([]any, len(r.SQLParams))
		copy(out.SQLParams, r.SQLParams)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// RuleUpdate carries a partial update; nil fields are left unchanged.
type RuleUpdate struct {
	Name         *string
	Description  *string
	Type         *RuleType
	Status       *RuleStatus
	ScheduleCron *string
	Prompt       *string
	Cypher       *string
	SQL          *string
	SQLParams    []any
	Metadata     map[string]any
}
