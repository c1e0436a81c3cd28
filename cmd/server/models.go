package main

import (
	"github.com/voltgrid/nlqgate/events"
	"github.com/voltgrid/nlqgate/rules"
)

// CreateRuleRequest is the payload for POST /api/v1/rules. Schedule rules
// need either an explicit cron expression or a natural-language schedule
// text; an explicit cron wins when both are present.
type CreateRuleRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Type         rules.RuleType `json:"type"`
	Prompt       string         `json:"prompt"`
	ScheduleCron string         `json:"scheduleCron,omitempty"`
	ScheduleText string         `json:"scheduleText,omitempty"`
	SQLParams    []any          `json:"sqlParams,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CompanyID    string         `json:"companyId,omitempty"`
	Activate     bool           `json:"activate,omitempty"`
}

// UpdateRuleRequest is the payload for PATCH /api/v1/rules/{ruleId}. Nil
// fields are left unchanged; a new prompt regenerates the query pair.
type UpdateRuleRequest struct {
	Name         *string        `json:"name,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Status       *string        `json:"status,omitempty"`
	ScheduleCron *string        `json:"scheduleCron,omitempty"`
	Prompt       *string        `json:"prompt,omitempty"`
	SQLParams    []any          `json:"sqlParams,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NLQRequest is the payload for POST /api/v1/nlq/query.
type NLQRequest struct {
	Text      string `json:"text"`
	CompanyID string `json:"companyId,omitempty"`
}

// QueryError carries one failed execution side of the NLQ response.
type QueryError struct {
	Message string `json:"message"`
}

// NLQResponse is the interactive query result: both stores are attempted and
// the answer degrades to whichever side succeeded.
type NLQResponse struct {
	Answer     string           `json:"answer"`
	Cypher     string           `json:"cypher"`
	SQL        string           `json:"sql"`
	Rows       []map[string]any `json:"rows"`
	GraphRows  []map[string]any `json:"graphRows"`
	Source     string           `json:"source"`
	TotalMs    int64            `json:"totalMs"`
	SQLError   *QueryError      `json:"sqlError"`
	GraphError *QueryError      `json:"graphError"`
}

// RuleListResponse wraps GET /api/v1/rules.
type RuleListResponse struct {
	Items []*rules.Rule `json:"items"`
}

// EventListResponse wraps GET /api/v1/events.
type EventListResponse struct {
	Items []events.Event `json:"items"`
}

// ErrorResponse is the uniform error body: a stable machine code plus a
// human-readable message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
