// Package catalog stores approved natural-language-question → query
// mappings, scoped per company with fallback to a global catalog.
package catalog

import (
	"context"
	"fmt"
	"time"
)

// DefaultApprovalThreshold is the minimum approval score for a cached
// mapping to be reused without regeneration.
const DefaultApprovalThreshold = 0.8

// GlobalCompanyKey is the sentinel scope for entries shared by all companies.
const GlobalCompanyKey = "__global__"

// CompanyKey maps a company id to its catalog scope key.
func CompanyKey(companyID string) string {
	if companyID == "" {
		return GlobalCompanyKey
	}
	return companyID
}

// ApprovedQuestion is a cached, reusable question → query mapping.
type ApprovedQuestion struct {
	Text           string
	NormalizedText string
	Cypher         string
	SQL            string
	Approval       float64
	// CompanyID is empty for global-scope entries.
	CompanyID  string
	CompanyKey string
	UsageCount int
	LastUsedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Success describes a generation that executed successfully and should be
// recorded for reuse.
type Success struct {
	Text           string
	NormalizedText string
	CompanyID      string
	Cypher         string
	SQL            string
	// Approval defaults to 1 when zero.
	Approval float64
}

// Catalog is the approval cache contract. All errors are wrapped in
// *Error; callers treat lookup/record failures as cache misses and must
// never fail their primary request path on them.
type Catalog interface {
	// FindApproved looks up the company-scoped entry first, then falls back
	// to the global scope (skipped when the requested scope is already
	// global). Returns nil when no entry clears the threshold.
	FindApproved(ctx context.Context, normalizedText, companyID string, threshold float64) (*ApprovedQuestion, error)

	// RecordUsage bumps the usage counter of a matching entry. Silently a
	// no-op when the entry does not exist.
	RecordUsage(ctx context.Context, normalizedText, companyID string) error

	// RecordSuccess upserts an entry. On update the approval score is
	// monotonic non-decreasing; queries, usage, and timestamps refresh
	// unconditionally.
	RecordSuccess(ctx context.Context, success Success) error
}

// Error wraps any fault in the catalog path so callers can downgrade it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
