// Package nlq defines the natural-language → query generation contract and
// the text helpers shared by the interactive query path.
package nlq

import (
	"context"
	"fmt"
)

// Queries is a generated graph/relational query pair.
type Queries struct {
	Cypher string
	SQL    string
}

// Schedule is a cron expression derived from a natural-language description,
// plus a short human-readable summary of what was understood.
type Schedule struct {
	Cron    string
	Summary string
}

// Generator turns free text into executable queries and schedules. The
// implementation is an opaque model call that can fail or return malformed
// output; those cases surface as *GenerationError or *InvalidScheduleError.
type Generator interface {
	GenerateQueries(ctx context.Context, text, companyID string) (*Queries, error)
	GenerateSchedule(ctx context.Context, text string) (*Schedule, error)
}

// GenerationError means the generation capability failed or returned output
// that does not conform to the expected contract. Never retried
// automatically.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("query generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// InvalidScheduleError means the schedule text could not be mapped to a
// usable cron expression. Summary carries the model's explanation when
// available.
type InvalidScheduleError struct {
	Summary string
}

func (e *InvalidScheduleError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("could not interpret schedule: %s", e.Summary)
	}
	return "could not interpret the given schedule description"
}
