package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRuleNotFound is returned by stores when no rule matches the given id.
var ErrRuleNotFound = errors.New("rule not found")

// ListFilter narrows a List call. Zero values mean "no filter".
type ListFilter struct {
	CompanyID string
	Status    RuleStatus
}

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	// Create inserts a new rule and returns the stored representation.
	Create(ctx context.Context, rule *Rule) (*Rule, error)

	// Get retrieves a rule by id; ErrRuleNotFound when missing.
	Get(ctx context.Context, id string) (*Rule, error)

	// List returns rules matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Rule, error)

	// Update applies a partial update and returns the updated rule.
	Update(ctx context.Context, id string, update RuleUpdate) (*Rule, error)

	// Delete removes a rule.
	Delete(ctx context.Context, id string) error

	// SetStatus transitions a rule between active and inactive.
	SetStatus(ctx context.Context, id string, status RuleStatus) (*Rule, error)

	// RecordExecution persists an execution outcome: lastRunAt always
	// advances, lastResult is replaced, and lastTriggeredAt advances only
	// when triggered is true. The update is atomic.
	RecordExecution(ctx context.Context, id string, lastResult any, triggered bool) (*Rule, error)
}

// InMemoryRuleStore implements RuleStore with an in-memory map. Used in
// tests and as a reference implementation of the store semantics.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

func (s *InMemoryRuleStore) Create(ctx context.Context, rule *Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rule.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.rules[stored.ID]; exists {
		return nil, fmt.Errorf("rule with ID %s already exists", stored.ID)
	}
	if stored.Status == "" {
		stored.Status = StatusInactive
	}

	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rules[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *InMemoryRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

func (s *InMemoryRuleStore) List(ctx context.Context, filter ListFilter) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if filter.CompanyID != "" && rule.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && rule.Status != filter.Status {
			continue
		}
		out = append(out, rule.Clone())
	}
	return out, nil
}

func (s *InMemoryRuleStore) Update(ctx context.Context, id string, update RuleUpdate) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	if update.Name != nil {
		existing.Name = *update.Name
	}
	if update.Description != nil {
		existing.Description = *update.Description
	}
	if update.Type != nil {
		existing.Type = *update.Type
	}
	if update.Status != nil {
		existing.Status = *update.Status
	}
	if update.ScheduleCron != nil {
		existing.ScheduleCron = *update.ScheduleCron
	}
	if update.Prompt != nil {
		existing.Prompt = *update.Prompt
	}
	if update.Cypher != nil {
		existing.Cypher = *update.Cypher
	}
	if update.SQL != nil {
		existing.SQL = *update.SQL
	}
	if update.SQLParams != nil {
		existing.SQLParams = update.SQLParams
	}
	if update.Metadata != nil {
		existing.Metadata = update.Metadata
	}
	existing.UpdatedAt = time.Now().UTC()
	return existing.Clone(), nil
}

func (s *InMemoryRuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryRuleStore) SetStatus(ctx context.Context, id string, status RuleStatus) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	existing.Status = status
	existing.UpdatedAt = time.Now().UTC()
	return existing.Clone(), nil
}

func (s *InMemoryRuleStore) RecordExecution(ctx context.Context, id string, lastResult any, triggered bool) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	now := time.Now().UTC()
	existing.LastRunAt = &now
	existing.LastResult = lastResult
	if triggered {
		existing.LastTriggeredAt = &now
	}
	existing.UpdatedAt = now
	return existing.Clone(), nil
}
