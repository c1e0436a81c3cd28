package events

import "sync"

// MaxEventsPerCompany bounds the rolling buffer held for each company.
const MaxEventsPerCompany = 200

// ListOptions filters a ListEvents call.
type ListOptions struct {
	// Type keeps only events with a matching type tag when non-empty.
	Type string
	// Limit caps the returned slice; clamped to [1, MaxEventsPerCompany].
	Limit int
}

// Store is a process-lifetime, per-company rolling buffer of recent events,
// newest first. It exists so a client that connects after an event fired can
// still retrieve recent history.
type Store struct {
	mu        sync.RWMutex
	byCompany map[string][]Event
}

// NewStore creates an empty event store.
func NewStore() *Store {
	return &Store{
		byCompany: make(map[string][]Event),
	}
}

// RecordEvent inserts an event at the head of the company's buffer, evicting
// the oldest entry once capacity is exceeded.
func (s *Store) RecordEvent(companyID string, event Event) {
	if companyID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.byCompany[companyID]
	bucket = append([]Event{event}, bucket...)
	if len(bucket) > MaxEventsPerCompany {
		bucket = bucket[:MaxEventsPerCompany]
	}
	s.byCompany[companyID] = bucket
}

// ListEvents returns a copy of the company's recent events, optionally
// filtered by type and capped by limit.
func (s *Store) ListEvents(companyID string, opts ListOptions) []Event {
	if companyID == "" {
		return []Event{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.byCompany[companyID]
	out := make([]Event, 0, len(bucket))
	for _, event := range bucket {
		if opts.Type != "" && event.Type != opts.Type {
			continue
		}
		out = append(out, event)
	}

	if opts.Limit > 0 {
		limit := opts.Limit
		if limit > MaxEventsPerCompany {
			limit = MaxEventsPerCompany
		}
		if len(out) > limit {
			out = out[:limit]
		}
	}
	return out
}

// ClearCompany drops the buffer for one company.
func (s *Store) ClearCompany(companyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCompany, companyID)
}

// ClearAll drops every buffer.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCompany = make(map[string][]Event)
}
