package rules

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voltgrid/nlqgate/events"
	"github.com/voltgrid/nlqgate/internal/logger"
)

// DefaultPollInterval is the cadence of the shared threshold-alert scan.
const DefaultPollInterval = time.Minute

// SQLExecutor runs a generated SQL query against the relational store.
type SQLExecutor interface {
	Run(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// Broadcaster delivers a payload to every realtime subscriber of a company.
type Broadcaster interface {
	Broadcast(companyID string, payload any)
}

// EventSink records events into the per-company rolling buffer.
type EventSink interface {
	RecordEvent(companyID string, event events.Event)
}

var positionalParamPattern = regexp.MustCompile(`\$1\b`)

// Manager owns the in-memory scheduling state for all active rules: cron
// entries for schedule_report rules and a shared poll loop over the
// threshold_alert set. All of it is derived state, rebuildable from the
// RuleStore at any time via Start.
type Manager struct {
	store  RuleStore
	sql    SQLExecutor
	hub    Broadcaster
	sink   EventSink
	cron   *cron.Cron
	parser cron.Parser

	pollInterval time.Duration

	mu        sync.Mutex
	entries   map[string]cron.EntryID
	threshold map[string]*Rule
	running   map[string]bool
	pollStop  chan struct{}
}

// ManagerOptions tunes manager behavior; the zero value uses defaults.
type ManagerOptions struct {
	// PollInterval overrides the shared threshold scan cadence.
	PollInterval time.Duration
}

// NewManager creates a rule manager with the default one-minute poll cadence.
func NewManager(store RuleStore, sqlExec SQLExecutor, hub Broadcaster, sink EventSink) *Manager {
	return NewManagerWithOptions(store, sqlExec, hub, sink, ManagerOptions{})
}

// NewManagerWithOptions creates a rule manager with explicit options.
func NewManagerWithOptions(store RuleStore, sqlExec SQLExecutor, hub Broadcaster, sink EventSink, opts ManagerOptions) *Manager {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Manager{
		store:        store,
		sql:          sqlExec,
		hub:          hub,
		sink:         sink,
		cron:         cron.New(cron.WithLocation(time.UTC), cron.WithParser(parser)),
		parser:       parser,
		pollInterval: interval,
		entries:      make(map[string]cron.EntryID),
		threshold:    make(map[string]*Rule),
		running:      make(map[string]bool),
	}
}

// ValidateCron reports whether expr is a parseable five-field cron expression.
func (m *Manager) ValidateCron(expr string) error {
	_, err := m.parser.Parse(expr)
	return err
}

// Start loads every persisted rule and registers the active ones, then
// starts the cron runner. Idempotent: AddRule is a no-op for inactive rules
// and replaces existing registrations for active ones.
func (m *Manager) Start(ctx context.Context) error {
	all, err := m.store.List(ctx, ListFilter{})
	if err != nil {
		return err
	}
	for _, rule := range all {
		m.AddRule(rule)
	}
	m.cron.Start()
	logger.Info("rule manager started", "rules", len(all))
	return nil
}

// Stop cancels every cron entry and the shared poll loop. In-flight
// executions are not interrupted; they finish and persist their results.
func (m *Manager) Stop() {
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()

	m.mu.Lock()
	for id, entryID := range m.entries {
		m.cron.Remove(entryID)
		delete(m.entries, id)
	}
	m.threshold = make(map[string]*Rule)
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
	m.mu.Unlock()

	logger.Info("rule manager stopped")
}

// AddRule registers a rule for scheduling. Inactive rules are ignored.
// Schedule rules with an invalid cron expression are logged and left
// unscheduled rather than failing the manager.
func (m *Manager) AddRule(rule *Rule) {
	if rule == nil || rule.Status != StatusActive {
		return
	}

	switch rule.Type {
	case TypeScheduleReport:
		if rule.ScheduleCron == "" || m.ValidateCron(rule.ScheduleCron) != nil {
			logger.Warn("invalid cron for scheduled rule, skipping", "ruleId", rule.ID, "cron", rule.ScheduleCron)
			return
		}

		snapshot := rule.Clone()
		m.mu.Lock()
		if entryID, ok := m.entries[rule.ID]; ok {
			m.cron.Remove(entryID)
			delete(m.entries, rule.ID)
		}
		entryID, err := m.cron.AddFunc(rule.ScheduleCron, func() {
			m.ExecuteRule(context.Background(), snapshot.ID, snapshot)
		})
		if err != nil {
			m.mu.Unlock()
			logger.Warn("failed to register cron entry", "ruleId", rule.ID, "error", err)
			return
		}
		m.entries[rule.ID] = entryID
		m.mu.Unlock()
		logger.Info("scheduled rule registered", "ruleId", rule.ID, "cron", rule.ScheduleCron)

	case TypeThresholdAlert:
		m.mu.Lock()
		m.threshold[rule.ID] = rule.Clone()
		m.ensurePollLoopLocked()
		m.mu.Unlock()
		logger.Info("threshold rule registered", "ruleId", rule.ID)
	}
}

// RemoveRule cancels any cron entry for the id and drops it from the polled
// set. Idempotent; safe to call for unknown ids.
func (m *Manager) RemoveRule(ruleID string) {
	m.mu.Lock()
	if entryID, ok := m.entries[ruleID]; ok {
		m.cron.Remove(entryID)
		delete(m.entries, ruleID)
	}
	delete(m.threshold, ruleID)
	m.ensurePollLoopLocked()
	m.mu.Unlock()
}

// ReloadRule re-derives scheduling state for a rule after any mutation:
// remove, re-fetch, re-add. A missing rule simply stays removed.
func (m *Manager) ReloadRule(ctx context.Context, ruleID string) {
	m.RemoveRule(ruleID)
	fresh, err := m.store.Get(ctx, ruleID)
	if err != nil {
		if !errors.Is(err, ErrRuleNotFound) {
			logger.Warn("failed to reload rule", "ruleId", ruleID, "error", err)
		}
		return
	}
	m.AddRule(fresh)
}

// Scheduled reports whether the manager currently tracks the rule id, either
// as a cron entry or as a polled threshold rule.
func (m *Manager) Scheduled(ruleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[ruleID]; ok {
		return true
	}
	_, ok := m.threshold[ruleID]
	return ok
}

// ensurePollLoopLocked lazily starts the shared poll loop when the threshold
// set becomes non-empty and tears it down when the set drains. Caller holds mu.
func (m *Manager) ensurePollLoopLocked() {
	if len(m.threshold) == 0 {
		if m.pollStop != nil {
			close(m.pollStop)
			m.pollStop = nil
		}
		return
	}
	if m.pollStop == nil {
		stop := make(chan struct{})
		m.pollStop = stop
		go m.pollLoop(stop)
	}
}

func (m *Manager) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.runThresholdScan()
		}
	}
}

// runThresholdScan executes every polled rule sequentially. One shared timer
// over the whole set instead of a timer per rule keeps the fan-out bounded
// under many threshold rules.
func (m *Manager) runThresholdScan() {
	m.mu.Lock()
	batch := make([]*Rule, 0, len(m.threshold))
	for _, rule := range m.threshold {
		batch = append(batch, rule)
	}
	m.mu.Unlock()

	for _, rule := range batch {
		m.ExecuteRule(context.Background(), rule.ID, rule)
	}
}

// tryAcquire marks a rule as mid-execution. Returns false when an execution
// for the same id is already in flight.
func (m *Manager) tryAcquire(ruleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[ruleID] {
		return false
	}
	m.running[ruleID] = true
	return true
}

func (m *Manager) release(ruleID string) {
	m.mu.Lock()
	delete(m.running, ruleID)
	m.mu.Unlock()
}

// ExecuteRule runs a rule's SQL query, evaluates the firing policy, persists
// the outcome, and fans out the result when the rule fired. Overlapping
// invocations for the same rule id collapse to a single execution; the
// losing invocation is dropped, not queued. Execution failures are recorded
// against the rule and never propagate.
func (m *Manager) ExecuteRule(ctx context.Context, ruleID string, provided *Rule) {
	if !m.tryAcquire(ruleID) {
		logger.Debug("execution skipped: previous run still in flight", "ruleId", ruleID)
		return
	}
	defer m.release(ruleID)

	rule := provided
	if rule == nil {
		fetched, err := m.store.Get(ctx, ruleID)
		if err != nil {
			if !errors.Is(err, ErrRuleNotFound) {
				logger.Warn("failed to load rule for execution", "ruleId", ruleID, "error", err)
			}
			return
		}
		rule = fetched
	}
	if rule.Status != StatusActive {
		return
	}

	rows, err := m.sql.Run(ctx, rule.SQL, buildSQLParams(rule)...)
	if err != nil {
		logger.Error("rule execution failed", "ruleId", ruleID, "error", err)
		if _, recErr := m.store.RecordExecution(ctx, ruleID, map[string]any{"error": err.Error()}, false); recErr != nil {
			logger.Error("failed to record rule failure", "ruleId", ruleID, "error", recErr)
		}
		return
	}

	normalized := NormalizeRows(CapRows(rows, MaxResultRows))
	triggered := rule.Type != TypeThresholdAlert || len(rows) > 0

	result := any(normalized)
	if !triggered {
		result = []map[string]any{}
	}
	if _, err := m.store.RecordExecution(ctx, rule.ID, result, triggered); err != nil {
		logger.Error("failed to record rule execution", "ruleId", rule.ID, "error", err)
		return
	}

	if triggered {
		m.broadcastResult(rule, normalized)
	}
}

// broadcastResult records the outcome in the rolling event buffer and pushes
// it to connected subscribers. Both are best effort.
func (m *Manager) broadcastResult(rule *Rule, rows []map[string]any) {
	eventType := events.TypeRuleReport
	if rule.Type == TypeThresholdAlert {
		eventType = events.TypeRuleAlert
	}

	event := events.Event{
		Type:        eventType,
		RuleID:      rule.ID,
		Name:        rule.Name,
		CompanyID:   rule.CompanyID,
		GeneratedAt: time.Now().UTC(),
		Rows:        rows,
		Metadata:    rule.Metadata,
	}

	if m.sink != nil {
		m.sink.RecordEvent(rule.CompanyID, event)
	}
	if m.hub != nil {
		m.hub.Broadcast(rule.CompanyID, event)
	}
}

// buildSQLParams resolves a rule's positional parameters: explicit tokens
// pass through with the company-id sentinel substituted; with no tokens, a
// lone $1 placeholder in the query defaults to the company id.
func buildSQLParams(rule *Rule) []any {
	if rule.SQL == "" {
		return nil
	}

	if len(rule.SQLParams) > 0 {
		out := make([]any, len(rule.SQLParams))
		for i, token := range rule.SQLParams {
			if s, ok := token.(string); ok && s == CompanyIDParam {
				out[i] = rule.CompanyID
				continue
			}
			out[i] = token
		}
		return out
	}

	if positionalParamPattern.MatchString(rule.SQL) {
		return []any{rule.CompanyID}
	}
	return nil
}
