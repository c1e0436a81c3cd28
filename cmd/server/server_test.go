package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voltgrid/nlqgate/catalog"
	"github.com/voltgrid/nlqgate/events"
	"github.com/voltgrid/nlqgate/internal/config"
	"github.com/voltgrid/nlqgate/nlq"
	"github.com/voltgrid/nlqgate/rules"
)

type fakeGenerator struct {
	queries     *nlq.Queries
	queriesErr  error
	schedule    *nlq.Schedule
	scheduleErr error
}

func (f *fakeGenerator) GenerateQueries(ctx context.Context, text, companyID string) (*nlq.Queries, error) {
	if f.queriesErr != nil {
		return nil, f.queriesErr
	}
	if f.queries != nil {
		return f.queries, nil
	}
	return &nlq.Queries{
		Cypher: "MATCH (d:Device) RETURN d.id",
		SQL:    "SELECT logical_id FROM telemetry_raw WHERE company_id = $1",
	}, nil
}

func (f *fakeGenerator) GenerateSchedule(ctx context.Context, text string) (*nlq.Schedule, error) {
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	if f.schedule != nil {
		return f.schedule, nil
	}
	return &nlq.Schedule{Cron: "0 8 * * *", Summary: "Daily at 08:00 UTC"}, nil
}

type fakeGraph struct {
	rows      []map[string]any
	err       error
	lastQuery string
}

func (f *fakeGraph) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	f.lastQuery = query
	return f.rows, f.err
}

type fakeSQL struct {
	rows []map[string]any
	err  error
}

func (f *fakeSQL) Run(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return f.rows, f.err
}

type testEnv struct {
	server  *Server
	store   rules.RuleStore
	catalog catalog.Catalog
	manager *rules.Manager
	events  *events.Store
	gen     *fakeGenerator
	graph   *fakeGraph
	sql     *fakeSQL
}

func newTestEnv() *testEnv {
	store := rules.NewInMemoryRuleStore()
	gen := &fakeGenerator{}
	graph := &fakeGraph{rows: []map[string]any{}}
	sqlExec := &fakeSQL{rows: []map[string]any{}}
	hub := events.NewHub()
	eventStore := events.NewStore()
	manager := rules.NewManager(store, sqlExec, hub, eventStore)
	cat := catalog.NewInMemoryCatalog()

	cfg := &config.Config{
		DefaultCompanyID:  "default-co",
		ApprovalThreshold: catalog.DefaultApprovalThreshold,
	}

	server := NewServer(cfg, Dependencies{
		Store:     store,
		Catalog:   cat,
		Generator: gen,
		Graph:     graph,
		SQL:       sqlExec,
		Hub:       hub,
		Events:    eventStore,
		Manager:   manager,
	})

	return &testEnv{
		server:  server,
		store:   store,
		catalog: cat,
		manager: manager,
		events:  eventStore,
		gen:     gen,
		graph:   graph,
		sql:     sqlExec,
	}
}

func doJSON(t *testing.T, server *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(recorder.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv()

	rec := doJSON(t, env.server, http.MethodGet, "/api/v1/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d, want 200", rec.Code)
	}
}

func TestCreateThresholdRuleAndActivate(t *testing.T) {
	env := newTestEnv()

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules", CreateRuleRequest{
		Name:     "overvoltage",
		Type:     rules.TypeThresholdAlert,
		Prompt:   "alert me when voltage exceeds 240",
		Activate: true,
	}, map[string]string{"X-Company-ID": "acme"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	created := decodeBody[rules.Rule](t, rec)
	if created.CompanyID != "acme" {
		t.Errorf("companyId = %s, want acme (bound from header)", created.CompanyID)
	}
	if created.Status != rules.StatusActive {
		t.Errorf("status = %s, want active", created.Status)
	}
	if created.SQL == "" || created.Cypher == "" {
		t.Error("create should persist the generated query pair")
	}
	if len(created.SQLParams) != 1 || created.SQLParams[0] != rules.CompanyIDParam {
		t.Errorf("sqlParams = %v, want inferred [%s]", created.SQLParams, rules.CompanyIDParam)
	}
	if !env.manager.Scheduled(created.ID) {
		t.Error("activated rule should be registered with the manager")
	}

	env.manager.RemoveRule(created.ID)
}

// Generated Cypher with naive date arithmetic must be rewritten before it is
// persisted or executed; Neo4j rejects `date() - N`.
func TestGeneratedCypherDateArithmeticIsPatched(t *testing.T) {
	env := newTestEnv()
	env.gen.queries = &nlq.Queries{
		Cypher: "MATCH (m:Measurement) WHERE date(m.day) >= date() - 7 RETURN m.day",
		SQL:    "SELECT day FROM telemetry_raw WHERE company_id = $1",
	}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules", CreateRuleRequest{
		Name:   "weekly window",
		Type:   rules.TypeThresholdAlert,
		Prompt: "alert on measurements from the last 7 days",
	}, map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	created := decodeBody[rules.Rule](t, rec)
	if !strings.Contains(created.Cypher, "date() - duration({days: 7})") {
		t.Errorf("created cypher = %q, want the duration rewrite", created.Cypher)
	}

	env.gen.queries.Cypher = "WHERE date(m.day) = date() - 1 RETURN m"
	prompt := "alert on yesterday's measurements"
	rec = doJSON(t, env.server, http.MethodPatch, "/api/v1/rules/"+created.ID, UpdateRuleRequest{
		Prompt: &prompt,
	}, map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}

	updated := decodeBody[rules.Rule](t, rec)
	if !strings.Contains(updated.Cypher, "date() - duration({days: 1})") {
		t.Errorf("updated cypher = %q, want the duration rewrite", updated.Cypher)
	}

	rec = doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{
		Text: "measurements from the last day",
	}, map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("nlq returned %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(env.graph.lastQuery, "date() - 1") {
		t.Errorf("executed cypher = %q, naive subtraction reached the graph store", env.graph.lastQuery)
	}
	if !strings.Contains(env.graph.lastQuery, "duration({days: 1})") {
		t.Errorf("executed cypher = %q, want the duration rewrite", env.graph.lastQuery)
	}
}

func TestCreateScheduleRuleFromText(t *testing.T) {
	env := newTestEnv()

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules", CreateRuleRequest{
		Name:         "daily report",
		Type:         rules.TypeScheduleReport,
		Prompt:       "every day send me yesterday's energy per device",
		ScheduleText: "every day at 8am",
	}, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	created := decodeBody[rules.Rule](t, rec)
	if created.ScheduleCron != "0 8 * * *" {
		t.Errorf("scheduleCron = %s, want the generated expression", created.ScheduleCron)
	}
	if created.Metadata["scheduleSummary"] != "Daily at 08:00 UTC" {
		t.Errorf("metadata = %v, want the schedule summary recorded", created.Metadata)
	}
	if created.CompanyID != "default-co" {
		t.Errorf("companyId = %s, want the configured default", created.CompanyID)
	}
}

// Scenario: an uninterpretable schedule description rejects the creation
// before anything is persisted.
func TestCreateRuleInvalidScheduleTextPersistsNothing(t *testing.T) {
	env := newTestEnv()
	env.gen.scheduleErr = &nlq.InvalidScheduleError{Summary: "the description has no recognizable cadence"}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules", CreateRuleRequest{
		Name:         "broken",
		Type:         rules.TypeScheduleReport,
		Prompt:       "do something at some point",
		ScheduleText: "whenever it feels right",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("create returned %d, want 400", rec.Code)
	}
	body := decodeBody[ErrorResponse](t, rec)
	if body.Code != "INVALID_SCHEDULE" {
		t.Errorf("error code = %s, want INVALID_SCHEDULE", body.Code)
	}

	stored, err := env.store.List(context.Background(), rules.ListFilter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("store holds %d rules after rejected creation, want 0", len(stored))
	}
}

func TestCreateRuleInvalidCron(t *testing.T) {
	env := newTestEnv()

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules", CreateRuleRequest{
		Name:         "broken",
		Type:         rules.TypeScheduleReport,
		Prompt:       "report something",
		ScheduleCron: "not a cron",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("create returned %d, want 400", rec.Code)
	}
	if body := decodeBody[ErrorResponse](t, rec); body.Code != "INVALID_CRON" {
		t.Errorf("error code = %s, want INVALID_CRON", body.Code)
	}
}

func TestCreateRuleForbiddenCompany(t *testing.T) {
	env := newTestEnv()

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules", CreateRuleRequest{
		Name:      "spy",
		Type:      rules.TypeThresholdAlert,
		Prompt:    "watch another company",
		CompanyID: "globex",
	}, map[string]string{"X-Company-ID": "acme"})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("create returned %d, want 403", rec.Code)
	}
	if body := decodeBody[ErrorResponse](t, rec); body.Code != "FORBIDDEN" {
		t.Errorf("error code = %s, want FORBIDDEN", body.Code)
	}
}

func TestGetRuleOwnership(t *testing.T) {
	env := newTestEnv()

	created, err := env.store.Create(context.Background(), &rules.Rule{
		CompanyID: "acme", Name: "mine", Type: rules.TypeThresholdAlert, Prompt: "p",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	rec := doJSON(t, env.server, http.MethodGet, "/api/v1/rules/"+created.ID, nil,
		map[string]string{"X-Company-ID": "globex"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-company get returned %d, want 403", rec.Code)
	}

	rec = doJSON(t, env.server, http.MethodGet, "/api/v1/rules/"+created.ID, nil,
		map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Errorf("owner get returned %d, want 200", rec.Code)
	}

	rec = doJSON(t, env.server, http.MethodGet, "/api/v1/rules/does-not-exist", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing rule returned %d, want 404", rec.Code)
	}
}

func TestListRulesStatusFilter(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, r := range []*rules.Rule{
		{CompanyID: "acme", Name: "a", Type: rules.TypeThresholdAlert, Status: rules.StatusActive, Prompt: "p"},
		{CompanyID: "acme", Name: "b", Type: rules.TypeThresholdAlert, Status: rules.StatusInactive, Prompt: "p"},
	} {
		if _, err := env.store.Create(ctx, r); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	rec := doJSON(t, env.server, http.MethodGet, "/api/v1/rules?status=active", nil,
		map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	listed := decodeBody[RuleListResponse](t, rec)
	if len(listed.Items) != 1 || listed.Items[0].Name != "a" {
		t.Errorf("filtered list = %v, want only the active rule", listed.Items)
	}
}

func TestDeactivateRemovesFromManager(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	created, err := env.store.Create(ctx, &rules.Rule{
		CompanyID: "acme", Name: "a", Type: rules.TypeThresholdAlert, Status: rules.StatusActive, Prompt: "p",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	env.manager.AddRule(created)

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules/"+created.ID+"/deactivate", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate returned %d: %s", rec.Code, rec.Body.String())
	}

	if env.manager.Scheduled(created.ID) {
		t.Error("deactivated rule should be unscheduled")
	}
	stored, _ := env.store.Get(ctx, created.ID)
	if stored.Status != rules.StatusInactive {
		t.Errorf("status = %s, want inactive", stored.Status)
	}
}

func TestActivateRequiresValidCron(t *testing.T) {
	env := newTestEnv()

	created, err := env.store.Create(context.Background(), &rules.Rule{
		CompanyID: "acme", Name: "a", Type: rules.TypeScheduleReport, Prompt: "p",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/rules/"+created.ID+"/activate", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("activate without cron returned %d, want 400", rec.Code)
	}
}

func TestDeleteRule(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	created, err := env.store.Create(ctx, &rules.Rule{
		CompanyID: "acme", Name: "a", Type: rules.TypeThresholdAlert, Status: rules.StatusActive, Prompt: "p",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	env.manager.AddRule(created)

	rec := doJSON(t, env.server, http.MethodDelete, "/api/v1/rules/"+created.ID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}
	if env.manager.Scheduled(created.ID) {
		t.Error("deleted rule should be unscheduled")
	}
}

func TestNLQQueryGeneratorPathRecordsCatalogEntry(t *testing.T) {
	env := newTestEnv()
	env.sql.rows = []map[string]any{{"logical_id": "d1"}, {"logical_id": "d2"}}
	env.graph.rows = []map[string]any{{"id": "d1"}}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{
		Text: "Top devices by consumption",
	}, map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("nlq returned %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[NLQResponse](t, rec)
	if resp.Source != "generator" {
		t.Errorf("source = %s, want generator", resp.Source)
	}
	if len(resp.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(resp.Rows))
	}
	if !strings.Contains(resp.Answer, "2 rows") {
		t.Errorf("answer = %q, want the SQL row count", resp.Answer)
	}

	// Second identical question must come from the catalog.
	rec = doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{
		Text: "top   devices by CONSUMPTION",
	}, map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second nlq returned %d", rec.Code)
	}
	resp = decodeBody[NLQResponse](t, rec)
	if resp.Source != "catalog" {
		t.Errorf("second source = %s, want catalog", resp.Source)
	}
}

func TestNLQQueryDegradesToGraphOnSQLFailure(t *testing.T) {
	env := newTestEnv()
	env.sql.err = &testError{"syntax error"}
	env.graph.rows = []map[string]any{{"id": "d1"}}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{Text: "anything"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nlq returned %d, want 200 when one side succeeds", rec.Code)
	}

	resp := decodeBody[NLQResponse](t, rec)
	if resp.SQLError == nil {
		t.Fatal("sqlError should be reported")
	}
	if !strings.Contains(resp.Answer, "Warning") {
		t.Errorf("answer = %q, want a caveat about the failed side", resp.Answer)
	}
	if len(resp.GraphRows) != 1 {
		t.Errorf("graphRows = %d, want 1", len(resp.GraphRows))
	}

	// A partially failed execution must not enter the catalog.
	found, err := env.catalog.FindApproved(context.Background(),
		nlq.NormalizeForSearch("anything"), "default-co", catalog.DefaultApprovalThreshold)
	if err != nil {
		t.Fatalf("FindApproved() failed: %v", err)
	}
	if found != nil {
		t.Error("a failed execution should not be recorded as approved")
	}
}

func TestNLQQueryBothSidesFailing(t *testing.T) {
	env := newTestEnv()
	env.sql.err = &testError{"bad sql"}
	env.graph.err = &testError{"bad cypher"}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{Text: "anything"}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("nlq returned %d, want 500 when both sides fail", rec.Code)
	}
}

func TestNLQQueryValidation(t *testing.T) {
	env := newTestEnv()

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{Text: "   "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank text returned %d, want 400", rec.Code)
	}

	rec = doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{
		Text: "q", CompanyID: "globex",
	}, map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-company nlq returned %d, want 403", rec.Code)
	}
}

func TestNLQQueryGenerationFailure(t *testing.T) {
	env := newTestEnv()
	env.gen.queriesErr = &nlq.GenerationError{Err: &testError{"model unreachable"}}

	rec := doJSON(t, env.server, http.MethodPost, "/api/v1/nlq/query", NLQRequest{Text: "anything"}, nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("nlq returned %d, want 502 on generation failure", rec.Code)
	}
}

func TestListEventsEndpoint(t *testing.T) {
	env := newTestEnv()
	env.events.RecordEvent("acme", events.Event{Type: events.TypeRuleAlert, Name: "alert", CompanyID: "acme"})
	env.events.RecordEvent("acme", events.Event{Type: events.TypeRuleReport, Name: "report", CompanyID: "acme"})

	rec := doJSON(t, env.server, http.MethodGet, "/api/v1/events?type=rule.alert", nil,
		map[string]string{"X-Company-ID": "acme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("events returned %d", rec.Code)
	}
	listed := decodeBody[EventListResponse](t, rec)
	if len(listed.Items) != 1 || listed.Items[0].Name != "alert" {
		t.Errorf("events = %v, want only the alert", listed.Items)
	}

	rec = doJSON(t, env.server, http.MethodGet, "/api/v1/events?limit=zero", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit returned %d, want 400", rec.Code)
	}
}

func TestWebsocketWelcomeAndBroadcast(t *testing.T) {
	env := newTestEnv()

	httpServer := httptest.NewServer(env.server)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/v1/ws?companyId=acme"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("welcome read failed: %v", err)
	}
	var welcome map[string]string
	if err := json.Unmarshal(message, &welcome); err != nil {
		t.Fatalf("welcome is not JSON: %v", err)
	}
	if welcome["type"] != "welcome" || welcome["companyId"] != "acme" {
		t.Errorf("welcome = %v", welcome)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.server.hub.SubscriberCount("acme") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered with the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.server.hub.Broadcast("acme", events.Event{Type: events.TypeRuleAlert, CompanyID: "acme"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("broadcast read failed: %v", err)
	}
	var event events.Event
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("broadcast is not JSON: %v", err)
	}
	if event.Type != events.TypeRuleAlert {
		t.Errorf("event type = %s, want %s", event.Type, events.TypeRuleAlert)
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
