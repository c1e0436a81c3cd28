package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/voltgrid/nlqgate/catalog"
	"github.com/voltgrid/nlqgate/events"
	"github.com/voltgrid/nlqgate/graphdb"
	"github.com/voltgrid/nlqgate/internal/config"
	"github.com/voltgrid/nlqgate/internal/logger"
	"github.com/voltgrid/nlqgate/nlq"
	"github.com/voltgrid/nlqgate/rules"
	"github.com/voltgrid/nlqgate/timescale"
)

// errForbiddenCompany marks a request acting on a company other than the one
// the caller is bound to. Never silently corrected.
var errForbiddenCompany = errors.New("forbidden company")

var sqlCompanyParamPattern = regexp.MustCompile(`\$1\b`)

type contextKey string

const companyContextKey contextKey = "company"

// graphRunner is the slice of the graph client the NLQ path needs.
type graphRunner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

type Server struct {
	cfg       *config.Config
	db        *sql.DB
	store     rules.RuleStore
	catalog   catalog.Catalog
	generator nlq.Generator
	graph     graphRunner
	sqlExec   rules.SQLExecutor
	hub       *events.Hub
	events    *events.Store
	manager   *rules.Manager
	upgrader  websocket.Upgrader
	router    *chi.Mux
}

// Dependencies bundles everything the HTTP layer delegates to.
type Dependencies struct {
	DB        *sql.DB
	Store     rules.RuleStore
	Catalog   catalog.Catalog
	Generator nlq.Generator
	Graph     graphRunner
	SQL       rules.SQLExecutor
	Hub       *events.Hub
	Events    *events.Store
	Manager   *rules.Manager
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	s := &Server{
		cfg:       cfg,
		db:        deps.DB,
		store:     deps.Store,
		catalog:   deps.Catalog,
		generator: deps.Generator,
		graph:     deps.Graph,
		sqlExec:   deps.SQL,
		hub:       deps.Hub,
		events:    deps.Events,
		manager:   deps.Manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.companyContext)

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/nlq/query", s.handleNLQQuery)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Patch("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/activate", s.handleActivateRule)
			r.Post("/deactivate", s.handleDeactivateRule)
		})
	})

	r.Get("/api/v1/events", s.handleListEvents)
	r.Get("/api/v1/ws", s.handleWebsocket)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// companyContext binds the authenticated company from the X-Company-ID
// header onto the request context. An absent header leaves the request
// unbound; resolveCompanyID falls back to the configured default.
func (s *Server) companyContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if company := strings.TrimSpace(r.Header.Get("X-Company-ID")); company != "" {
			r = r.WithContext(context.WithValue(r.Context(), companyContextKey, company))
		}
		next.ServeHTTP(w, r)
	})
}

func boundCompany(r *http.Request) string {
	if v, ok := r.Context().Value(companyContextKey).(string); ok {
		return v
	}
	return ""
}

// resolveCompanyID reconciles an explicitly requested company with the
// caller's bound company. A mismatch is a hard authorization failure; an
// empty result falls back to the configured default company.
func (s *Server) resolveCompanyID(r *http.Request, explicit string) (string, error) {
	bound := boundCompany(r)
	if explicit != "" && bound != "" && explicit != bound {
		return "", errForbiddenCompany
	}
	if explicit != "" {
		return explicit, nil
	}
	if bound != "" {
		return bound, nil
	}
	return s.cfg.DefaultCompanyID, nil
}

// ownsRule reports whether the request's bound company may act on the rule.
// Unbound requests pass; the default-company fallback is trusted.
func ownsRule(r *http.Request, rule *rules.Rule) bool {
	bound := boundCompany(r)
	return bound == "" || rule.CompanyID == bound
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Interactive NLQ handler: catalog-first lookup, generator fallback, then
// both stores are executed independently. The response degrades to whichever
// side succeeded; only a double failure is an error.
func (s *Server) handleNLQQuery(w http.ResponseWriter, r *http.Request) {
	var req NLQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "INVALID_TEXT", `the "text" field must be a non-empty string`)
		return
	}

	companyID, err := s.resolveCompanyID(r, strings.TrimSpace(req.CompanyID))
	if err != nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "access to the requested company is denied")
		return
	}

	ctx := r.Context()
	normalized := nlq.NormalizeForSearch(text)
	start := time.Now()
	source := "generator"

	var cypher, sqlText string

	// Catalog failures downgrade to a cache miss; the request proceeds.
	stored, err := s.catalog.FindApproved(ctx, normalized, companyID, s.cfg.ApprovalThreshold)
	if err != nil {
		logger.Error("approved question lookup failed", "error", err)
	} else if stored != nil {
		cypher = stored.Cypher
		sqlText = stored.SQL
		source = "catalog"
		if err := s.catalog.RecordUsage(ctx, normalized, stored.CompanyID); err != nil {
			logger.Warn("failed to record catalog usage", "error", err)
		}
	}

	if cypher == "" || sqlText == "" {
		generated, err := s.generator.GenerateQueries(ctx, text, companyID)
		if err != nil {
			logger.Error("query generation failed", "error", err)
			respondError(w, http.StatusBadGateway, "GENERATION_ERROR", "could not generate queries from the given text")
			return
		}
		cypher = generated.Cypher
		sqlText = generated.SQL
		source = "generator"
	}
	cypher = nlq.PatchNaiveDateSubtractions(cypher)

	var graphError *QueryError
	graphRows, err := s.graph.Run(ctx, cypher, map[string]any{"companyId": companyID})
	if err != nil {
		logger.Error("cypher execution failed", "error", err, "cypher", cypher)
		graphError = &QueryError{Message: err.Error()}
	}
	if graphRows == nil {
		graphRows = []map[string]any{}
	}

	var sqlParams []any
	if sqlCompanyParamPattern.MatchString(sqlText) {
		sqlParams = []any{companyID}
	}

	var sqlError *QueryError
	sqlRows, err := s.sqlExec.Run(ctx, sqlText, sqlParams...)
	if err != nil {
		logger.Error("sql execution failed", "error", err, "sql", sqlText)
		sqlError = &QueryError{Message: err.Error()}
	}
	if sqlRows == nil {
		sqlRows = []map[string]any{}
	}

	if graphError != nil && sqlError != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"code":       "NLQ_EXECUTION_ERROR",
			"message":    "both the graph and relational queries failed",
			"graphError": graphError,
			"sqlError":   sqlError,
		})
		return
	}

	// A freshly generated pair that executed cleanly on both stores becomes
	// a catalog entry for reuse.
	if source == "generator" && sqlError == nil && graphError == nil {
		if err := s.catalog.RecordSuccess(ctx, catalog.Success{
			Text:           text,
			NormalizedText: normalized,
			CompanyID:      companyID,
			Cypher:         cypher,
			SQL:            sqlText,
		}); err != nil {
			logger.Error("failed to record approved question", "error", err)
		}
	}

	preferSQL := sqlError == nil && (graphError != nil || len(sqlRows) > 0)
	answerRows := sqlRows
	if !preferSQL {
		answerRows = graphRows
	}
	answer := nlq.BuildAnswer(answerRows, companyID)

	if sqlError != nil {
		answer = fmt.Sprintf("%s Warning: the SQL query failed (%s); showing graph results.", answer, sqlError.Message)
	}
	if graphError != nil {
		answer = fmt.Sprintf("%s Warning: the graph query failed (%s); showing SQL results.", answer, graphError.Message)
	}

	totalMs := time.Since(start).Milliseconds()
	logger.Info("nlq query executed",
		"companyId", companyID,
		"source", source,
		"totalMs", totalMs,
		"sqlRowCount", len(sqlRows),
		"graphRowCount", len(graphRows),
	)

	respondJSON(w, http.StatusOK, NLQResponse{
		Answer:     answer,
		Cypher:     cypher,
		SQL:        sqlText,
		Rows:       sqlRows,
		GraphRows:  graphRows,
		Source:     source,
		TotalMs:    totalMs,
		SQLError:   sqlError,
		GraphError: graphError,
	})
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	companyID, err := s.resolveCompanyID(r, r.URL.Query().Get("companyId"))
	if err != nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "access to the requested company is denied")
		return
	}

	filter := rules.ListFilter{CompanyID: companyID}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = rules.RuleStatus(status)
	}

	items, err := s.store.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list rules")
		return
	}
	if items == nil {
		items = []*rules.Rule{}
	}

	respondJSON(w, http.StatusOK, RuleListResponse{Items: items})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule := s.ruleFromRequest(w, r)
	if rule == nil {
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Create rule handler. Schedule validation and query generation both happen
// before any insert, so a rejected rule leaves no partial row behind.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	if req.Name == "" || req.Type == "" || req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "name, type and prompt are required")
		return
	}
	if req.Type != rules.TypeScheduleReport && req.Type != rules.TypeThresholdAlert {
		respondError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be schedule_report or threshold_alert")
		return
	}

	companyID, err := s.resolveCompanyID(r, req.CompanyID)
	if err != nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "you cannot create rules for another company")
		return
	}

	ctx := r.Context()
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	var scheduleCron string
	if req.Type == rules.TypeScheduleReport {
		switch {
		case req.ScheduleCron != "":
			if err := s.manager.ValidateCron(req.ScheduleCron); err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_CRON", "scheduleCron is not a valid cron expression")
				return
			}
			scheduleCron = req.ScheduleCron

		case req.ScheduleText != "":
			schedule, err := s.generator.GenerateSchedule(ctx, req.ScheduleText)
			if err != nil {
				var invalid *nlq.InvalidScheduleError
				if errors.As(err, &invalid) {
					respondError(w, http.StatusBadRequest, "INVALID_SCHEDULE", invalid.Error())
					return
				}
				logger.Error("schedule generation failed", "error", err)
				respondError(w, http.StatusBadGateway, "GENERATION_ERROR", "could not generate a schedule from the given text")
				return
			}
			if err := s.manager.ValidateCron(schedule.Cron); err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_SCHEDULE", "the generated cron expression is not valid")
				return
			}
			scheduleCron = schedule.Cron
			if schedule.Summary != "" {
				metadata["scheduleSummary"] = schedule.Summary
			}

		default:
			respondError(w, http.StatusBadRequest, "INVALID_CRON", "scheduleCron or scheduleText is required for scheduled rules")
			return
		}
	}

	queries, err := s.generator.GenerateQueries(ctx, req.Prompt, companyID)
	if err != nil {
		logger.Error("rule query generation failed", "error", err)
		respondError(w, http.StatusBadGateway, "GENERATION_ERROR", "could not generate queries from the rule prompt")
		return
	}

	rule := &rules.Rule{
		CompanyID:    companyID,
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		Status:       rules.StatusInactive,
		ScheduleCron: scheduleCron,
		Prompt:       req.Prompt,
		Cypher:       nlq.PatchNaiveDateSubtractions(queries.Cypher),
		SQL:          queries.SQL,
		SQLParams:    inferSQLParams(queries.SQL, req.SQLParams),
		Metadata:     metadata,
	}

	created, err := s.store.Create(ctx, rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create rule")
		return
	}

	if req.Activate {
		activated, err := s.store.SetStatus(ctx, created.ID, rules.StatusActive)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "STORE_ERROR", "rule created but activation failed")
			return
		}
		created = activated
		s.manager.ReloadRule(ctx, created.ID)
	}

	respondJSON(w, http.StatusCreated, created)
}

// Update rule handler. A prompt change regenerates the query pair; any
// mutation re-derives the manager's scheduling state.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule := s.ruleFromRequest(w, r)
	if rule == nil {
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	if req.ScheduleCron != nil && *req.ScheduleCron != "" {
		if err := s.manager.ValidateCron(*req.ScheduleCron); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_CRON", "scheduleCron is not a valid cron expression")
			return
		}
	}

	update := rules.RuleUpdate{
		Name:         req.Name,
		Description:  req.Description,
		ScheduleCron: req.ScheduleCron,
		Prompt:       req.Prompt,
		SQLParams:    req.SQLParams,
		Metadata:     req.Metadata,
	}

	if req.Status != nil {
		status := rules.RuleStatus(*req.Status)
		if status != rules.StatusActive && status != rules.StatusInactive {
			respondError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be active or inactive")
			return
		}
		update.Status = &status
	}

	ctx := r.Context()
	if req.Prompt != nil && strings.TrimSpace(*req.Prompt) != "" {
		queries, err := s.generator.GenerateQueries(ctx, *req.Prompt, rule.CompanyID)
		if err != nil {
			logger.Error("rule query regeneration failed", "error", err, "ruleId", rule.ID)
			respondError(w, http.StatusBadGateway, "GENERATION_ERROR", "could not regenerate queries from the new prompt")
			return
		}
		patched := nlq.PatchNaiveDateSubtractions(queries.Cypher)
		update.Cypher = &patched
		update.SQL = &queries.SQL
		params := req.SQLParams
		if params == nil {
			params = rule.SQLParams
		}
		update.SQLParams = inferSQLParams(queries.SQL, params)
	}

	updated, err := s.store.Update(ctx, rule.ID, update)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "RULE_NOT_FOUND", "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to update rule")
		return
	}

	s.manager.ReloadRule(ctx, updated.ID)
	respondJSON(w, http.StatusOK, updated)
}

// Activate rule handler
func (s *Server) handleActivateRule(w http.ResponseWriter, r *http.Request) {
	rule := s.ruleFromRequest(w, r)
	if rule == nil {
		return
	}

	// A schedule rule may only go active with a parseable cron expression.
	if rule.Type == rules.TypeScheduleReport && s.manager.ValidateCron(rule.ScheduleCron) != nil {
		respondError(w, http.StatusBadRequest, "INVALID_CRON", "rule has no valid cron expression")
		return
	}

	updated, err := s.store.SetStatus(r.Context(), rule.ID, rules.StatusActive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to activate rule")
		return
	}

	s.manager.ReloadRule(r.Context(), updated.ID)
	respondJSON(w, http.StatusOK, updated)
}

// Deactivate rule handler
func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	rule := s.ruleFromRequest(w, r)
	if rule == nil {
		return
	}

	updated, err := s.store.SetStatus(r.Context(), rule.ID, rules.StatusInactive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to deactivate rule")
		return
	}

	s.manager.RemoveRule(updated.ID)
	respondJSON(w, http.StatusOK, updated)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rule := s.ruleFromRequest(w, r)
	if rule == nil {
		return
	}

	if err := s.store.Delete(r.Context(), rule.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to delete rule")
		return
	}

	s.manager.RemoveRule(rule.ID)
	w.WriteHeader(http.StatusNoContent)
}

// List events handler
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	companyID, err := s.resolveCompanyID(r, r.URL.Query().Get("companyId"))
	if err != nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "access to the requested company is denied")
		return
	}

	opts := events.ListOptions{Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	items := s.events.ListEvents(companyID, opts)
	respondJSON(w, http.StatusOK, EventListResponse{Items: items})
}

// WebSocket subscribe handler. Connect/disconnect never touches the rolling
// event buffer; history is served by the events endpoint.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	companyID, err := s.resolveCompanyID(r, r.URL.Query().Get("companyId"))
	if err != nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "access to the requested company is denied")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Welcome goes out before the hub can write concurrently.
	welcome, _ := json.Marshal(map[string]string{"type": "welcome", "companyId": companyID})
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		logger.Warn("failed to send welcome message", "error", err)
		conn.Close()
		return
	}

	cleanup := s.hub.AddClient(companyID, conn)
	defer cleanup()
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ruleFromRequest loads the rule addressed by the URL and enforces company
// ownership, writing the error response itself on failure.
func (s *Server) ruleFromRequest(w http.ResponseWriter, r *http.Request) *rules.Rule {
	rule, err := s.store.Get(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "RULE_NOT_FOUND", "rule not found")
			return nil
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load rule")
		return nil
	}

	if !ownsRule(r, rule) {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "you cannot access rules of another company")
		return nil
	}
	return rule
}

// inferSQLParams keeps explicitly provided parameter tokens; otherwise a
// lone $1 placeholder in the query defaults to the company-id sentinel.
func inferSQLParams(sqlText string, provided []any) []any {
	if len(provided) > 0 {
		return provided
	}
	if sqlCompanyParamPattern.MatchString(sqlText) {
		return []any{rules.CompanyIDParam}
	}
	return nil
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx := context.Background()

	ts, err := timescale.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to timescale", "error", err)
	}
	defer ts.Close()

	graph, err := graphdb.NewClient(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		logger.Fatal("failed to connect to neo4j", "error", err)
	}
	defer graph.Close(ctx)

	store := rules.NewPostgresRuleStore(ts.DB())
	hub := events.NewHub()
	eventStore := events.NewStore()
	manager := rules.NewManager(store, ts, hub, eventStore)

	if err := manager.Start(ctx); err != nil {
		logger.Fatal("failed to start rule manager", "error", err)
	}

	server := NewServer(cfg, Dependencies{
		DB:        ts.DB(),
		Store:     store,
		Catalog:   catalog.NewNeo4jCatalog(graph),
		Generator: nlq.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel),
		Graph:     graph,
		SQL:       ts,
		Hub:       hub,
		Events:    eventStore,
		Manager:   manager,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	manager.Stop()
	hub.Close()
	logger.Info("server stopped")
}
