//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voltgrid/nlqgate/rules"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container, applies the schema, and
// returns a connection.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "nlqgate_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=nlqgate_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db)
	ctx := context.Background()

	created, err := store.Create(ctx, &rules.Rule{
		CompanyID:    "acme",
		Name:         "daily energy report",
		Description:  "sends the previous day's kWh per device",
		Type:         rules.TypeScheduleReport,
		ScheduleCron: "0 8 * * *",
		Prompt:       "every day at 08:00 send me yesterday's energy per device",
		Cypher:       "MATCH (c:Company {id: $companyId})-[:HAS_SITE]->(:Site)-[:HAS_DEVICE]->(d) RETURN d.id",
		SQL:          "SELECT logical_id, kwh_estimated FROM ca_device_daily_energy WHERE company_id = $1",
		SQLParams:    []any{rules.CompanyIDParam},
		Metadata:     map[string]any{"scheduleSummary": "Daily at 08:00 UTC"},
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() should assign an id")
	}
	if created.Status != rules.StatusInactive {
		t.Errorf("Create() status = %s, want inactive", created.Status)
	}

	retrieved, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if retrieved.Name != "daily energy report" {
		t.Errorf("Get() name = %s, want daily energy report", retrieved.Name)
	}
	if len(retrieved.SQLParams) != 1 || retrieved.SQLParams[0] != rules.CompanyIDParam {
		t.Errorf("Get() sqlParams = %v, want [%s]", retrieved.SQLParams, rules.CompanyIDParam)
	}
	if retrieved.Metadata["scheduleSummary"] != "Daily at 08:00 UTC" {
		t.Errorf("Get() metadata = %v, want scheduleSummary preserved", retrieved.Metadata)
	}

	name := "renamed report"
	updated, err := store.Update(ctx, created.ID, rules.RuleUpdate{Name: &name})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.Name != "renamed report" {
		t.Errorf("Update() name = %s, want renamed report", updated.Name)
	}
	if updated.Prompt != created.Prompt {
		t.Error("Update() should not touch fields left nil")
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Get() after Delete() = %v, want ErrRuleNotFound", err)
	}
}

func TestPostgresRuleStore_ListFilters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db)
	ctx := context.Background()

	for _, r := range []*rules.Rule{
		{CompanyID: "acme", Name: "a", Type: rules.TypeThresholdAlert, Status: rules.StatusActive, Prompt: "p"},
		{CompanyID: "acme", Name: "b", Type: rules.TypeThresholdAlert, Status: rules.StatusInactive, Prompt: "p"},
		{CompanyID: "globex", Name: "c", Type: rules.TypeThresholdAlert, Status: rules.StatusActive, Prompt: "p"},
	} {
		if _, err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	byCompany, err := store.List(ctx, rules.ListFilter{CompanyID: "acme"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(byCompany) != 2 {
		t.Errorf("List(company=acme) = %d rules, want 2", len(byCompany))
	}

	active, err := store.List(ctx, rules.ListFilter{Status: rules.StatusActive})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("List(active) = %d rules, want 2", len(active))
	}
}

// TestPostgresRuleStore_RecordExecution verifies the atomic bookkeeping
// update: lastRunAt always advances, lastTriggeredAt only on a fire.
func TestPostgresRuleStore_RecordExecution(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db)
	ctx := context.Background()

	created, err := store.Create(ctx, &rules.Rule{
		CompanyID: "acme",
		Name:      "overvoltage",
		Type:      rules.TypeThresholdAlert,
		Status:    rules.StatusActive,
		Prompt:    "p",
		SQL:       "SELECT 1",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	fired, err := store.RecordExecution(ctx, created.ID, []map[string]any{{"voltage": 251.0}}, true)
	if err != nil {
		t.Fatalf("RecordExecution() failed: %v", err)
	}
	if fired.LastRunAt == nil || fired.LastTriggeredAt == nil {
		t.Fatal("a triggered execution should set both lastRunAt and lastTriggeredAt")
	}
	firstTriggered := *fired.LastTriggeredAt

	time.Sleep(50 * time.Millisecond)

	quiet, err := store.RecordExecution(ctx, created.ID, []map[string]any{}, false)
	if err != nil {
		t.Fatalf("RecordExecution() failed: %v", err)
	}
	if !quiet.LastRunAt.After(*fired.LastRunAt) {
		t.Error("lastRunAt should advance on every execution")
	}
	if !quiet.LastTriggeredAt.Equal(firstTriggered) {
		t.Error("lastTriggeredAt should not advance for a non-firing execution")
	}

	if _, err := store.RecordExecution(ctx, "00000000-0000-0000-0000-000000000000", nil, false); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("RecordExecution() on missing id = %v, want ErrRuleNotFound", err)
	}
}
