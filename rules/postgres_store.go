package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL/TimescaleDB.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, company_id, name, description, type, status, schedule_cron,
	prompt, cypher, sql, sql_params, metadata,
	last_run_at, last_result, last_triggered_at, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*Rule, error) {
	var (
		r               Rule
		description     sql.NullString
		scheduleCron    sql.NullString
		cypher          sql.NullString
		sqlText         sql.NullString
		sqlParams       []byte
		metadata        []byte
		lastRunAt       sql.NullTime
		lastResult      []byte
		lastTriggeredAt sql.NullTime
	)

	err := row.Scan(
		&r.ID, &r.CompanyID, &r.Name, &description, &r.Type, &r.Status,
		&scheduleCron, &r.Prompt, &cypher, &sqlText, &sqlParams, &metadata,
		&lastRunAt, &lastResult, &lastTriggeredAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Description = description.String
	r.ScheduleCron = scheduleCron.String
	r.Cypher = cypher.String
	r.SQL = sqlText.String

	if len(sqlParams) > 0 {
		if err := json.Unmarshal(sqlParams, &r.SQLParams); err != nil {
			r.SQLParams = nil
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			r.Metadata = nil
		}
	}
	if len(lastResult) > 0 {
		var parsed any
		if err := json.Unmarshal(lastResult, &parsed); err == nil {
			r.LastResult = parsed
		}
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		r.LastRunAt = &t
	}
	if lastTriggeredAt.Valid {
		t := lastTriggeredAt.Time
		r.LastTriggeredAt = &t
	}

	return &r, nil
}

func marshalJSON(value any, fallback string) []byte {
	if value == nil {
		return []byte(fallback)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return []byte(fallback)
	}
	return data
}

func (s *PostgresRuleStore) Create(ctx context.Context, rule *Rule) (*Rule, error) {
	id := rule.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := rule.Status
	if status == "" {
		status = StatusInactive
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO nlq_rules (
			id, company_id, name, description, type, status, schedule_cron,
			prompt, cypher, sql, sql_params, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+ruleColumns,
		id, rule.CompanyID, rule.Name, nullString(rule.Description),
		rule.Type, status, nullString(rule.ScheduleCron), rule.Prompt,
		nullString(rule.Cypher), nullString(rule.SQL),
		marshalJSON(rule.SQLParams, "[]"), marshalJSON(rule.Metadata, "{}"),
	)

	created, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}
	return created, nil
}

func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM nlq_rules WHERE id = $1`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) List(ctx context.Context, filter ListFilter) ([]*Rule, error) {
	var where []string
	var args []any

	if filter.CompanyID != "" {
		args = append(args, filter.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + ruleColumns + ` FROM nlq_rules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

func (s *PostgresRuleStore) Update(ctx context.Context, id string, update RuleUpdate) (*Rule, error) {
	var fields []string
	var args []any

	push := func(column string, value any) {
		args = append(args, value)
		fields = append(fields, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		push("name", *update.Name)
	}
	if update.Description != nil {
		push("description", nullString(*update.Description))
	}
	if update.Type != nil {
		push("type", *update.Type)
	}
	if update.Status != nil {
		push("status", *update.Status)
	}
	if update.ScheduleCron != nil {
		push("schedule_cron", nullString(*update.ScheduleCron))
	}
	if update.Prompt != nil {
		push("prompt", *update.Prompt)
	}
	if update.Cypher != nil {
		push("cypher", nullString(*update.Cypher))
	}
	if update.SQL != nil {
		push("sql", nullString(*update.SQL))
	}
	if update.SQLParams != nil {
		push("sql_params", marshalJSON(update.SQLParams, "[]"))
	}
	if update.Metadata != nil {
		push("metadata", marshalJSON(update.Metadata, "{}"))
	}

	if len(fields) == 0 {
		return s.Get(ctx, id)
	}
	push("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE nlq_rules SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(fields, ", "), len(args), ruleColumns)

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nlq_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

func (s *PostgresRuleStore) SetStatus(ctx context.Context, id string, status RuleStatus) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE nlq_rules SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+ruleColumns, status, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set rule status: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) RecordExecution(ctx context.Context, id string, lastResult any, triggered bool) (*Rule, error) {
	var resultJSON any
	if lastResult != nil {
		resultJSON = marshalJSON(lastResult, "null")
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE nlq_rules
		   SET last_run_at = NOW(),
		       last_result = $1,
		       last_triggered_at = CASE WHEN $2 THEN NOW() ELSE last_triggered_at END,
		       updated_at = NOW()
		 WHERE id = $3
		 RETURNING `+ruleColumns, resultJSON, triggered, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record rule execution: %w", err)
	}
	return rule, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
