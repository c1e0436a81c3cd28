// Package timescale wraps the relational store (TimescaleDB/PostgreSQL)
// behind a generic row-map query interface for generated SQL.
package timescale

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// ExecutionError wraps a failure while running a generated SQL query.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sql execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Client runs generated SQL queries and returns generic row maps.
type Client struct {
	db *sql.DB
}

// NewClient wraps an existing database handle.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// Open connects to the database and verifies the connection.
func Open(databaseURL string) (*Client, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Client{db: db}, nil
}

// DB exposes the underlying handle for components that need raw access.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the underlying handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// Run executes a query with positional parameters and returns every row as
// a column-name → value map. Byte slices become strings so results are
// JSON-friendly.
func (c *Client) Run(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ExecutionError{Query: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &ExecutionError{Query: query, Err: err}
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, &ExecutionError{Query: query, Err: err}
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			value := values[i]
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			row[column] = value
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{Query: query, Err: err}
	}
	return out, nil
}
