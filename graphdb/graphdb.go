// Package graphdb wraps the Neo4j graph store behind a generic row-map
// query interface for generated Cypher.
package graphdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ExecutionError wraps a failure while running a generated Cypher query.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("cypher execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Client runs Cypher queries against Neo4j and returns generic row maps.
type Client struct {
	driver neo4j.DriverWithContext
}

// NewClient connects to Neo4j with basic auth and verifies connectivity.
func NewClient(ctx context.Context, uri, user, password string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}
	return &Client{driver: driver}, nil
}

// Close releases the driver and its connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Run executes a Cypher query and returns every record as a key → value map.
func (c *Client) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, c.driver, query, params,
		neo4j.EagerResultTransformer)
	if err != nil {
		return nil, &ExecutionError{Query: query, Err: err}
	}

	out := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		out = append(out, record.AsMap())
	}
	return out, nil
}
