package catalog

import (
	"context"
	"time"
)

// CypherRunner is the slice of the graph client the catalog needs.
type CypherRunner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Neo4jCatalog persists approved questions as NlqQuestion nodes in the
// graph store, keyed by (normalizedText, companyKey).
type Neo4jCatalog struct {
	graph CypherRunner
}

// NewNeo4jCatalog creates a catalog backed by the given graph client.
func NewNeo4jCatalog(graph CypherRunner) *Neo4jCatalog {
	return &Neo4jCatalog{graph: graph}
}

const findApprovedQuery = `
MATCH (q:NlqQuestion { normalizedText: $normalizedText, companyKey: $companyKey })
WHERE coalesce(q.approval, 0) >= $threshold
RETURN q.text AS text,
       q.normalizedText AS normalizedText,
       q.cypher AS cypher,
       q.sql AS sql,
       coalesce(q.approval, 0) AS approval,
       q.companyKey AS companyKey,
       coalesce(q.usageCount, 0) AS usageCount
ORDER BY q.updatedAt DESC
LIMIT 1
`

func (c *Neo4jCatalog) FindApproved(ctx context.Context, normalizedText, companyID string, threshold float64) (*ApprovedQuestion, error) {
	companyKey := CompanyKey(companyID)

	rows, err := c.graph.Run(ctx, findApprovedQuery, map[string]any{
		"normalizedText": normalizedText,
		"companyKey":     companyKey,
		"threshold":      threshold,
	})
	if err != nil {
		return nil, &Error{Op: "lookup", Err: err}
	}
	if len(rows) > 0 {
		return mapRow(rows[0]), nil
	}

	// Company-scoped miss: fall back to the global catalog, unless the
	// request was already global.
	if companyKey == GlobalCompanyKey {
		return nil, nil
	}

	rows, err = c.graph.Run(ctx, findApprovedQuery, map[string]any{
		"normalizedText": normalizedText,
		"companyKey":     GlobalCompanyKey,
		"threshold":      threshold,
	})
	if err != nil {
		return nil, &Error{Op: "lookup", Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return mapRow(rows[0]), nil
}

func (c *Neo4jCatalog) RecordUsage(ctx context.Context, normalizedText, companyID string) error {
	_, err := c.graph.Run(ctx, `
MATCH (q:NlqQuestion { normalizedText: $normalizedText, companyKey: $companyKey })
SET q.lastUsedAt = datetime($now),
    q.updatedAt = datetime($now),
    q.usageCount = coalesce(q.usageCount, 0) + 1
RETURN q.normalizedText AS normalizedText
`, map[string]any{
		"normalizedText": normalizedText,
		"companyKey":     CompanyKey(companyID),
		"now":            time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &Error{Op: "record-usage", Err: err}
	}
	return nil
}

func (c *Neo4jCatalog) RecordSuccess(ctx context.Context, success Success) error {
	approval := success.Approval
	if approval == 0 {
		approval = 1
	}

	companyKey := CompanyKey(success.CompanyID)
	_, err := c.graph.Run(ctx, `
MERGE (q:NlqQuestion { normalizedText: $normalizedText, companyKey: $companyKey })
ON CREATE SET
  q.text = $text,
  q.cypher = $cypher,
  q.sql = $sql,
  q.approval = $approval,
  q.companyId = $companyId,
  q.companyKey = $companyKey,
  q.createdAt = datetime($now),
  q.updatedAt = datetime($now),
  q.lastUsedAt = datetime($now),
  q.usageCount = 1
ON MATCH SET
  q.text = $text,
  q.cypher = $cypher,
  q.sql = coalesce($sql, q.sql),
  q.approval = CASE
                 WHEN $approval > coalesce(q.approval, 0) THEN $approval
                 ELSE q.approval
               END,
  q.companyId = $companyId,
  q.updatedAt = datetime($now),
  q.lastUsedAt = datetime($now),
  q.usageCount = coalesce(q.usageCount, 0) + 1
RETURN q.normalizedText AS normalizedText
`, map[string]any{
		"text":           success.Text,
		"normalizedText": success.NormalizedText,
		"companyKey":     companyKey,
		"companyId":      success.CompanyID,
		"cypher":         success.Cypher,
		"sql":            success.SQL,
		"approval":       approval,
		"now":            time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &Error{Op: "record-success", Err: err}
	}
	return nil
}

func mapRow(row map[string]any) *ApprovedQuestion {
	q := &ApprovedQuestion{}
	if v, ok := row["text"].(string); ok {
		q.Text = v
	}
	if v, ok := row["normalizedText"].(string); ok {
		q.NormalizedText = v
	}
	if v, ok := row["cypher"].(string); ok {
		q.Cypher = v
	}
	if v, ok := row["sql"].(string); ok {
		q.SQL = v
	}
	switch v := row["approval"].(type) {
	case float64:
		q.Approval = v
	case int64:
		q.Approval = float64(v)
	}
	switch v := row["usageCount"].(type) {
	case int64:
		q.UsageCount = int(v)
	case float64:
		q.UsageCount = int(v)
	}
	if v, ok := row["companyKey"].(string); ok {
		q.CompanyKey = v
		if v != GlobalCompanyKey {
			q.CompanyID = v
		}
	}
	return q
}
