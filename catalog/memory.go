package catalog

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	normalizedText string
	companyKey     string
}

// InMemoryCatalog implements Catalog with an in-memory map. Used in tests
// and as a reference implementation of the approval semantics.
type InMemoryCatalog struct {
	mu      sync.RWMutex
	entries map[memoryKey]*ApprovedQuestion
}

// NewInMemoryCatalog creates an empty in-memory catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		entries: make(map[memoryKey]*ApprovedQuestion),
	}
}

func (c *InMemoryCatalog) FindApproved(ctx context.Context, normalizedText, companyID string, threshold float64) (*ApprovedQuestion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	companyKey := CompanyKey(companyID)
	if entry, ok := c.entries[memoryKey{normalizedText, companyKey}]; ok && entry.Approval >= threshold {
		clone := *entry
		return &clone, nil
	}
	if companyKey == GlobalCompanyKey {
		return nil, nil
	}
	if entry, ok := c.entries[memoryKey{normalizedText, GlobalCompanyKey}]; ok && entry.Approval >= threshold {
		clone := *entry
		return &clone, nil
	}
	return nil, nil
}

func (c *InMemoryCatalog) RecordUsage(ctx context.Context, normalizedText, companyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[memoryKey{normalizedText, CompanyKey(companyID)}]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	entry.UsageCount++
	entry.LastUsedAt = now
	entry.UpdatedAt = now
	return nil
}

func (c *InMemoryCatalog) RecordSuccess(ctx context.Context, success Success) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	approval := success.Approval
	if approval == 0 {
		approval = 1
	}

	companyKey := CompanyKey(success.CompanyID)
	key := memoryKey{success.NormalizedText, companyKey}
	now := time.Now().UTC()

	entry, ok := c.entries[key]
	if !ok {
		c.entries[key] = &ApprovedQuestion{
			Text:           success.Text,
			NormalizedText: success.NormalizedText,
			Cypher:         success.Cypher,
			SQL:            success.SQL,
			Approval:       approval,
			CompanyID:      success.CompanyID,
			CompanyKey:     companyKey,
			UsageCount:     1,
			LastUsedAt:     now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return nil
	}

	entry.Text = success.Text
	entry.Cypher = success.Cypher
	if success.SQL != "" {
		entry.SQL = success.SQL
	}
	if approval > entry.Approval {
		entry.Approval = approval
	}
	entry.UsageCount++
	entry.LastUsedAt = now
	entry.UpdatedAt = now
	return nil
}
