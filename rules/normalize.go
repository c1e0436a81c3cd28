package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MaxResultRows caps the row set stored and broadcast per execution so a
// runaway query cannot blow up memory or websocket payloads.
const MaxResultRows = 100

// CapRows truncates rows to at most limit entries.
func CapRows(rows []map[string]any, limit int) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	if len(rows) <= limit {
		return rows
	}
	return rows[:limit]
}

// NormalizeRows normalizes every row for storage and broadcast: timestamps
// become RFC 3339 text, non-finite numbers become nil, and nested values go
// through a JSON round trip (string fallback when not serializable).
func NormalizeRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, normalizeRow(row))
	}
	return out
}

func normalizeRow(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for key, value := range row {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil, bool, string, int, int32, int64:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(time.RFC3339)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var roundTripped any
		if err := json.Unmarshal(data, &roundTripped); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return roundTripped
	}
}
