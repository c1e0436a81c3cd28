package nlq

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizeForSearch canonicalizes question text for catalog keys: strips
// diacritics, collapses whitespace, trims, and lowercases.
func NormalizeForSearch(value string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, value)
	if err != nil {
		stripped = value
	}
	collapsed := whitespacePattern.ReplaceAllString(stripped, " ")
	return strings.ToLower(strings.TrimSpace(collapsed))
}

// BuildAnswer produces a short textual answer from a result row set: row
// count plus a preview of the first row's leading columns.
func BuildAnswer(rows []map[string]any, companyID string) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No results found for company %s.", companyID)
	}

	sample := rows[0]
	if len(sample) == 0 {
		return fmt.Sprintf("Query executed successfully for company %s, but no columns were returned.", companyID)
	}

	// Map iteration order is random; sort so the preview is deterministic.
	keys := make([]string, 0, len(sample))
	for key := range sample {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > 5 {
		keys = keys[:5]
	}

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", key, sample[key]))
	}
	preview := strings.Join(parts, ", ")

	if len(rows) == 1 {
		return fmt.Sprintf("Found 1 row for company %s. Key values: %s.", companyID, preview)
	}
	return fmt.Sprintf("Found %d rows for company %s. Example row: %s.", len(rows), companyID, preview)
}
