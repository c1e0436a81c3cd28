package nlq

import "regexp"

var naiveDateSubtractionPattern = regexp.MustCompile(`(?i)date\s*\(\)\s*-\s*(\d+)\b`)

// PatchNaiveDateSubtractions rewrites naive date arithmetic in generated
// Cypher. Models tend to emit `date() - 7`, which Neo4j rejects; subtracting
// a duration is the valid form.
func PatchNaiveDateSubtractions(cypher string) string {
	if cypher == "" {
		return cypher
	}
	return naiveDateSubtractionPattern.ReplaceAllString(cypher, "date() - duration({days: ${1}})")
}
