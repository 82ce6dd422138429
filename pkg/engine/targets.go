package engine

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/aperture-ai/weft/pkg/models"
)

// handleRe matches @-handle identifiers in a query.
var handleRe = regexp.MustCompile(`@\w+`)

// countRe matches explicit cardinality requests ("top 3", "3 top/latest/best").
var countRe = regexp.MustCompile(`(?i)\btop\s+(\d{1,3})\b|\b(\d{1,3})\s+(?:top|latest|best|newest)\b`)

// ExtractTargets returns the distinct @-handle identifiers in a query,
// lowercased, in first-appearance order. Re-run on every observer cycle;
// never cached.
func ExtractTargets(query string) []string {
	seen := map[string]bool{}
	var targets []string
	for _, m := range handleRe.FindAllString(query, -1) {
		key := strings.ToLower(m)
		if !seen[key] {
			seen[key] = true
			targets = append(targets, key)
		}
	}
	return targets
}

// RequestedCount returns an explicit item count in the query ("top 3"),
// or 0 when none is stated.
func RequestedCount(query string) int {
	m := countRe.FindStringSubmatch(query)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g != "" {
			n, _ := strconv.Atoi(g)
			return n
		}
	}
	return 0
}

// UncoveredTargets returns the targets not yet referenced by any successful
// step's raw result (case-insensitive substring match).
func UncoveredTargets(targets []string, history []models.WorkflowStep) []string {
	if len(targets) == 0 {
		return nil
	}

	var corpus strings.Builder
	for _, step := range history {
		if step.Status != models.StepStatusCompleted || step.RawResult == nil {
			continue
		}
		corpus.WriteString(strings.ToLower(stringifyRaw(step.RawResult)))
		corpus.WriteByte('\n')
	}
	haystack := corpus.String()

	var uncovered []string
	for _, t := range targets {
		if !strings.Contains(haystack, t) {
			uncovered = append(uncovered, t)
		}
	}
	return uncovered
}

// stringifyRaw flattens a raw result for substring matching.
func stringifyRaw(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
