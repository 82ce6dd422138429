package engine

import (
	"encoding/json"
	"strings"
)

// maxSummaryChars is the size cap applied to every value shown to the LLM
// as a data-source summary or formatter input.
const maxSummaryChars = 2000

// coreFields are extracted from object-shaped results, in preference
// order, before falling back to the full JSON.
var coreFields = []string{"data", "result", "results", "items", "content", "value", "price", "amount"}

// Truncate cuts s to at most limit characters, appending an ellipsis when
// anything was dropped.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// SummarizeValue renders a raw step result for LLM consumption, capped at
// maxSummaryChars. Strings pass through; MCP-style content lists have
// their text parts concatenated; objects are reduced to their core fields.
func SummarizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return Truncate(val, maxSummaryChars)
	case map[string]any:
		if text, ok := contentText(val); ok {
			return Truncate(text, maxSummaryChars)
		}
		for _, field := range coreFields {
			if inner, ok := val[field]; ok {
				return Truncate(marshalCompact(map[string]any{field: inner}), maxSummaryChars)
			}
		}
		return Truncate(marshalCompact(val), maxSummaryChars)
	default:
		return Truncate(marshalCompact(val), maxSummaryChars)
	}
}

// contentText extracts MCP content[].text concatenation when the value has
// that shape.
func contentText(val map[string]any) (string, bool) {
	items, ok := val["content"].([]any)
	if !ok {
		return "", false
	}
	var parts []string
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := obj["text"].(string); ok {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func marshalCompact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
