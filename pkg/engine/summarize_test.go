package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...", Truncate("abcd", 2))
}

func TestSummarizeValue(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, "", SummarizeValue(nil))
	})

	t.Run("string passes through", func(t *testing.T) {
		assert.Equal(t, "value 72", SummarizeValue("value 72"))
	})

	t.Run("long string is capped", func(t *testing.T) {
		out := SummarizeValue(strings.Repeat("a", 3000))
		assert.Len(t, out, maxSummaryChars+3)
		assert.True(t, strings.HasSuffix(out, "..."))
	})

	t.Run("mcp content list concatenates text parts", func(t *testing.T) {
		v := map[string]any{"content": []any{
			map[string]any{"type": "text", "text": "line one"},
			map[string]any{"type": "image", "data": "ignored"},
			map[string]any{"type": "text", "text": "line two"},
		}}
		assert.Equal(t, "line one\nline two", SummarizeValue(v))
	})

	t.Run("core field extraction", func(t *testing.T) {
		v := map[string]any{
			"data":     map[string]any{"value": 72},
			"metadata": map[string]any{"requestId": "abc", "elapsed": "12ms"},
		}
		assert.Equal(t, `{"data":{"value":72}}`, SummarizeValue(v))
	})

	t.Run("object without core fields marshals whole", func(t *testing.T) {
		v := map[string]any{"greed": 72}
		assert.Equal(t, `{"greed":72}`, SummarizeValue(v))
	})

	t.Run("non-object values marshal compactly", func(t *testing.T) {
		assert.Equal(t, `[1,2,3]`, SummarizeValue([]int{1, 2, 3}))
		assert.Equal(t, "72", SummarizeValue(72))
	})
}
