package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aperture-ai/weft/pkg/models"
)

func TestExtractTargets(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"no handles", "what is the fear and greed index?", nil},
		{"single handle", "latest tweets from @elonmusk", []string{"@elonmusk"}},
		{"multiple handles", "compare @alice and @bob", []string{"@alice", "@bob"}},
		{"duplicates collapse case-insensitively", "@Alice replied to @alice and @Bob", []string{"@alice", "@bob"}},
		{"first-appearance order", "@zeta before @alpha", []string{"@zeta", "@alpha"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTargets(tt.query))
		})
	}
}

func TestRequestedCount(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"show me the top 3 posts", 3},
		{"the 5 latest tweets", 5},
		{"Top 10 coins by volume", 10},
		{"2 best answers", 2},
		{"all the posts", 0},
		{"topmost result", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, RequestedCount(tt.query))
		})
	}
}

func TestUncoveredTargets(t *testing.T) {
	targets := []string{"@alice", "@bob"}

	t.Run("nothing collected", func(t *testing.T) {
		assert.Equal(t, []string{"@alice", "@bob"}, UncoveredTargets(targets, nil))
	})

	t.Run("failed steps do not count as coverage", func(t *testing.T) {
		history := []models.WorkflowStep{
			{Status: models.StepStatusFailed, Error: "fetch for @alice failed", RawResult: nil},
		}
		assert.Equal(t, []string{"@alice", "@bob"}, UncoveredTargets(targets, history))
	})

	t.Run("partial coverage", func(t *testing.T) {
		history := []models.WorkflowStep{
			{Status: models.StepStatusCompleted, RawResult: "posts by @ALICE"},
		}
		assert.Equal(t, []string{"@bob"}, UncoveredTargets(targets, history))
	})

	t.Run("structured results are flattened", func(t *testing.T) {
		history := []models.WorkflowStep{
			{Status: models.StepStatusCompleted, RawResult: map[string]any{
				"posts": []any{
					map[string]any{"author": "@alice"},
					map[string]any{"author": "@bob"},
				},
			}},
		}
		assert.Empty(t, UncoveredTargets(targets, history))
	})

	t.Run("no targets means nothing to cover", func(t *testing.T) {
		assert.Nil(t, UncoveredTargets(nil, nil))
	})
}
