package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

func TestFormat_LLMResultPassesThrough(t *testing.T) {
	client := &fakeLLM{respond: func(*llm.GenerateInput) (string, error) {
		return "", errors.New("capability output must not be reformatted")
	}}
	f := NewFormatter(client, prompt.NewBuilder(), time.Second)

	step := &models.WorkflowStep{
		Index: 2, Kind: models.StepKindLLM, Tool: "analyze",
		RawResult: "The index shows greed at 72.",
	}
	var chunks []string
	fr, err := f.Format(context.Background(), step, "en", func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "The index shows greed at 72.", fr.Text)
	assert.False(t, fr.NeedsFormatting)
	assert.Equal(t, fr.OriginalSize, fr.FormattedSize)
	assert.Equal(t, []string{"The index shows greed at 72."}, chunks)
	assert.Equal(t, 0, client.callCount())
}

func TestFormat_MCPResultStreamsThroughLLM(t *testing.T) {
	client := &fakeLLM{respond: func(in *llm.GenerateInput) (string, error) {
		assert.Contains(t, userPrompt(in), "fng-mcp.get_fng")
		return "**Index: 72**", nil
	}}
	f := NewFormatter(client, prompt.NewBuilder(), time.Second)

	step := &models.WorkflowStep{
		Index: 1, Kind: models.StepKindMCP, MCPName: "fng-mcp", Tool: "get_fng",
		RawResult: map[string]any{"value": 72},
	}
	var streamed strings.Builder
	fr, err := f.Format(context.Background(), step, "en", func(c string) { streamed.WriteString(c) })
	require.NoError(t, err)

	assert.Equal(t, "**Index: 72**", fr.Text)
	assert.Equal(t, "**Index: 72**", streamed.String())
	assert.True(t, fr.NeedsFormatting)
	assert.Equal(t, len(`{"value":72}`), fr.OriginalSize)
	assert.Equal(t, len("**Index: 72**"), fr.FormattedSize)
}

func TestFormat_TruncatesOversizedInput(t *testing.T) {
	var seen string
	client := &fakeLLM{respond: func(in *llm.GenerateInput) (string, error) {
		seen = userPrompt(in)
		return "short summary", nil
	}}
	f := NewFormatter(client, prompt.NewBuilder(), time.Second)

	step := &models.WorkflowStep{
		Index: 1, Kind: models.StepKindMCP, MCPName: "fng-mcp", Tool: "get_fng_history",
		RawResult: strings.Repeat("x", 5000),
	}
	fr, err := f.Format(context.Background(), step, "en", nil)
	require.NoError(t, err)

	// The prompt carries at most maxSummaryChars of raw data plus the
	// ellipsis marker.
	assert.Contains(t, seen, strings.Repeat("x", maxSummaryChars)+"...")
	assert.NotContains(t, seen, strings.Repeat("x", maxSummaryChars+1))
	assert.Equal(t, maxSummaryChars+3, fr.OriginalSize)
}

func TestFormat_LLMErrorSurfaces(t *testing.T) {
	client := &fakeLLM{respond: func(*llm.GenerateInput) (string, error) {
		return "", errors.New("model unavailable")
	}}
	f := NewFormatter(client, prompt.NewBuilder(), time.Second)

	step := &models.WorkflowStep{
		Index: 1, Kind: models.StepKindMCP, MCPName: "fng-mcp", Tool: "get_fng",
		RawResult: "raw",
	}
	_, err := f.Format(context.Background(), step, "en", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "formatter stream")
}
