package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

func newTestObserver(respond func(*llm.GenerateInput) (string, error)) (*Observer, *fakeLLM) {
	client := &fakeLLM{respond: respond}
	return NewObserver(client, prompt.NewBuilder(), time.Second), client
}

func stateWithSuccess(query string, raw any) *models.EngineState {
	state := models.NewEngineState("run-1", query, "en")
	state.RecordStep(models.WorkflowStep{
		Index: 1, Kind: models.StepKindMCP, MCPName: "fng-mcp", Tool: "get_fng",
		Status: models.StepStatusCompleted, RawResult: raw,
	})
	return state
}

func TestObserve_NoDataShortcut(t *testing.T) {
	o, client := newTestObserver(func(*llm.GenerateInput) (string, error) {
		return "", errors.New("should not be called")
	})
	state := models.NewEngineState("run-1", "q", "en")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.False(t, obs.Complete)
	assert.Equal(t, "no data collected", obs.Reason)
	assert.Equal(t, 0, client.callCount())
}

func TestObserve_CompleteVerdict(t *testing.T) {
	o, _ := newTestObserver(func(in *llm.GenerateInput) (string, error) {
		assert.Contains(t, userPrompt(in), "Collected data sources:")
		return `{"complete": true, "reason": "index value present"}`, nil
	})
	state := stateWithSuccess("what is the index?", "value 72")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.True(t, obs.Complete)
	assert.Equal(t, "index value present", obs.Reason)
}

func TestObserve_ContinueVerdict(t *testing.T) {
	o, _ := newTestObserver(func(*llm.GenerateInput) (string, error) {
		return `{"complete": false, "reason": "history still missing"}`, nil
	})
	state := stateWithSuccess("current and weekly index", "value 72")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.False(t, obs.Complete)
	assert.Equal(t, "history still missing", obs.Reason)
}

func TestObserve_UncoveredTargetsOverrideCompletion(t *testing.T) {
	o, _ := newTestObserver(func(in *llm.GenerateInput) (string, error) {
		// The model is shown the targets and still declares completion.
		assert.Contains(t, userPrompt(in), "@alice, @bob")
		return `{"complete": true, "reason": "looks good"}`, nil
	})
	// Only @alice appears in the collected data.
	state := stateWithSuccess("compare the latest posts of @alice and @bob",
		map[string]any{"posts": []any{map[string]any{"author": "@alice", "text": "hi"}}})

	obs := o.Observe(context.Background(), state, testAgent())
	assert.False(t, obs.Complete)
	assert.Contains(t, obs.Reason, "@bob")
	assert.NotContains(t, obs.Reason, "@alice,")
}

func TestObserve_CoveredTargetsAllowCompletion(t *testing.T) {
	o, _ := newTestObserver(func(*llm.GenerateInput) (string, error) {
		return `{"complete": true, "reason": "both accounts covered"}`, nil
	})
	state := stateWithSuccess("compare @alice and @bob",
		"posts from @alice and @bob collected")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.True(t, obs.Complete)
}

func TestObserve_RequestedCountReachesPrompt(t *testing.T) {
	o, _ := newTestObserver(func(in *llm.GenerateInput) (string, error) {
		assert.Contains(t, userPrompt(in), "explicitly requests 3 items")
		return `{"complete": false, "reason": "only one post collected"}`, nil
	})
	state := stateWithSuccess("top 3 posts of @alice", "one post from @alice")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.False(t, obs.Complete)
}

func TestObserve_MalformedOutputContinues(t *testing.T) {
	o, _ := newTestObserver(func(*llm.GenerateInput) (string, error) {
		return "yeah looks done to me", nil
	})
	state := stateWithSuccess("q", "data")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.False(t, obs.Complete)
	assert.Equal(t, "observer output malformed", obs.Reason)
}

func TestObserve_LLMFailureContinues(t *testing.T) {
	o, _ := newTestObserver(func(*llm.GenerateInput) (string, error) {
		return "", errors.New("model unavailable")
	})
	state := stateWithSuccess("q", "data")

	obs := o.Observe(context.Background(), state, testAgent())
	assert.False(t, obs.Complete)
	assert.Equal(t, "observer unavailable", obs.Reason)
}

func TestDataSources_SuccessfulStepsOnly(t *testing.T) {
	state := models.NewEngineState("run-1", "q", "en")
	state.RecordStep(models.WorkflowStep{Index: 1, Tool: "get_fng", MCPName: "fng-mcp",
		Status: models.StepStatusCompleted, RawResult: "value 72"})
	state.RecordStep(models.WorkflowStep{Index: 2, Tool: "get_fng_history", MCPName: "fng-mcp",
		Status: models.StepStatusFailed, Error: "boom"})
	state.RecordStep(models.WorkflowStep{Index: 3, Tool: "analyze",
		Status: models.StepStatusCompleted, RawResult: "bullish"})

	sources := DataSources(state)
	require.Len(t, sources, 2)
	assert.Equal(t, 1, sources[0].StepIndex)
	assert.Equal(t, "value 72", sources[0].Summary)
	assert.Equal(t, 3, sources[1].StepIndex)
	assert.Equal(t, "analyze", sources[1].Tool)
}

func TestParseObservation_Repair(t *testing.T) {
	// Trailing comma needs the repair pass.
	obs, ok := parseObservation(`{"complete": true, "reason": "done",}`)
	require.True(t, ok)
	assert.True(t, obs.Complete)

	_, ok = parseObservation("complete!")
	assert.False(t, ok)
}
