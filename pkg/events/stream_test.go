package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_OrderPreserved(t *testing.T) {
	s := NewStream(8)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, TagExecutionStart, ExecutionStartPayload{TaskID: "t1"}))
	require.NoError(t, s.Emit(ctx, TagStepExecuting, StepExecutingPayload{Step: 1}))
	s.EmitAlways(TagFinalResult, FinalResultPayload{Success: true})
	s.Close()

	var tags []Tag
	for ev := range s.Events() {
		tags = append(tags, ev.Event)
	}
	assert.Equal(t, []Tag{TagExecutionStart, TagStepExecuting, TagFinalResult}, tags)
}

func TestStream_EmitBlocksUntilConsumed(t *testing.T) {
	s := NewStream(1)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, TagExecutionStart, nil)) // fills the buffer

	done := make(chan error, 1)
	go func() { done <- s.Emit(ctx, TagStepExecuting, nil) }()

	select {
	case <-done:
		t.Fatal("emit returned before the consumer read")
	case <-time.After(20 * time.Millisecond):
	}

	<-s.Events()
	require.NoError(t, <-done)
}

func TestStream_EmitUnblocksOnCancel(t *testing.T) {
	s := NewStream(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Emit(ctx, TagExecutionStart, nil))
	cancel()

	err := s.Emit(ctx, TagStepExecuting, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_EmitTimeout(t *testing.T) {
	s := NewStream(1)

	assert.True(t, s.EmitTimeout(TagExecutionStart, nil, time.Second))

	// The buffer is full and nobody is reading.
	start := time.Now()
	assert.False(t, s.EmitTimeout(TagStepExecuting, nil, 10*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	s := NewStream(1)
	s.Close()
	assert.NotPanics(t, s.Close)

	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, Event{Event: TagFinalResult}.Terminal())
	assert.True(t, Event{Event: TagCancelled}.Terminal())
	assert.False(t, Event{Event: TagStepComplete}.Terminal())
	assert.False(t, Event{Event: TagError}.Terminal())
}

func TestEvent_JSONShape(t *testing.T) {
	data, err := json.Marshal(Event{
		Event: TagStepComplete,
		Data: StepCompletePayload{
			Step:    2,
			Success: true,
			Progress: StepProgress{
				Completed: 1, Total: 2, Percentage: 50,
			},
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "step_complete",
		"data": {
			"step": 2,
			"success": true,
			"progress": {"completed": 1, "total": 2, "percentage": 50}
		}
	}`, string(data))
}

func TestMCPConnectionErrorPayload_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(MCPConnectionErrorPayload{
		MCPName:            "twitter-mcp",
		ErrorType:          "auth.missing_params",
		Title:              "Missing credentials",
		AuthFieldsRequired: []string{"TWITTER_API_KEY"},
		RequiresUserAction: true,
		Suggestions:        []string{"re-enter the key"},
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "twitter-mcp", m["mcpName"])
	assert.Equal(t, "auth.missing_params", m["errorType"])
	assert.Equal(t, []any{"TWITTER_API_KEY"}, m["authFieldsRequired"])
	assert.Equal(t, true, m["requiresUserAction"])
	// The analysis block is omitted entirely when absent.
	_, present := m["llmAnalysis"]
	assert.False(t, present)
}

func TestTimestamp_RFC3339NanoUTC(t *testing.T) {
	ts := Timestamp()
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}
