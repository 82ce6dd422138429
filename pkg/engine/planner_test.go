package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

var plannerCatalogue = map[string][]string{"fng-mcp": {"get_fng", "get_fng_history"}}

func newTestPlanner(respond func(*llm.GenerateInput) (string, error)) (*Planner, *fakeLLM) {
	client := &fakeLLM{respond: respond}
	return NewPlanner(client, prompt.NewBuilder(), time.Second), client
}

func TestPlan_ValidStep(t *testing.T) {
	p, _ := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		return `{"decision":"step","step":{"kind":"mcp","mcpName":"fng-mcp","tool":"get_fng",
			"args":{"days":7},"expectedOutput":"a week of values","reasoning":"history requested"}}`, nil
	})
	state := models.NewEngineState("run-1", "index for the last week", "en")

	decision, err := p.Plan(context.Background(), state, testAgent(), plannerCatalogue)
	require.NoError(t, err)
	assert.Equal(t, DecideStep, decision.Kind)
	require.NotNil(t, decision.Step)
	assert.Equal(t, models.StepKindMCP, decision.Step.Kind)
	assert.Equal(t, "get_fng", decision.Step.Tool)
	assert.Equal(t, float64(7), decision.Step.Args["days"])
	assert.Equal(t, models.StepStatusPending, decision.Step.Status)
}

func TestPlan_Conclude(t *testing.T) {
	p, _ := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		return `{"decision":"conclude","reason":"all data collected"}`, nil
	})
	state := models.NewEngineState("run-1", "q", "en")

	decision, err := p.Plan(context.Background(), state, testAgent(), plannerCatalogue)
	require.NoError(t, err)
	assert.Equal(t, DecideConclude, decision.Kind)
	assert.Equal(t, "all data collected", decision.Reason)
}

func TestPlan_ConcludeDefaultReason(t *testing.T) {
	p, _ := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		return `{"decision":"conclude"}`, nil
	})
	state := models.NewEngineState("run-1", "q", "en")

	decision, err := p.Plan(context.Background(), state, testAgent(), plannerCatalogue)
	require.NoError(t, err)
	assert.Equal(t, "request complete", decision.Reason)
}

func TestPlan_FencedJSONAccepted(t *testing.T) {
	p, _ := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		return "Here is my decision:\n```json\n{\"decision\":\"conclude\",\"reason\":\"done\"}\n```\n", nil
	})
	state := models.NewEngineState("run-1", "q", "en")

	decision, err := p.Plan(context.Background(), state, testAgent(), plannerCatalogue)
	require.NoError(t, err)
	assert.Equal(t, DecideConclude, decision.Kind)
}

func TestPlan_RepairPromptRecoversTruncatedJSON(t *testing.T) {
	responses := []string{
		`{"decision":"step","step":{"kind":"mcp","mcpName":"fng-mcp"`, // truncated, repair yields no tool
		`{"decision":"step","step":{"kind":"mcp","mcpName":"fng-mcp","tool":"get_fng","args":{}}}`,
	}
	i := 0
	p, client := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		out := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return out, nil
	})
	state := models.NewEngineState("run-1", "q", "en")

	decision, err := p.Plan(context.Background(), state, testAgent(), plannerCatalogue)
	require.NoError(t, err)
	assert.Equal(t, DecideStep, decision.Kind)
	require.Equal(t, 2, client.callCount())
	assert.Contains(t, systemPrompt(client.calls[1]), "repair")
}

func TestPlan_ExhaustionDegradesToPlannerFailure(t *testing.T) {
	p, client := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		return "definitely not a decision", nil
	})
	state := models.NewEngineState("run-1", "q", "en")

	decision, err := p.Plan(context.Background(), state, testAgent(), plannerCatalogue)
	require.NoError(t, err)
	assert.Equal(t, DecideConclude, decision.Kind)
	assert.Equal(t, PlannerFailureReason, decision.Reason)
	assert.Equal(t, 3, client.callCount())
}

func TestPlan_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _ := newTestPlanner(func(*llm.GenerateInput) (string, error) {
		cancel()
		return "", context.Canceled
	})
	state := models.NewEngineState("run-1", "q", "en")

	_, err := p.Plan(ctx, state, testAgent(), plannerCatalogue)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParse_SemanticValidation(t *testing.T) {
	p, _ := newTestPlanner(func(*llm.GenerateInput) (string, error) { return "", nil })
	agent := testAgent()

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			"mcp step without mcpName",
			`{"decision":"step","step":{"kind":"mcp","tool":"get_fng"}}`,
			"missing mcpName",
		},
		{
			"server not in agent manifest",
			`{"decision":"step","step":{"kind":"mcp","mcpName":"other-mcp","tool":"get_fng"}}`,
			"not in the agent manifest",
		},
		{
			"tool not in agent catalogue",
			`{"decision":"step","step":{"kind":"mcp","mcpName":"fng-mcp","tool":"delete_everything"}}`,
			"not in the catalogue",
		},
		{
			"tool not advertised by live server",
			`{"decision":"step","step":{"kind":"mcp","mcpName":"fng-mcp","tool":"get_fng_history"}}`,
			"not advertised",
		},
		{
			"llm step naming an mcp server",
			`{"decision":"step","step":{"kind":"llm","mcpName":"fng-mcp","tool":"analyze"}}`,
			"must not name an mcp server",
		},
		{
			"unknown llm capability",
			`{"decision":"step","step":{"kind":"llm","tool":"hallucinate"}}`,
			"unknown llm capability",
		},
	}

	// The live catalogue advertises only get_fng.
	live := map[string][]string{"fng-mcp": {"get_fng"}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.parse(tt.payload, agent, live)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	// LLM capabilities need no catalogue entry.
	decision, err := p.parse(`{"decision":"step","step":{"kind":"llm","tool":"analyze","args":{"input":"x"}}}`, agent, live)
	require.NoError(t, err)
	assert.Equal(t, models.StepKindLLM, decision.Step.Kind)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", `Sure! {"a":1} Hope that helps.`, `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}
