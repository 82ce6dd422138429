package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

// PlannerFailureReason is the conclude reason reported when the LLM could
// not produce a valid decision after all repair attempts.
const PlannerFailureReason = "planner_failure"

// plannerRepairAttempts is the number of repair prompts sent after a
// malformed decision before giving up.
const plannerRepairAttempts = 2

// decisionSchema validates the structural shape of planner output before
// any semantic checks run.
const decisionSchema = `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"enum": ["step", "conclude"]},
    "reason": {"type": "string"},
    "step": {
      "type": "object",
      "required": ["kind", "tool"],
      "properties": {
        "kind": {"enum": ["mcp", "llm"]},
        "mcpName": {"type": "string"},
        "tool": {"type": "string"},
        "args": {"type": "object"},
        "expectedOutput": {"type": "string"},
        "reasoning": {"type": "string"}
      }
    }
  }
}`

// DecisionKind discriminates planner decisions.
type DecisionKind string

const (
	DecideStep     DecisionKind = "step"
	DecideConclude DecisionKind = "conclude"
)

// PlanDecision is the planner's verdict for one iteration.
type PlanDecision struct {
	Kind   DecisionKind
	Reason string               // set when concluding
	Step   *models.WorkflowStep // set when stepping
}

// rawDecision is the wire shape of the LLM's reply.
type rawDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Step     *struct {
		Kind           string         `json:"kind"`
		MCPName        string         `json:"mcpName"`
		Tool           string         `json:"tool"`
		Args           map[string]any `json:"args"`
		ExpectedOutput string         `json:"expectedOutput"`
		Reasoning      string         `json:"reasoning"`
	} `json:"step"`
}

// Planner asks the LLM for the next step. Structural failures self-heal
// through repair prompts; exhaustion yields a conclude decision rather
// than an error.
type Planner struct {
	llm     llm.Client
	prompts *prompt.Builder
	timeout time.Duration
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// NewPlanner creates a planner. Panics only on a broken compiled-in schema.
func NewPlanner(client llm.Client, prompts *prompt.Builder, timeout time.Duration) *Planner {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(decisionSchema))
	if err != nil {
		panic(fmt.Sprintf("decision schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		panic(fmt.Sprintf("decision schema: %v", err))
	}
	schema, err := c.Compile("decision.json")
	if err != nil {
		panic(fmt.Sprintf("decision schema: %v", err))
	}
	return &Planner{
		llm:     client,
		prompts: prompts,
		timeout: timeout,
		schema:  schema,
		logger:  slog.Default(),
	}
}

// Plan produces the next decision for the run. availableTools maps
// mcpName → catalogue as shown to the LLM. The returned error is non-nil
// only for context cancellation; every other failure degrades to a
// conclude decision.
func (p *Planner) Plan(
	ctx context.Context,
	state *models.EngineState,
	agent *config.AgentDescriptor,
	availableTools map[string][]string,
) (*PlanDecision, error) {
	snapshot := p.snapshot(state)
	messages := p.prompts.BuildPlannerMessages(agent, state.OriginalQuery, snapshot, availableTools, state.UserLanguage)

	var lastRaw, lastProblem string
	for attempt := 0; attempt <= plannerRepairAttempts; attempt++ {
		if attempt > 0 {
			messages = p.prompts.BuildPlannerRepairMessages(lastRaw, lastProblem)
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		out, err := llm.CallText(callCtx, p.llm, &llm.GenerateInput{RunID: state.RunID, Messages: messages})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastRaw, lastProblem = out, err.Error()
			p.logger.Warn("planner call failed", "run_id", state.RunID, "attempt", attempt, "error", err)
			continue
		}

		decision, err := p.parse(out, agent, availableTools)
		if err != nil {
			lastRaw, lastProblem = out, err.Error()
			p.logger.Warn("planner output rejected", "run_id", state.RunID, "attempt", attempt, "error", err)
			continue
		}
		return decision, nil
	}

	p.logger.Error("planner exhausted repair attempts", "run_id", state.RunID)
	return &PlanDecision{Kind: DecideConclude, Reason: PlannerFailureReason}, nil
}

// snapshot builds the compact status view embedded in the prompt.
func (p *Planner) snapshot(state *models.EngineState) prompt.StatusSnapshot {
	snap := prompt.StatusSnapshot{
		SuccessCount: state.SuccessCount(),
		TotalSteps:   len(state.History),
		DataKeys:     state.Data.Keys(),
		Stagnating:   state.Progress.StagnationCount > 0,
	}
	if last := state.LastStep(); last != nil {
		outcome := "succeeded"
		if last.Status != models.StepStatusCompleted {
			outcome = "failed: " + last.Error
		}
		snap.LastStep = fmt.Sprintf("%s (%s) %s", last.Tool, last.Kind, outcome)
		if last.Status == models.StepStatusCompleted {
			snap.LastTool = last.Tool
			snap.LastToolMCP = last.MCPName
		}
	}
	return snap
}

// parse decodes, repairs, and validates one planner reply.
func (p *Planner) parse(out string, agent *config.AgentDescriptor, availableTools map[string][]string) (*PlanDecision, error) {
	payload := extractJSON(out)

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return nil, fmt.Errorf("not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return nil, fmt.Errorf("not valid JSON after repair: %w", err)
		}
		payload = repaired
	}

	if err := p.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("decision shape invalid: %w", err)
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}

	if raw.Decision == string(DecideConclude) {
		reason := raw.Reason
		if reason == "" {
			reason = "request complete"
		}
		return &PlanDecision{Kind: DecideConclude, Reason: reason}, nil
	}

	if raw.Step == nil {
		return nil, fmt.Errorf("decision %q requires a step", raw.Decision)
	}
	step := &models.WorkflowStep{
		Kind:           models.StepKind(raw.Step.Kind),
		MCPName:        raw.Step.MCPName,
		Tool:           raw.Step.Tool,
		Args:           raw.Step.Args,
		ExpectedOutput: raw.Step.ExpectedOutput,
		Reasoning:      raw.Step.Reasoning,
		Status:         models.StepStatusPending,
	}
	if step.Args == nil {
		step.Args = map[string]any{}
	}
	if err := validateStep(step, agent, availableTools); err != nil {
		return nil, err
	}
	return &PlanDecision{Kind: DecideStep, Step: step}, nil
}

// validateStep enforces the semantic rules the schema cannot express.
func validateStep(step *models.WorkflowStep, agent *config.AgentDescriptor, availableTools map[string][]string) error {
	switch step.Kind {
	case models.StepKindMCP:
		if step.MCPName == "" {
			return fmt.Errorf("mcp step %q is missing mcpName", step.Tool)
		}
		server, ok := agent.MCPServer(step.MCPName)
		if !ok {
			return fmt.Errorf("mcp server %q is not in the agent manifest", step.MCPName)
		}
		if !server.HasTool(step.Tool) {
			return fmt.Errorf("tool %q is not in the catalogue of %q", step.Tool, step.MCPName)
		}
		if catalogue, ok := availableTools[step.MCPName]; ok && len(catalogue) > 0 {
			found := false
			for _, t := range catalogue {
				if t == step.Tool {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("tool %q is not advertised by %q", step.Tool, step.MCPName)
			}
		}
	case models.StepKindLLM:
		if step.MCPName != "" {
			return fmt.Errorf("llm step %q must not name an mcp server", step.Tool)
		}
		if !models.LLMCapabilities[step.Tool] {
			return fmt.Errorf("unknown llm capability %q", step.Tool)
		}
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
	return nil
}

// extractJSON strips markdown fences and surrounding prose, keeping the
// outermost object.
func extractJSON(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.Index(out, "```"); i >= 0 {
		out = out[i+3:]
		out = strings.TrimPrefix(out, "json")
		if j := strings.Index(out, "```"); j >= 0 {
			out = out[:j]
		}
	}
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start >= 0 && end > start {
		return out[start : end+1]
	}
	return strings.TrimSpace(out)
}
