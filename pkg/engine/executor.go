package engine

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

// stepRefRe matches {{step_N_result}} placeholders in planner arguments.
var stepRefRe = regexp.MustCompile(`\{\{step_(\d+)_result\}\}`)

// ExecutionOutcome is the result of one Execute call, after all retries.
type ExecutionOutcome struct {
	OK             bool
	Raw            any
	Err            error
	Classification models.Classification
	Attempts       int
}

// Executor dispatches a step to its MCP tool or LLM capability, with
// linear-backoff retries for transient classifications and argument
// inference from the run's data store.
type Executor struct {
	broker     SessionBroker
	llm        llm.Client
	prompts    *prompt.Builder
	baseDelay  time.Duration
	llmTimeout time.Duration
	logger     *slog.Logger
}

// NewExecutor creates an executor. llmTimeout bounds capability calls.
func NewExecutor(broker SessionBroker, client llm.Client, prompts *prompt.Builder, baseDelay, llmTimeout time.Duration) *Executor {
	return &Executor{
		broker:     broker,
		llm:        client,
		prompts:    prompts,
		baseDelay:  baseDelay,
		llmTimeout: llmTimeout,
		logger:     slog.Default(),
	}
}

// Execute runs a step to completion or final failure. The step's Args are
// rewritten in place by inference; Attempts is updated as the retries run.
func (e *Executor) Execute(ctx context.Context, userID string, step *models.WorkflowStep, state *models.EngineState) *ExecutionOutcome {
	step.Args = e.InferArgs(step, state)

	maxAttempts := step.MaxRetries + 1
	var lastErr error
	var lastClass models.Classification

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		step.Attempts = attempt

		raw, err := e.dispatch(ctx, userID, step, state)
		if err == nil {
			return &ExecutionOutcome{OK: true, Raw: raw, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return &ExecutionOutcome{Err: ctx.Err(), Classification: models.ClassConnectionTimeout, Attempts: attempt}
		}

		lastErr = err
		lastClass = classificationOf(err)

		// Auth, config, and argument faults surface immediately.
		if !lastClass.Retryable() || attempt == maxAttempts {
			break
		}

		delay := e.baseDelay * time.Duration(attempt)
		e.logger.Info("step attempt failed, retrying",
			"run_id", state.RunID, "tool", step.Tool,
			"attempt", attempt, "classification", lastClass, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &ExecutionOutcome{Err: ctx.Err(), Classification: models.ClassConnectionTimeout, Attempts: attempt}
		}
	}

	return &ExecutionOutcome{Err: lastErr, Classification: lastClass, Attempts: step.Attempts}
}

// dispatch routes one attempt by step kind.
func (e *Executor) dispatch(ctx context.Context, userID string, step *models.WorkflowStep, state *models.EngineState) (any, error) {
	switch step.Kind {
	case models.StepKindMCP:
		return e.broker.Invoke(ctx, userID, step.MCPName, step.Tool, step.Args)
	case models.StepKindLLM:
		callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
		defer cancel()
		out, err := llm.CallText(callCtx, e.llm, &llm.GenerateInput{
			RunID:    state.RunID,
			Messages: e.prompts.BuildCapabilityMessages(step.Tool, step.Args, state.UserLanguage),
		})
		if err != nil {
			return nil, &models.ToolError{Classification: models.ClassServerInternal, Err: err}
		}
		return out, nil
	default:
		return nil, &models.ToolError{
			Classification: models.ClassInvalidArgument,
			Err:            errors.New("unknown step kind " + string(step.Kind)),
		}
	}
}

// InferArgs resolves {{step_N_result}} placeholders against the data store
// and, for empty argument sets, applies semantic-key inference from the
// last successful result ("tweet" actions take content, "search" actions
// take query).
func (e *Executor) InferArgs(step *models.WorkflowStep, state *models.EngineState) map[string]any {
	args := make(map[string]any, len(step.Args))
	for k, v := range step.Args {
		args[k] = resolvePlaceholders(v, state.Data)
	}

	if len(args) == 0 && state.Data.LastResult() != nil {
		action := strings.ToLower(step.Tool)
		switch {
		case strings.Contains(action, "tweet"):
			if text := fieldOrText(state.Data.LastResult(), "text"); text != "" {
				args["content"] = text
			}
		case strings.Contains(action, "search"):
			if q := fieldOrText(state.Data.LastResult(), "query"); q != "" {
				args["query"] = q
			}
		}
	}
	return args
}

// resolvePlaceholders substitutes step references inside one argument
// value. A value that is exactly one placeholder becomes the referenced
// raw value; embedded references are stringified in place.
func resolvePlaceholders(v any, data *models.DataStore) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if m := stepRefRe.FindStringSubmatch(s); m != nil && m[0] == s {
		n, _ := strconv.Atoi(m[1])
		if raw, ok := data.StepResult(n); ok {
			return raw
		}
		return s
	}

	return stepRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		m := stepRefRe.FindStringSubmatch(ref)
		n, _ := strconv.Atoi(m[1])
		raw, ok := data.StepResult(n)
		if !ok {
			return ref
		}
		return stringifyRaw(raw)
	})
}

// fieldOrText pulls a named string field from an object-shaped value, or
// returns the value itself when it is a plain string.
func fieldOrText(v any, field string) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val[field].(string); ok {
			return s
		}
	}
	return ""
}

// classificationOf extracts the classification from a broker or capability
// error.
func classificationOf(err error) models.Classification {
	var toolErr *models.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Classification
	}
	var authErr *models.AuthRequiredError
	if errors.As(err, &authErr) {
		return authErr.Classification
	}
	return models.ClassUnknown
}
