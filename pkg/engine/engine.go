package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/events"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/mcp"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

// Run modes reported in execution_start.
const (
	ModeWorkflow = "workflow"
	ModeDynamic  = "dynamic"
)

// RunRequest describes one engine run.
type RunRequest struct {
	RunID    string // generated when empty
	UserID   string
	Query    string
	Language string // resolved ISO-639-1 code
	Agent    *config.AgentDescriptor
	Workflow *models.Workflow // optional pre-built plan
}

// Engine composes the planner, executor, observer, and formatter into the
// Plan–Act–Observe loop. One Engine serves many concurrent runs; all
// per-run state lives in the run goroutine.
type Engine struct {
	cfg     config.EngineConfig
	broker  SessionBroker
	analyst *mcp.Analyst
	repo    Repository
	llm     llm.Client
	prompts *prompt.Builder

	planner   *Planner
	executor  *Executor
	observer  *Observer
	formatter *Formatter

	logger *slog.Logger
}

// New creates an engine. analyst may be nil; repo may be nil (persistence
// disabled).
func New(cfg config.EngineConfig, client llm.Client, broker SessionBroker, analyst *mcp.Analyst, repo Repository) *Engine {
	if repo == nil {
		repo = NopRepository{}
	}
	prompts := prompt.NewBuilder()
	return &Engine{
		cfg:       cfg,
		broker:    broker,
		analyst:   analyst,
		repo:      repo,
		llm:       client,
		prompts:   prompts,
		planner:   NewPlanner(client, prompts, cfg.DecisionTimeout),
		executor:  NewExecutor(broker, client, prompts, cfg.RetryBaseDelay, cfg.FormatTimeout),
		observer:  NewObserver(client, prompts, cfg.DecisionTimeout),
		formatter: NewFormatter(client, prompts, cfg.FormatTimeout),
		logger:    slog.Default(),
	}
}

// Run starts a run and returns its event stream. The stream ends with
// exactly one final_result or cancelled event and is then closed.
func (e *Engine) Run(ctx context.Context, req *RunRequest) *events.Stream {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	stream := events.NewStream(e.cfg.EventBuffer)
	go e.run(ctx, req, stream)
	return stream
}

// run drives one run to its terminal event.
func (e *Engine) run(ctx context.Context, req *RunRequest, stream *events.Stream) {
	defer stream.Close()

	logger := e.logger.With("run_id", req.RunID, "agent", req.Agent.Name)

	// An unrecoverable internal fault must not kill the process or leave
	// the consumer hanging; it surfaces as an error event before close.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", r)
			stream.EmitAlways(events.TagError, events.ErrorPayload{
				Message: "internal error",
				Details: fmt.Sprint(r),
			})
		}
	}()

	logger.Info("run started", "language", req.Language)

	state := models.NewEngineState(req.RunID, req.Query, req.Language)

	// Pre-execution auth probe: every MCP in the agent manifest must be
	// verified before the first step.
	availableTools, ok := e.probeSessions(ctx, req, state, stream, logger)
	if !ok {
		return
	}

	mode := ModeDynamic
	totalPlanned := 0
	if req.Workflow != nil && len(req.Workflow.Steps) > 0 {
		mode = ModeWorkflow
		totalPlanned = len(req.Workflow.Steps)
	}
	if err := stream.Emit(ctx, events.TagExecutionStart, events.ExecutionStartPayload{
		TaskID: req.RunID,
		Mode:   mode,
		WorkflowInfo: events.WorkflowInfo{
			TotalSteps: totalPlanned,
			MCPs:       req.Agent.MCPNames(),
		},
	}); err != nil {
		e.cancelRun(stream, state, logger, "context cancelled")
		return
	}
	if mode == ModeWorkflow {
		info := make([]events.WorkflowStepInfo, len(req.Workflow.Steps))
		for i, s := range req.Workflow.Steps {
			info[i] = events.WorkflowStepInfo{Step: i + 1, Kind: string(s.Kind), MCPName: s.MCPName, Tool: s.Tool}
		}
		if err := stream.Emit(ctx, events.TagWorkflowExecutionStart, events.WorkflowExecutionStartPayload{
			TotalSteps: totalPlanned,
			Workflow:   info,
		}); err != nil {
			e.cancelRun(stream, state, logger, "context cancelled")
			return
		}
	}

	success := e.loop(ctx, req, state, availableTools, stream, logger)
	if ctx.Err() != nil {
		e.cancelRun(stream, state, logger, "context cancelled")
		return
	}

	e.emitFinalResult(ctx, req, state, success, stream, logger)
	logger.Info("run finished",
		"iterations", state.Iteration,
		"successes", state.SuccessCount(),
		"failures", state.FailureCount(),
		"reason", state.CompleteReason,
		"success", success)
}

// probeSessions verifies each MCP in the agent manifest and collects the
// planner's tool catalogue. An unverifiable server ends the run with a
// single mcp_connection_error and no step_executing.
func (e *Engine) probeSessions(
	ctx context.Context,
	req *RunRequest,
	state *models.EngineState,
	stream *events.Stream,
	logger *slog.Logger,
) (map[string][]string, bool) {
	availableTools := make(map[string][]string, len(req.Agent.MCPServers))
	for _, server := range req.Agent.MCPServers {
		tools, err := e.broker.Tools(ctx, req.UserID, server.Name)
		if err != nil {
			if ctx.Err() != nil {
				e.cancelRun(stream, state, logger, "context cancelled")
				return nil, false
			}
			logger.Warn("MCP verification failed", "mcp", server.Name, "error", err)
			payload := e.connectionErrorPayload(ctx, req, 0, server.Name, "", err)
			payload.RequiresUserAction = true
			stream.EmitAlways(events.TagMCPConnectionError, payload)
			return nil, false
		}

		// Intersect the live catalogue with the agent's allow-list.
		if len(server.Tools) > 0 {
			var allowed []string
			for _, t := range tools {
				if server.HasTool(t) {
					allowed = append(allowed, t)
				}
			}
			tools = allowed
		}
		availableTools[server.Name] = tools
	}
	return availableTools, true
}

// loop runs iterations until a termination condition fires. Returns
// whether the run concluded with sufficient data.
func (e *Engine) loop(
	ctx context.Context,
	req *RunRequest,
	state *models.EngineState,
	availableTools map[string][]string,
	stream *events.Stream,
	logger *slog.Logger,
) bool {
	for {
		if stop, success := e.checkTermination(ctx, state, logger); stop {
			return success
		}

		step := e.nextStep(ctx, req, state, availableTools)
		if step == nil {
			// Planner concluded. planner_failure means the decision
			// machinery broke, not that the task is done.
			return state.Complete && state.CompleteReason != PlannerFailureReason
		}

		// Post-hoc anti-repetition check. The decision is accepted, but a
		// repetition of the last successful action counts as stagnation.
		if last := state.LastStep(); last != nil &&
			last.Status == models.StepStatusCompleted &&
			last.Tool == step.Tool && last.MCPName == step.MCPName {
			state.MarkStagnation()
			logger.Info("planner repeated last successful action", "tool", step.Tool, "mcp", step.MCPName)
		}

		if !e.executeStep(ctx, req, state, step, stream, logger) {
			return false // cancelled
		}

		if state.Complete {
			return true
		}
	}
}

// checkTermination applies the termination policy in priority order.
func (e *Engine) checkTermination(ctx context.Context, state *models.EngineState, logger *slog.Logger) (stop, success bool) {
	switch {
	case state.Complete:
		return true, true
	case ctx.Err() != nil:
		return true, false
	case state.Iteration >= e.cfg.MaxIterations:
		state.CompleteReason = "iteration limit reached"
	case state.Progress.ConsecutiveFailures >= e.cfg.MaxConsecutiveFailures:
		state.CompleteReason = "too many consecutive failures"
	case state.Progress.StagnationCount >= e.cfg.MaxStagnation:
		state.CompleteReason = "no progress"
	default:
		if action, n := state.MostRepeatedAction(); n >= e.cfg.MaxRepeatedAction {
			state.CompleteReason = fmt.Sprintf("action %s repeated %d times", action.Tool, n)
			break
		}
		return false, false
	}
	logger.Info("run terminated by policy", "reason", state.CompleteReason)
	return true, false
}

// nextStep picks the next step: a pending pre-built one, or a planner
// decision. Returns nil when the planner concludes; the conclude reason is
// recorded on the state.
func (e *Engine) nextStep(ctx context.Context, req *RunRequest, state *models.EngineState, availableTools map[string][]string) *models.WorkflowStep {
	if req.Workflow != nil {
		if pending := req.Workflow.NextPending(); pending != nil {
			pending.Status = models.StepStatusExecuting
			step := *pending
			e.prepareStep(&step, state)
			return &step
		}
	}

	decision, err := e.planner.Plan(ctx, state, req.Agent, availableTools)
	if err != nil {
		return nil // context cancelled; caller re-checks ctx
	}
	if decision.Kind == DecideConclude {
		state.Complete = true
		state.CompleteReason = decision.Reason
		return nil
	}
	e.prepareStep(decision.Step, state)
	return decision.Step
}

// prepareStep assigns the step's index and retry budget.
func (e *Engine) prepareStep(step *models.WorkflowStep, state *models.EngineState) {
	step.Index = len(state.History) + 1
	step.Status = models.StepStatusExecuting
	if step.MaxRetries == 0 {
		step.MaxRetries = e.cfg.MaxStepRetries
	}
	if step.Args == nil {
		step.Args = map[string]any{}
	}
}

// executeStep runs one step end to end: execute, emit, format, persist,
// record, observe. Returns false only on cancellation.
func (e *Engine) executeStep(
	ctx context.Context,
	req *RunRequest,
	state *models.EngineState,
	step *models.WorkflowStep,
	stream *events.Stream,
	logger *slog.Logger,
) bool {
	if err := stream.Emit(ctx, events.TagStepExecuting, events.StepExecutingPayload{
		Step:      step.Index,
		Tool:      step.Tool,
		AgentName: req.Agent.Name,
		Message:   fmt.Sprintf("Executing %s", step.Tool),
		ToolDetails: events.ToolDetails{
			ToolType:       string(step.Kind),
			ToolName:       step.Tool,
			MCPName:        step.MCPName,
			Args:           step.Args,
			ExpectedOutput: step.ExpectedOutput,
			Reasoning:      step.Reasoning,
			Timestamp:      events.Timestamp(),
		},
	}); err != nil {
		return false
	}

	outcome := e.executor.Execute(ctx, req.UserID, step, state)
	if ctx.Err() != nil {
		return false
	}

	if outcome.OK {
		return e.completeStep(ctx, req, state, step, outcome, stream, logger)
	}
	return e.failStep(ctx, req, state, step, outcome, stream, logger)
}

// completeStep handles the success path for one executed step.
func (e *Engine) completeStep(
	ctx context.Context,
	req *RunRequest,
	state *models.EngineState,
	step *models.WorkflowStep,
	outcome *ExecutionOutcome,
	stream *events.Stream,
	logger *slog.Logger,
) bool {
	step.Status = models.StepStatusCompleted
	step.RawResult = outcome.Raw

	if err := stream.Emit(ctx, events.TagStepRawResult, events.StepRawResultPayload{
		Step:      step.Index,
		Success:   true,
		Result:    outcome.Raw,
		AgentName: req.Agent.Name,
		ExecutionDetails: events.ExecutionDetails{
			ToolType:       string(step.Kind),
			ToolName:       step.Tool,
			MCPName:        step.MCPName,
			RawResult:      outcome.Raw,
			Args:           step.Args,
			ExpectedOutput: step.ExpectedOutput,
			Timestamp:      events.Timestamp(),
		},
	}); err != nil {
		return false
	}
	e.persistRecord(ctx, req, step, models.ContentTypeRawResult, stringifyRaw(outcome.Raw), true, false, logger)

	emitErr := error(nil)
	fr, err := e.formatter.Format(ctx, step, state.UserLanguage, func(chunk string) {
		if emitErr == nil {
			emitErr = stream.Emit(ctx, events.TagStepResultChunk, events.StepResultChunkPayload{
				Step:      step.Index,
				Chunk:     chunk,
				AgentName: req.Agent.Name,
			})
		}
	})
	if emitErr != nil || ctx.Err() != nil {
		return false
	}

	formattingFailed := false
	if err != nil {
		// Formatting failure does not fail the step; the truncated raw
		// value stands in for the rendered text.
		logger.Warn("formatting failed, using raw fallback", "step", step.Index, "error", err)
		formattingFailed = true
		fallback := SummarizeValue(outcome.Raw)
		fr = &FormatResult{Text: fallback, OriginalSize: len(fallback), FormattedSize: len(fallback)}
	}
	step.FormattedResult = fr.Text

	if err := stream.Emit(ctx, events.TagStepFormattedResult, events.StepFormattedResultPayload{
		Step:            step.Index,
		Success:         !formattingFailed,
		FormattedResult: fr.Text,
		AgentName:       req.Agent.Name,
		FormattingDetails: events.FormattingDetails{
			ToolType:        string(step.Kind),
			ToolName:        step.Tool,
			MCPName:         step.MCPName,
			OriginalResult:  outcome.Raw,
			FormattedResult: fr.Text,
			ProcessingInfo: events.ProcessingInfo{
				OriginalDataSize:  fr.OriginalSize,
				FormattedDataSize: fr.FormattedSize,
				ProcessingTime:    fr.ProcessingTime.String(),
				NeedsFormatting:   fr.NeedsFormatting,
			},
			Timestamp: events.Timestamp(),
		},
	}); err != nil {
		return false
	}
	e.persistRecord(ctx, req, step, models.ContentTypeFormattedResult, fr.Text, true, formattingFailed, logger)

	state.RecordStep(*step)

	if err := e.emitStepComplete(ctx, state, step.Index, true, stream); err != nil {
		return false
	}

	observation := e.observer.Observe(ctx, state, req.Agent)
	if ctx.Err() != nil {
		return false
	}
	if observation.Complete {
		state.Complete = true
		state.CompleteReason = observation.Reason
	}
	return true
}

// failStep handles the failure path for one executed step.
func (e *Engine) failStep(
	ctx context.Context,
	req *RunRequest,
	state *models.EngineState,
	step *models.WorkflowStep,
	outcome *ExecutionOutcome,
	stream *events.Stream,
	logger *slog.Logger,
) bool {
	step.Status = models.StepStatusFailed
	step.Error = outcome.Err.Error()
	logger.Warn("step failed", "step", step.Index, "tool", step.Tool,
		"classification", outcome.Classification, "attempts", outcome.Attempts)

	if outcome.Classification.IsAuth() {
		payload := e.connectionErrorPayload(ctx, req, step.Index, step.MCPName, step.Tool, outcome.Err)
		if err := stream.Emit(ctx, events.TagMCPConnectionError, payload); err != nil {
			return false
		}
	} else {
		if err := stream.Emit(ctx, events.TagStepError, events.StepErrorPayload{
			Step:     step.Index,
			Error:    step.Error,
			MCPName:  step.MCPName,
			Action:   step.Tool,
			Attempts: outcome.Attempts,
		}); err != nil {
			return false
		}
	}
	e.persistRecord(ctx, req, step, models.ContentTypeRawResult, step.Error, false, false, logger)

	state.RecordStep(*step)
	return e.emitStepComplete(ctx, state, step.Index, false, stream) == nil
}

// emitStepComplete reports the progress fraction after a step settles.
func (e *Engine) emitStepComplete(ctx context.Context, state *models.EngineState, index int, success bool, stream *events.Stream) error {
	total := len(state.History)
	completed := state.SuccessCount()
	percentage := 0.0
	if total > 0 {
		percentage = float64(completed) / float64(total) * 100
	}
	return stream.Emit(ctx, events.TagStepComplete, events.StepCompletePayload{
		Step:    index,
		Success: success,
		Progress: events.StepProgress{
			Completed:  completed,
			Total:      total,
			Percentage: percentage,
		},
	})
}

// connectionErrorPayload builds an mcp_connection_error payload, enriching
// it with the advisory LLM analysis when available.
func (e *Engine) connectionErrorPayload(ctx context.Context, req *RunRequest, stepIndex int, mcpName, tool string, err error) events.MCPConnectionErrorPayload {
	class := classificationOf(err)
	if class == models.ClassUnknown {
		class = mcp.Classify(err)
	}

	payload := events.MCPConnectionErrorPayload{
		MCPName:            mcpName,
		Step:               stepIndex,
		AgentName:          req.Agent.Name,
		ErrorType:          string(class),
		Title:              mcp.TitleFor(class),
		Message:            err.Error(),
		Suggestions:        mcp.SuggestionsFor(class),
		IsRetryable:        class.Retryable(),
		RequiresUserAction: class.IsAuth(),
		OriginalError:      err.Error(),
		Timestamp:          events.Timestamp(),
	}

	var authErr *models.AuthRequiredError
	if errors.As(err, &authErr) {
		payload.AuthFieldsRequired = authErr.MissingParams
	}
	if payload.AuthFieldsRequired == nil {
		payload.AuthFieldsRequired = []string{}
	}

	if analysis := e.analyst.Analyze(ctx, err.Error(), mcpName, tool, class); analysis != nil {
		payload.LLMAnalysis = analysis
		payload.Suggestions = append(payload.Suggestions, analysis.SpecificSuggestions...)
	}
	return payload
}

// persistRecord writes one step record through the repository hook.
// Persistence failures are logged, never fatal to the run.
func (e *Engine) persistRecord(
	ctx context.Context,
	req *RunRequest,
	step *models.WorkflowStep,
	contentType models.ContentType,
	content string,
	success, formattingFailed bool,
	logger *slog.Logger,
) {
	err := e.repo.CreateStepRecord(ctx, &models.CreateStepRecordRequest{
		RunID:            req.RunID,
		StepIndex:        step.Index,
		ContentType:      contentType,
		Kind:             step.Kind,
		Tool:             step.Tool,
		MCPName:          step.MCPName,
		Content:          content,
		Success:          success,
		FormattingFailed: formattingFailed,
		Timestamp:        time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("step record write failed", "step", step.Index, "content_type", contentType, "error", err)
	}
}

// emitFinalResult produces the best-effort final answer and the terminal
// final_result event.
func (e *Engine) emitFinalResult(
	ctx context.Context,
	req *RunRequest,
	state *models.EngineState,
	success bool,
	stream *events.Stream,
	logger *slog.Logger,
) {
	sources := DataSources(state)

	var finalText string
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.FormatTimeout)
	defer cancel()

	chunkErr := error(nil)
	streamCh, err := e.llm.Generate(callCtx, &llm.GenerateInput{
		RunID:    req.RunID,
		Messages: e.prompts.BuildFinalAnswerMessages(state.OriginalQuery, sources, state.UserLanguage, !success),
	})
	if err == nil {
		resp, collectErr := llm.CollectWithCallback(streamCh, func(chunk string) {
			if chunkErr == nil {
				chunkErr = stream.Emit(ctx, events.TagFinalResultChunk, events.FinalResultChunkPayload{
					Chunk:     chunk,
					AgentName: req.Agent.Name,
				})
			}
		})
		if collectErr == nil {
			finalText = resp.Text
		} else {
			err = collectErr
		}
	}
	if ctx.Err() != nil {
		e.cancelRun(stream, state, logger, "context cancelled")
		return
	}
	if finalText == "" {
		// The answer LLM is unavailable; fall back to the last formatted
		// result so the caller still gets data.
		logger.Warn("final answer generation failed", "error", err)
		if last := lastFormatted(state); last != "" {
			finalText = last
		} else {
			finalText = state.CompleteReason
		}
	}

	total := len(state.History)
	completed := state.SuccessCount()
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total) * 100
	}
	stream.EmitAlways(events.TagFinalResult, events.FinalResultPayload{
		FinalResult: finalText,
		Success:     success,
		ExecutionSummary: events.ExecutionSummary{
			TotalSteps:     total,
			CompletedSteps: completed,
			FailedSteps:    total - completed,
			SuccessRate:    rate,
		},
	})
}

// lastFormatted returns the most recent formatted result in history.
func lastFormatted(state *models.EngineState) string {
	for i := len(state.History) - 1; i >= 0; i-- {
		if state.History[i].Status == models.StepStatusCompleted && state.History[i].FormattedResult != "" {
			return state.History[i].FormattedResult
		}
	}
	return ""
}

// cancelRun emits the terminal cancelled event. No final_result follows.
func (e *Engine) cancelRun(stream *events.Stream, state *models.EngineState, logger *slog.Logger, reason string) {
	logger.Info("run cancelled", "iterations", state.Iteration)
	stream.EmitAlways(events.TagCancelled, events.CancelledPayload{Reason: reason})
}
