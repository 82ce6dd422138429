package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

// Observation is the observer's verdict for one iteration.
type Observation struct {
	Complete bool
	Reason   string
}

// Observer judges whether the collected data suffices to answer the
// original query. Malformed LLM output defaults to continue; an LLM
// "complete" verdict is overridden when named targets remain uncovered.
type Observer struct {
	llm     llm.Client
	prompts *prompt.Builder
	timeout time.Duration
	logger  *slog.Logger
}

// NewObserver creates an observer.
func NewObserver(client llm.Client, prompts *prompt.Builder, timeout time.Duration) *Observer {
	return &Observer{llm: client, prompts: prompts, timeout: timeout, logger: slog.Default()}
}

// Observe returns the sufficiency verdict for the current state.
func (o *Observer) Observe(ctx context.Context, state *models.EngineState, agent *config.AgentDescriptor) *Observation {
	// A run with no data yet is never complete; skip the LLM round trip.
	if state.SuccessCount() == 0 {
		return &Observation{Complete: false, Reason: "no data collected"}
	}

	// The target extractor re-runs on every cycle; coverage is computed
	// from live history, never cached.
	targets := ExtractTargets(state.OriginalQuery)
	uncovered := UncoveredTargets(targets, state.History)
	requested := RequestedCount(state.OriginalQuery)

	sources := DataSources(state)
	messages := o.prompts.BuildObserverMessages(agent, state.OriginalQuery, sources, targets, requested, state.UserLanguage)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	out, err := llm.CallText(callCtx, o.llm, &llm.GenerateInput{RunID: state.RunID, Messages: messages})
	cancel()
	if err != nil {
		o.logger.Warn("observer call failed, continuing", "run_id", state.RunID, "error", err)
		return &Observation{Complete: false, Reason: "observer unavailable"}
	}

	verdict, ok := parseObservation(out)
	if !ok {
		o.logger.Warn("observer output malformed, continuing", "run_id", state.RunID)
		return &Observation{Complete: false, Reason: "observer output malformed"}
	}

	// Post-LLM gate: the model cannot declare completion while named
	// targets are missing from the collected data.
	if verdict.Complete && len(uncovered) > 0 {
		o.logger.Info("observer completion overridden, targets uncovered",
			"run_id", state.RunID, "uncovered", uncovered)
		return &Observation{
			Complete: false,
			Reason:   "data missing for " + strings.Join(uncovered, ", "),
		}
	}
	return verdict
}

// DataSources renders the successful history steps as observer/final
// prompt inputs.
func DataSources(state *models.EngineState) []prompt.DataSource {
	var sources []prompt.DataSource
	for _, step := range state.History {
		if step.Status != models.StepStatusCompleted {
			continue
		}
		sources = append(sources, prompt.DataSource{
			StepIndex: step.Index,
			Tool:      step.Tool,
			MCPName:   step.MCPName,
			Summary:   SummarizeValue(step.RawResult),
		})
	}
	return sources
}

// parseObservation decodes the observer's JSON verdict.
func parseObservation(out string) (*Observation, bool) {
	payload := extractJSON(out)

	var verdict struct {
		Complete bool   `json:"complete"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &verdict) != nil {
			return nil, false
		}
	}
	return &Observation{Complete: verdict.Complete, Reason: verdict.Reason}, true
}
