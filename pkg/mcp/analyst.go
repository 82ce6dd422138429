package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/aperture-ai/weft/pkg/events"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

// analystTimeout bounds the advisory analysis call. Enrichment must never
// hold up error reporting.
const analystTimeout = 10 * time.Second

// Analyst asks an LLM to explain a tool-server failure for the end user.
// Purely advisory: its verdict never changes the mechanical classification
// and any failure here degrades to a nil analysis.
type Analyst struct {
	llm     llm.Client
	prompts *prompt.Builder
}

// NewAnalyst creates an error analyst. client may be nil, which disables
// enrichment entirely.
func NewAnalyst(client llm.Client, prompts *prompt.Builder) *Analyst {
	return &Analyst{llm: client, prompts: prompts}
}

// Analyze produces an advisory verdict for a failure. Returns nil when
// enrichment is disabled or the LLM output is unusable.
func (a *Analyst) Analyze(ctx context.Context, rawError, mcpName, tool string, class models.Classification) *events.LLMAnalysis {
	if a == nil || a.llm == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, analystTimeout)
	defer cancel()

	out, err := llm.CallText(callCtx, a.llm, &llm.GenerateInput{
		Messages: a.prompts.BuildErrorAnalystMessages(rawError, mcpName, tool, class),
	})
	if err != nil {
		slog.Debug("error analysis call failed", "mcp", mcpName, "error", err)
		return nil
	}

	var verdict events.LLMAnalysis
	if err := json.Unmarshal([]byte(out), &verdict); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(out)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &verdict) != nil {
			slog.Debug("error analysis output unusable", "mcp", mcpName)
			return nil
		}
	}
	if verdict.ErrorType == "" && verdict.LikelyIssue == "" {
		return nil
	}
	return &verdict
}
