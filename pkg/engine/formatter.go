package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/prompt"
)

// FormatResult carries the formatter's output and its processing metrics.
type FormatResult struct {
	Text            string
	OriginalSize    int
	FormattedSize   int
	ProcessingTime  time.Duration
	NeedsFormatting bool
}

// Formatter renders raw step results as user-facing markdown. MCP results
// go through a streaming LLM call; LLM capability results pass through
// unchanged as a single chunk.
type Formatter struct {
	llm     llm.Client
	prompts *prompt.Builder
	timeout time.Duration
}

// NewFormatter creates a formatter. timeout bounds the whole LLM stream.
func NewFormatter(client llm.Client, prompts *prompt.Builder, timeout time.Duration) *Formatter {
	return &Formatter{llm: client, prompts: prompts, timeout: timeout}
}

// Format renders a completed step's raw result in the given language,
// invoking onChunk for every streamed fragment. onChunk may be nil.
func (f *Formatter) Format(ctx context.Context, step *models.WorkflowStep, language string, onChunk func(string)) (*FormatResult, error) {
	start := time.Now()
	rawText := SummarizeValue(step.RawResult)

	// LLM capability output is already user-facing text in the resolved
	// language; a second LLM pass would only paraphrase it.
	if step.Kind == models.StepKindLLM {
		if onChunk != nil {
			onChunk(rawText)
		}
		return &FormatResult{
			Text:            rawText,
			OriginalSize:    len(rawText),
			FormattedSize:   len(rawText),
			ProcessingTime:  time.Since(start),
			NeedsFormatting: false,
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	stream, err := f.llm.Generate(callCtx, &llm.GenerateInput{
		Messages: f.prompts.BuildFormatterMessages(rawText, step.Tool, step.MCPName, language),
	})
	if err != nil {
		return nil, fmt.Errorf("formatter stream: %w", err)
	}

	resp, err := llm.CollectWithCallback(stream, onChunk)
	if err != nil {
		return nil, fmt.Errorf("formatter stream: %w", err)
	}

	return &FormatResult{
		Text:            resp.Text,
		OriginalSize:    len(rawText),
		FormattedSize:   len(resp.Text),
		ProcessingTime:  time.Since(start),
		NeedsFormatting: true,
	}, nil
}
