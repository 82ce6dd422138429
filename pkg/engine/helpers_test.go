package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/events"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
)

// fakeLLM scripts LLM behaviour through a respond function. The response
// text is delivered in two chunks to exercise streaming paths.
type fakeLLM struct {
	mu      sync.Mutex
	calls   []*llm.GenerateInput
	respond func(input *llm.GenerateInput) (string, error)
}

func (f *fakeLLM) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()

	out, err := f.respond(input)
	ch := make(chan llm.Chunk, 4)
	if err != nil {
		ch <- &llm.ErrorChunk{Message: err.Error()}
	} else if len(out) > 1 {
		mid := len(out) / 2
		ch <- &llm.TextChunk{Content: out[:mid]}
		ch <- &llm.TextChunk{Content: out[mid:]}
		ch <- &llm.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	} else {
		ch <- &llm.TextChunk{Content: out}
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// userPrompt returns the last message content of a call, where every
// builder puts the task text.
func userPrompt(input *llm.GenerateInput) string {
	if len(input.Messages) == 0 {
		return ""
	}
	return input.Messages[len(input.Messages)-1].Content
}

func systemPrompt(input *llm.GenerateInput) string {
	if len(input.Messages) == 0 {
		return ""
	}
	return input.Messages[0].Content
}

// fakeBroker is a scripted SessionBroker.
type fakeBroker struct {
	mu          sync.Mutex
	tools       map[string][]string
	toolsErr    map[string]error
	invoke      func(mcpName, tool string, args map[string]any) (any, error)
	invocations []string // "mcp.tool" in call order
}

func (b *fakeBroker) Tools(_ context.Context, _, mcpName string) ([]string, error) {
	if err := b.toolsErr[mcpName]; err != nil {
		return nil, err
	}
	return b.tools[mcpName], nil
}

func (b *fakeBroker) Invoke(_ context.Context, _, mcpName, tool string, args map[string]any) (any, error) {
	b.mu.Lock()
	b.invocations = append(b.invocations, mcpName+"."+tool)
	b.mu.Unlock()
	return b.invoke(mcpName, tool, args)
}

func (b *fakeBroker) invocationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.invocations)
}

// recordingRepo captures every step record write.
type recordingRepo struct {
	mu      sync.Mutex
	records []models.CreateStepRecordRequest
}

func (r *recordingRepo) CreateStepRecord(_ context.Context, req *models.CreateStepRecordRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *req)
	return nil
}

func (r *recordingRepo) all() []models.CreateStepRecordRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CreateStepRecordRequest(nil), r.records...)
}

func testAgent() *config.AgentDescriptor {
	return &config.AgentDescriptor{
		Name:    "crypto-analyst",
		Mission: "Answer questions about crypto market sentiment.",
		MCPServers: []config.AgentMCPServer{
			{Name: "fng-mcp", Tools: []string{"get_fng", "get_fng_history"}},
		},
		DefaultLanguage: "en",
	}
}

func testEngineConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.DecisionTimeout = 2 * time.Second
	cfg.FormatTimeout = 2 * time.Second
	cfg.EventBuffer = 8
	return cfg
}

// drainStream collects every event until the stream closes.
func drainStream(t *testing.T, stream *events.Stream) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %d events so far", len(got))
		}
	}
}

func tagsOf(evs []events.Event) []events.Tag {
	tags := make([]events.Tag, len(evs))
	for i, ev := range evs {
		tags[i] = ev.Event
	}
	return tags
}

func countTag(evs []events.Event, tag events.Tag) int {
	n := 0
	for _, ev := range evs {
		if ev.Event == tag {
			n++
		}
	}
	return n
}

func findEvent(t *testing.T, evs []events.Event, tag events.Tag) events.Event {
	t.Helper()
	for _, ev := range evs {
		if ev.Event == tag {
			return ev
		}
	}
	t.Fatalf("no %s event in stream", tag)
	return events.Event{}
}
