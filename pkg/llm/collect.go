package llm

import (
	"context"
	"fmt"
	"strings"
)

// Response holds the fully-collected result of a streaming LLM call.
type Response struct {
	Text  string
	Usage *UsageChunk
}

// StreamCallback is called for each text delta during stream collection.
// delta is the new content from this chunk only (not accumulated); callers
// concatenate locally.
type StreamCallback func(delta string)

// Collect drains a chunk channel into a complete Response.
// Returns an error if an ErrorChunk is received.
func Collect(stream <-chan Chunk) (*Response, error) {
	return CollectWithCallback(stream, nil)
}

// CollectWithCallback collects a stream while calling back for each text
// delta. The callback is optional (nil = buffered mode, same as Collect).
func CollectWithCallback(stream <-chan Chunk, callback StreamCallback) (*Response, error) {
	resp := &Response{}
	var buf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			buf.WriteString(c.Content)
			if callback != nil {
				callback(c.Content)
			}
		case *UsageChunk:
			resp.Usage = c
		case *ErrorChunk:
			return nil, fmt.Errorf("LLM error: %s (retryable: %v)", c.Message, c.Retryable)
		}
	}

	resp.Text = buf.String()
	return resp, nil
}

// Call performs a single LLM call and collects the full response.
// A cancellable child context guarantees the producer goroutine in
// Generate is cleaned up when we return.
func Call(ctx context.Context, client Client, input *GenerateInput) (*Response, error) {
	llmCtx, llmCancel := context.WithCancel(ctx)
	defer llmCancel()

	stream, err := client.Generate(llmCtx, input)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}
	return Collect(stream)
}

// CallText is Call returning just the trimmed text.
func CallText(ctx context.Context, client Client, input *GenerateInput) (string, error) {
	resp, err := Call(ctx, client, input)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
