package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aperture-ai/weft/pkg/config"
)

// Compile-time check that OpenAIClient implements Client.
var _ Client = (*OpenAIClient)(nil)

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
// Safe for concurrent use; each Generate call creates an independent
// stream and goroutine.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature *float32
	maxTokens   *int
}

// NewOpenAIClient creates a client from provider configuration.
// The API key is read from the environment variable named in the config.
func NewOpenAIClient(cfg *config.LLMProviderConfig) (*OpenAIClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key env %q is not set", cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("LLM client configured", "model", cfg.Model, "base_url", cfg.BaseURL)

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate sends a conversation and streams the response.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(input.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if c.temperature != nil {
		req.Temperature = *c.temperature
	}
	if c.maxTokens != nil {
		req.MaxTokens = *c.maxTokens
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion stream: %w", err)
	}

	chunks := make(chan Chunk, 64)
	go func() {
		defer close(chunks)
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, chunks, &ErrorChunk{
					Message:   err.Error(),
					Retryable: isRetryableAPIError(err),
				})
				return
			}

			if resp.Usage != nil {
				send(ctx, chunks, &UsageChunk{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				})
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					if !send(ctx, chunks, &TextChunk{Content: choice.Delta.Content}) {
						return
					}
				}
			}
		}
	}()

	return chunks, nil
}

// Close is a no-op for HTTP-based clients; kept for interface symmetry.
func (c *OpenAIClient) Close() error { return nil }

// send delivers a chunk unless the context is cancelled first.
func send(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := m.Role
		switch role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			role = RoleUser
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

// isRetryableAPIError reports whether the API error is a rate limit or
// server-side fault worth retrying at a higher level.
func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
