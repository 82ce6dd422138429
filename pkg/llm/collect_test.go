package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkStream(chunks ...Chunk) <-chan Chunk {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollect(t *testing.T) {
	resp, err := Collect(chunkStream(
		&TextChunk{Content: "Hello, "},
		&TextChunk{Content: "world."},
		&UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCollect_ErrorChunk(t *testing.T) {
	_, err := Collect(chunkStream(
		&TextChunk{Content: "partial"},
		&ErrorChunk{Message: "rate limited", Retryable: true},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCollectWithCallback_DeliversDeltas(t *testing.T) {
	var deltas []string
	resp, err := CollectWithCallback(chunkStream(
		&TextChunk{Content: "a"},
		&TextChunk{Content: "b"},
		&TextChunk{Content: "c"},
	), func(delta string) {
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, deltas)
	assert.Equal(t, "abc", resp.Text)
}

func TestCollect_EmptyStream(t *testing.T) {
	resp, err := Collect(chunkStream())
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
	assert.Nil(t, resp.Usage)
}
