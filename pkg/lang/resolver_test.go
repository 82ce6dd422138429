package lang

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aperture-ai/weft/pkg/llm"
)

// scriptedLLM returns a fixed response for every call.
type scriptedLLM struct {
	out string
	err error
}

func (s *scriptedLLM) Generate(_ context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	if s.err != nil {
		ch <- &llm.ErrorChunk{Message: s.err.Error()}
	} else {
		ch <- &llm.TextChunk{Content: s.out}
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

func TestResolve_ExplicitInstructionWinsOverEverything(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	// A Chinese message asking for English output resolves to English even
	// with a conversation override and agent default pointing elsewhere.
	code := r.Resolve(ctx, "请用英语回复我", "ja", "zh", "ko-KR")
	assert.Equal(t, "en", code)

	code = r.Resolve(ctx, "answer in french please", "en", "", "")
	assert.Equal(t, "fr", code)

	code = r.Resolve(ctx, "영어로 답변해 주세요", "ko", "", "")
	assert.Equal(t, "en", code)
}

func TestResolve_PriorityChain(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	t.Run("conversation override beats agent default", func(t *testing.T) {
		assert.Equal(t, "fr", r.Resolve(ctx, "hello there", "de", "fr", ""))
	})

	t.Run("agent default beats detection", func(t *testing.T) {
		assert.Equal(t, "de", r.Resolve(ctx, "hello there", "de", "", ""))
	})

	t.Run("script detection beats browser hint", func(t *testing.T) {
		assert.Equal(t, "ja", r.Resolve(ctx, "こんにちは、指数を教えて", "", "", "fr-FR"))
	})

	t.Run("browser hint when nothing else resolves", func(t *testing.T) {
		assert.Equal(t, "es", r.Resolve(ctx, "hello there", "", "", "es-MX"))
	})

	t.Run("english fallback", func(t *testing.T) {
		assert.Equal(t, "en", r.Resolve(ctx, "hello there", "", "", ""))
	})

	t.Run("region subtags are stripped from overrides", func(t *testing.T) {
		assert.Equal(t, "pt", r.Resolve(ctx, "hello there", "", "pt-BR", ""))
	})
}

func TestResolve_LLMDetectionFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("llm detects a supported language", func(t *testing.T) {
		r := NewResolver(&scriptedLLM{out: "it"})
		// Latin-script Italian cannot be resolved by script inspection.
		assert.Equal(t, "it", r.Resolve(ctx, "qual è l'indice oggi?", "", "", ""))
	})

	t.Run("unsupported detection maps to english", func(t *testing.T) {
		r := NewResolver(&scriptedLLM{out: "fi"})
		assert.Equal(t, "en", r.Resolve(ctx, "mikä on indeksi tänään?", "", "", "de-DE"))
	})

	t.Run("llm failure falls through to browser hint", func(t *testing.T) {
		r := NewResolver(&scriptedLLM{err: errors.New("unavailable")})
		assert.Equal(t, "de", r.Resolve(ctx, "hmm", "", "", "de-DE"))
	})
}

func TestQuickDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"hiragana", "こんにちは", "ja"},
		{"katakana", "ビットコイン", "ja"},
		{"hangul", "안녕하세요", "ko"},
		{"arabic", "مرحبا", "ar"},
		{"cyrillic", "привет", "ru"},
		{"han without kana", "今天的恐惧贪婪指数", "zh"},
		{"han with kana is japanese", "指数を教えて", "ja"},
		{"latin is ambiguous", "hello world", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuickDetect(tt.text))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "en", Normalize("EN"))
	assert.Equal(t, "zh", Normalize(" zh-CN "))
	assert.Equal(t, "pt", Normalize("pt_BR"))
	assert.Equal(t, "", Normalize("xx"))
	assert.Equal(t, "", Normalize(""))
}

func TestParseInstruction_PatternsOnly(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"please reply in english", "en"},
		{"réponds en français", "fr"},
		{"bitte auf deutsch antworten", "de"},
		{"用中文回答", "zh"},
		{"日本語で答えてください", "ja"},
		{"just a normal question", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ParseInstruction(ctx, tt.text))
		})
	}
}
