// Package lang resolves the output language for a run. Resolution follows
// a strict priority chain: explicit instruction in the user message,
// conversation override, agent default, detection of the input language,
// browser hint, then English.
package lang

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/llm"
)

// detectTimeout bounds the LLM calls made during resolution. Language
// resolution is on the critical path of every run, so it stays short.
const detectTimeout = 10 * time.Second

// instructionPatterns map explicit language requests to codes. The pattern
// set is a stable external contract; the LLM parse below covers phrasings
// the table misses.
var instructionPatterns = []struct {
	re   *regexp.Regexp
	code string
}{
	{regexp.MustCompile(`(?i)\bin english\b`), "en"},
	{regexp.MustCompile(`(?i)\bin chinese\b`), "zh"},
	{regexp.MustCompile(`(?i)\bin japanese\b`), "ja"},
	{regexp.MustCompile(`(?i)\bin korean\b`), "ko"},
	{regexp.MustCompile(`(?i)\bin spanish\b`), "es"},
	{regexp.MustCompile(`(?i)\bin french\b`), "fr"},
	{regexp.MustCompile(`(?i)\bin german\b`), "de"},
	{regexp.MustCompile(`(?i)\bin italian\b`), "it"},
	{regexp.MustCompile(`(?i)\bin portuguese\b`), "pt"},
	{regexp.MustCompile(`(?i)\bin russian\b`), "ru"},
	{regexp.MustCompile(`(?i)\bin arabic\b`), "ar"},
	{regexp.MustCompile(`(?i)\ben français\b`), "fr"},
	{regexp.MustCompile(`(?i)\ben español\b`), "es"},
	{regexp.MustCompile(`(?i)\bauf deutsch\b`), "de"},
	{regexp.MustCompile(`用英[语文]`), "en"},
	{regexp.MustCompile(`用中文|用汉语`), "zh"},
	{regexp.MustCompile(`用日[语文]`), "ja"},
	{regexp.MustCompile(`用韩[语文]|用韓語`), "ko"},
	{regexp.MustCompile(`用法[语文]`), "fr"},
	{regexp.MustCompile(`用德[语文]`), "de"},
	{regexp.MustCompile(`영어로`), "en"},
	{regexp.MustCompile(`한국어로|한글로`), "ko"},
	{regexp.MustCompile(`日本語で`), "ja"},
	{regexp.MustCompile(`英語で`), "en"},
}

// Resolver resolves languages using pattern tables, script inspection, and
// an LLM fallback for ambiguous input.
type Resolver struct {
	llm llm.Client
}

// NewResolver creates a Resolver. client may be nil, in which case the
// LLM-assisted steps are skipped and only deterministic rules apply.
func NewResolver(client llm.Client) *Resolver {
	return &Resolver{llm: client}
}

// Resolve returns the ISO-639-1 output language for a run.
// conversationOverride and browserHint may be empty.
func (r *Resolver) Resolve(ctx context.Context, userMessage, agentDefault, conversationOverride, browserHint string) string {
	// 1. Explicit instruction in the message wins.
	if code := r.ParseInstruction(ctx, userMessage); code != "" {
		return code
	}

	// 2. Conversation override.
	if code := Normalize(conversationOverride); code != "" {
		return code
	}

	// 3. Agent default.
	if code := Normalize(agentDefault); code != "" {
		return code
	}

	// 4. Detect the input language.
	if code := r.detect(ctx, userMessage); code != "" {
		return code
	}

	// 5. Browser hint.
	if browserHint != "" {
		if tag, err := language.Parse(browserHint); err == nil {
			base, _ := tag.Base()
			if code := Normalize(base.String()); code != "" {
				return code
			}
		}
	}

	// 6. Fallback.
	return "en"
}

// ParseInstruction extracts an explicit output-language request from text.
// Returns "" when no instruction is present.
func (r *Resolver) ParseInstruction(ctx context.Context, text string) string {
	for _, p := range instructionPatterns {
		if p.re.MatchString(text) {
			return p.code
		}
	}
	if r.llm == nil {
		return ""
	}

	parseCtx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	out, err := llm.CallText(parseCtx, r.llm, &llm.GenerateInput{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You extract explicit output-language requests from user messages. " +
				"Reply with the ISO-639-1 code of the requested language, or the single word none."},
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err != nil {
		slog.Debug("language instruction parse failed", "error", err)
		return ""
	}
	if strings.EqualFold(out, "none") {
		return ""
	}
	return Normalize(out)
}

// detect identifies the language the message is written in. Unambiguous
// scripts are resolved synchronously; everything else goes to the LLM.
func (r *Resolver) detect(ctx context.Context, text string) string {
	if code := QuickDetect(text); code != "" {
		return code
	}
	if r.llm == nil {
		return ""
	}

	detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	out, err := llm.CallText(detectCtx, r.llm, &llm.GenerateInput{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Identify the language of the user message. " +
				"Reply with only its ISO-639-1 code."},
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err != nil {
		slog.Debug("language detection failed", "error", err)
		return ""
	}
	// A detected but unsupported language maps to English rather than
	// falling through to the browser hint.
	if code := Normalize(out); code != "" {
		return code
	}
	if out != "" {
		return "en"
	}
	return ""
}

// QuickDetect resolves languages with unambiguous scripts without an LLM
// round trip: Japanese kana, Hangul, Arabic, Cyrillic. Han characters
// without kana resolve to Chinese.
func QuickDetect(text string) string {
	var hasHan bool
	for _, r := range text {
		switch {
		case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
			return "ja"
		case r >= 0xAC00 && r <= 0xD7AF: // hangul syllables
			return "ko"
		case r >= 0x0600 && r <= 0x06FF: // arabic
			return "ar"
		case r >= 0x0400 && r <= 0x04FF: // cyrillic
			return "ru"
		case r >= 0x4E00 && r <= 0x9FFF: // han
			hasHan = true
		}
	}
	if hasHan {
		return "zh"
	}
	return ""
}

// Normalize lowercases a code, strips region subtags, and maps anything
// outside the supported set to "". Callers fall through the priority chain
// on "".
func Normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if config.IsSupportedLanguage(code) {
		return code
	}
	return ""
}
