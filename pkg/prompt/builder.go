// Package prompt builds all LLM prompt text used by the engine: planner
// decisions, observer judgements, capability calls, result formatting,
// final answers, and error analysis. Keeping the templates in one place
// makes the wording reviewable and testable without running the engine.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/models"
)

// languageNames maps supported codes to the names used in directives.
var languageNames = map[string]string{
	"zh": "Chinese", "en": "English", "ja": "Japanese", "ko": "Korean",
	"es": "Spanish", "fr": "French", "de": "German", "it": "Italian",
	"pt": "Portuguese", "ru": "Russian", "ar": "Arabic",
}

// Builder constructs prompt messages. Stateless and shared across runs.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder { return &Builder{} }

// LanguageDirective returns the directive appended to every prompt whose
// output is user-visible.
func (b *Builder) LanguageDirective(code string) string {
	name, ok := languageNames[code]
	if !ok {
		name = "English"
	}
	return fmt.Sprintf("Respond in %s. All user-visible text must be written in %s.", name, name)
}

// StatusSnapshot is the compact run summary embedded in planner prompts.
type StatusSnapshot struct {
	SuccessCount int
	TotalSteps   int
	DataKeys     []string
	LastStep     string // one-line summary of the most recent step, "" for fresh runs
	LastTool     string // tool of the last successful step (anti-repetition)
	LastToolMCP  string
	Stagnating   bool
}

// BuildPlannerMessages composes the next-step decision prompt.
// availableTools maps mcpName → tool names the agent may use.
func (b *Builder) BuildPlannerMessages(
	agent *config.AgentDescriptor,
	query string,
	snapshot StatusSnapshot,
	availableTools map[string][]string,
	language string,
) []llm.Message {
	var sb strings.Builder

	sb.WriteString("You are the planning module of ")
	sb.WriteString(agent.Name)
	sb.WriteString(".\nMission: ")
	sb.WriteString(agent.Mission)
	sb.WriteString("\n\nUser request: ")
	sb.WriteString(query)

	sb.WriteString(fmt.Sprintf("\n\nProgress: %d/%d steps succeeded.",
		snapshot.SuccessCount, snapshot.TotalSteps))
	if len(snapshot.DataKeys) > 0 {
		sb.WriteString("\nCollected data keys: ")
		sb.WriteString(strings.Join(snapshot.DataKeys, ", "))
	}
	if snapshot.LastStep != "" {
		sb.WriteString("\nLast step: ")
		sb.WriteString(snapshot.LastStep)
	}

	sb.WriteString("\n\nAvailable MCP tools:\n")
	names := make([]string, 0, len(availableTools))
	for name := range availableTools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("  %s: [%s]\n", name, strings.Join(availableTools[name], ", ")))
	}
	sb.WriteString("LLM capabilities (kind \"llm\", no mcpName): analyze, compare, summarize, format, translate, extract.\n")

	sb.WriteString(`
Decision rules:
1. If the last step succeeded, make progress toward the remaining goal.
2. If the last step failed, choose an alternative approach, not the same call.
3. If data is already collected, analyse it rather than collecting more.
4. If required data is missing, collect it.
5. If the request is fully answered, conclude.
`)
	if snapshot.LastTool != "" {
		sb.WriteString(fmt.Sprintf(
			"\nThe previous step already succeeded with tool %q", snapshot.LastTool))
		if snapshot.LastToolMCP != "" {
			sb.WriteString(fmt.Sprintf(" on %q", snapshot.LastToolMCP))
		}
		sb.WriteString(". Propose a DIFFERENT tool unless no alternative exists.\n")
	}
	if snapshot.Stagnating {
		sb.WriteString("\nRecent iterations have not added new information. Choose a step that does, or conclude.\n")
	}

	sb.WriteString(`
Reply with a single JSON object and nothing else:
{"decision": "step" | "conclude",
 "reason": "<required when concluding>",
 "step": {"kind": "mcp" | "llm", "mcpName": "<mcp server, mcp only>",
          "tool": "<tool or capability name>", "args": {},
          "expectedOutput": "<what this step should produce>",
          "reasoning": "<why this step>"}}
`)
	sb.WriteString("\n")
	sb.WriteString(b.LanguageDirective(language))

	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You plan one step at a time for a task-automation engine. Output strictly valid JSON."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// BuildPlannerRepairMessages asks the LLM to fix a malformed decision.
func (b *Builder) BuildPlannerRepairMessages(raw, problem string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You repair malformed JSON planning decisions. Output strictly valid JSON matching the requested schema, nothing else."},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"The previous planning output could not be parsed.\nProblem: %s\n\nOutput:\n%s\n\nReturn the corrected JSON object only.",
			problem, raw)},
	}
}

// DataSource is one successful step presented to the observer.
type DataSource struct {
	StepIndex int
	Tool      string
	MCPName   string
	Summary   string
}

// BuildObserverMessages composes the data-sufficiency prompt.
// targets lists distinct identifiers extracted from the query that the
// collected data must cover (may be empty); requestedCount is the explicit
// item count stated in the query, 0 when none.
func (b *Builder) BuildObserverMessages(
	agent *config.AgentDescriptor,
	query string,
	sources []DataSource,
	targets []string,
	requestedCount int,
	language string,
) []llm.Message {
	var sb strings.Builder

	sb.WriteString("Original user query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nCollected data sources:\n")
	if len(sources) == 0 {
		sb.WriteString("  (none yet)\n")
	}
	for _, src := range sources {
		label := src.Tool
		if src.MCPName != "" {
			label = src.MCPName + "." + src.Tool
		}
		sb.WriteString(fmt.Sprintf("  [step %d] %s:\n%s\n", src.StepIndex, label, indent(src.Summary, "    ")))
	}

	if len(targets) > 0 {
		sb.WriteString("\nThe query names these distinct targets: ")
		sb.WriteString(strings.Join(targets, ", "))
		sb.WriteString("\nThe task is complete only when the data references every one of them.\n")
	}
	if requestedCount > 0 {
		sb.WriteString(fmt.Sprintf(
			"\nThe query explicitly requests %d items. The task is complete only when the data contains at least %d.\n",
			requestedCount, requestedCount))
	}

	sb.WriteString(`
Given the collected data, can the user's original query be answered completely and accurately?
Judge (a) completeness, (b) quality, and (c) specific requirements such as
requested counts ("top 3"), time ranges, and every explicitly named target.

Reply with a single JSON object and nothing else:
{"complete": true | false, "reason": "<short justification>"}
`)
	sb.WriteString("\n")
	sb.WriteString(b.LanguageDirective(language))

	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You judge whether collected data suffices to answer a user query. Output strictly valid JSON."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// BuildCapabilityMessages composes the universal prompt for llm-kind steps.
func (b *Builder) BuildCapabilityMessages(capability string, args map[string]any, language string) []llm.Message {
	argsJSON, _ := json.MarshalIndent(args, "", "  ")
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Perform the %q operation on the following input.\n\nInput:\n%s\n", capability, argsJSON))
	sb.WriteString("\nProduce a clear, self-contained result. ")
	sb.WriteString(b.LanguageDirective(language))

	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the analysis module of a task-automation engine. Work only from the provided input."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// BuildFormatterMessages composes the markdown rendering prompt for raw
// MCP tool output.
func (b *Builder) BuildFormatterMessages(raw, tool, mcpName, language string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Raw output of tool %s.%s:\n\n%s\n\n", mcpName, tool, raw))
	sb.WriteString("Render this as concise, user-friendly markdown. Preserve every figure and identifier exactly; do not invent data. ")
	sb.WriteString(b.LanguageDirective(language))

	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You format raw tool output for end users. Markdown only, no preamble."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// BuildFinalAnswerMessages composes the final-result prompt, grounded only
// in successful step payloads.
func (b *Builder) BuildFinalAnswerMessages(query string, sources []DataSource, language string, partial bool) []llm.Message {
	var sb strings.Builder
	sb.WriteString("User query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nCollected data:\n")
	if len(sources) == 0 {
		sb.WriteString("  (no data was collected)\n")
	}
	for _, src := range sources {
		sb.WriteString(fmt.Sprintf("  [step %d] %s:\n%s\n", src.StepIndex, src.Tool, indent(src.Summary, "    ")))
	}
	if partial {
		sb.WriteString("\nThe run ended before all data could be collected. Give the best possible answer from the data above and state clearly what is missing.\n")
	} else {
		sb.WriteString("\nAnswer the query directly and completely using only the data above.\n")
	}
	sb.WriteString(b.LanguageDirective(language))

	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You write the final answer for a task-automation run. Ground every statement in the provided data."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// BuildErrorAnalystMessages composes the advisory error-analysis prompt.
// The verdict never changes the mechanical classification.
func (b *Builder) BuildErrorAnalystMessages(rawError, mcpName, tool string, classification models.Classification) []llm.Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("MCP server: %s\nTool: %s\nMechanical classification: %s\nRaw error:\n%s\n",
		mcpName, tool, classification, rawError))
	sb.WriteString(`
Reply with a single JSON object and nothing else:
{"errorType": "<short category>",
 "likelyIssue": "<one sentence>",
 "userFriendlyExplanation": "<one or two sentences for the end user>",
 "specificSuggestions": ["<actionable suggestion>", ...]}
`)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You analyse tool-server errors and suggest fixes. Output strictly valid JSON."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
