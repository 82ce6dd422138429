// Package models holds the shared workflow data model: steps, engine state,
// the per-run data store, and the error/classification taxonomy. It is the
// leaf package; everything else imports it.
package models

// StepKind identifies how a workflow step is executed.
type StepKind string

const (
	// StepKindMCP dispatches to a tool on an MCP server.
	StepKindMCP StepKind = "mcp"
	// StepKindLLM dispatches to a built-in LLM capability.
	StepKindLLM StepKind = "llm"
)

// StepStatus is the lifecycle state of a workflow step.
// Transitions are monotonic: pending → executing → (completed | failed).
// A failed step with remaining attempts may re-enter executing.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// DefaultMaxRetries is the number of retries after the initial attempt.
const DefaultMaxRetries = 2

// LLMCapabilities is the closed set of tools available to llm-kind steps.
var LLMCapabilities = map[string]bool{
	"analyze":   true,
	"compare":   true,
	"summarize": true,
	"format":    true,
	"translate": true,
	"extract":   true,
}

// WorkflowStep is a single planned unit of work.
type WorkflowStep struct {
	Index           int            `json:"index"`
	Kind            StepKind       `json:"kind"`
	MCPName         string         `json:"mcpName,omitempty"` // set only for mcp steps
	Tool            string         `json:"tool"`
	Args            map[string]any `json:"args,omitempty"`
	ExpectedOutput  string         `json:"expectedOutput,omitempty"`
	Reasoning       string         `json:"reasoning,omitempty"`
	Status          StepStatus     `json:"status"`
	Attempts        int            `json:"attempts"`
	MaxRetries      int            `json:"maxRetries"`
	RawResult       any            `json:"rawResult,omitempty"`
	FormattedResult string         `json:"formattedResult,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// CanRetry reports whether a failed step has attempts left.
func (s *WorkflowStep) CanRetry() bool {
	return s.Status == StepStatusFailed && s.Attempts < s.MaxRetries+1
}

// ActionKey identifies a (tool, mcp) pair for repetition tracking.
// MCP is empty for llm-kind steps.
type ActionKey struct {
	Tool string
	MCP  string
}

// Workflow is an ordered, optionally pre-built plan. The engine executes
// pending steps in order and may extend or replace failing ones.
type Workflow struct {
	Steps []WorkflowStep `json:"steps"`
}

// MCPNames returns the distinct MCP server names referenced by the workflow,
// in first-appearance order.
func (w *Workflow) MCPNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range w.Steps {
		if s.Kind == StepKindMCP && s.MCPName != "" && !seen[s.MCPName] {
			seen[s.MCPName] = true
			names = append(names, s.MCPName)
		}
	}
	return names
}

// NextPending returns the first pending step, or nil if none remain.
func (w *Workflow) NextPending() *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].Status == StepStatusPending {
			return &w.Steps[i]
		}
	}
	return nil
}
