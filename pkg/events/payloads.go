package events

// WorkflowInfo summarises a workflow for the execution_start event.
type WorkflowInfo struct {
	TotalSteps int      `json:"totalSteps"`
	MCPs       []string `json:"mcps"`
}

// ExecutionStartPayload is the payload for execution_start events.
type ExecutionStartPayload struct {
	TaskID       string       `json:"taskId"`
	Mode         string       `json:"mode"` // "workflow" or "dynamic"
	WorkflowInfo WorkflowInfo `json:"workflowInfo"`
}

// WorkflowStepInfo is one planned step in a workflow_execution_start event.
type WorkflowStepInfo struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	MCPName string `json:"mcpName,omitempty"`
	Tool    string `json:"tool"`
}

// WorkflowExecutionStartPayload is the payload for workflow_execution_start.
// Emitted only when the run executes a pre-built workflow.
type WorkflowExecutionStartPayload struct {
	TotalSteps int                `json:"totalSteps"`
	Workflow   []WorkflowStepInfo `json:"workflow"`
}

// ToolDetails describes the tool invocation attached to step_executing.
type ToolDetails struct {
	ToolType       string         `json:"toolType"` // "mcp" or "llm"
	ToolName       string         `json:"toolName"`
	MCPName        string         `json:"mcpName,omitempty"`
	Args           map[string]any `json:"args"`
	ExpectedOutput string         `json:"expectedOutput"`
	Reasoning      string         `json:"reasoning"`
	Timestamp      string         `json:"timestamp"` // RFC3339Nano
}

// StepExecutingPayload is the payload for step_executing events.
type StepExecutingPayload struct {
	Step        int         `json:"step"`
	Tool        string      `json:"tool"`
	AgentName   string      `json:"agentName"`
	Message     string      `json:"message"`
	ToolDetails ToolDetails `json:"toolDetails"`
}

// ExecutionDetails describes the completed invocation attached to
// step_raw_result.
type ExecutionDetails struct {
	ToolType       string         `json:"toolType"`
	ToolName       string         `json:"toolName"`
	MCPName        string         `json:"mcpName,omitempty"`
	RawResult      any            `json:"rawResult"`
	Args           map[string]any `json:"args"`
	ExpectedOutput string         `json:"expectedOutput"`
	Timestamp      string         `json:"timestamp"` // RFC3339Nano
}

// StepRawResultPayload is the payload for step_raw_result events.
type StepRawResultPayload struct {
	Step             int              `json:"step"`
	Success          bool             `json:"success"`
	Result           any              `json:"result"`
	AgentName        string           `json:"agentName"`
	ExecutionDetails ExecutionDetails `json:"executionDetails"`
}

// StepResultChunkPayload is the payload for step_result_chunk events.
// High frequency and transient; consumers concatenate chunks locally and
// rely on step_formatted_result for the authoritative text.
type StepResultChunkPayload struct {
	Step      int    `json:"step"`
	Chunk     string `json:"chunk"`
	AgentName string `json:"agentName"`
}

// ProcessingInfo carries formatter metrics inside step_formatted_result.
type ProcessingInfo struct {
	OriginalDataSize  int    `json:"originalDataSize"`
	FormattedDataSize int    `json:"formattedDataSize"`
	ProcessingTime    string `json:"processingTime"`
	NeedsFormatting   bool   `json:"needsFormatting"`
}

// FormattingDetails describes the formatting pass attached to
// step_formatted_result.
type FormattingDetails struct {
	ToolType        string         `json:"toolType"`
	ToolName        string         `json:"toolName"`
	MCPName         string         `json:"mcpName,omitempty"`
	OriginalResult  any            `json:"originalResult"`
	FormattedResult string         `json:"formattedResult"`
	ProcessingInfo  ProcessingInfo `json:"processingInfo"`
	Timestamp       string         `json:"timestamp"` // RFC3339Nano
}

// StepFormattedResultPayload is the payload for step_formatted_result events.
type StepFormattedResultPayload struct {
	Step              int               `json:"step"`
	Success           bool              `json:"success"`
	FormattedResult   string            `json:"formattedResult"`
	AgentName         string            `json:"agentName"`
	FormattingDetails FormattingDetails `json:"formattingDetails"`
}

// FinalResultChunkPayload is the payload for final_result_chunk events.
type FinalResultChunkPayload struct {
	Chunk     string `json:"chunk"`
	AgentName string `json:"agentName"`
}

// StepProgress is the progress fraction inside step_complete.
type StepProgress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// StepCompletePayload is the payload for step_complete events.
type StepCompletePayload struct {
	Step     int          `json:"step"`
	Success  bool         `json:"success"`
	Progress StepProgress `json:"progress"`
}

// StepErrorPayload is the payload for step_error events.
type StepErrorPayload struct {
	Step     int    `json:"step"`
	Error    string `json:"error"`
	MCPName  string `json:"mcpName,omitempty"`
	Action   string `json:"action"`
	Attempts int    `json:"attempts"`
}

// LLMAnalysis is the advisory error-analyst verdict embedded in
// mcp_connection_error. Optional; its absence never changes behaviour.
type LLMAnalysis struct {
	ErrorType               string   `json:"errorType"`
	LikelyIssue             string   `json:"likelyIssue"`
	UserFriendlyExplanation string   `json:"userFriendlyExplanation"`
	SpecificSuggestions     []string `json:"specificSuggestions"`
}

// MCPConnectionErrorPayload is the payload for mcp_connection_error events.
type MCPConnectionErrorPayload struct {
	MCPName            string       `json:"mcpName"`
	Step               int          `json:"step"`
	AgentName          string       `json:"agentName"`
	ErrorType          string       `json:"errorType"`
	Title              string       `json:"title"`
	Message            string       `json:"message"`
	Suggestions        []string     `json:"suggestions"`
	AuthFieldsRequired []string     `json:"authFieldsRequired"`
	IsRetryable        bool         `json:"isRetryable"`
	RequiresUserAction bool         `json:"requiresUserAction"`
	LLMAnalysis        *LLMAnalysis `json:"llmAnalysis,omitempty"`
	OriginalError      string       `json:"originalError"`
	Timestamp          string       `json:"timestamp"` // RFC3339Nano
}

// ExecutionSummary aggregates run statistics for final_result.
type ExecutionSummary struct {
	TotalSteps     int     `json:"totalSteps"`
	CompletedSteps int     `json:"completedSteps"`
	FailedSteps    int     `json:"failedSteps"`
	SuccessRate    float64 `json:"successRate"`
}

// FinalResultPayload is the payload for final_result events.
type FinalResultPayload struct {
	FinalResult      string           `json:"finalResult"`
	Success          bool             `json:"success"`
	ExecutionSummary ExecutionSummary `json:"executionSummary"`
}

// CancelledPayload is the payload for cancelled events.
type CancelledPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is the payload for error events (unrecoverable internal
// faults only; tool and LLM failures use step_error).
type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
