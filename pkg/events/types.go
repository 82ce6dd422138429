// Package events defines the typed event stream emitted by engine runs.
//
// Each run produces a strictly ordered, finite sequence of events:
//
//	execution_start
//	(workflow_execution_start, for pre-built workflows)
//	per step:
//	  step_executing
//	  step_raw_result            (success path)
//	  step_result_chunk …        (formatter streaming, zero or more)
//	  step_formatted_result
//	  step_complete
//	  or, on the failure path:
//	  step_error | mcp_connection_error  (replaces the raw/formatted pair)
//	final_result_chunk …
//	final_result | cancelled
//
// Consumers must ignore unknown payload fields. Every run ends with
// exactly one final_result or one cancelled event, with one exception:
// a pre-execution auth probe failure emits a single mcp_connection_error
// and closes the stream with no terminal event.
package events

// Tag is the closed set of event discriminators.
type Tag string

const (
	TagExecutionStart         Tag = "execution_start"
	TagWorkflowExecutionStart Tag = "workflow_execution_start"
	TagStepExecuting          Tag = "step_executing"
	TagStepRawResult          Tag = "step_raw_result"
	TagStepResultChunk        Tag = "step_result_chunk"
	TagStepFormattedResult    Tag = "step_formatted_result"
	TagFinalResultChunk       Tag = "final_result_chunk"
	TagStepComplete           Tag = "step_complete"
	TagStepError              Tag = "step_error"
	TagMCPConnectionError     Tag = "mcp_connection_error"
	TagFinalResult            Tag = "final_result"
	TagCancelled              Tag = "cancelled"
	TagError                  Tag = "error"
)

// Event is one record in a run's stream. Data holds one of the payload
// types in payloads.go, chosen by Tag.
type Event struct {
	Event Tag `json:"event"`
	Data  any `json:"data"`
}

// Terminal reports whether the event ends its run's stream.
func (e Event) Terminal() bool {
	return e.Event == TagFinalResult || e.Event == TagCancelled
}
