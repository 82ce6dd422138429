package models

import "time"

// ContentType discriminates the two persistence records written per
// executed step (dual-message contract).
type ContentType string

const (
	ContentTypeRawResult       ContentType = "raw_result"
	ContentTypeFormattedResult ContentType = "formatted_result"
)

// CreateStepRecordRequest contains fields for persisting one step message.
// The repository may store or discard; the core never reads these back.
type CreateStepRecordRequest struct {
	RunID       string      `json:"run_id"`
	StepIndex   int         `json:"step_index"`
	ContentType ContentType `json:"content_type"`
	Kind        StepKind    `json:"kind"`
	Tool        string      `json:"tool"`
	MCPName     string      `json:"mcp_name,omitempty"`
	Content     string      `json:"content"`
	Success     bool        `json:"success"`
	// FormattingFailed marks a formatted_result record that carries the raw
	// payload because rendering failed. Repositories may discard these.
	FormattingFailed bool      `json:"formatting_failed,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
