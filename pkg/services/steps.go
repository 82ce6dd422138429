// Package services implements the persistence-facing services behind the
// engine's narrow repository interfaces.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aperture-ai/weft/pkg/database"
	"github.com/aperture-ai/weft/pkg/engine"
	"github.com/aperture-ai/weft/pkg/models"
)

// Compile-time check that StepService implements engine.Repository.
var _ engine.Repository = (*StepService)(nil)

// StepService persists the dual raw/formatted step records written during
// a run. Writes are idempotent: re-delivery of the same (run, step,
// content_type) record updates in place.
type StepService struct {
	db     *database.Client
	logger *slog.Logger
}

// NewStepService creates a step record service.
func NewStepService(db *database.Client) *StepService {
	return &StepService{db: db, logger: slog.Default()}
}

// CreateStepRecord upserts one step record.
func (s *StepService) CreateStepRecord(ctx context.Context, req *models.CreateStepRecordRequest) error {
	const query = `
		INSERT INTO step_records
			(run_id, step_index, content_type, kind, tool, mcp_name,
			 content, success, formatting_failed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, step_index, content_type) DO UPDATE SET
			content = EXCLUDED.content,
			success = EXCLUDED.success,
			formatting_failed = EXCLUDED.formatting_failed,
			recorded_at = EXCLUDED.recorded_at`

	_, err := s.db.DB().ExecContext(ctx, query,
		req.RunID, req.StepIndex, string(req.ContentType), string(req.Kind),
		req.Tool, req.MCPName, req.Content, req.Success,
		req.FormattingFailed, req.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

// StepRecord is one persisted row, as read back by the API layer.
type StepRecord struct {
	RunID            string             `json:"run_id"`
	StepIndex        int                `json:"step_index"`
	ContentType      models.ContentType `json:"content_type"`
	Kind             string             `json:"kind"`
	Tool             string             `json:"tool"`
	MCPName          string             `json:"mcp_name,omitempty"`
	Content          string             `json:"content"`
	Success          bool               `json:"success"`
	FormattingFailed bool               `json:"formatting_failed,omitempty"`
}

// ListRunRecords returns all records of a run ordered by step and content
// type (raw before formatted).
func (s *StepService) ListRunRecords(ctx context.Context, runID string) ([]StepRecord, error) {
	const query = `
		SELECT run_id, step_index, content_type, kind, tool, mcp_name,
		       content, success, formatting_failed
		FROM step_records
		WHERE run_id = $1
		ORDER BY step_index, content_type DESC`

	rows, err := s.db.DB().QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list step records: %w", err)
	}
	defer rows.Close()

	var records []StepRecord
	for rows.Next() {
		var r StepRecord
		var contentType string
		if err := rows.Scan(&r.RunID, &r.StepIndex, &contentType, &r.Kind,
			&r.Tool, &r.MCPName, &r.Content, &r.Success, &r.FormattingFailed); err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		r.ContentType = models.ContentType(contentType)
		records = append(records, r)
	}
	return records, rows.Err()
}
