package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/test/util"
)

func stepRecord(runID string, step int, ct models.ContentType, content string) *models.CreateStepRecordRequest {
	return &models.CreateStepRecordRequest{
		RunID:       runID,
		StepIndex:   step,
		ContentType: ct,
		Kind:        models.StepKindMCP,
		Tool:        "get_fng",
		MCPName:     "fng-mcp",
		Content:     content,
		Success:     true,
		Timestamp:   time.Now().UTC(),
	}
}

func TestStepService_CreateAndList(t *testing.T) {
	svc := NewStepService(util.SetupTestDatabase(t))
	ctx := context.Background()

	// Step 2 is written formatted-before-raw to prove the listing order
	// comes from the query, not insertion order.
	require.NoError(t, svc.CreateStepRecord(ctx, stepRecord("run-1", 1, models.ContentTypeRawResult, `{"value":72}`)))
	require.NoError(t, svc.CreateStepRecord(ctx, stepRecord("run-1", 1, models.ContentTypeFormattedResult, "index is 72")))
	require.NoError(t, svc.CreateStepRecord(ctx, stepRecord("run-1", 2, models.ContentTypeFormattedResult, "history rendered")))
	require.NoError(t, svc.CreateStepRecord(ctx, stepRecord("run-1", 2, models.ContentTypeRawResult, `[70,71,72]`)))
	require.NoError(t, svc.CreateStepRecord(ctx, stepRecord("run-other", 1, models.ContentTypeRawResult, "unrelated")))

	records, err := svc.ListRunRecords(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 4)

	// Ordered by step, raw before formatted within each step.
	assert.Equal(t, 1, records[0].StepIndex)
	assert.Equal(t, models.ContentTypeRawResult, records[0].ContentType)
	assert.Equal(t, models.ContentTypeFormattedResult, records[1].ContentType)
	assert.Equal(t, 2, records[2].StepIndex)
	assert.Equal(t, models.ContentTypeRawResult, records[2].ContentType)
	assert.Equal(t, models.ContentTypeFormattedResult, records[3].ContentType)

	first := records[0]
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "mcp", first.Kind)
	assert.Equal(t, "get_fng", first.Tool)
	assert.Equal(t, "fng-mcp", first.MCPName)
	assert.Equal(t, `{"value":72}`, first.Content)
	assert.True(t, first.Success)
	assert.False(t, first.FormattingFailed)
}

func TestStepService_UpsertIsIdempotent(t *testing.T) {
	svc := NewStepService(util.SetupTestDatabase(t))
	ctx := context.Background()

	require.NoError(t, svc.CreateStepRecord(ctx, stepRecord("run-1", 1, models.ContentTypeFormattedResult, "first render")))

	// Re-delivery of the same (run, step, content_type) updates in place.
	redelivered := stepRecord("run-1", 1, models.ContentTypeFormattedResult, "second render")
	redelivered.Success = false
	redelivered.FormattingFailed = true
	require.NoError(t, svc.CreateStepRecord(ctx, redelivered))

	records, err := svc.ListRunRecords(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second render", records[0].Content)
	assert.False(t, records[0].Success)
	assert.True(t, records[0].FormattingFailed)
}

func TestStepService_ListUnknownRun(t *testing.T) {
	svc := NewStepService(util.SetupTestDatabase(t))

	records, err := svc.ListRunRecords(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, records)
}
