// Package engine implements the Plan–Act–Observe run loop: planner,
// executor, observer, result formatter, and the driver that composes them
// into an ordered event stream.
package engine

import (
	"context"

	"github.com/aperture-ai/weft/pkg/mcp"
	"github.com/aperture-ai/weft/pkg/models"
)

// SessionBroker is the engine's view of the MCP session pool. Invoke
// errors carry their classification as *models.ToolError or
// *models.AuthRequiredError.
type SessionBroker interface {
	// Tools verifies the (user, mcp) session if needed and returns the
	// server's tool catalogue.
	Tools(ctx context.Context, userID, mcpName string) ([]string, error)

	// Invoke calls a tool on a verified session.
	Invoke(ctx context.Context, userID, mcpName, tool string, args map[string]any) (any, error)
}

var _ SessionBroker = (*mcp.SessionManager)(nil)

// Repository is the persistence hook. The engine writes two records per
// executed step (raw and formatted) and never reads them back. Writes must
// be idempotent against re-delivery.
type Repository interface {
	CreateStepRecord(ctx context.Context, req *models.CreateStepRecordRequest) error
}

// NopRepository discards all records. Used when persistence is disabled.
type NopRepository struct{}

// CreateStepRecord implements Repository.
func (NopRepository) CreateStepRecord(context.Context, *models.CreateStepRecordRequest) error {
	return nil
}
