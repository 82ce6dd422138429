// Package api is the thin HTTP adapter over the engine: it starts runs,
// drains their event streams to SSE, and exposes cancellation, persisted
// records, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/database"
	"github.com/aperture-ai/weft/pkg/runs"
	"github.com/aperture-ai/weft/pkg/services"
)

// Server wires the HTTP routes to the run manager.
type Server struct {
	agents   *config.AgentRegistry
	runs     *runs.Manager
	steps    *services.StepService // nil when persistence is disabled
	db       *database.Client      // nil when persistence is disabled
	resolver LanguageResolver
}

// LanguageResolver is the api-side view of the language resolution chain.
type LanguageResolver interface {
	Resolve(ctx context.Context, userMessage, agentDefault, conversationOverride, browserHint string) string
}

// NewServer creates the API server. steps and db may be nil.
func NewServer(agents *config.AgentRegistry, manager *runs.Manager, steps *services.StepService, db *database.Client, resolver LanguageResolver) *Server {
	return &Server{agents: agents, runs: manager, steps: steps, db: db, resolver: resolver}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.Health)

	api := r.Group("/api")
	{
		api.GET("/agents", s.ListAgents)
		api.POST("/runs", s.StartRun)
		api.POST("/runs/:id/cancel", s.CancelRun)
		api.GET("/runs/:id/records", s.GetRunRecords)
	}
	return r
}

// Health reports process and database health.
func (s *Server) Health(c *gin.Context) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"active_runs": s.runs.ActiveCount(),
	})
}

// ListAgents returns the configured agent descriptors.
func (s *Server) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.agents.GetAll()})
}
