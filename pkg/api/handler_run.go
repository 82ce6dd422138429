package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aperture-ai/weft/pkg/engine"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/runs"
)

// StartRunRequest is the body of POST /api/runs.
type StartRunRequest struct {
	Agent    string           `json:"agent" binding:"required"`
	Query    string           `json:"query" binding:"required"`
	UserID   string           `json:"userId"`
	Language string           `json:"language"` // conversation override, optional
	Workflow *models.Workflow `json:"workflow"` // optional pre-built plan
}

// StartRun starts an engine run and streams its events as SSE. The
// connection stays open until the terminal event; client disconnect
// cancels the run via the request context.
func (s *Server) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := s.agents.Get(req.Agent)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = "default"
	}

	language := s.resolver.Resolve(c.Request.Context(), req.Query,
		agent.DefaultLanguage, req.Language, c.GetHeader("Accept-Language"))

	stream, err := s.runs.Start(c.Request.Context(), &engine.RunRequest{
		UserID:   userID,
		Query:    req.Query,
		Language: language,
		Agent:    agent,
		Workflow: req.Workflow,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if err == runs.ErrTooManyRuns {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream.Events()
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Event), ev.Data)
		return true
	})
}

// CancelRun cancels an in-flight run.
func (s *Server) CancelRun(c *gin.Context) {
	runID := c.Param("id")
	if s.runs.Cancel(runID) {
		c.JSON(http.StatusOK, gin.H{"cancelled": runID})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not active: " + runID})
}

// GetRunRecords returns the persisted step records of a run.
func (s *Server) GetRunRecords(c *gin.Context) {
	if s.steps == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence is disabled"})
		return
	}
	records, err := s.steps.ListRunRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
