// Package runs tracks in-flight engine runs: registration, concurrency
// limits, manual cancellation, and graceful shutdown. Runs are in-memory
// only; nothing survives a process restart.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aperture-ai/weft/pkg/engine"
	"github.com/aperture-ai/weft/pkg/events"
)

// relayGrace bounds how long a cancelled run waits for a slow consumer
// to accept one more event before the relay gives up on it.
const relayGrace = time.Second

// ErrTooManyRuns is returned when the concurrent-run limit is reached.
var ErrTooManyRuns = errors.New("too many concurrent runs")

// ErrManagerStopped is returned after Shutdown.
var ErrManagerStopped = errors.New("run manager stopped")

// Manager starts engine runs and keeps a cancel registry keyed by run ID.
type Manager struct {
	engine  *engine.Engine
	maxRuns int

	mu      sync.RWMutex
	active  map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	logger *slog.Logger
}

// NewManager creates a run manager. maxRuns <= 0 means unlimited.
func NewManager(eng *engine.Engine, maxRuns int) *Manager {
	return &Manager{
		engine:  eng,
		maxRuns: maxRuns,
		active:  make(map[string]context.CancelFunc),
		logger:  slog.Default(),
	}
}

// Start launches a run and returns its event stream. The run is
// unregistered automatically when its stream ends.
func (m *Manager) Start(ctx context.Context, req *engine.RunRequest) (*events.Stream, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrManagerStopped
	}
	if m.maxRuns > 0 && len(m.active) >= m.maxRuns {
		m.mu.Unlock()
		return nil, ErrTooManyRuns
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream := m.engine.Run(runCtx, req)
	m.active[req.RunID] = cancel
	m.mu.Unlock()

	m.logger.Info("run registered", "run_id", req.RunID, "active", m.ActiveCount())

	// Relay the stream so completion unregisters the run even when the
	// caller abandons it.
	out := events.NewStream(cap(stream.Events()))
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.unregister(req.RunID)
			out.Close()
		}()
		for ev := range stream.Events() {
			if err := out.Emit(runCtx, ev.Event, ev.Data); err == nil {
				continue
			}
			// The run is cancelled. A consumer still draining gets the
			// remaining events; one that stopped must not block Shutdown.
			if !out.EmitTimeout(ev.Event, ev.Data, relayGrace) {
				m.logger.Warn("relay consumer gone, discarding events", "run_id", req.RunID)
				for range stream.Events() {
				}
				return
			}
		}
	}()

	return out, nil
}

// Cancel cancels a run by ID. Returns true when the run was active.
func (m *Manager) Cancel(runID string) bool {
	m.mu.RLock()
	cancel, ok := m.active[runID]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveCount returns the number of in-flight runs.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveRunIDs returns the IDs of in-flight runs.
func (m *Manager) ActiveRunIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every active run and waits for their streams to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.stopped = true
	cancels := make([]context.CancelFunc, 0, len(m.active))
	for _, cancel := range m.active {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()

	if len(cancels) > 0 {
		m.logger.Info("cancelling active runs", "count", len(cancels))
	}
	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("run manager stopped")
}

func (m *Manager) unregister(runID string) {
	m.mu.Lock()
	delete(m.active, runID)
	m.mu.Unlock()
	m.logger.Debug("run unregistered", "run_id", runID)
}
