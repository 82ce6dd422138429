package models

import (
	"fmt"
	"sort"
)

// DataStore maps step indices and semantic keys to raw step results.
// It feeds argument inference in the executor; only the engine loop writes.
type DataStore struct {
	byStep             map[int]any
	lastResult         any
	lastSuccessfulTool string
}

// NewDataStore creates an empty data store.
func NewDataStore() *DataStore {
	return &DataStore{byStep: make(map[int]any)}
}

// RecordSuccess stores a successful step result under its index and updates
// the semantic keys (lastResult, lastSuccessfulTool).
func (d *DataStore) RecordSuccess(stepIndex int, tool string, raw any) {
	d.byStep[stepIndex] = raw
	d.lastResult = raw
	d.lastSuccessfulTool = tool
}

// StepResult returns the raw result of step n.
func (d *DataStore) StepResult(n int) (any, bool) {
	v, ok := d.byStep[n]
	return v, ok
}

// LastResult returns the raw value of the most recent successful step.
func (d *DataStore) LastResult() any { return d.lastResult }

// LastSuccessfulTool returns the tool name of the most recent successful step.
func (d *DataStore) LastSuccessfulTool() string { return d.lastSuccessfulTool }

// Keys returns the key names currently populated: one "step_N_result" per
// stored step in index order, then the semantic keys. Used in planner
// status snapshots.
func (d *DataStore) Keys() []string {
	idxs := make([]int, 0, len(d.byStep))
	for n := range d.byStep {
		idxs = append(idxs, n)
	}
	sort.Ints(idxs)

	keys := make([]string, 0, len(idxs)+2)
	for _, n := range idxs {
		keys = append(keys, StepResultKey(n))
	}
	if d.lastResult != nil {
		keys = append(keys, "lastResult")
	}
	if d.lastSuccessfulTool != "" {
		keys = append(keys, "lastSuccessfulTool")
	}
	return keys
}

// StepResultKey returns the data store key name for step n's raw result.
// The same form is used as a placeholder in planner-produced arguments.
func StepResultKey(n int) string { return fmt.Sprintf("step_%d_result", n) }

// Progress tracks the signals feeding the termination policy.
type Progress struct {
	// LastProgressAt is the iteration of the most recent successful step.
	LastProgressAt int
	// ConsecutiveFailures counts failed steps since the last success.
	ConsecutiveFailures int
	// RepeatedActions counts (tool, mcp) occurrences, derived from history.
	RepeatedActions map[ActionKey]int
	// StagnationCount is iteration minus LastProgressAt plus StagnationPenalty,
	// recomputed by RecordStep.
	StagnationCount int
	// StagnationPenalty counts non-productive iterations flagged by the
	// loop (planner repetition violations). A successful step does not
	// clear it; repeating a working action is still not progress.
	StagnationPenalty int
}

// EngineState is the in-memory state of a single run. It is owned by the
// engine loop; collaborators receive read views and never mutate it.
type EngineState struct {
	RunID         string
	OriginalQuery string
	UserLanguage  string

	// History is the append-only sequence of completed/failed steps.
	History []WorkflowStep
	Data    *DataStore

	Iteration int
	Progress  Progress

	Complete       bool
	CompleteReason string
}

// NewEngineState creates the state for a fresh run.
func NewEngineState(runID, query, language string) *EngineState {
	return &EngineState{
		RunID:         runID,
		OriginalQuery: query,
		UserLanguage:  language,
		Data:          NewDataStore(),
		Progress:      Progress{RepeatedActions: make(map[ActionKey]int)},
	}
}

// RecordStep appends a finished step to history and updates progress
// counters. Invariant: history length equals iteration at the top of each
// loop pass, so callers record exactly one step per iteration.
func (s *EngineState) RecordStep(step WorkflowStep) {
	s.History = append(s.History, step)
	s.Iteration++

	key := ActionKey{Tool: step.Tool, MCP: step.MCPName}
	s.Progress.RepeatedActions[key]++

	if step.Status == StepStatusCompleted {
		s.Progress.ConsecutiveFailures = 0
		s.Progress.LastProgressAt = s.Iteration
		s.Data.RecordSuccess(step.Index, step.Tool, step.RawResult)
	} else {
		s.Progress.ConsecutiveFailures++
	}
	s.Progress.StagnationCount = s.Iteration - s.Progress.LastProgressAt + s.Progress.StagnationPenalty
}

// MarkStagnation records a non-productive iteration (e.g. a planner
// repetition violation) without a history entry. The tick is durable:
// RecordStep folds the penalty into every recomputation, so the
// stagnation guard sees it even when the repeated step succeeds.
func (s *EngineState) MarkStagnation() {
	s.Progress.StagnationPenalty++
	s.Progress.StagnationCount++
}

// MostRepeatedAction returns the (tool, mcp) pair with the highest count.
func (s *EngineState) MostRepeatedAction() (ActionKey, int) {
	var top ActionKey
	max := 0
	for k, n := range s.Progress.RepeatedActions {
		if n > max {
			top, max = k, n
		}
	}
	return top, max
}

// SuccessCount returns the number of completed steps in history.
func (s *EngineState) SuccessCount() int {
	n := 0
	for _, st := range s.History {
		if st.Status == StepStatusCompleted {
			n++
		}
	}
	return n
}

// FailureCount returns the number of failed steps in history.
func (s *EngineState) FailureCount() int {
	return len(s.History) - s.SuccessCount()
}

// LastStep returns the most recent history entry, or nil for a fresh run.
func (s *EngineState) LastStep() *WorkflowStep {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}
