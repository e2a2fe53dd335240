package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/protocol"
)

// RunState is the lifecycle position of a run.
type RunState int

const (
	StateCreated RunState = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is permitted.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type runRecord struct {
	runID         string
	request       protocol.RunRequest
	state         RunState
	failureReason string
	cancel        *CancelToken
}

// RunManager owns the run-id registry for the process lifetime. All mutations
// and reads are serialised by a single mutex; callers receive snapshots, never
// the record itself.
type RunManager struct {
	mu     sync.Mutex
	runs   map[string]*runRecord
	newID  func() string
	logger *zap.Logger
}

// NewRunManager builds an empty registry. A nil logger disables transition
// logging.
func NewRunManager(logger *zap.Logger) *RunManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunManager{
		runs:   make(map[string]*runRecord),
		newID:  NewRunID,
		logger: logger,
	}
}

const maxIDAttempts = 16

// StartRun validates the request, allocates a unique run id, and registers a
// record already transitioned to Running. External observers never see
// Created.
func (m *RunManager) StartRun(request protocol.RunRequest) (string, error) {
	if request.TaskDescription == "" && request.PlanFile == "" {
		return "", agenterr.New(agenterr.Input,
			"invalid_run_request",
			"Run request must include task or plan file.")
	}
	if request.TaskDescription != "" && request.PlanFile != "" {
		return "", agenterr.New(agenterr.Input,
			"invalid_run_request",
			"Run request cannot include both task and plan file.")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		runID := m.newID()
		if _, exists := m.runs[runID]; exists {
			continue
		}
		m.runs[runID] = &runRecord{
			runID:   runID,
			request: request,
			state:   StateCreated,
			cancel:  NewCancelToken(),
		}
		m.logger.Info("run state transition",
			zap.String("run_id", runID),
			zap.String("from", StateCreated.String()),
			zap.String("to", StateRunning.String()))
		m.runs[runID].state = StateRunning
		return runID, nil
	}

	return "", agenterr.New(agenterr.Internal,
		"run_id_generation_failed",
		"Unable to allocate unique run ID.")
}

// CancelRun transitions the run to Cancelled and sets the shared cancel token
// in the same critical section, so in-flight tools observe it promptly.
func (m *RunManager) CancelRun(runID string) (RunState, error) {
	return m.transitionToTerminal(runID, StateCancelled, "")
}

// MarkCompleted transitions the run to Completed.
func (m *RunManager) MarkCompleted(runID string) (RunState, error) {
	return m.transitionToTerminal(runID, StateCompleted, "")
}

// MarkFailed transitions the run to Failed and records the reason.
func (m *RunManager) MarkFailed(runID, reason string) (RunState, error) {
	return m.transitionToTerminal(runID, StateFailed, reason)
}

func (m *RunManager) transitionToTerminal(runID string, next RunState, failureReason string) (RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.runs[runID]
	if !ok {
		return 0, agenterr.New(agenterr.Input,
			"run_not_found",
			fmt.Sprintf("Run ID not found: %s", runID))
	}
	if record.state.Terminal() {
		return 0, agenterr.New(agenterr.Input,
			"invalid_state_transition",
			fmt.Sprintf("Run is already terminal: %s", record.state))
	}

	prev := record.state
	record.state = next
	record.failureReason = failureReason
	if next == StateCancelled {
		record.cancel.Set()
	}
	m.logger.Info("run state transition",
		zap.String("run_id", runID),
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	return record.state, nil
}

// GetRunState returns a snapshot of the run's current state.
func (m *RunManager) GetRunState(runID string) (RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.runs[runID]
	if !ok {
		return 0, agenterr.New(agenterr.Input,
			"run_not_found",
			fmt.Sprintf("Run ID not found: %s", runID))
	}
	return record.state, nil
}

// GetCancelToken returns the shared cancel token for the run.
func (m *RunManager) GetCancelToken(runID string) (*CancelToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.runs[runID]
	if !ok {
		return nil, agenterr.New(agenterr.Input,
			"run_not_found",
			fmt.Sprintf("Run ID not found: %s", runID))
	}
	return record.cancel, nil
}

// RunCount returns the registry size.
func (m *RunManager) RunCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}
