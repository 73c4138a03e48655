package dispatch

import (
	"fmt"
	"time"

	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/metrics"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
)

const maxReasonLength = 512

// StateMachine applies and persists execution status transitions. Every
// transition is written to the store together with its reason before the
// caller proceeds, and latched into the status cache for batch control.
type StateMachine struct {
	store storage.Store
	cache *StatusCache
}

// NewStateMachine creates a state machine over the given store and cache.
func NewStateMachine(store storage.Store, cache *StatusCache) *StateMachine {
	return &StateMachine{store: store, cache: cache}
}

// Transition moves an execution to next, persisting status and reason.
// Re-applying the current status is a no-op so callback replays stay safe.
func (m *StateMachine) Transition(execution *types.Execution, next types.TaskStatus, reason string) error {
	if execution.Status == next {
		return nil
	}
	if !execution.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid transition %s -> %s for execution %s",
			execution.Status, next, execution.ID)
	}

	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	execution.Status = next
	execution.Reason = reason
	execution.UpdatedAt = time.Now()

	if err := m.store.UpdateExecution(execution); err != nil {
		return fmt.Errorf("failed to persist transition to %s: %w", next, err)
	}

	m.cache.Latch(execution.ID, string(next))
	metrics.ExecutionTransitions.WithLabelValues(string(next)).Inc()
	logger := log.WithExecutionID(execution.ID)
	logger.Debug().
		Str("status", string(next)).
		Str("reason", reason).
		Msg("Execution transitioned")
	return nil
}
