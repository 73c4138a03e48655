package reconciler

import (
	"fmt"
	"time"

	"github.com/cuemby/behemoth/pkg/dispatch"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
)

// scanInterval is how often the reconciler sweeps for orphans.
const scanInterval = 1 * time.Minute

// Reconciler fails executions that stopped making progress. An execution
// is orphaned when it has sat in executing past the horizon without a
// callback touching it, typically because the agent host died or the
// control plane restarted mid-batch.
type Reconciler struct {
	store   storage.Store
	machine *dispatch.StateMachine
	horizon time.Duration
	stopCh  chan struct{}
}

// NewReconciler creates a reconciler with the given orphan horizon.
func NewReconciler(store storage.Store, machine *dispatch.StateMachine, horizon time.Duration) *Reconciler {
	return &Reconciler{
		store:   store,
		machine: machine,
		horizon: horizon,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(); err != nil {
				logger := log.WithComponent("reconciler")
				logger.Error().Err(err).Msg("Reconcile cycle failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one orphan sweep.
func (r *Reconciler) Reconcile() error {
	executions, err := r.store.ListExecutionsByStatus(types.StatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to list executing executions: %w", err)
	}

	now := time.Now()
	for _, execution := range executions {
		age := now.Sub(execution.UpdatedAt)
		if age < r.horizon {
			continue
		}
		logger := log.WithExecutionID(execution.ID)
		logger.Warn().
			Dur("age", age).
			Msg("Execution orphaned, marking failed")
		if err := r.machine.Transition(execution, types.StatusFailed, "orphaned"); err != nil {
			logger.Error().Err(err).Msg("Failed to fail orphaned execution")
		}
	}
	return nil
}
