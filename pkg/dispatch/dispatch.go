package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/behemoth/pkg/agent"
	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/statusstream"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
	"github.com/google/uuid"
)

// WorkerPool is the slice of the registry the dispatcher drives.
type WorkerPool interface {
	RefreshAll()
	Acquire(ctx context.Context, orgID string, labels []string) (*types.Worker, error)
	Release(worker *types.Worker)
}

// Invoker starts the remote agent for one execution.
type Invoker interface {
	Invoke(ctx context.Context, task agent.Task) error
}

// TokenMinter issues bearer tokens for agent callbacks.
type TokenMinter interface {
	Create(userID string) (string, error)
}

// pollInterval is how often the dispatcher re-reads an executing
// execution while waiting for its callbacks to finish it.
const pollInterval = 300 * time.Millisecond

// Dispatcher walks one plan's executions in order, driving each through
// worker selection, agent invocation, and terminal status. Batches for
// different plans run concurrently; executions within one batch are
// strictly serial.
type Dispatcher struct {
	store   storage.Store
	cmds    cmdstore.Store
	pool    WorkerPool
	invoker Invoker
	tokens  TokenMinter
	stream  *statusstream.Stream
	cache   *StatusCache
	machine *StateMachine
}

// NewDispatcher wires a dispatcher over its collaborators.
func NewDispatcher(
	store storage.Store,
	cmds cmdstore.Store,
	pool WorkerPool,
	invoker Invoker,
	tokens TokenMinter,
	stream *statusstream.Stream,
	cache *StatusCache,
) *Dispatcher {
	return &Dispatcher{
		store:   store,
		cmds:    cmds,
		pool:    pool,
		invoker: invoker,
		tokens:  tokens,
		stream:  stream,
		cache:   cache,
		machine: NewStateMachine(store, cache),
	}
}

// Machine exposes the state machine for collaborators that transition
// executions outside a batch (callback endpoint, operator actions).
func (d *Dispatcher) Machine() *StateMachine {
	return d.machine
}

// StartBatch validates the batch and runs it in the background. It
// returns the task id driving the batch, or ErrTaskRunning when nothing
// is left to run.
func (d *Dispatcher) StartBatch(ctx context.Context, plan *types.Plan, executions []*types.Execution, users []string) (string, error) {
	valid := make([]*types.Execution, 0, len(executions))
	for _, e := range executions {
		if e.Status == types.StatusSuccess || e.Status == types.StatusExecuting {
			continue
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return "", ErrTaskRunning
	}

	taskID := valid[0].TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}
	for _, e := range valid {
		if e.TaskID == "" {
			e.TaskID = taskID
			if err := d.store.UpdateExecution(e); err != nil {
				return "", fmt.Errorf("failed to assign task id: %w", err)
			}
		}
		d.cache.Reset(e.ID)
	}

	go d.runBatch(ctx, plan, valid, users, taskID)
	return taskID, nil
}

func (d *Dispatcher) runBatch(ctx context.Context, plan *types.Plan, executions []*types.Execution, users []string, taskID string) {
	logger := log.WithPlanID(plan.ID)
	d.stream.Info(taskID, "task executors: %s", strings.Join(users, ", "))

	var prev *types.Execution
	for i, execution := range executions {
		if prev != nil && d.latchedStatus(prev) == string(types.StatusFailed) &&
			plan.Strategy != types.PlanFailedContinue {
			d.stream.Error(taskID, "stopping batch: previous step failed")
			return
		}

		// A pause step at the batch boundary is pre-consented.
		if i == 0 && execution.Category == types.CategoryPause {
			if err := d.fastForwardPause(execution); err != nil {
				logger.Error().Err(err).Msg("Failed to fast-forward boundary pause")
				return
			}
			d.stream.Success(taskID, "pause step %s auto-approved at batch start", execution.Name)
			prev = execution
			continue
		}

		if err := d.runExecution(ctx, plan, execution, taskID); err != nil {
			var pauseErr *PauseError
			if errors.As(err, &pauseErr) {
				d.stream.Warn(taskID, "task paused: %s", pauseErr.Input)
				return
			}
			d.stream.Error(taskID, "execution %s failed: %v", execution.Name, err)
			if plan.Strategy != types.PlanFailedContinue {
				return
			}
			prev = execution
			continue
		}

		switch execution.Status {
		case types.StatusPause:
			d.stream.Warn(taskID, "execution %s paused: %s", execution.Name, execution.Reason)
			return
		case types.StatusFailed:
			d.stream.Error(taskID, "execution %s failed: %s", execution.Name, execution.Reason)
			if plan.Strategy != types.PlanFailedContinue {
				return
			}
		case types.StatusSuccess:
			d.stream.Success(taskID, "execution %s succeeded", execution.Name)
		}
		prev = execution
	}
}

// runExecution drives one execution to a terminal or paused state. It
// transitions to executing, resolves bindings, invokes the agent via a
// popped worker, and waits for callbacks to finish the commands.
func (d *Dispatcher) runExecution(ctx context.Context, plan *types.Plan, execution *types.Execution, taskID string) error {
	if err := d.machine.Transition(execution, types.StatusExecuting, ""); err != nil {
		return err
	}

	// Mid-batch pause steps halt cooperatively with their content as
	// context.
	if execution.Category == types.CategoryPause {
		return d.raisePause(ctx, execution)
	}

	// Nothing left to run means nothing to hand a worker.
	pending, err := d.cmds.List(ctx, execution.ID, false)
	if err != nil {
		d.fail(execution, err)
		return err
	}
	if len(pending) == 0 {
		d.stream.Warn(taskID, "execution %s has no pending commands, skipping", execution.Name)
		return d.machine.Transition(execution, types.StatusSuccess, "no pending commands")
	}

	asset, account, err := d.resolveTarget(plan, execution)
	if err != nil {
		d.fail(execution, err)
		return err
	}

	d.stream.Info(taskID, "looking for a valid worker")
	d.pool.RefreshAll()
	worker, err := d.pool.Acquire(ctx, execution.OrgID, asset.GetLabels())
	if err != nil {
		d.fail(execution, err)
		return err
	}
	defer d.pool.Release(worker)

	execution.WorkerID = worker.ID
	if err := d.store.UpdateExecution(execution); err != nil {
		d.fail(execution, err)
		return err
	}

	token, err := d.tokens.Create(execution.UserID)
	if err != nil {
		d.fail(execution, err)
		return err
	}

	err = d.invoker.Invoke(ctx, agent.Task{
		Execution: execution,
		Worker:    worker,
		Asset:     asset,
		Account:   account,
		Token:     token,
	})
	if errors.Is(err, agent.ErrNoCommands) {
		d.stream.Warn(taskID, "execution %s has no pending commands, skipping", execution.Name)
		return d.machine.Transition(execution, types.StatusSuccess, "no pending commands")
	}
	if err != nil {
		d.fail(execution, fmt.Errorf("task for %s failed: %w", asset.Name, err))
		return err
	}

	return d.awaitCompletion(ctx, execution)
}

// resolveTarget returns the asset and account an execution runs against.
// Deploy executions carry resolved ids; sync executions resolve their
// late-binding hints against the plan's environment.
func (d *Dispatcher) resolveTarget(plan *types.Plan, execution *types.Execution) (*types.Asset, *types.Account, error) {
	if plan.Category == types.PlanCategorySync && execution.AssetNameHint != "" {
		return d.bindHints(plan, execution)
	}

	asset, err := d.store.GetAsset(execution.AssetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load asset: %w", err)
	}
	for _, acc := range asset.Accounts {
		if acc.ID == execution.AccountID {
			return asset, acc, nil
		}
	}
	return nil, nil, fmt.Errorf("account %s not found on asset %s", execution.AccountID, asset.Name)
}

// bindHints resolves (asset-name-suffix, account-username) against the
// plan environment.
func (d *Dispatcher) bindHints(plan *types.Plan, execution *types.Execution) (*types.Asset, *types.Account, error) {
	env, err := d.store.GetEnvironment(plan.EnvironmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var asset *types.Asset
	for _, assetID := range env.AssetIDs {
		candidate, err := d.store.GetAsset(assetID)
		if err != nil {
			continue
		}
		if strings.HasSuffix(candidate.Name, execution.AssetNameHint) {
			asset = candidate
			break
		}
	}
	if asset == nil {
		return nil, nil, &BindingError{
			Hint:   execution.AssetNameHint,
			Detail: "no asset in environment matches the name suffix",
		}
	}

	account := asset.FindAccount(execution.AccountUsernameHint)
	if account == nil {
		return nil, nil, &BindingError{
			Hint:   execution.AccountUsernameHint,
			Detail: fmt.Sprintf("no account with this username on asset %s", asset.Name),
		}
	}

	execution.AssetID = asset.ID
	execution.AccountID = account.ID
	if err := d.store.UpdateExecution(execution); err != nil {
		return nil, nil, err
	}
	return asset, account, nil
}

// raisePause transitions a pause step to pause, carrying its command
// content as reason, and reports a PauseError to stop the batch.
func (d *Dispatcher) raisePause(ctx context.Context, execution *types.Execution) error {
	pauseErr := &PauseError{}
	if cmds, err := d.cmds.List(ctx, execution.ID, true); err == nil && len(cmds) > 0 {
		pauseErr.Input = cmds[0].Input
		pauseErr.Output = cmds[0].Output
	}
	if err := d.machine.Transition(execution, types.StatusPause, pauseErr.Input); err != nil {
		return err
	}
	return pauseErr
}

// awaitCompletion blocks until callbacks drive the execution out of
// executing. Process shutdown leaves it executing for the orphan scan.
func (d *Dispatcher) awaitCompletion(ctx context.Context, execution *types.Execution) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := d.store.GetExecution(execution.ID)
			if err != nil {
				return err
			}
			if current.Status != types.StatusExecuting {
				*execution = *current
				return nil
			}
		}
	}
}

// fastForwardPause marks a boundary pause step success through the
// executing state so the transition graph holds.
func (d *Dispatcher) fastForwardPause(execution *types.Execution) error {
	if err := d.machine.Transition(execution, types.StatusExecuting, ""); err != nil {
		return err
	}
	return d.machine.Transition(execution, types.StatusSuccess, "pre-consented pause at batch boundary")
}

func (d *Dispatcher) fail(execution *types.Execution, cause error) {
	if err := d.machine.Transition(execution, types.StatusFailed, cause.Error()); err != nil {
		logger := log.WithExecutionID(execution.ID)
		logger.Error().Err(err).Msg("Failed to record failure")
	}
}

// latchedStatus prefers the cache marker set by callbacks over the
// stored status.
func (d *Dispatcher) latchedStatus(execution *types.Execution) string {
	if s := d.cache.Get(execution.ID); s != "" {
		return s
	}
	return string(execution.Status)
}
