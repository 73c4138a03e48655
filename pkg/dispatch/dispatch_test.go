package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/behemoth/pkg/agent"
	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/registry"
	"github.com/cuemby/behemoth/pkg/statusstream"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	m.Run()
}

type fakePool struct {
	mu       sync.Mutex
	workers  []*types.Worker
	acquired int
	released int
}

func (p *fakePool) RefreshAll() {}

func (p *fakePool) Acquire(ctx context.Context, orgID string, labels []string) (*types.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return nil, registry.ErrNoWorker
	}
	w := p.workers[0]
	p.workers = p.workers[1:]
	p.acquired++
	return w, nil
}

func (p *fakePool) Release(worker *types.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, worker)
	p.released++
}

// fakeInvoker pretends the agent ran every command instantly: it records
// the task and writes the final status straight to the store, standing in
// for the asynchronous callback path.
type fakeInvoker struct {
	store       storage.Store
	finalStatus types.TaskStatus
	errByName   map[string]error

	mu    sync.Mutex
	tasks []agent.Task
}

func (f *fakeInvoker) Invoke(ctx context.Context, task agent.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	if err, ok := f.errByName[task.Execution.Name]; ok {
		return err
	}

	current, err := f.store.GetExecution(task.Execution.ID)
	if err != nil {
		return err
	}
	status := f.finalStatus
	if status == "" {
		status = types.StatusSuccess
	}
	current.Status = status
	return f.store.UpdateExecution(current)
}

func (f *fakeInvoker) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeMinter struct{}

func (fakeMinter) Create(userID string) (string, error) {
	return "abcdefghijklmnopqrstuvwxyz0123456789", nil
}

type fixture struct {
	store    storage.Store
	cmds     cmdstore.Store
	pool     *fakePool
	invoker  *fakeInvoker
	stream   *statusstream.Stream
	cache    *StatusCache
	dispatch *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cmds, err := cmdstore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cmds.Close() })

	stream, err := statusstream.New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(stream.Close)

	pool := &fakePool{workers: []*types.Worker{
		{ID: "w1", Name: "builder-01", OrgID: "org-1", Platform: types.PlatformLinux},
	}}
	invoker := &fakeInvoker{store: store}
	cache := NewStatusCache()

	return &fixture{
		store:    store,
		cmds:     cmds,
		pool:     pool,
		invoker:  invoker,
		stream:   stream,
		cache:    cache,
		dispatch: NewDispatcher(store, cmds, pool, invoker, fakeMinter{}, stream, cache),
	}
}

func (f *fixture) seedAsset(t *testing.T) *types.Asset {
	t.Helper()
	asset := &types.Asset{
		ID: "a1", OrgID: "org-1", Name: "db-prod-01", Address: "10.1.0.9", Port: 3306,
		Type: types.DatabaseMySQL, DBName: "orders",
		Accounts: []*types.Account{{ID: "acc1", Username: "app", Password: "secret"}},
	}
	require.NoError(t, f.store.CreateAsset(asset))
	return asset
}

func (f *fixture) seedExecution(t *testing.T, id, name string, category types.ExecutionCategory) *types.Execution {
	t.Helper()
	execution := &types.Execution{
		ID: id, OrgID: "org-1", PlanID: "plan-1", Name: name, Category: category,
		Status: types.StatusNotStart, AssetID: "a1", AccountID: "acc1", UserID: "u1",
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreateExecution(execution))
	if category == types.CategoryCmd {
		_, err := f.cmds.Append(context.Background(), &types.Command{
			ExecutionID: id, OrgID: "org-1", Input: "select 1;",
		})
		require.NoError(t, err)
	}
	return execution
}

func deployPlan(strategy types.PlanStrategy) *types.Plan {
	return &types.Plan{
		ID: "plan-1", OrgID: "org-1", Name: "release-42",
		Category: types.PlanCategoryDeploy, Strategy: strategy,
	}
}

func waitStatus(t *testing.T, store storage.Store, id string, want types.TaskStatus) *types.Execution {
	t.Helper()
	var got *types.Execution
	require.Eventually(t, func() bool {
		e, err := store.GetExecution(id)
		if err != nil {
			return false
		}
		got = e
		return e.Status == want
	}, 5*time.Second, 20*time.Millisecond, "execution %s never reached %s", id, want)
	return got
}

func TestStartBatchAllFinished(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	e := f.seedExecution(t, "e1", "step-1", types.CategoryCmd)
	e.Status = types.StatusSuccess
	require.NoError(t, f.store.UpdateExecution(e))

	_, err := f.dispatch.StartBatch(context.Background(), deployPlan(types.PlanFailedStop), []*types.Execution{e}, nil)
	assert.ErrorIs(t, err, ErrTaskRunning)
}

func TestBatchHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	e1 := f.seedExecution(t, "e1", "step-1", types.CategoryCmd)
	e2 := f.seedExecution(t, "e2", "step-2", types.CategoryCmd)

	taskID, err := f.dispatch.StartBatch(
		context.Background(), deployPlan(types.PlanFailedStop),
		[]*types.Execution{e1, e2}, []string{"alice(admin)"},
	)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	waitStatus(t, f.store, "e1", types.StatusSuccess)
	final := waitStatus(t, f.store, "e2", types.StatusSuccess)
	assert.Equal(t, "w1", final.WorkerID)
	assert.Equal(t, 2, f.invoker.taskCount())

	require.Eventually(t, func() bool {
		f.pool.mu.Lock()
		defer f.pool.mu.Unlock()
		return f.pool.released == 2
	}, 5*time.Second, 20*time.Millisecond)

	data, err := f.stream.Replay(taskID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task executors: alice(admin)")
}

func TestBatchNoWorkerAvailable(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	f.pool.workers = nil
	e1 := f.seedExecution(t, "e1", "step-1", types.CategoryCmd)
	e2 := f.seedExecution(t, "e2", "step-2", types.CategoryCmd)

	_, err := f.dispatch.StartBatch(context.Background(), deployPlan(types.PlanFailedStop), []*types.Execution{e1, e2}, nil)
	require.NoError(t, err)

	final := waitStatus(t, f.store, "e1", types.StatusFailed)
	assert.Equal(t, "not found a valid worker", final.Reason)
	assert.Equal(t, string(types.StatusFailed), f.cache.Get("e1"))

	// The batch stops before the second execution.
	time.Sleep(200 * time.Millisecond)
	e, err := f.store.GetExecution("e2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotStart, e.Status)
	assert.Equal(t, 0, f.invoker.taskCount())
}

func TestBatchFailedContinue(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	e1 := f.seedExecution(t, "e1", "step-1", types.CategoryCmd)
	e2 := f.seedExecution(t, "e2", "step-2", types.CategoryCmd)
	f.invoker.errByName = map[string]error{"step-1": errors.New("agent error: exit 1")}

	_, err := f.dispatch.StartBatch(context.Background(), deployPlan(types.PlanFailedContinue), []*types.Execution{e1, e2}, nil)
	require.NoError(t, err)

	waitStatus(t, f.store, "e1", types.StatusFailed)
	waitStatus(t, f.store, "e2", types.StatusSuccess)
	assert.Equal(t, 2, f.invoker.taskCount())
}

func TestBoundaryPauseAutoApproved(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	pause := f.seedExecution(t, "e1", "review", types.CategoryPause)
	e2 := f.seedExecution(t, "e2", "step-2", types.CategoryCmd)

	_, err := f.dispatch.StartBatch(context.Background(), deployPlan(types.PlanFailedStop), []*types.Execution{pause, e2}, nil)
	require.NoError(t, err)

	first := waitStatus(t, f.store, "e1", types.StatusSuccess)
	assert.Equal(t, "pre-consented pause at batch boundary", first.Reason)
	waitStatus(t, f.store, "e2", types.StatusSuccess)
}

func TestMidBatchPauseStopsBatch(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	e1 := f.seedExecution(t, "e1", "step-1", types.CategoryCmd)
	pause := f.seedExecution(t, "e2", "review", types.CategoryPause)
	_, err := f.cmds.Append(context.Background(), &types.Command{
		ExecutionID: "e2", OrgID: "org-1", Input: "confirm the backup finished",
	})
	require.NoError(t, err)
	e3 := f.seedExecution(t, "e3", "step-3", types.CategoryCmd)

	_, err = f.dispatch.StartBatch(context.Background(), deployPlan(types.PlanFailedStop), []*types.Execution{e1, pause, e3}, nil)
	require.NoError(t, err)

	waitStatus(t, f.store, "e1", types.StatusSuccess)
	paused := waitStatus(t, f.store, "e2", types.StatusPause)
	assert.Equal(t, "confirm the backup finished", paused.Reason)

	time.Sleep(200 * time.Millisecond)
	e, err := f.store.GetExecution("e3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotStart, e.Status)
}

func TestSyncLateBinding(t *testing.T) {
	f := newFixture(t)

	foo := &types.Asset{
		ID: "a-foo", OrgID: "org-1", Name: "proj-FOO", Type: types.DatabaseMySQL,
		Accounts: []*types.Account{{ID: "acc-svc", Username: "svc"}},
	}
	require.NoError(t, f.store.CreateAsset(foo))
	require.NoError(t, f.store.CreateEnvironment(&types.Environment{
		ID: "env-1", OrgID: "org-1", AssetIDs: []string{"a-foo"},
	}))

	plan := &types.Plan{
		ID: "plan-1", OrgID: "org-1", Category: types.PlanCategorySync,
		Strategy: types.PlanFailedStop, EnvironmentID: "env-1",
	}
	execution := &types.Execution{
		ID: "e1", OrgID: "org-1", PlanID: "plan-1", Name: "sync-1",
		Category: types.CategoryCmd, Status: types.StatusNotStart, UserID: "u1",
		AssetNameHint: "FOO", AccountUsernameHint: "svc",
	}
	require.NoError(t, f.store.CreateExecution(execution))
	_, err := f.cmds.Append(context.Background(), &types.Command{ExecutionID: "e1", OrgID: "org-1", Input: "a"})
	require.NoError(t, err)

	_, err = f.dispatch.StartBatch(context.Background(), plan, []*types.Execution{execution}, nil)
	require.NoError(t, err)

	final := waitStatus(t, f.store, "e1", types.StatusSuccess)
	assert.Equal(t, "a-foo", final.AssetID)
	assert.Equal(t, "acc-svc", final.AccountID)

	require.Equal(t, 1, f.invoker.taskCount())
	assert.Equal(t, "proj-FOO", f.invoker.tasks[0].Asset.Name)
	assert.Equal(t, "svc", f.invoker.tasks[0].Account.Username)
}

func TestSyncLateBindingFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateEnvironment(&types.Environment{
		ID: "env-1", OrgID: "org-1", AssetIDs: nil,
	}))

	plan := &types.Plan{
		ID: "plan-1", OrgID: "org-1", Category: types.PlanCategorySync,
		Strategy: types.PlanFailedStop, EnvironmentID: "env-1",
	}
	execution := &types.Execution{
		ID: "e1", OrgID: "org-1", PlanID: "plan-1", Name: "sync-1",
		Category: types.CategoryCmd, Status: types.StatusNotStart, UserID: "u1",
		AssetNameHint: "FOO", AccountUsernameHint: "svc",
	}
	require.NoError(t, f.store.CreateExecution(execution))

	_, err := f.dispatch.StartBatch(context.Background(), plan, []*types.Execution{execution}, nil)
	require.NoError(t, err)

	final := waitStatus(t, f.store, "e1", types.StatusFailed)
	assert.Contains(t, final.Reason, "late binding failed")
	assert.Equal(t, 0, f.invoker.taskCount())
}

func TestNoPendingCommandsSkips(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	execution := &types.Execution{
		ID: "e1", OrgID: "org-1", PlanID: "plan-1", Name: "step-1",
		Category: types.CategoryCmd, Status: types.StatusNotStart,
		AssetID: "a1", AccountID: "acc1", UserID: "u1",
	}
	require.NoError(t, f.store.CreateExecution(execution))

	_, err := f.dispatch.StartBatch(context.Background(), deployPlan(types.PlanFailedStop), []*types.Execution{execution}, nil)
	require.NoError(t, err)

	final := waitStatus(t, f.store, "e1", types.StatusSuccess)
	assert.Equal(t, "no pending commands", final.Reason)

	// The skip happens before worker selection.
	f.pool.mu.Lock()
	defer f.pool.mu.Unlock()
	assert.Equal(t, 0, f.pool.acquired)
	assert.Equal(t, 0, f.invoker.taskCount())
}

func TestTransitionGraphEnforced(t *testing.T) {
	f := newFixture(t)
	machine := f.dispatch.Machine()

	execution := &types.Execution{ID: "e1", Status: types.StatusNotStart}
	require.NoError(t, f.store.CreateExecution(execution))

	assert.Error(t, machine.Transition(execution, types.StatusSuccess, ""))
	require.NoError(t, machine.Transition(execution, types.StatusExecuting, ""))
	require.NoError(t, machine.Transition(execution, types.StatusPause, "operator"))
	require.NoError(t, machine.Transition(execution, types.StatusExecuting, "resume"))
	require.NoError(t, machine.Transition(execution, types.StatusFailed, "agent error"))
	// Terminal states never revert.
	assert.Error(t, machine.Transition(execution, types.StatusExecuting, ""))

	// Same-status reapplication is a no-op.
	assert.NoError(t, machine.Transition(execution, types.StatusFailed, "agent error"))
}

func TestReasonTruncatedTo512(t *testing.T) {
	f := newFixture(t)
	machine := f.dispatch.Machine()

	execution := &types.Execution{ID: "e1", Status: types.StatusNotStart}
	require.NoError(t, f.store.CreateExecution(execution))
	require.NoError(t, machine.Transition(execution, types.StatusExecuting, ""))

	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, machine.Transition(execution, types.StatusFailed, string(long)))

	stored, err := f.store.GetExecution("e1")
	require.NoError(t, err)
	assert.Len(t, stored.Reason, 512)
}
