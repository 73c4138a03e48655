package storage

import (
	"testing"
	"time"

	"github.com/cuemby/behemoth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkerCRUD(t *testing.T) {
	store := newTestStore(t)

	worker := &types.Worker{
		ID:       "worker-1",
		Name:     "builder-01",
		OrgID:    "org-1",
		Address:  "10.0.0.5",
		Port:     22,
		Labels:   []string{"oracle"},
		Platform: types.PlatformLinux,
		Account:  &types.WorkerAccount{Username: "deploy", Password: "secret"},
	}
	require.NoError(t, store.CreateWorker(worker))

	got, err := store.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, "builder-01", got.Name)
	assert.Equal(t, []string{"oracle"}, got.Labels)

	got.Labels = append(got.Labels, "mysql")
	require.NoError(t, store.UpdateWorker(got))
	got, err = store.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Len(t, got.Labels, 2)

	require.NoError(t, store.DeleteWorker("worker-1"))
	_, err = store.GetWorker("worker-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWorkersByOrg(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w1", OrgID: "org-1"}))
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w2", OrgID: "org-1"}))
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w3", OrgID: "org-2"}))

	workers, err := store.ListWorkersByOrg("org-1")
	require.NoError(t, err)
	assert.Len(t, workers, 2)
}

func TestExecutionOrderingAndFilters(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i, id := range []string{"e3", "e1", "e2"} {
		offsets := map[string]int{"e1": 0, "e2": 1, "e3": 2}
		require.NoError(t, store.CreateExecution(&types.Execution{
			ID:        id,
			PlanID:    "plan-1",
			Status:    types.StatusNotStart,
			CreatedAt: base.Add(time.Duration(offsets[id]) * time.Second),
		}))
		_ = i
	}

	executions, err := store.ListExecutionsByPlan("plan-1")
	require.NoError(t, err)
	require.Len(t, executions, 3)
	assert.Equal(t, "e1", executions[0].ID)
	assert.Equal(t, "e2", executions[1].ID)
	assert.Equal(t, "e3", executions[2].ID)

	executions[0].Status = types.StatusExecuting
	require.NoError(t, store.UpdateExecution(executions[0]))

	executing, err := store.ListExecutionsByStatus(types.StatusExecuting)
	require.NoError(t, err)
	require.Len(t, executing, 1)
	assert.Equal(t, "e1", executing[0].ID)
}

func TestPlaybackExecutionOrdering(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	rows := []*types.PlaybackExecution{
		{ID: "pe2", PlaybackID: "p1", ExecutionID: "e2", CreatedAt: base.Add(time.Second)},
		{ID: "pe1", PlaybackID: "p1", ExecutionID: "e1", CreatedAt: base},
		{ID: "pe3", PlaybackID: "p2", ExecutionID: "e3", CreatedAt: base},
	}
	for _, pe := range rows {
		require.NoError(t, store.CreatePlaybackExecution(pe))
	}

	got, err := store.ListPlaybackExecutionsByPlayback("p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pe1", got[0].ID)
	assert.Equal(t, "pe2", got[1].ID)

	byExec, err := store.ListPlaybackExecutionsByExecution("e3")
	require.NoError(t, err)
	require.Len(t, byExec, 1)
	assert.Equal(t, "p2", byExec[0].PlaybackID)
}

func TestPlanAndEnvironment(t *testing.T) {
	store := newTestStore(t)

	env := &types.Environment{ID: "env-1", Name: "staging", AssetIDs: []string{"a1", "a2"}}
	require.NoError(t, store.CreateEnvironment(env))

	plan := &types.Plan{
		ID:               "plan-1",
		Name:             "release-42",
		Category:         types.PlanCategoryDeploy,
		Strategy:         types.PlanFailedStop,
		PlaybackStrategy: types.PlaybackAutoPromote,
		EnvironmentID:    "env-1",
	}
	require.NoError(t, store.CreatePlan(plan))

	got, err := store.GetPlan("plan-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanCategoryDeploy, got.Category)

	gotEnv, err := store.GetEnvironment(got.EnvironmentID)
	require.NoError(t, err)
	assert.Len(t, gotEnv.AssetIDs, 2)
}
