package playback

import (
	"context"
	"io"
	"testing"

	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	m.Run()
}

type fixture struct {
	store    storage.Store
	cmds     cmdstore.Store
	recorder *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cmds, err := cmdstore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cmds.Close() })

	return &fixture{store: store, cmds: cmds, recorder: NewRecorder(store, cmds)}
}

func (f *fixture) seedAsset(t *testing.T) *types.Asset {
	t.Helper()
	asset := &types.Asset{
		ID:     "a1",
		OrgID:  "org1",
		Name:   "proj-mysql-01",
		Type:   types.DatabaseMySQL,
		DBName: "appdb",
		Accounts: []*types.Account{
			{ID: "acc1", Username: "deployer"},
		},
	}
	require.NoError(t, f.store.CreateAsset(asset))
	return asset
}

func (f *fixture) seedExecution(t *testing.T, id string, status types.TaskStatus, inputs ...string) *types.Execution {
	t.Helper()
	execution := &types.Execution{
		ID:        id,
		OrgID:     "org1",
		PlanID:    "plan1",
		Name:      "release " + id,
		Category:  types.CategoryCmd,
		Status:    status,
		Version:   "v3",
		AssetID:   "a1",
		AccountID: "acc1",
		UserID:    "u1",
	}
	require.NoError(t, f.store.CreateExecution(execution))
	for _, input := range inputs {
		_, err := f.cmds.Append(context.Background(), &types.Command{
			OrgID:       "org1",
			ExecutionID: id,
			Input:       input,
			Status:      types.CommandSuccess,
		})
		require.NoError(t, err)
	}
	return execution
}

func autoPromotePlan() *types.Plan {
	return &types.Plan{
		ID:               "plan1",
		OrgID:            "org1",
		Name:             "nightly release",
		Category:         types.PlanCategoryDeploy,
		Strategy:         types.PlanFailedStop,
		PlaybackStrategy: types.PlaybackAutoPromote,
		PlaybackID:       "pb1",
	}
}

func TestRecordSuccessAppendsOneRow(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	execution := f.seedExecution(t, "e1", types.StatusSuccess, "select 1;")
	plan := autoPromotePlan()

	require.NoError(t, f.recorder.RecordSuccess(plan, execution))

	rows, err := f.store.ListPlaybackExecutionsByPlayback("pb1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "e1", rows[0].ExecutionID)
	assert.Equal(t, "nightly release", rows[0].PlanName)
	assert.Equal(t, "proj-mysql-01", rows[0].AssetName)
	assert.Equal(t, "deployer", rows[0].AccountUsername)
	assert.Equal(t, "v3", rows[0].Version)
}

func TestRecordSuccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	execution := f.seedExecution(t, "e1", types.StatusSuccess, "select 1;")
	plan := autoPromotePlan()

	require.NoError(t, f.recorder.RecordSuccess(plan, execution))
	require.NoError(t, f.recorder.RecordSuccess(plan, execution))

	rows, err := f.store.ListPlaybackExecutionsByPlayback("pb1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRecordSuccessSkipsNonPromotingPlans(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	execution := f.seedExecution(t, "e1", types.StatusSuccess, "select 1;")

	tests := []struct {
		name   string
		mutate func(*types.Plan)
	}{
		{"manual promote", func(p *types.Plan) { p.PlaybackStrategy = types.PlaybackManualPromote }},
		{"never promote", func(p *types.Plan) { p.PlaybackStrategy = types.PlaybackNeverPromote }},
		{"sync plan", func(p *types.Plan) { p.Category = types.PlanCategorySync }},
		{"no playback bound", func(p *types.Plan) { p.PlaybackID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := autoPromotePlan()
			tt.mutate(plan)
			require.NoError(t, f.recorder.RecordSuccess(plan, execution))
		})
	}

	rows, err := f.store.ListPlaybackExecutionsByExecution("e1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecordSuccessSkipsNonSuccessExecution(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	execution := f.seedExecution(t, "e1", types.StatusFailed, "select 1;")

	require.NoError(t, f.recorder.RecordSuccess(autoPromotePlan(), execution))

	rows, err := f.store.ListPlaybackExecutionsByExecution("e1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMaterializeClonesExecutionsInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	ctx := context.Background()

	e1 := f.seedExecution(t, "e1", types.StatusSuccess, "create table t (id int);", "insert into t values (1);")
	e2 := f.seedExecution(t, "e2", types.StatusSuccess, "select count(*) from t;")
	plan := autoPromotePlan()
	require.NoError(t, f.recorder.RecordSuccess(plan, e1))

	rows, err := f.store.ListPlaybackExecutionsByExecution("e1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	pe1 := rows[0]

	require.NoError(t, f.recorder.RecordSuccess(plan, e2))
	rows, err = f.store.ListPlaybackExecutionsByExecution("e2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	pe2 := rows[0]

	syncPlan := &types.Plan{
		ID:            "plan2",
		OrgID:         "org1",
		Name:          "promote to prod",
		Category:      types.PlanCategorySync,
		EnvironmentID: "env-prod",
	}
	created, err := f.recorder.Materialize(ctx, syncPlan, []string{pe1.ID, pe2.ID})
	require.NoError(t, err)
	require.Len(t, created, 2)

	first := created[0]
	assert.Equal(t, "plan2", first.PlanID)
	assert.Equal(t, types.StatusNotStart, first.Status)
	assert.Equal(t, "v3", first.Version)
	assert.Equal(t, "proj-mysql-01", first.AssetNameHint)
	assert.Equal(t, "deployer", first.AccountUsernameHint)
	assert.Empty(t, first.AssetID)
	assert.Empty(t, first.AccountID)

	cmds, err := f.cmds.List(ctx, first.ID, true)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, 0, cmds[0].Index)
	assert.Equal(t, 1, cmds[1].Index)
	assert.Equal(t, "create table t (id int);", cmds[0].Input)
	assert.Equal(t, types.CommandNotStart, cmds[0].Status)
	assert.Empty(t, cmds[0].Output)

	cmds, err = f.cmds.List(ctx, created[1].ID, true)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "select count(*) from t;", cmds[0].Input)
}

func TestMaterializeSkipsSoftDeletedCommands(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	ctx := context.Background()

	execution := f.seedExecution(t, "e1", types.StatusSuccess, "drop table scratch;", "select 1;", "select 2;")
	plan := autoPromotePlan()
	require.NoError(t, f.recorder.RecordSuccess(plan, execution))

	cmds, err := f.cmds.List(ctx, "e1", true)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	require.NoError(t, f.cmds.SoftDelete(ctx, "e1", cmds[0].ID))

	rows, err := f.store.ListPlaybackExecutionsByExecution("e1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	syncPlan := &types.Plan{ID: "plan2", OrgID: "org1", Category: types.PlanCategorySync}
	created, err := f.recorder.Materialize(ctx, syncPlan, []string{rows[0].ID})
	require.NoError(t, err)
	require.Len(t, created, 1)

	clones, err := f.cmds.List(ctx, created[0].ID, true)
	require.NoError(t, err)
	require.Len(t, clones, 2)
	assert.Equal(t, "select 1;", clones[0].Input)
	assert.Equal(t, 0, clones[0].Index)
	assert.Equal(t, "select 2;", clones[1].Input)
	assert.Equal(t, 1, clones[1].Index)
}

func TestMaterializePauseStepKeepsOutput(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t)
	ctx := context.Background()

	execution := &types.Execution{
		ID:        "e-pause",
		OrgID:     "org1",
		PlanID:    "plan1",
		Name:      "confirm backup",
		Category:  types.CategoryPause,
		Status:    types.StatusSuccess,
		Version:   "v3",
		AssetID:   "a1",
		AccountID: "acc1",
	}
	require.NoError(t, f.store.CreateExecution(execution))
	_, err := f.cmds.Append(ctx, &types.Command{
		OrgID:       "org1",
		ExecutionID: "e-pause",
		Input:       "confirm the backup finished",
		Output:      "backup verified at 02:00",
		Status:      types.CommandSuccess,
	})
	require.NoError(t, err)
	require.NoError(t, f.recorder.RecordSuccess(autoPromotePlan(), execution))

	rows, err := f.store.ListPlaybackExecutionsByExecution("e-pause")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	syncPlan := &types.Plan{ID: "plan2", OrgID: "org1", Category: types.PlanCategorySync}
	created, err := f.recorder.Materialize(ctx, syncPlan, []string{rows[0].ID})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, types.CategoryPause, created[0].Category)

	clones, err := f.cmds.List(ctx, created[0].ID, true)
	require.NoError(t, err)
	require.Len(t, clones, 1)
	assert.Equal(t, "backup verified at 02:00", clones[0].Output)
	assert.Equal(t, types.CommandNotStart, clones[0].Status)
}

func TestMaterializeUnknownRowFails(t *testing.T) {
	f := newFixture(t)
	syncPlan := &types.Plan{ID: "plan2", OrgID: "org1", Category: types.PlanCategorySync}

	created, err := f.recorder.Materialize(context.Background(), syncPlan, []string{"missing"})
	require.Error(t, err)
	assert.Empty(t, created)
}
