package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/behemoth/pkg/types"
)

func TestCreateDeployPlanSplitsCommandText(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t) // seeds asset a1

	req := createPlanRequest{
		OrgID:       "org1",
		Name:        "schema update",
		Category:    "deploy",
		AssetID:     "a1",
		AccountID:   "acc1",
		Version:     "v4",
		CommandText: "-- add audit column\nalter table t\n  add audit int;\nselect 1;",
	}
	resp, body := f.do(t, http.MethodPost, "/api/v1/plans", req, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out createPlanResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.ExecutionID)
	assert.Equal(t, types.PlanFailedStop, out.Plan.Strategy)

	commands, err := f.cmds.List(context.Background(), out.ExecutionID, true)
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, 0, commands[0].Index)
	assert.Equal(t, "alter table t add audit int;", commands[0].Input)
	assert.Equal(t, "-- add audit column", commands[0].Output)
	assert.Equal(t, "select 1;", commands[1].Input)

	execution, err := f.store.GetExecution(out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotStart, execution.Status)
	assert.Equal(t, "v4", execution.Version)
}

func TestCreatePlanRejectsBadCategory(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/v1/plans",
		createPlanRequest{OrgID: "org1", Name: "x", Category: "rollout"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartSyncTaskQuorum(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreatePlan(&types.Plan{
		ID:       "sync1",
		OrgID:    "org1",
		Name:     "promote to prod",
		Category: types.PlanCategorySync,
	}))

	// First approver waits.
	resp, body := f.do(t, http.MethodPost, "/api/v1/plans/sync1/start-sync-task",
		startRequest{User: "alice"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wait syncTaskResponse
	require.NoError(t, json.Unmarshal(body, &wait))
	assert.Equal(t, []string{"alice"}, wait.Users)
	assert.Equal(t, 2, wait.Participants)
	assert.Equal(t, int(time.Hour.Seconds()), wait.WaitTimeout)
	assert.Equal(t, 0, f.starter.callCount())

	// The same approver again does not advance the quorum.
	resp, _ = f.do(t, http.MethodPost, "/api/v1/plans/sync1/start-sync-task",
		startRequest{User: "alice"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.starter.callCount())

	// A second distinct approver reaches the quorum and starts the batch.
	resp, body = f.do(t, http.MethodPost, "/api/v1/plans/sync1/start-sync-task",
		startRequest{User: "bob"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started syncTaskResponse
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, "task-123", started.TaskID)
	assert.Equal(t, string(types.StatusExecuting), started.TaskStatus)
	assert.ElementsMatch(t, []string{"alice", "bob"}, started.Users)
	assert.Equal(t, 1, f.starter.callCount())
}

func TestStartSyncTaskRejectsDeployPlan(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)
	resp, _ := f.do(t, http.MethodPost, "/api/v1/plans/plan1/start-sync-task",
		startRequest{User: "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartPlan(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)
	f.seedExecution(t, "e1", types.StatusNotStart, "select 1;")

	resp, body := f.do(t, http.MethodPost, "/api/v1/plans/plan1/start",
		startRequest{User: "alice"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "task-123", out["task_id"])
	require.Equal(t, 1, f.starter.callCount())
	assert.Equal(t, []string{"alice"}, f.starter.calls[0].users)
}

func uploadFile(t *testing.T, f *fixture, planID, filename string, content []byte) (*http.Response, uploadResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/plans/"+planID+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var out uploadResponse
	if resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func TestUploadCommandFileNormalizesText(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)

	resp, out := uploadFile(t, f, "plan1", "patch.sql", []byte("\xEF\xBB\xBFselect 1;\r\nselect 2;\r\n"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, out.Path)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "select 1;\nselect 2;\n", string(data))

	execution, err := f.store.GetExecution(out.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryFile, execution.Category)

	commands, err := f.cmds.List(context.Background(), out.ExecutionID, true)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, out.Path, commands[0].Input)
	assert.Equal(t, out.CommandID, commands[0].ID)
}

func TestUploadArchiveGainsEntrySentinel(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	part, err := zw.Create("main.sql")
	require.NoError(t, err)
	_, err = part.Write([]byte("select 1;"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	resp, out := uploadFile(t, f, "plan1", "bundle.zip", buf.Bytes())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	stored, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(stored), int64(len(stored)))
	require.NoError(t, err)

	names := make(map[string]string)
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		names[zf.Name] = string(content)
	}
	assert.Equal(t, "select 1;", names["main.sql"])
	assert.Equal(t, "main.sql", names[entrySentinel])
}

func TestListCommandsInlinesFileBlob(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)

	resp, out := uploadFile(t, f, "plan1", "patch.sql", []byte("select 42;\n"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/v1/executions/"+out.ExecutionID+"/commands", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var commands []*types.Command
	require.NoError(t, json.Unmarshal(body, &commands))
	require.Len(t, commands, 1)
	assert.Equal(t, "select 42;\n", commands[0].Input)

	// Once the blob is gone the listing is empty.
	require.NoError(t, os.Remove(out.Path))
	resp, body = f.do(t, http.MethodGet, "/api/v1/executions/"+out.ExecutionID+"/commands", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &commands))
	assert.Empty(t, commands)
}

func TestDeletePlanCascades(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)
	_, ids := f.seedExecution(t, "e1", types.StatusNotStart, "select 1;")

	resp, _ := f.do(t, http.MethodDelete, "/api/v1/plans/plan1", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := f.store.GetPlan("plan1")
	assert.Error(t, err)
	_, err = f.store.GetExecution("e1")
	assert.Error(t, err)
	_, err = f.cmds.Get(context.Background(), "e1", ids[0], "org1")
	assert.Error(t, err)
}

func TestDeleteCommandSoftDeletesForDeployPlans(t *testing.T) {
	f := newFixture(t)
	f.seedPlan(t)
	_, ids := f.seedExecution(t, "e1", types.StatusNotStart, "select 1;", "select 2;")

	resp, _ := f.do(t, http.MethodDelete, "/api/v1/executions/e1/commands/"+ids[0], nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Soft deleted: hidden from listings but still present for replay.
	commands, err := f.cmds.List(context.Background(), "e1", true)
	require.NoError(t, err)
	require.Len(t, commands, 1)

	cmd, err := f.cmds.Get(context.Background(), "e1", ids[0], "org1")
	require.NoError(t, err)
	assert.True(t, cmd.HasDelete)
}
