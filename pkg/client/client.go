package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/behemoth/pkg/types"
)

const requestTimeout = 10 * time.Second

// Client wraps the Behemoth control API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the control plane at addr.
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type apiError struct {
	Detail string `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Detail)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// PlanSpec is the plan creation payload.
type PlanSpec struct {
	OrgID                string   `json:"org_id"`
	Name                 string   `json:"name"`
	Category             string   `json:"category"`
	Strategy             string   `json:"strategy,omitempty"`
	PlaybackStrategy     string   `json:"playback_strategy,omitempty"`
	EnvironmentID        string   `json:"environment_id,omitempty"`
	AssetID              string   `json:"asset_id,omitempty"`
	AccountID            string   `json:"account_id,omitempty"`
	PlaybackID           string   `json:"playback_id,omitempty"`
	Version              string   `json:"version,omitempty"`
	CommandText          string   `json:"command_text,omitempty"`
	PlaybackExecutionIDs []string `json:"playback_execution_ids,omitempty"`
	UserID               string   `json:"user_id,omitempty"`
}

// CreatePlanResult is the plan creation response.
type CreatePlanResult struct {
	Plan        *types.Plan `json:"plan"`
	ExecutionID string      `json:"execution_id"`
}

// CreatePlan creates a plan, with its initial command run when the spec
// carries command text.
func (c *Client) CreatePlan(ctx context.Context, spec PlanSpec) (*CreatePlanResult, error) {
	var out CreatePlanResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/plans", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlans lists all plans.
func (c *Client) ListPlans(ctx context.Context) ([]*types.Plan, error) {
	var out []*types.Plan
	if err := c.do(ctx, http.MethodGet, "/api/v1/plans", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePlan removes a plan and everything under it.
func (c *Client) DeletePlan(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/plans/"+id, nil, nil)
}

// StartResult is the batch start response.
type StartResult struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
}

// StartPlan launches a deploy plan's batch.
func (c *Client) StartPlan(ctx context.Context, id, user string) (*StartResult, error) {
	var out StartResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/plans/"+id+"/start",
		map[string]string{"user": user}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncTaskResult is the sync quorum response.
type SyncTaskResult struct {
	TaskID       string   `json:"task_id"`
	TaskStatus   string   `json:"task_status"`
	Users        []string `json:"users"`
	Participants int      `json:"participants"`
	WaitTimeout  int      `json:"wait_timeout"`
}

// StartSyncTask adds an approver to a sync plan's quorum.
func (c *Client) StartSyncTask(ctx context.Context, id, user string) (*SyncTaskResult, error) {
	var out SyncTaskResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/plans/"+id+"/start-sync-task",
		map[string]string{"user": user}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadResult is the command-file upload response.
type UploadResult struct {
	ExecutionID string `json:"execution_id"`
	CommandID   string `json:"command_id"`
	Path        string `json:"path"`
}

// UploadCommandFile uploads a local command file under a plan.
func (c *Client) UploadCommandFile(ctx context.Context, planID, path string) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/plans/"+planID+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("upload failed: status %d: %s", resp.StatusCode, data)
	}
	var out UploadResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExecutions lists executions, optionally scoped to one plan.
func (c *Client) ListExecutions(ctx context.Context, planID string) ([]*types.Execution, error) {
	path := "/api/v1/executions"
	if planID != "" {
		path += "?plan_id=" + planID
	}
	var out []*types.Execution
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OperateTask applies an operator action to an execution.
func (c *Client) OperateTask(ctx context.Context, executionID, action, user string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/executions/"+executionID+"/operate_task",
		map[string]string{"action": action, "user": user}, nil)
}

// Dashboard is the execution overview payload.
type Dashboard struct {
	Totals map[string]int     `json:"totals"`
	Recent []*types.Execution `json:"recent"`
}

// GetDashboard fetches execution totals and recent activity.
func (c *Client) GetDashboard(ctx context.Context) (*Dashboard, error) {
	var out Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/v1/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWorker registers a worker host.
func (c *Client) CreateWorker(ctx context.Context, worker *types.Worker) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(ctx, http.MethodPost, "/api/v1/workers", worker, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkers lists registered workers.
func (c *Client) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	var out []*types.Worker
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAsset registers a target database host.
func (c *Client) CreateAsset(ctx context.Context, asset *types.Asset) (*types.Asset, error) {
	var out types.Asset
	if err := c.do(ctx, http.MethodPost, "/api/v1/assets", asset, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEnvironment registers a named asset set.
func (c *Client) CreateEnvironment(ctx context.Context, env *types.Environment) (*types.Environment, error) {
	var out types.Environment
	if err := c.do(ctx, http.MethodPost, "/api/v1/environments", env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
