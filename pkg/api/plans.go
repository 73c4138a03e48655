package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/cuemby/behemoth/pkg/parser"
	"github.com/cuemby/behemoth/pkg/types"
)

type createPlanRequest struct {
	OrgID            string `json:"org_id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	Strategy         string `json:"strategy"`
	PlaybackStrategy string `json:"playback_strategy"`
	EnvironmentID    string `json:"environment_id"`
	AssetID          string `json:"asset_id"`
	AccountID        string `json:"account_id"`
	PlaybackID       string `json:"playback_id"`
	Version          string `json:"version"`
	// CommandText is split into the plan's initial command run.
	CommandText string `json:"command_text"`
	// PlaybackExecutionIDs materializes recorded history under a sync plan.
	PlaybackExecutionIDs []string `json:"playback_execution_ids"`
	UserID               string   `json:"user_id"`
}

type createPlanResponse struct {
	Plan        *types.Plan `json:"plan"`
	ExecutionID string      `json:"execution_id,omitempty"`
}

// handleCreatePlan creates a plan. A deploy plan with command text gets a
// fresh execution whose commands are the split statements; a sync plan
// with playback execution ids gets its executions cloned from history.
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "name and org_id are required")
		return
	}

	category := types.PlanCategory(req.Category)
	if category != types.PlanCategoryDeploy && category != types.PlanCategorySync {
		writeError(w, http.StatusBadRequest, "category must be deploy or sync")
		return
	}

	plan := &types.Plan{
		ID:               uuid.New().String(),
		OrgID:            req.OrgID,
		Name:             req.Name,
		Category:         category,
		Strategy:         types.PlanStrategy(req.Strategy),
		PlaybackStrategy: types.PlaybackStrategy(req.PlaybackStrategy),
		EnvironmentID:    req.EnvironmentID,
		AssetID:          req.AssetID,
		AccountID:        req.AccountID,
		PlaybackID:       req.PlaybackID,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if plan.Strategy == "" {
		plan.Strategy = types.PlanFailedStop
	}
	if plan.PlaybackStrategy == "" {
		if plan.PlaybackID != "" {
			plan.PlaybackStrategy = types.PlaybackAutoPromote
		} else {
			plan.PlaybackStrategy = types.PlaybackNeverPromote
		}
	}
	if err := s.store.CreatePlan(plan); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := createPlanResponse{Plan: plan}

	switch {
	case category == types.PlanCategoryDeploy && req.CommandText != "":
		executionID, err := s.createCommandRun(r.Context(), plan, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.ExecutionID = executionID

	case category == types.PlanCategorySync && len(req.PlaybackExecutionIDs) > 0:
		if _, err := s.recorder.Materialize(r.Context(), plan, req.PlaybackExecutionIDs); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// createCommandRun splits the plan's command text by the target database
// family and bulk-creates the dense command run under a new execution.
func (s *Server) createCommandRun(ctx context.Context, plan *types.Plan, req createPlanRequest) (string, error) {
	asset, err := s.store.GetAsset(plan.AssetID)
	if err != nil {
		return "", err
	}
	statements, err := parser.Split(asset.Type, req.CommandText)
	if err != nil {
		return "", err
	}

	execution := &types.Execution{
		ID:        uuid.New().String(),
		OrgID:     plan.OrgID,
		PlanID:    plan.ID,
		Name:      plan.Name,
		Category:  types.CategoryCmd,
		Status:    types.StatusNotStart,
		Version:   req.Version,
		AssetID:   plan.AssetID,
		AccountID: plan.AccountID,
		UserID:    req.UserID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateExecution(execution); err != nil {
		return "", err
	}

	commands := make([]*types.Command, 0, len(statements))
	for i, stmt := range statements {
		commands = append(commands, &types.Command{
			ID:          uuid.New().String(),
			OrgID:       plan.OrgID,
			ExecutionID: execution.ID,
			Index:       i,
			Input:       stmt.Text,
			Output:      stmt.Comment,
			Status:      types.CommandNotStart,
		})
	}
	if err := s.cmds.BulkCreate(ctx, commands); err != nil {
		s.store.DeleteExecution(execution.ID)
		return "", err
	}
	return execution.ID, nil
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListPlans()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleDeletePlan removes a plan and cascades to its executions and
// their commands.
func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	executions, err := s.store.ListExecutionsByPlan(plan.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, e := range executions {
		if err := s.cmds.DeleteByExecution(r.Context(), e.ID); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := s.store.DeleteExecution(e.ID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if err := s.store.DeletePlan(plan.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startRequest struct {
	User string `json:"user"`
}

// handleStartPlan launches a deploy plan's batch.
func (s *Server) handleStartPlan(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := s.store.GetPlan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	executions, err := s.store.ListExecutionsByPlan(plan.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sortExecutions(executions)

	// The batch outlives this request.
	taskID, err := s.starter.StartBatch(context.Background(), plan, executions, []string{req.User})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"task_id":     taskID,
		"task_status": string(types.StatusExecuting),
	})
}

type syncTaskResponse struct {
	TaskID       string   `json:"task_id,omitempty"`
	TaskStatus   string   `json:"task_status,omitempty"`
	Users        []string `json:"users"`
	TTL          int      `json:"ttl,omitempty"`
	Participants int      `json:"participants,omitempty"`
	WaitTimeout  int      `json:"wait_timeout,omitempty"`
}

// handleStartSyncTask collects distinct approvers for a sync plan and
// starts its batch once the quorum is reached. Approvals expire after the
// configured idle window.
func (s *Server) handleStartSyncTask(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil || req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	plan, err := s.store.GetPlan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if plan.Category != types.PlanCategorySync {
		writeError(w, http.StatusBadRequest, "plan is not a sync plan")
		return
	}

	users := s.addApprover(plan.ID, req.User)
	if len(users) < s.cfg.SyncRequiredParticipants {
		writeJSON(w, http.StatusOK, syncTaskResponse{
			Users:        users,
			TTL:          int(s.cfg.SyncWaitIdle.Seconds()),
			Participants: s.cfg.SyncRequiredParticipants,
			WaitTimeout:  int(s.cfg.SyncWaitIdle.Seconds()),
		})
		return
	}

	executions, err := s.store.ListExecutionsByPlan(plan.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sortExecutions(executions)

	// The batch outlives this request.
	taskID, err := s.starter.StartBatch(context.Background(), plan, executions, users)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.approvers.Delete(plan.ID)

	writeJSON(w, http.StatusCreated, syncTaskResponse{
		TaskID:     taskID,
		TaskStatus: string(types.StatusExecuting),
		Users:      users,
	})
}

// addApprover records a distinct participant for a plan and returns the
// current set.
func (s *Server) addApprover(planID, user string) []string {
	var users []string
	if v, ok := s.approvers.Get(planID); ok {
		users = v.([]string)
	}
	for _, u := range users {
		if u == user {
			return users
		}
	}
	users = append(users, user)
	s.approvers.Set(planID, users, gocache.DefaultExpiration)
	return users
}
