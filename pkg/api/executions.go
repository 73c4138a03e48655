package api

import (
	"context"
	"net/http"
	"os"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/types"
)

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.store.ListExecutions()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if planID := r.URL.Query().Get("plan_id"); planID != "" {
		filtered := executions[:0]
		for _, e := range executions {
			if e.PlanID == planID {
				filtered = append(filtered, e)
			}
		}
		executions = filtered
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := s.store.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// handleListCommands lists an execution's commands. For a file-category
// execution the single command's input is the stored blob path; the blob
// content is inlined when it still exists, otherwise the list is empty.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	execution, err := s.store.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	commands, err := s.cmds.List(r.Context(), execution.ID, true)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if execution.Category == types.CategoryFile {
		if len(commands) == 0 {
			writeJSON(w, http.StatusOK, []*types.Command{})
			return
		}
		data, err := os.ReadFile(commands[0].Input)
		if err != nil {
			writeJSON(w, http.StatusOK, []*types.Command{})
			return
		}
		inlined := *commands[0]
		inlined.Input = string(data)
		writeJSON(w, http.StatusOK, []*types.Command{&inlined})
		return
	}

	writeJSON(w, http.StatusOK, commands)
}

type operateRequest struct {
	Action string `json:"action"`
	User   string `json:"user"`
}

// handleOperateTask applies an operator action to an execution: start
// resumes its plan's batch, pause halts a running execution, success
// closes a paused or running one.
func (s *Server) handleOperateTask(w http.ResponseWriter, r *http.Request) {
	var req operateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	execution, err := s.store.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	taskID := taskIDOf(execution)

	switch req.Action {
	case "start":
		plan, err := s.store.GetPlan(execution.PlanID)
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
		startedTask, err := s.starter.StartBatch(context.Background(), plan, executions, []string{req.User})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": startedTask})

	case "pause":
		if execution.Status != types.StatusExecuting {
			writeError(w, http.StatusBadRequest, "task is not executing")
			return
		}
		if err := s.machine.Transition(execution, types.StatusPause, "task was manually paused"); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.stream.Warn(taskID, "task was manually paused")
		writeJSON(w, http.StatusOK, map[string]string{"task_status": string(execution.Status)})

	case "success":
		if err := s.machine.Transition(execution, types.StatusSuccess, ""); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.stream.Success(taskID, "task success")
		s.recordPromotion(execution)
		writeJSON(w, http.StatusOK, map[string]string{"task_status": string(execution.Status)})

	default:
		writeError(w, http.StatusBadRequest, "unsupported action: "+req.Action)
	}
}

// handleDeleteCommand removes a command. Deploy-plan commands are soft
// deleted so playback replay can still clone them; everything else is
// removed outright.
func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	execution, err := s.store.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := s.cmds.SoftDelete(r.Context(), execution.ID, chi.URLParam(r, "commandID")); err != nil {
		writeStoreError(w, err)
		return
	}

	plan, err := s.store.GetPlan(execution.PlanID)
	if err == nil && plan.Category != types.PlanCategoryDeploy {
		if err := s.cmds.HardDeleteMarked(r.Context(), execution.ID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type dashboardResponse struct {
	Totals map[string]int     `json:"totals"`
	Recent []*types.Execution `json:"recent"`
}

// handleDashboard returns execution totals by status and the ten most
// recent executions.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	executions, err := s.store.ListExecutions()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	totals := map[string]int{
		string(types.StatusNotStart):  0,
		string(types.StatusExecuting): 0,
		string(types.StatusPause):     0,
		string(types.StatusSuccess):   0,
		string(types.StatusFailed):    0,
	}
	for _, e := range executions {
		totals[string(e.Status)]++
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})
	if len(executions) > 10 {
		executions = executions[:10]
	}

	writeJSON(w, http.StatusOK, dashboardResponse{Totals: totals, Recent: executions})
}

// recordPromotion appends the playback row for a finished deploy
// execution. Recording failures are logged by the recorder's caller and
// never surface to the client.
func (s *Server) recordPromotion(execution *types.Execution) {
	plan, err := s.store.GetPlan(execution.PlanID)
	if err != nil {
		return
	}
	if err := s.recorder.RecordSuccess(plan, execution); err != nil {
		logger := log.WithExecutionID(execution.ID)
		logger.Error().Err(err).Msg("Playback recording failed")
	}
}

func taskIDOf(execution *types.Execution) string {
	if execution.TaskID != "" {
		return execution.TaskID
	}
	return execution.ID
}

// sortExecutions orders a plan's executions by creation time so batches
// replay in authoring order.
func sortExecutions(executions []*types.Execution) {
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})
}
