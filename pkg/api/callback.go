package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/metrics"
	"github.com/cuemby/behemoth/pkg/types"
)

type callbackRequest struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	Timestamp int64  `json:"timestamp"`
}

type callbackResponse struct {
	Continue bool   `json:"continue"`
	Detail   string `json:"detail,omitempty"`
}

// handleCommandCallback ingests one command result from the remote agent.
// The agent treats any non-2xx as fatal, so every recoverable condition
// answers 200 with continue=false instead of an error status.
func (s *Server) handleCommandCallback(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CallbackDuration)

	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != string(types.CommandSuccess) && req.Status != string(types.CommandFailed) {
		writeError(w, http.StatusBadRequest, "unsupported command status: "+req.Status)
		return
	}
	metrics.CommandCallbacks.WithLabelValues(req.Status).Inc()

	execution, err := s.store.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// A callback racing a pause, failure, or orphan sweep must not mutate
	// anything; tell the agent to stop.
	if execution.Status != types.StatusExecuting {
		writeJSON(w, http.StatusOK, callbackResponse{Continue: false, Detail: "task not running"})
		return
	}

	cmd, err := s.cmds.Get(r.Context(), execution.ID, req.CommandID, execution.OrgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	output := req.Output
	if execution.Category == types.CategoryFile {
		if output, err = s.writeOutputBlob(execution.ID, cmd.ID, req.Output); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if err := s.cmds.UpdateFields(r.Context(), execution.ID, cmd.ID, cmdstore.Update{
		Status:    types.CommandStatus(req.Status),
		Output:    output,
		Timestamp: req.Timestamp,
	}); err != nil {
		writeStoreError(w, err)
		return
	}

	taskID := taskIDOf(execution)
	if req.Status == string(types.CommandFailed) {
		s.stream.Warn(taskID, "Command input: %s", cmd.Input)
		s.stream.Raw(taskID, req.Output)
		if err := s.machine.Transition(execution, types.StatusPause, "see command output"); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// The batch observes the failure even though the execution paused.
		s.cache.Latch(execution.ID, string(types.StatusFailed))
		writeJSON(w, http.StatusOK, callbackResponse{Continue: false, Detail: "see command output"})
		return
	}

	s.stream.Info(taskID, "Command input: %s", cmd.Input)
	s.stream.Info(taskID, "Command output: %s", req.Output)

	pending, err := s.cmds.List(r.Context(), execution.ID, false)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(pending) == 0 {
		if err := s.machine.Transition(execution, types.StatusSuccess, ""); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.recordPromotion(execution)
	}
	writeJSON(w, http.StatusOK, callbackResponse{Continue: true})
}

// writeOutputBlob persists a file-category command's output outside the
// command store and returns the stored reference path.
func (s *Server) writeOutputBlob(executionID, commandID, output string) (string, error) {
	rel := filepath.Join("behemoth", "output", executionID, commandID+".output")
	abs := filepath.Join(s.cfg.DataDir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(output), 0644); err != nil {
		return "", fmt.Errorf("failed to write output blob: %w", err)
	}
	return rel, nil
}
