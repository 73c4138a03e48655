package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cuemby/behemoth/pkg/types"
)

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	var (
		workers []*types.Worker
		err     error
	)
	if orgID := r.URL.Query().Get("org_id"); orgID != "" {
		workers, err = s.store.ListWorkersByOrg(orgID)
	} else {
		workers, err = s.store.ListWorkers()
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	var worker types.Worker
	if err := decodeJSON(r, &worker); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if worker.Name == "" || worker.OrgID == "" {
		writeError(w, http.StatusBadRequest, "name and org_id are required")
		return
	}
	if worker.ID == "" {
		worker.ID = uuid.New().String()
	}
	if err := s.store.CreateWorker(&worker); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.Add(&worker)
	writeJSON(w, http.StatusCreated, &worker)
}

// handleUpdateWorker persists worker changes and marks the registry entry
// dirty so the next dispatch re-reads it.
func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetWorker(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var worker types.Worker
	if err := decodeJSON(r, &worker); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	worker.ID = existing.ID
	if err := s.store.UpdateWorker(&worker); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.MarkChanged(existing)
	writeJSON(w, http.StatusOK, &worker)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.store.GetWorker(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteWorker(worker.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.Remove(worker.OrgID, worker.Name, worker.GetLabels())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.ListAssets()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var asset types.Asset
	if err := decodeJSON(r, &asset); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if asset.Name == "" || asset.OrgID == "" {
		writeError(w, http.StatusBadRequest, "name and org_id are required")
		return
	}
	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}
	for _, acc := range asset.Accounts {
		if acc.ID == "" {
			acc.ID = uuid.New().String()
		}
	}
	if err := s.store.CreateAsset(&asset); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &asset)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAsset(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.store.ListEnvironments()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var env types.Environment
	if err := decodeJSON(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.Name == "" || env.OrgID == "" {
		writeError(w, http.StatusBadRequest, "name and org_id are required")
		return
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if err := s.store.CreateEnvironment(&env); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &env)
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEnvironment(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
