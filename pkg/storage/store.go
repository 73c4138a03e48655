package storage

import (
	"errors"

	"github.com/cuemby/behemoth/pkg/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for control-plane entity storage.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	ListWorkersByOrg(orgID string) ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id string) error

	// Assets
	CreateAsset(asset *types.Asset) error
	GetAsset(id string) (*types.Asset, error)
	ListAssets() ([]*types.Asset, error)
	DeleteAsset(id string) error

	// Environments
	CreateEnvironment(env *types.Environment) error
	GetEnvironment(id string) (*types.Environment, error)
	ListEnvironments() ([]*types.Environment, error)
	UpdateEnvironment(env *types.Environment) error
	DeleteEnvironment(id string) error

	// Plans
	CreatePlan(plan *types.Plan) error
	GetPlan(id string) (*types.Plan, error)
	ListPlans() ([]*types.Plan, error)
	UpdatePlan(plan *types.Plan) error
	DeletePlan(id string) error

	// Executions
	CreateExecution(execution *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutions() ([]*types.Execution, error)
	ListExecutionsByPlan(planID string) ([]*types.Execution, error)
	ListExecutionsByStatus(status types.TaskStatus) ([]*types.Execution, error)
	UpdateExecution(execution *types.Execution) error
	DeleteExecution(id string) error

	// Playbacks
	CreatePlayback(playback *types.Playback) error
	GetPlayback(id string) (*types.Playback, error)
	ListPlaybacks() ([]*types.Playback, error)
	DeletePlayback(id string) error

	// Playback executions (relation rows, append-only)
	CreatePlaybackExecution(pe *types.PlaybackExecution) error
	GetPlaybackExecution(id string) (*types.PlaybackExecution, error)
	ListPlaybackExecutionsByPlayback(playbackID string) ([]*types.PlaybackExecution, error)
	ListPlaybackExecutionsByExecution(executionID string) ([]*types.PlaybackExecution, error)

	// Utility
	Close() error
}
