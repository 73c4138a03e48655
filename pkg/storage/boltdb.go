package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cuemby/behemoth/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketWorkers            = []byte("workers")
	bucketAssets             = []byte("assets")
	bucketEnvironments       = []byte("environments")
	bucketPlans              = []byte("plans")
	bucketExecutions         = []byte("executions")
	bucketPlaybacks          = []byte("playbacks")
	bucketPlaybackExecutions = []byte("playback_executions")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "behemoth.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkers,
			bucketAssets,
			bucketEnvironments,
			bucketPlans,
			bucketExecutions,
			bucketPlaybacks,
			bucketPlaybackExecutions,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Worker operations
func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.put(bucketWorkers, worker.ID, worker)
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var worker types.Worker
	if err := s.get(bucketWorkers, id, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) ListWorkersByOrg(orgID string) ([]*types.Worker, error) {
	workers, err := s.ListWorkers()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Worker
	for _, worker := range workers {
		if worker.OrgID == orgID {
			filtered = append(filtered, worker)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.CreateWorker(worker) // Same as create (upsert)
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.delete(bucketWorkers, id)
}

// Asset operations
func (s *BoltStore) CreateAsset(asset *types.Asset) error {
	return s.put(bucketAssets, asset.ID, asset)
}

func (s *BoltStore) GetAsset(id string) (*types.Asset, error) {
	var asset types.Asset
	if err := s.get(bucketAssets, id, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *BoltStore) ListAssets() ([]*types.Asset, error) {
	var assets []*types.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(k, v []byte) error {
			var asset types.Asset
			if err := json.Unmarshal(v, &asset); err != nil {
				return err
			}
			assets = append(assets, &asset)
			return nil
		})
	})
	return assets, err
}

func (s *BoltStore) DeleteAsset(id string) error {
	return s.delete(bucketAssets, id)
}

// Environment operations
func (s *BoltStore) CreateEnvironment(env *types.Environment) error {
	return s.put(bucketEnvironments, env.ID, env)
}

func (s *BoltStore) GetEnvironment(id string) (*types.Environment, error) {
	var env types.Environment
	if err := s.get(bucketEnvironments, id, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *BoltStore) ListEnvironments() ([]*types.Environment, error) {
	var envs []*types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvironments).ForEach(func(k, v []byte) error {
			var env types.Environment
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			envs = append(envs, &env)
			return nil
		})
	})
	return envs, err
}

func (s *BoltStore) UpdateEnvironment(env *types.Environment) error {
	return s.CreateEnvironment(env)
}

func (s *BoltStore) DeleteEnvironment(id string) error {
	return s.delete(bucketEnvironments, id)
}

// Plan operations
func (s *BoltStore) CreatePlan(plan *types.Plan) error {
	return s.put(bucketPlans, plan.ID, plan)
}

func (s *BoltStore) GetPlan(id string) (*types.Plan, error) {
	var plan types.Plan
	if err := s.get(bucketPlans, id, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *BoltStore) ListPlans() ([]*types.Plan, error) {
	var plans []*types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(k, v []byte) error {
			var plan types.Plan
			if err := json.Unmarshal(v, &plan); err != nil {
				return err
			}
			plans = append(plans, &plan)
			return nil
		})
	})
	return plans, err
}

func (s *BoltStore) UpdatePlan(plan *types.Plan) error {
	return s.CreatePlan(plan)
}

func (s *BoltStore) DeletePlan(id string) error {
	return s.delete(bucketPlans, id)
}

// Execution operations
func (s *BoltStore) CreateExecution(execution *types.Execution) error {
	return s.put(bucketExecutions, execution.ID, execution)
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var execution types.Execution
	if err := s.get(bucketExecutions, id, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

func (s *BoltStore) ListExecutions() ([]*types.Execution, error) {
	var executions []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var execution types.Execution
			if err := json.Unmarshal(v, &execution); err != nil {
				return err
			}
			executions = append(executions, &execution)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})
	return executions, nil
}

func (s *BoltStore) ListExecutionsByPlan(planID string) ([]*types.Execution, error) {
	executions, err := s.ListExecutions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Execution
	for _, execution := range executions {
		if execution.PlanID == planID {
			filtered = append(filtered, execution)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListExecutionsByStatus(status types.TaskStatus) ([]*types.Execution, error) {
	executions, err := s.ListExecutions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Execution
	for _, execution := range executions {
		if execution.Status == status {
			filtered = append(filtered, execution)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateExecution(execution *types.Execution) error {
	return s.CreateExecution(execution)
}

func (s *BoltStore) DeleteExecution(id string) error {
	return s.delete(bucketExecutions, id)
}

// Playback operations
func (s *BoltStore) CreatePlayback(playback *types.Playback) error {
	return s.put(bucketPlaybacks, playback.ID, playback)
}

func (s *BoltStore) GetPlayback(id string) (*types.Playback, error) {
	var playback types.Playback
	if err := s.get(bucketPlaybacks, id, &playback); err != nil {
		return nil, err
	}
	return &playback, nil
}

func (s *BoltStore) ListPlaybacks() ([]*types.Playback, error) {
	var playbacks []*types.Playback
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlaybacks).ForEach(func(k, v []byte) error {
			var playback types.Playback
			if err := json.Unmarshal(v, &playback); err != nil {
				return err
			}
			playbacks = append(playbacks, &playback)
			return nil
		})
	})
	return playbacks, err
}

func (s *BoltStore) DeletePlayback(id string) error {
	return s.delete(bucketPlaybacks, id)
}

// Playback execution operations
func (s *BoltStore) CreatePlaybackExecution(pe *types.PlaybackExecution) error {
	return s.put(bucketPlaybackExecutions, pe.ID, pe)
}

func (s *BoltStore) GetPlaybackExecution(id string) (*types.PlaybackExecution, error) {
	var pe types.PlaybackExecution
	if err := s.get(bucketPlaybackExecutions, id, &pe); err != nil {
		return nil, err
	}
	return &pe, nil
}

func (s *BoltStore) listPlaybackExecutions() ([]*types.PlaybackExecution, error) {
	var rows []*types.PlaybackExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlaybackExecutions).ForEach(func(k, v []byte) error {
			var pe types.PlaybackExecution
			if err := json.Unmarshal(v, &pe); err != nil {
				return err
			}
			rows = append(rows, &pe)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows, nil
}

func (s *BoltStore) ListPlaybackExecutionsByPlayback(playbackID string) ([]*types.PlaybackExecution, error) {
	rows, err := s.listPlaybackExecutions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.PlaybackExecution
	for _, pe := range rows {
		if pe.PlaybackID == playbackID {
			filtered = append(filtered, pe)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListPlaybackExecutionsByExecution(executionID string) ([]*types.PlaybackExecution, error) {
	rows, err := s.listPlaybackExecutions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.PlaybackExecution
	for _, pe := range rows {
		if pe.ExecutionID == executionID {
			filtered = append(filtered, pe)
		}
	}
	return filtered, nil
}
