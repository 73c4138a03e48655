package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
	gocache "github.com/patrickmn/go-cache"
)

// ErrNoWorker is returned when selection exhausts every candidate.
var ErrNoWorker = errors.New("not found a valid worker")

// dirtyTTL bounds how long a changed-worker marker survives without a
// registry rebuild picking it up.
const dirtyTTL = 24 * time.Hour

// Prober checks that a worker accepts an authenticated SSH handshake.
type Prober interface {
	TestConnectivity(ctx context.Context, worker *types.Worker) error
}

type dirtyEntry struct {
	ID     string
	Name   string
	OrgID  string
	Labels []string
}

// Registry is the process-wide pool of usable workers, scoped by org and
// bucketed by label. Workers with no label live in a per-org default
// bucket. Selection pops: the returned worker leaves the pool until the
// caller releases it.
type Registry struct {
	store  storage.Store
	prober Prober
	dirty  *gocache.Cache

	mu sync.Mutex
	// org → label → worker name → worker
	workers map[string]map[string]map[string]*types.Worker
	// org → worker name → worker
	defaults map[string]map[string]*types.Worker
}

// New creates an empty registry backed by the given store.
func New(store storage.Store, prober Prober) *Registry {
	return &Registry{
		store:    store,
		prober:   prober,
		dirty:    gocache.New(dirtyTTL, 10*time.Minute),
		workers:  make(map[string]map[string]map[string]*types.Worker),
		defaults: make(map[string]map[string]*types.Worker),
	}
}

func (r *Registry) ensureOrg(orgID string) {
	if r.workers[orgID] == nil {
		r.workers[orgID] = make(map[string]map[string]*types.Worker)
	}
	if r.defaults[orgID] == nil {
		r.defaults[orgID] = make(map[string]*types.Worker)
	}
}

// Add places a worker into every bucket its labels name, or into the
// default bucket when it has none.
func (r *Registry) Add(worker *types.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(worker)
}

func (r *Registry) addLocked(worker *types.Worker) {
	r.ensureOrg(worker.OrgID)
	labels := worker.GetLabels()
	if len(labels) == 0 {
		r.defaults[worker.OrgID][worker.Name] = worker
		return
	}
	for _, label := range labels {
		if r.workers[worker.OrgID][label] == nil {
			r.workers[worker.OrgID][label] = make(map[string]*types.Worker)
		}
		r.workers[worker.OrgID][label][worker.Name] = worker
	}
}

// Remove takes a worker out of all its buckets.
func (r *Registry) Remove(orgID, name string, labels []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(orgID, name, labels)
}

func (r *Registry) removeLocked(orgID, name string, labels []string) {
	r.ensureOrg(orgID)
	if len(labels) == 0 {
		delete(r.defaults[orgID], name)
		return
	}
	for _, label := range labels {
		if bucket := r.workers[orgID][label]; bucket != nil {
			delete(bucket, name)
		}
	}
}

// MarkChanged records that a worker was added, updated, or deleted so the
// next RefreshAll rebuilds its registry slots. The marker expires after a
// day.
func (r *Registry) MarkChanged(worker *types.Worker) {
	r.dirty.Set(worker.ID, &dirtyEntry{
		ID:     worker.ID,
		Name:   worker.Name,
		OrgID:  worker.OrgID,
		Labels: worker.GetLabels(),
	}, gocache.DefaultExpiration)
}

// RefreshAll drains the dirty list: each marked worker is dropped from the
// registry and re-added from the store if it still exists. Called before
// every dispatch.
func (r *Registry) RefreshAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, item := range r.dirty.Items() {
		entry := item.Object.(*dirtyEntry)
		r.removeLocked(entry.OrgID, entry.Name, entry.Labels)
		if worker, err := r.store.GetWorker(entry.ID); err == nil {
			r.addLocked(worker)
		}
		r.dirty.Delete(id)
	}
}

// Fill seeds the registry with every stored worker, used at startup.
func (r *Registry) Fill() error {
	workers, err := r.store.ListWorkers()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, worker := range workers {
		r.addLocked(worker)
	}
	return nil
}

// Select pops one worker for the org. With labels, the bucket whose label
// is most similar to the first requested label is preferred, falling back
// to the default bucket. With no labels any worker is taken. Returns nil
// when the pool is empty.
func (r *Registry) Select(orgID string, labels []string) *types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureOrg(orgID)

	if len(labels) == 0 {
		if w := popAny(r.defaults[orgID]); w != nil {
			return w
		}
		for _, bucket := range r.workers[orgID] {
			if w := popAny(bucket); w != nil {
				r.removeLocked(orgID, w.Name, w.GetLabels())
				return w
			}
		}
		return nil
	}

	bestRatio, bestLabel := 0.0, ""
	for label := range r.workers[orgID] {
		ratio := Similarity(labels[0], label)
		if ratio <= bestRatio {
			continue
		}
		bestRatio, bestLabel = ratio, label
	}

	if bestLabel != "" {
		if w := popAny(r.workers[orgID][bestLabel]); w != nil {
			r.removeLocked(orgID, w.Name, w.GetLabels())
			return w
		}
	}
	return popAny(r.defaults[orgID])
}

// popAny removes and returns an arbitrary worker from the bucket.
func popAny(bucket map[string]*types.Worker) *types.Worker {
	for name, worker := range bucket {
		delete(bucket, name)
		return worker
	}
	return nil
}

// Release returns a popped worker to the pool after its execution ends.
func (r *Registry) Release(worker *types.Worker) {
	r.Add(worker)
}

// Acquire selects workers until one passes the connectivity probe.
// Unreachable workers stay out of the pool until marked changed. Fails
// with ErrNoWorker once candidates are exhausted.
func (r *Registry) Acquire(ctx context.Context, orgID string, labels []string) (*types.Worker, error) {
	for {
		worker := r.Select(orgID, labels)
		if worker == nil {
			return nil, ErrNoWorker
		}
		if err := r.prober.TestConnectivity(ctx, worker); err != nil {
			logger := log.WithComponent("registry")
			logger.Warn().
				Str("worker", worker.Name).
				Err(err).
				Msg("Worker is not valid")
			continue
		}
		return worker, nil
	}
}
