package registry

import (
	"context"
	"errors"
	"io"
	"testing"

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

type fakeProber struct {
	// unreachable worker names
	down map[string]bool
}

func (p *fakeProber) TestConnectivity(ctx context.Context, w *types.Worker) error {
	if p.down[w.Name] {
		return errors.New("connection refused")
	}
	return nil
}

func newTestRegistry(t *testing.T, prober Prober) (*Registry, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if prober == nil {
		prober = &fakeProber{}
	}
	return New(store, prober), store
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"oracle", "oracle", 1.0},
		{"", "", 1.0},
		{"abc", "xyz", 0.0},
		{"oracl", "oracle", 2.0 * 5 / 11},
		{"mysql8", "mysql", 2.0 * 5 / 11},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9, "%s vs %s", tt.a, tt.b)
	}
}

func TestSelectByLabelAffinity(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	r.Add(&types.Worker{ID: "w1", Name: "ora-01", OrgID: "org-1", Labels: []string{"oracle"}})
	r.Add(&types.Worker{ID: "w2", Name: "my-01", OrgID: "org-1", Labels: []string{"mysql"}})

	got := r.Select("org-1", []string{"oracl"})
	require.NotNil(t, got)
	assert.Equal(t, "ora-01", got.Name)

	// Popped workers stay out until released; with the closest bucket
	// drained and no default workers, selection comes up empty.
	assert.Nil(t, r.Select("org-1", []string{"oracl"}))

	second := r.Select("org-1", []string{"mysql"})
	require.NotNil(t, second)
	assert.Equal(t, "my-01", second.Name)

	r.Release(got)
	again := r.Select("org-1", []string{"oracle"})
	require.NotNil(t, again)
	assert.Equal(t, "ora-01", again.Name)
}

func TestSelectFallsBackToDefaultBucket(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	r.Add(&types.Worker{ID: "w1", Name: "plain-01", OrgID: "org-1"})

	got := r.Select("org-1", []string{"oracle"})
	require.NotNil(t, got)
	assert.Equal(t, "plain-01", got.Name)
}

func TestSelectWithoutLabels(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	r.Add(&types.Worker{ID: "w1", Name: "plain-01", OrgID: "org-1"})
	r.Add(&types.Worker{ID: "w2", Name: "ora-01", OrgID: "org-1", Labels: []string{"oracle"}})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		w := r.Select("org-1", nil)
		require.NotNil(t, w)
		seen[w.Name] = true
	}
	assert.True(t, seen["plain-01"])
	assert.True(t, seen["ora-01"])
	assert.Nil(t, r.Select("org-1", nil))
}

func TestOrgsAreIsolated(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	r.Add(&types.Worker{ID: "w1", Name: "ora-01", OrgID: "org-1", Labels: []string{"oracle"}})

	assert.Nil(t, r.Select("org-2", []string{"oracle"}))
	assert.NotNil(t, r.Select("org-1", []string{"oracle"}))
}

func TestMarkChangedAndRefreshAll(t *testing.T) {
	r, store := newTestRegistry(t, nil)

	worker := &types.Worker{ID: "w1", Name: "ora-01", OrgID: "org-1", Labels: []string{"oracle"}}
	require.NoError(t, store.CreateWorker(worker))
	r.Add(worker)

	// Relabel in the store, then mark the old shape dirty.
	updated := &types.Worker{ID: "w1", Name: "ora-01", OrgID: "org-1", Labels: []string{"mysql"}}
	require.NoError(t, store.UpdateWorker(updated))
	r.MarkChanged(worker)
	r.RefreshAll()

	assert.Nil(t, r.Select("org-1", []string{"oracle"}))
	got := r.Select("org-1", []string{"mysql"})
	require.NotNil(t, got)
	assert.Equal(t, []string{"mysql"}, got.Labels)
}

func TestRefreshAllDropsDeletedWorkers(t *testing.T) {
	r, store := newTestRegistry(t, nil)

	worker := &types.Worker{ID: "w1", Name: "ora-01", OrgID: "org-1", Labels: []string{"oracle"}}
	require.NoError(t, store.CreateWorker(worker))
	r.Add(worker)

	require.NoError(t, store.DeleteWorker("w1"))
	r.MarkChanged(worker)
	r.RefreshAll()

	assert.Nil(t, r.Select("org-1", []string{"oracle"}))
}

func TestFillSeedsFromStore(t *testing.T) {
	r, store := newTestRegistry(t, nil)

	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w1", Name: "a", OrgID: "org-1"}))
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w2", Name: "b", OrgID: "org-1", Labels: []string{"mysql"}}))
	require.NoError(t, r.Fill())

	assert.NotNil(t, r.Select("org-1", nil))
	assert.NotNil(t, r.Select("org-1", nil))
}

func TestAcquireSkipsUnreachableWorkers(t *testing.T) {
	prober := &fakeProber{down: map[string]bool{"dead-01": true}}
	r, _ := newTestRegistry(t, prober)

	r.Add(&types.Worker{ID: "w1", Name: "dead-01", OrgID: "org-1", Labels: []string{"oracle"}})
	r.Add(&types.Worker{ID: "w2", Name: "live-01", OrgID: "org-1", Labels: []string{"oracle"}})

	got, err := r.Acquire(context.Background(), "org-1", []string{"oracle"})
	require.NoError(t, err)
	assert.Equal(t, "live-01", got.Name)
}

func TestAcquireExhaustsPool(t *testing.T) {
	prober := &fakeProber{down: map[string]bool{"dead-01": true}}
	r, _ := newTestRegistry(t, prober)

	r.Add(&types.Worker{ID: "w1", Name: "dead-01", OrgID: "org-1", Labels: []string{"oracle"}})

	_, err := r.Acquire(context.Background(), "org-1", []string{"oracle"})
	assert.ErrorIs(t, err, ErrNoWorker)
}
