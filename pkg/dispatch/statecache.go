package dispatch

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const statusKeyPrefix = "task_status:"

// StatusCache holds per-execution latched status markers shared between
// the dispatcher and the callback endpoint. Markers outlive transient
// store reads so a batch can observe a failure latched by an asynchronous
// callback.
type StatusCache struct {
	cache *gocache.Cache
}

// NewStatusCache creates a cache whose markers expire after a day.
func NewStatusCache() *StatusCache {
	return &StatusCache{cache: gocache.New(24*time.Hour, time.Hour)}
}

// Reset blanks the marker for an execution at batch entry.
func (c *StatusCache) Reset(executionID string) {
	c.cache.Set(statusKeyPrefix+executionID, "", gocache.DefaultExpiration)
}

// Latch records a status marker for an execution.
func (c *StatusCache) Latch(executionID, status string) {
	c.cache.Set(statusKeyPrefix+executionID, status, gocache.DefaultExpiration)
}

// Get returns the latched marker, empty when blank or unset.
func (c *StatusCache) Get(executionID string) string {
	v, ok := c.cache.Get(statusKeyPrefix + executionID)
	if !ok {
		return ""
	}
	return v.(string)
}
