package metrics

import (
	"time"

	"github.com/cuemby/behemoth/pkg/storage"
	"github.com/cuemby/behemoth/pkg/types"
)

// Collector periodically snapshots store counts into gauges.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectExecutionMetrics()
	c.collectPlanMetrics()
	c.collectWorkerMetrics()
}

func (c *Collector) collectExecutionMetrics() {
	executions, err := c.store.ListExecutions()
	if err != nil {
		return
	}

	counts := map[types.TaskStatus]int{
		types.StatusNotStart:  0,
		types.StatusExecuting: 0,
		types.StatusPause:     0,
		types.StatusSuccess:   0,
		types.StatusFailed:    0,
	}
	for _, execution := range executions {
		counts[execution.Status]++
	}
	for status, count := range counts {
		ExecutionsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectPlanMetrics() {
	plans, err := c.store.ListPlans()
	if err != nil {
		return
	}

	counts := make(map[types.PlanCategory]int)
	for _, plan := range plans {
		counts[plan.Category]++
	}
	for category, count := range counts {
		PlansTotal.WithLabelValues(string(category)).Set(float64(count))
	}
}

func (c *Collector) collectWorkerMetrics() {
	workers, err := c.store.ListWorkers()
	if err != nil {
		return
	}
	WorkersTotal.Set(float64(len(workers)))
}
