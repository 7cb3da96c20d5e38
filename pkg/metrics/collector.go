package metrics

import (
	"time"

	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// Collector periodically refreshes inventory gauges from the store
type Collector struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Collect performs one collection pass
func (c *Collector) Collect() {
	c.collectNodeMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		UpdateComponent(ComponentStore, false, err.Error())
		return
	}
	UpdateComponent(ComponentStore, true, "")

	counts := map[types.NodeStatus]int{
		types.NodeStatusOnline:  0,
		types.NodeStatusOffline: 0,
	}

	// Deleted nodes must disappear from the per-node series
	NodeFreeMemory.Reset()
	for _, node := range nodes {
		counts[node.Status]++
		NodeFreeMemory.WithLabelValues(node.ID).Set(float64(node.FreeMemoryMb))
	}

	for status, count := range counts {
		NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}

	counts := map[types.TaskStatus]int{
		types.TaskStatusQueued:    0,
		types.TaskStatusRunning:   0,
		types.TaskStatusCompleted: 0,
		types.TaskStatusFailed:    0,
		types.TaskStatusCancelled: 0,
	}
	for _, task := range tasks {
		counts[task.Status]++
	}

	for status, count := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
