package reconciler

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// NodeDrift compares a node's recorded free memory with what its
// reservations imply
type NodeDrift struct {
	NodeID       string
	TotalMb      int64
	FreeMb       int64
	ReservedMb   int64
	ExpectedFree int64
	DriftMb      int64 // FreeMb - ExpectedFree
}

// Report is the result of one audit pass
type Report struct {
	CheckedAt time.Time
	Nodes     []NodeDrift

	// Task IDs holding a reservation they should not: on a node that no
	// longer exists, or after reaching a terminal status
	OrphanedReservations []string
}

// Clean reports whether every node balances and no reservation is orphaned
func (r *Report) Clean() bool {
	if len(r.OrphanedReservations) > 0 {
		return false
	}
	for _, n := range r.Nodes {
		if n.DriftMb != 0 {
			return false
		}
	}
	return true
}

// Reconciler periodically audits the ledger. It only reads: drift is
// exported and logged, never corrected.
type Reconciler struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReconciler creates a new ledger auditor
func NewReconciler(store storage.Store, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the audit loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the audit loop and waits for it to exit
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Audit(); err != nil {
				logger := log.WithComponent("reconciler")
				logger.Error().Err(err).Msg("Ledger audit failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Audit performs one pass over a consistent snapshot of nodes and tasks
func (r *Reconciler) Audit() (*Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AuditDuration)

	var (
		nodes []*types.Node
		tasks []*types.Task
	)
	err := r.store.View(func(tx storage.Tx) error {
		var err error
		if nodes, err = tx.ListNodes(); err != nil {
			return err
		}
		tasks, err = tx.ListTasks()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	report := audit(nodes, tasks)
	report.CheckedAt = time.Now()

	logger := log.WithComponent("reconciler")
	metrics.LedgerDrift.Reset()
	for _, n := range report.Nodes {
		metrics.LedgerDrift.WithLabelValues(n.NodeID).Set(float64(n.DriftMb))
		if n.DriftMb != 0 {
			logger.Warn().
				Str("node_id", n.NodeID).
				Int64("free_mb", n.FreeMb).
				Int64("expected_free_mb", n.ExpectedFree).
				Int64("drift_mb", n.DriftMb).
				Msg("Node free memory does not match reservations")
		}
	}
	for _, id := range report.OrphanedReservations {
		logger.Warn().Str("task_id", id).Msg("Task holds an orphaned reservation")
	}

	return report, nil
}

// audit computes drift without touching metrics or logs
func audit(nodes []*types.Node, tasks []*types.Task) *Report {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	reserved := make(map[string]int64)
	report := &Report{}
	for _, task := range tasks {
		if !task.Reserved {
			continue
		}
		if task.Status.Terminal() || !known[task.NodeID] {
			report.OrphanedReservations = append(report.OrphanedReservations, task.ID)
			continue
		}
		reserved[task.NodeID] += task.UsedNodeMemoryMb
	}
	sort.Strings(report.OrphanedReservations)

	for _, n := range nodes {
		expected := n.TotalMemoryMb - reserved[n.ID]
		report.Nodes = append(report.Nodes, NodeDrift{
			NodeID:       n.ID,
			TotalMb:      n.TotalMemoryMb,
			FreeMb:       n.FreeMemoryMb,
			ReservedMb:   reserved[n.ID],
			ExpectedFree: expected,
			DriftMb:      n.FreeMemoryMb - expected,
		})
	}
	return report
}
