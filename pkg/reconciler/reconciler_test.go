package reconciler

import (
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit(t *testing.T) {
	tests := []struct {
		name      string
		nodes     []*types.Node
		tasks     []*types.Task
		wantDrift map[string]int64
		wantOrph  []string
		wantClean bool
	}{
		{
			name: "balanced",
			nodes: []*types.Node{
				{ID: "a", TotalMemoryMb: 1000, FreeMemoryMb: 700},
			},
			tasks: []*types.Task{
				{ID: "t1", NodeID: "a", Status: types.TaskStatusRunning, UsedNodeMemoryMb: 300, Reserved: true},
				{ID: "t2", NodeID: "a", Status: types.TaskStatusQueued, UsedNodeMemoryMb: 500},
			},
			wantDrift: map[string]int64{"a": 0},
			wantClean: true,
		},
		{
			name: "lost release",
			nodes: []*types.Node{
				{ID: "a", TotalMemoryMb: 1000, FreeMemoryMb: 400},
			},
			tasks: []*types.Task{
				{ID: "t1", NodeID: "a", Status: types.TaskStatusQueued, UsedNodeMemoryMb: 300, Reserved: true},
			},
			wantDrift: map[string]int64{"a": -300},
		},
		{
			name: "orphaned reservations",
			nodes: []*types.Node{
				{ID: "a", TotalMemoryMb: 1000, FreeMemoryMb: 1000},
			},
			tasks: []*types.Task{
				{ID: "t2", NodeID: "gone", Status: types.TaskStatusQueued, UsedNodeMemoryMb: 10, Reserved: true},
				{ID: "t1", NodeID: "a", Status: types.TaskStatusFailed, UsedNodeMemoryMb: 10, Reserved: true},
			},
			wantDrift: map[string]int64{"a": 0},
			wantOrph:  []string{"t1", "t2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := audit(tt.nodes, tt.tasks)

			got := map[string]int64{}
			for _, n := range report.Nodes {
				got[n.NodeID] = n.DriftMb
			}
			assert.Equal(t, tt.wantDrift, got)
			assert.Equal(t, tt.wantOrph, report.OrphanedReservations)
			assert.Equal(t, tt.wantClean, report.Clean())
		})
	}
}

func TestReconciler_AuditIsReadOnly(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateNode(&types.Node{ID: "a", TotalMemoryMb: 1000, FreeMemoryMb: 900}))
	before, err := store.GetNode("a")
	require.NoError(t, err)

	r := NewReconciler(store, time.Hour)
	report, err := r.Audit()
	require.NoError(t, err)

	assert.False(t, report.Clean())
	assert.Equal(t, float64(-100), testutil.ToFloat64(metrics.LedgerDrift.WithLabelValues("a")))

	after, err := store.GetNode("a")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReconciler_StartStop(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r := NewReconciler(store, 5*time.Millisecond)
	r.Start()
	time.Sleep(20 * time.Millisecond)
	r.Stop()
}
