package scheduler

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/dataset"
	"github.com/cuemby/trainyard/pkg/dispatch"
	"github.com/cuemby/trainyard/pkg/ledger"
	"github.com/cuemby/trainyard/pkg/lifecycle"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDispatcher records submissions and stores completions for real
type fakeDispatcher struct {
	mu        sync.Mutex
	submitted []dispatch.StartRequest
	inner     *dispatch.Dispatcher
}

func (f *fakeDispatcher) Submit(req dispatch.StartRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
}

func (f *fakeDispatcher) ReceiveCompletion(taskID string, result []byte) (*types.Task, error) {
	return f.inner.ReceiveCompletion(taskID, result)
}

func (f *fakeDispatcher) requests() []dispatch.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.StartRequest(nil), f.submitted...)
}

type fixture struct {
	sched *Scheduler
	store storage.Store
	disp  *fakeDispatcher
}

const consumerID = "consumer-1"

// newFixture seeds one consumer and the nodes node-a (24576 MB) and
// node-b (81920 MB), both ONLINE and idle
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateUser(&types.User{ID: consumerID, Email: "alice@example.com", Username: "alice"}))
	require.NoError(t, store.CreateNode(&types.Node{
		ID: "node-a", NodeURL: "http://worker1:5000", OwnerID: consumerID,
		TotalMemoryMb: 24576, FreeMemoryMb: 24576, Status: types.NodeStatusOnline,
	}))
	require.NoError(t, store.CreateNode(&types.Node{
		ID: "node-b", NodeURL: "http://worker2:5000", OwnerID: consumerID,
		TotalMemoryMb: 81920, FreeMemoryMb: 81920, Status: types.NodeStatusOnline,
	}))

	l := ledger.NewLedger(store)
	lc := lifecycle.NewLifecycle(store, l, nil)
	disp := &fakeDispatcher{inner: dispatch.NewDispatcher(nil, store, lc, nil, time.Second)}

	if opts.PublicURL == "" {
		opts.PublicURL = "http://trainyard:8000/"
	}
	return &fixture{
		sched: NewScheduler(store, l, lc, disp, nil, opts),
		store: store,
		disp:  disp,
	}
}

func (f *fixture) free(t *testing.T, nodeID string) int64 {
	t.Helper()
	node, err := f.store.GetNode(nodeID)
	require.NoError(t, err)
	return node.FreeMemoryMb
}

func (f *fixture) putTask(t *testing.T, task *types.Task) {
	t.Helper()
	require.NoError(t, f.store.Update(func(tx storage.Tx) error { return tx.PutTask(task) }))
}

// reserve debits node and records a task holding that reservation
func (f *fixture) reserve(t *testing.T, id, nodeID string, memoryMb int64, status types.TaskStatus) {
	t.Helper()
	_, err := ledger.NewLedger(f.store).Allocate(nodeID, memoryMb)
	require.NoError(t, err)
	f.putTask(t, &types.Task{
		ID: id, Name: id, ConsumerID: consumerID, NodeID: nodeID,
		Status: status, UsedNodeMemoryMb: memoryMb, Reserved: true,
	})
}

func submitRequest(estimate int64) SubmitRequest {
	return SubmitRequest{
		Name:              "resnet",
		ConsumerID:        consumerID,
		EstimatedMemoryMb: estimate,
		ModelDefinition:   []byte("class Net: pass\n"),
		Dataset:           []byte("x,y\n1,2\n"),
	}
}

// TestSubmitTask_PicksLargestNode tests worst-fit placement without a debit
func TestSubmitTask_PicksLargestNode(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	task, err := f.sched.SubmitTask(ctx, submitRequest(20000))
	require.NoError(t, err)

	assert.Equal(t, types.TaskStatusQueued, task.Status)
	assert.Equal(t, "node-b", task.NodeID)
	assert.Equal(t, int64(20000), task.UsedNodeMemoryMb)
	assert.False(t, task.Reserved)
	assert.Equal(t, int64(81920), f.free(t, "node-b"), "submission does not debit the node")

	reqs := f.disp.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, task.ID, reqs[0].TaskID)
	assert.Equal(t, "http://trainyard:8000/api/tasks/"+task.ID+"/finished", reqs[0].CallbackURL)
	assert.Equal(t, []string{"http://worker1:5000", "http://worker2:5000"}, reqs[0].Workers)
	assert.Equal(t, []byte("x,y\n1,2\n"), reqs[0].Dataset)

	var stored []byte
	require.NoError(t, f.store.View(func(tx storage.Tx) error {
		var err error
		stored, err = tx.GetDataset(task.ID)
		return err
	}))
	raw, err := dataset.Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, []byte("x,y\n1,2\n"), raw)
}

// TestSubmitTask_AllocateOnSubmit tests the debit-on-submit switch
func TestSubmitTask_AllocateOnSubmit(t *testing.T) {
	f := newFixture(t, Options{AllocateOnSubmit: true})

	task, err := f.sched.SubmitTask(context.Background(), submitRequest(20000))
	require.NoError(t, err)

	assert.Equal(t, "node-b", task.NodeID)
	assert.True(t, task.Reserved)
	assert.Equal(t, int64(61920), f.free(t, "node-b"))
	assert.Equal(t, int64(24576), f.free(t, "node-a"))
}

// TestSubmitTask_MemoryEstimate tests the estimate derived from dataset size
func TestSubmitTask_MemoryEstimate(t *testing.T) {
	f := newFixture(t, Options{})

	req := submitRequest(0)
	req.Dataset = bytes.Repeat([]byte{'a'}, 2*1024*1024)

	task, err := f.sched.SubmitTask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), task.UsedNodeMemoryMb)
	assert.Equal(t, int64(2*1024*1024), task.DatasetSizeBytes)
	assert.Less(t, task.DatasetInlineBytes, task.DatasetSizeBytes)
}

// TestSubmitTask_NoEligibleNode tests that a task is still queued without a node
func TestSubmitTask_NoEligibleNode(t *testing.T) {
	f := newFixture(t, Options{AllocateOnSubmit: true})

	task, err := f.sched.SubmitTask(context.Background(), submitRequest(100000))
	require.NoError(t, err)
	assert.Empty(t, task.NodeID)
	assert.False(t, task.Reserved)
	assert.Len(t, f.disp.requests(), 1)
}

// TestSubmitTask_Validation tests rejected submissions
func TestSubmitTask_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{name: "missing name", mutate: func(r *SubmitRequest) { r.Name = "  " }},
		{name: "unknown consumer", mutate: func(r *SubmitRequest) { r.ConsumerID = "nobody" }},
		{name: "missing consumer", mutate: func(r *SubmitRequest) { r.ConsumerID = "" }},
		{name: "missing model definition", mutate: func(r *SubmitRequest) { r.ModelDefinition = nil }},
		{name: "missing dataset", mutate: func(r *SubmitRequest) { r.Dataset = nil }},
		{name: "negative estimate", mutate: func(r *SubmitRequest) { r.EstimatedMemoryMb = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			req := submitRequest(0)
			tt.mutate(&req)

			_, err := f.sched.SubmitTask(context.Background(), req)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.Empty(t, f.disp.requests())

			tasks, err := f.store.ListTasks()
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	}
}

// TestSubmitTask_ConcurrentAllocations tests that racing submissions never overdraw a node
func TestSubmitTask_ConcurrentAllocations(t *testing.T) {
	f := newFixture(t, Options{AllocateOnSubmit: true})
	_, err := f.sched.UpdateNode(context.Background(), "node-b", UpdateNodeRequest{Status: statusPtr(types.NodeStatusOffline)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sched.SubmitTask(context.Background(), submitRequest(2048))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tasks, err := f.store.ListTasks()
	require.NoError(t, err)
	reserved := 0
	for _, task := range tasks {
		if task.Reserved {
			reserved++
		}
	}
	assert.Equal(t, 12, reserved)
	assert.Equal(t, int64(0), f.free(t, "node-a"))
}

// TestReassign_MovesReservation tests that reassignment credits the old node and debits the new one
func TestReassign_MovesReservation(t *testing.T) {
	f := newFixture(t, Options{})
	f.reserve(t, "task-1", "node-b", 20000, types.TaskStatusRunning)

	task, err := f.sched.Reassign(context.Background(), "task-1")
	require.NoError(t, err)

	assert.Equal(t, "node-a", task.NodeID)
	assert.Equal(t, types.TaskStatusQueued, task.Status)
	assert.True(t, task.Reserved)
	assert.Equal(t, int64(81920), f.free(t, "node-b"))
	assert.Equal(t, int64(4576), f.free(t, "node-a"))

	stored, err := f.store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", stored.NodeID)
	assert.Equal(t, types.TaskStatusQueued, stored.Status)
}

// TestReassign_AdvisoryNode tests reassigning a task that was never debited
func TestReassign_AdvisoryNode(t *testing.T) {
	f := newFixture(t, Options{})
	submitted, err := f.sched.SubmitTask(context.Background(), submitRequest(20000))
	require.NoError(t, err)
	require.Equal(t, "node-b", submitted.NodeID)

	task, err := f.sched.Reassign(context.Background(), submitted.ID)
	require.NoError(t, err)

	assert.Equal(t, "node-a", task.NodeID)
	assert.Equal(t, int64(4576), f.free(t, "node-a"))
	assert.Equal(t, int64(81920), f.free(t, "node-b"), "nothing was held on the advisory node")
}

// TestReassign_NoAlternative tests that a failed reassignment changes nothing
func TestReassign_NoAlternative(t *testing.T) {
	f := newFixture(t, Options{})
	f.reserve(t, "task-1", "node-b", 30000, types.TaskStatusRunning)

	_, err := f.sched.Reassign(context.Background(), "task-1")
	assert.ErrorIs(t, err, types.ErrConflict)

	stored, err := f.store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, "node-b", stored.NodeID)
	assert.Equal(t, types.TaskStatusRunning, stored.Status)
	assert.True(t, stored.Reserved)
	assert.Equal(t, int64(51920), f.free(t, "node-b"))
	assert.Equal(t, int64(24576), f.free(t, "node-a"))
}

// TestReassign_Rejected tests reassignment of missing and terminal tasks
func TestReassign_Rejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.putTask(t, &types.Task{ID: "done", NodeID: "node-b", Status: types.TaskStatusCompleted, UsedNodeMemoryMb: 10})

	_, err := f.sched.Reassign(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.sched.Reassign(context.Background(), "done")
	assert.ErrorIs(t, err, types.ErrConflict)
}

// TestUpdateStatus_CompletesAndCredits tests the façade path through the lifecycle
func TestUpdateStatus_CompletesAndCredits(t *testing.T) {
	f := newFixture(t, Options{})
	f.reserve(t, "task-1", "node-a", 4096, types.TaskStatusRunning)

	task, err := f.sched.UpdateStatus(context.Background(), "task-1", types.TaskStatusCompleted)
	require.NoError(t, err)
	assert.False(t, task.FinishedAt.IsZero())
	assert.Equal(t, int64(24576), f.free(t, "node-a"))

	_, err = f.sched.UpdateStatus(context.Background(), "task-1", types.TaskStatusRunning)
	assert.ErrorIs(t, err, types.ErrConflict)
}

// TestUpdateStatus_AdvisoryNodeNotCredited tests that a task placed without
// a reservation leaves its node untouched when it finishes
func TestUpdateStatus_AdvisoryNodeNotCredited(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	task, err := f.sched.SubmitTask(ctx, submitRequest(20000))
	require.NoError(t, err)
	require.Equal(t, "node-b", task.NodeID)

	_, err = f.sched.UpdateStatus(ctx, task.ID, types.TaskStatusRunning)
	require.NoError(t, err)
	done, err := f.sched.UpdateStatus(ctx, task.ID, types.TaskStatusCompleted)
	require.NoError(t, err)

	assert.False(t, done.Reserved)
	assert.Equal(t, int64(81920), f.free(t, "node-b"))
}

// TestRemoveTask tests deletion rules and capacity release
func TestRemoveTask(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.reserve(t, "running", "node-a", 1000, types.TaskStatusRunning)
	f.reserve(t, "queued", "node-a", 2000, types.TaskStatusQueued)

	_, err := f.sched.RemoveTask(ctx, "running")
	assert.ErrorIs(t, err, types.ErrConflict)

	deleted, err := f.sched.RemoveTask(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, "queued", deleted.ID)
	assert.Equal(t, int64(24576-1000), f.free(t, "node-a"))

	_, err = f.store.GetTask("queued")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.sched.RemoveTask(ctx, "queued")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestRemoveTask_Completed tests that a finished task is not released twice
func TestRemoveTask_Completed(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.reserve(t, "task-1", "node-a", 1000, types.TaskStatusRunning)
	f.reserve(t, "task-2", "node-a", 1000, types.TaskStatusRunning)

	_, err := f.sched.UpdateStatus(ctx, "task-1", types.TaskStatusFailed)
	require.NoError(t, err)
	_, err = f.sched.RemoveTask(ctx, "task-1")
	require.NoError(t, err)

	assert.Equal(t, int64(24576-1000), f.free(t, "node-a"))
}

// TestCompleteTask tests storing a result and fetching it back
func TestCompleteTask(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.reserve(t, "task-1", "node-a", 1000, types.TaskStatusRunning)

	_, _, err := f.sched.TaskResult(ctx, "task-1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	model := []byte("weights")
	task, err := f.sched.CompleteTask(ctx, "task-1", model)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)

	got, data, err := f.sched.TaskResult(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.Name)
	assert.Equal(t, model, data)
	assert.Equal(t, int64(24576), f.free(t, "node-a"))
}

// TestListTasks tests filtering by consumer
func TestListTasks(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.putTask(t, &types.Task{ID: "t1", ConsumerID: consumerID, Status: types.TaskStatusQueued})
	f.putTask(t, &types.Task{ID: "t2", ConsumerID: "other", Status: types.TaskStatusQueued})

	mine, err := f.sched.ListTasks(ctx, consumerID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := f.sched.ListTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.sched.ListTasks(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

// TestCanceledContext tests that a canceled context short-circuits operations
func TestCanceledContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sched.SubmitTask(ctx, submitRequest(10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.disp.requests())
}
