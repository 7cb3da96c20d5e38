package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/ledger"
	"github.com/cuemby/trainyard/pkg/lifecycle"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type coordinatorFunc func(ctx context.Context, req StartRequest) error

func (f coordinatorFunc) StartTraining(ctx context.Context, req StartRequest) error {
	return f(ctx, req)
}

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.Event(nil), r.events...)
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestDispatcher(store storage.Store, c Coordinator, timeout time.Duration) (*Dispatcher, *recorder) {
	rec := &recorder{}
	lc := lifecycle.NewLifecycle(store, ledger.NewLedger(store), rec)
	return NewDispatcher(c, store, lc, rec, timeout), rec
}

// TestDispatcher_SubmitDoesNotBlock tests that Submit returns before the coordinator answers
func TestDispatcher_SubmitDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	var calls []StartRequest
	var mu sync.Mutex
	d, rec := newTestDispatcher(nil, coordinatorFunc(func(ctx context.Context, req StartRequest) error {
		<-release
		mu.Lock()
		calls = append(calls, req)
		mu.Unlock()
		return nil
	}), time.Second)
	d.Start()

	returned := make(chan struct{})
	go func() {
		d.Submit(StartRequest{TaskID: "task-1"})
		d.Submit(StartRequest{TaskID: "task-2"})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on the coordinator")
	}

	close(release)
	d.Stop()

	assert.Len(t, calls, 2)
	got := rec.all()
	require.Len(t, got, 2)
	for _, ev := range got {
		assert.Equal(t, events.EventTaskDispatched, ev.Type)
	}
}

// TestDispatcher_FailureLeavesTaskQueued tests that a failed call is only logged
func TestDispatcher_FailureLeavesTaskQueued(t *testing.T) {
	store := newTestStore(t)
	original := &types.Task{ID: "task-1", Name: "resnet", Status: types.TaskStatusQueued, NodeID: "node-a"}
	require.NoError(t, store.Update(func(tx storage.Tx) error { return tx.PutTask(original) }))

	d, rec := newTestDispatcher(store, coordinatorFunc(func(ctx context.Context, req StartRequest) error {
		return errors.New("connection refused")
	}), time.Second)
	d.Start()
	d.Submit(StartRequest{TaskID: "task-1"})
	d.Stop()

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.EventTaskDispatchFailed, got[0].Type)
	assert.Equal(t, "task-1", got[0].ID)
	assert.Contains(t, got[0].Message, "connection refused")

	task, err := store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusQueued, task.Status)
	assert.Equal(t, "node-a", task.NodeID)
}

// TestDispatcher_Timeout tests that each call gets its own deadline
func TestDispatcher_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d, rec := newTestDispatcher(nil, coordinatorFunc(func(ctx context.Context, req StartRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}), 20*time.Millisecond)
	d.Start()
	d.Submit(StartRequest{TaskID: "task-1"})
	d.Stop()

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.EventTaskDispatchFailed, got[0].Type)
	assert.Contains(t, got[0].Message, context.DeadlineExceeded.Error())
}

// TestDispatcher_SubmitWhenStopped tests that no call is made outside Start/Stop
func TestDispatcher_SubmitWhenStopped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	called := false
	d, rec := newTestDispatcher(nil, coordinatorFunc(func(ctx context.Context, req StartRequest) error {
		called = true
		return nil
	}), time.Second)

	d.Submit(StartRequest{TaskID: "before-start"})
	d.Start()
	d.Stop()
	d.Stop()
	d.Start()
	d.Submit(StartRequest{TaskID: "after-stop"})

	assert.False(t, called)
	assert.Empty(t, rec.all())
}

// TestDispatcher_WithHTTPClient tests the dispatcher against a mocked coordinator endpoint
func TestDispatcher_WithHTTPClient(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, coordinatorURL+"/start_training",
		httpmock.NewStringResponder(http.StatusAccepted, ""))

	d, rec := newTestDispatcher(nil, newMockClient(mt), time.Second)
	d.Start()
	for _, id := range []string{"task-1", "task-2", "task-3"} {
		req := sampleRequest()
		req.TaskID = id
		d.Submit(req)
	}
	d.Stop()

	assert.Equal(t, 3, mt.GetTotalCallCount())
	assert.Len(t, rec.all(), 3)
}

// TestReceiveCompletion tests storing the coordinator's artifact
func TestReceiveCompletion(t *testing.T) {
	setup := func(t *testing.T, status types.TaskStatus) (*Dispatcher, storage.Store) {
		store := newTestStore(t)
		require.NoError(t, store.CreateNode(&types.Node{
			ID: "node-a", TotalMemoryMb: 1000, FreeMemoryMb: 700, Status: types.NodeStatusOnline,
		}))
		require.NoError(t, store.Update(func(tx storage.Tx) error {
			return tx.PutTask(&types.Task{
				ID: "task-1", Name: "resnet", NodeID: "node-a", Status: status,
				UsedNodeMemoryMb: 300, Reserved: !status.Terminal(),
			})
		}))
		d, _ := newTestDispatcher(store, nil, time.Second)
		return d, store
	}
	model := []byte{0x80, 0x02, 0x7d, 0x71}

	t.Run("running task completes", func(t *testing.T) {
		d, store := setup(t, types.TaskStatusRunning)

		task, err := d.ReceiveCompletion("task-1", model)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusCompleted, task.Status)
		assert.False(t, task.FinishedAt.IsZero())
		assert.Equal(t, int64(len(model)), task.TrainedModelSizeBytes)

		stored, err := store.GetTrainedModel("task-1")
		require.NoError(t, err)
		assert.Equal(t, model, stored)

		node, err := store.GetNode("node-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), node.FreeMemoryMb)
	})

	t.Run("repeat callback is idempotent", func(t *testing.T) {
		d, store := setup(t, types.TaskStatusQueued)

		first, err := d.ReceiveCompletion("task-1", model)
		require.NoError(t, err)
		second, err := d.ReceiveCompletion("task-1", model)
		require.NoError(t, err)
		assert.Equal(t, first.FinishedAt, second.FinishedAt)

		node, err := store.GetNode("node-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), node.FreeMemoryMb)
	})

	t.Run("empty result", func(t *testing.T) {
		d, _ := setup(t, types.TaskStatusRunning)
		_, err := d.ReceiveCompletion("task-1", nil)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("unknown task", func(t *testing.T) {
		d, _ := setup(t, types.TaskStatusRunning)
		_, err := d.ReceiveCompletion("missing", model)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("failed task rejects result", func(t *testing.T) {
		d, store := setup(t, types.TaskStatusFailed)
		_, err := d.ReceiveCompletion("task-1", model)
		assert.ErrorIs(t, err, types.ErrConflict)

		_, err = store.GetTrainedModel("task-1")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("storage failure is internal", func(t *testing.T) {
		d, store := setup(t, types.TaskStatusRunning)
		require.NoError(t, store.Close())

		_, err := d.ReceiveCompletion("task-1", model)
		assert.ErrorIs(t, err, types.ErrInternal)
	})
}
