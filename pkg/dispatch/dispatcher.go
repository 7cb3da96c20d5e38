package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/lifecycle"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// DefaultTimeout bounds a single coordinator call
const DefaultTimeout = 30 * time.Second

// Result is the outcome of one coordinator call
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
}

// Dispatcher hands tasks to the coordinator without blocking the submitter
// and stores the results the coordinator reports back.
//
// Each Submit runs the coordinator call in its own goroutine with its own
// deadline. Outcomes go to a result channel drained by a single sink
// goroutine that logs, counts and publishes them. A failed call never
// touches the persisted task.
type Dispatcher struct {
	coordinator Coordinator
	store       storage.Store
	lifecycle   *lifecycle.Lifecycle
	publisher   events.Publisher
	timeout     time.Duration

	results  chan Result
	sinkDone chan struct{}

	mu       sync.Mutex
	running  bool
	stopped  bool
	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses
// DefaultTimeout; a nil publisher discards events.
func NewDispatcher(coordinator Coordinator, store storage.Store, lc *lifecycle.Lifecycle, publisher events.Publisher, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Dispatcher{
		coordinator: coordinator,
		store:       store,
		lifecycle:   lc,
		publisher:   publisher,
		timeout:     timeout,
		results:     make(chan Result, 64),
		sinkDone:    make(chan struct{}),
	}
}

// Start starts the result sink. A stopped dispatcher cannot be restarted.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running || d.stopped {
		return
	}
	d.running = true
	go d.sink()

	metrics.UpdateComponent(metrics.ComponentDispatcher, true, "")
}

// Stop waits for in-flight coordinator calls, then stops the sink
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.stopped = true
	d.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentDispatcher, false, "stopped")

	d.inflight.Wait()
	close(d.results)
	<-d.sinkDone
}

// Submit starts the coordinator call for req in the background and returns
// at once
func (d *Dispatcher) Submit(req StartRequest) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		metrics.DispatchTotal.WithLabelValues("skipped").Inc()
		logger := log.WithTaskID(req.TaskID)
		logger.Warn().Msg("Dispatcher not running, task left queued")
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		timer := metrics.NewTimer()
		err := d.coordinator.StartTraining(ctx, req)
		d.results <- Result{TaskID: req.TaskID, Err: err, Duration: timer.Duration()}
	}()
}

func (d *Dispatcher) sink() {
	defer close(d.sinkDone)

	for res := range d.results {
		metrics.DispatchDuration.Observe(res.Duration.Seconds())
		logger := log.WithTaskID(res.TaskID)

		if res.Err != nil {
			metrics.DispatchTotal.WithLabelValues("failure").Inc()
			logger.Error().
				Err(res.Err).
				Dur("duration", res.Duration).
				Msg("Coordinator call failed, task left queued")
			d.publisher.Publish(&events.Event{
				ID:      res.TaskID,
				Type:    events.EventTaskDispatchFailed,
				Message: res.Err.Error(),
			})
			continue
		}

		metrics.DispatchTotal.WithLabelValues("success").Inc()
		logger.Info().
			Dur("duration", res.Duration).
			Msg("Task handed to coordinator")
		d.publisher.Publish(&events.Event{
			ID:      res.TaskID,
			Type:    events.EventTaskDispatched,
			Message: "task handed to coordinator",
		})
	}
}

// ReceiveCompletion stores the trained model the coordinator reported for
// taskID and moves the task to COMPLETED in one transaction. The bytes are
// stored verbatim. A repeated callback for a COMPLETED task overwrites the
// artifact and succeeds. Storage failures are returned as types.ErrInternal
// so the coordinator knows it may retry.
func (d *Dispatcher) ReceiveCompletion(taskID string, result []byte) (*types.Task, error) {
	if len(result) == 0 {
		metrics.CompletionsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: no model file provided", types.ErrValidation)
	}

	var (
		task *types.Task
		tr   lifecycle.Transition
	)
	err := d.store.Update(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}

		if task.Status.Terminal() && task.Status != types.TaskStatusCompleted {
			return fmt.Errorf("%w: task %s is %s and cannot accept a result",
				types.ErrConflict, task.ID, task.Status)
		}

		if err := tx.PutTrainedModel(task.ID, result); err != nil {
			return err
		}
		task.TrainedModelSizeBytes = int64(len(result))

		tr, err = d.lifecycle.ApplyTx(tx, task, types.TaskStatusCompleted)
		if err != nil {
			return err
		}
		if !tr.Changed {
			return tx.PutTask(task)
		}
		return nil
	})

	logger := log.WithTaskID(taskID)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			metrics.CompletionsTotal.WithLabelValues("not_found").Inc()
			return nil, err
		case errors.Is(err, types.ErrConflict):
			metrics.CompletionsTotal.WithLabelValues("conflict").Inc()
			return nil, err
		}
		metrics.CompletionsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Failed to store trained model")
		return nil, fmt.Errorf("%w: failed to store trained model for task %s: %v",
			types.ErrInternal, taskID, err)
	}

	d.lifecycle.Notify(task, tr)
	metrics.CompletionsTotal.WithLabelValues("stored").Inc()
	logger.Info().
		Int("bytes", len(result)).
		Bool("repeat", !tr.Changed).
		Msg("Trained model stored")
	return task, nil
}
