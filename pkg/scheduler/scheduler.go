package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/dataset"
	"github.com/cuemby/trainyard/pkg/dispatch"
	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/ledger"
	"github.com/cuemby/trainyard/pkg/lifecycle"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// Dispatcher hands tasks to the training coordinator and accepts its results
type Dispatcher interface {
	Submit(req dispatch.StartRequest)
	ReceiveCompletion(taskID string, result []byte) (*types.Task, error)
}

// Options tunes task placement
type Options struct {
	// AllocateOnSubmit debits the selected node when a task is submitted.
	// When false the node is recorded but capacity is only debited on
	// reassignment, and a task that finishes without ever holding a
	// reservation credits nothing back to its node.
	AllocateOnSubmit bool

	// MemoryMultiplier scales the dataset size into the memory estimate
	MemoryMultiplier float64

	// PublicURL is the base URL the coordinator calls back on
	PublicURL string
}

// SubmitRequest is a training job submission
type SubmitRequest struct {
	Name              string
	ConsumerID        string
	EstimatedMemoryMb int64
	ModelDefinition   []byte
	Dataset           []byte
}

// Scheduler is the entry point for every task and node operation. Each
// operation that touches both a task and a node runs in one transaction.
type Scheduler struct {
	store      storage.Store
	ledger     *ledger.Ledger
	lifecycle  *lifecycle.Lifecycle
	dispatcher Dispatcher
	publisher  events.Publisher
	opts       Options
	now        func() time.Time
}

// NewScheduler creates a scheduler. A nil publisher discards events.
func NewScheduler(store storage.Store, l *ledger.Ledger, lc *lifecycle.Lifecycle, d Dispatcher, publisher events.Publisher, opts Options) *Scheduler {
	if publisher == nil {
		publisher = events.Discard
	}
	if opts.MemoryMultiplier <= 0 {
		opts.MemoryMultiplier = dataset.DefaultMemoryMultiplier
	}
	return &Scheduler{
		store:      store,
		ledger:     l,
		lifecycle:  lc,
		dispatcher: d,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
	}
}

// CallbackURL returns the completion callback for taskID
func (s *Scheduler) CallbackURL(taskID string) string {
	return strings.TrimRight(s.opts.PublicURL, "/") + "/api/tasks/" + taskID + "/finished"
}

// SubmitTask persists a QUEUED task and hands it to the coordinator in the
// background. The node chosen here is advisory unless AllocateOnSubmit is set.
func (s *Scheduler) SubmitTask(ctx context.Context, req SubmitRequest) (*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	packed, err := dataset.Compress(req.Dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	memoryMb := req.EstimatedMemoryMb
	if memoryMb <= 0 {
		memoryMb = dataset.EstimateMemoryMb(int64(len(req.Dataset)), s.opts.MemoryMultiplier)
	}

	now := s.now()
	task := &types.Task{
		ID:                 storage.NewID(),
		Name:               strings.TrimSpace(req.Name),
		ConsumerID:         req.ConsumerID,
		Status:             types.TaskStatusQueued,
		UsedNodeMemoryMb:   memoryMb,
		DatasetSizeBytes:   int64(len(req.Dataset)),
		DatasetInlineBytes: int64(len(packed)),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var workers []string
	err = s.store.Update(func(tx storage.Tx) error {
		if _, err := tx.GetUser(req.ConsumerID); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("%w: consumer %s not found", types.ErrValidation, req.ConsumerID)
			}
			return err
		}

		node, err := s.ledger.SelectNodeTx(tx, memoryMb, "")
		if err != nil {
			return err
		}
		if node != nil {
			task.NodeID = node.ID
			if s.opts.AllocateOnSubmit {
				if err := s.ledger.ReserveTx(tx, task, node.ID); err != nil {
					return err
				}
			}
		}

		if err := tx.PutTask(task); err != nil {
			return err
		}
		if err := tx.PutDataset(task.ID, packed); err != nil {
			return err
		}

		workers, err = onlineWorkers(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TasksSubmitted.Inc()
	logger := log.WithTaskID(task.ID)
	logger.Info().
		Str("name", task.Name).
		Str("consumer_id", task.ConsumerID).
		Str("node_id", task.NodeID).
		Int64("memory_mb", task.UsedNodeMemoryMb).
		Bool("reserved", task.Reserved).
		Msg("Task submitted")
	s.publisher.Publish(&events.Event{
		ID:      task.ID,
		Type:    events.EventTaskCreated,
		Message: fmt.Sprintf("task %s queued", task.Name),
		Metadata: map[string]string{
			"consumer_id": task.ConsumerID,
			"node_id":     task.NodeID,
		},
	})

	s.dispatcher.Submit(dispatch.StartRequest{
		TaskID:          task.ID,
		ModelDefinition: req.ModelDefinition,
		Dataset:         req.Dataset,
		CallbackURL:     s.CallbackURL(task.ID),
		Workers:         workers,
	})

	return task, nil
}

func validateSubmit(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return fmt.Errorf("%w: task name is required", types.ErrValidation)
	case req.ConsumerID == "":
		return fmt.Errorf("%w: consumerId is required", types.ErrValidation)
	case len(req.ModelDefinition) == 0:
		return fmt.Errorf("%w: model definition file missing", types.ErrValidation)
	case len(req.Dataset) == 0:
		return fmt.Errorf("%w: dataset file missing", types.ErrValidation)
	case req.EstimatedMemoryMb < 0:
		return fmt.Errorf("%w: estimatedMemoryMb must not be negative", types.ErrValidation)
	}
	return nil
}

// onlineWorkers returns the URLs of ONLINE nodes, in ID order
func onlineWorkers(tx storage.Tx) ([]string, error) {
	nodes, err := tx.ListNodes()
	if err != nil {
		return nil, err
	}
	workers := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if node.Status == types.NodeStatusOnline {
			workers = append(workers, node.NodeURL)
		}
	}
	return workers, nil
}

// Reassign moves a task's reservation to another node and requeues it. The
// old reservation is released, a node other than the current one is
// selected and debited, and the task is updated, all in one transaction.
// When no other node has room nothing changes and ErrConflict is returned.
func (s *Scheduler) Reassign(ctx context.Context, taskID string) (*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		task     *types.Task
		fromNode string
		tr       lifecycle.Transition
	)
	err := s.store.Update(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			return fmt.Errorf("%w: task %s is %s and cannot be reassigned",
				types.ErrConflict, task.ID, task.Status)
		}
		fromNode = task.NodeID

		if err := s.ledger.ReleaseReservationTx(tx, task); err != nil {
			return err
		}

		node, err := s.ledger.SelectNodeTx(tx, task.UsedNodeMemoryMb, fromNode)
		if err != nil {
			return err
		}
		if node == nil {
			return fmt.Errorf("%w: no alternative node with %d MB free", types.ErrConflict, task.UsedNodeMemoryMb)
		}

		if err := s.ledger.ReserveTx(tx, task, node.ID); err != nil {
			return err
		}

		tr, err = s.lifecycle.ApplyTx(tx, task, types.TaskStatusQueued)
		if err != nil {
			return err
		}
		if !tr.Changed {
			task.UpdatedAt = s.now()
			return tx.PutTask(task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lifecycle.Notify(task, tr)
	metrics.TasksReassigned.Inc()
	logger := log.WithTaskID(task.ID)
	logger.Info().
		Str("from_node", fromNode).
		Str("to_node", task.NodeID).
		Int64("memory_mb", task.UsedNodeMemoryMb).
		Msg("Task reassigned")
	s.publisher.Publish(&events.Event{
		ID:      task.ID,
		Type:    events.EventTaskReassigned,
		Message: fmt.Sprintf("task %s moved to node %s", task.Name, task.NodeID),
		Metadata: map[string]string{
			"from_node": fromNode,
			"to_node":   task.NodeID,
		},
	})
	return task, nil
}

// UpdateStatus moves a task through the lifecycle state machine
func (s *Scheduler) UpdateStatus(ctx context.Context, taskID string, status types.TaskStatus) (*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.lifecycle.UpdateStatus(taskID, status)
}

// CompleteTask records the coordinator's result for a task
func (s *Scheduler) CompleteTask(ctx context.Context, taskID string, result []byte) (*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.dispatcher.ReceiveCompletion(taskID, result)
}

// RemoveTask deletes a task that is not RUNNING, releasing its reservation
func (s *Scheduler) RemoveTask(ctx context.Context, taskID string) (*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var task *types.Task
	err := s.store.Update(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.Status == types.TaskStatusRunning {
			return fmt.Errorf("%w: cannot delete RUNNING task %s, stop it first", types.ErrConflict, task.ID)
		}
		if err := s.ledger.ReleaseReservationTx(tx, task); err != nil {
			return err
		}
		return tx.DeleteTask(task.ID)
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithTaskID(task.ID)
	logger.Info().Str("node_id", task.NodeID).Msg("Task deleted")
	s.publisher.Publish(&events.Event{
		ID:      task.ID,
		Type:    events.EventTaskDeleted,
		Message: fmt.Sprintf("task %s deleted", task.Name),
	})
	return task, nil
}

// GetTask returns a task by ID
func (s *Scheduler) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.GetTask(taskID)
}

// ListTasks returns the tasks of consumerID, or every task when it is empty
func (s *Scheduler) ListTasks(ctx context.Context, consumerID string) ([]*types.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		tasks []*types.Task
		err   error
	)
	if consumerID == "" {
		tasks, err = s.store.ListTasks()
	} else {
		tasks, err = s.store.ListTasksByConsumer(consumerID)
	}
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	return tasks, nil
}

// TaskResult returns the task and its trained model
func (s *Scheduler) TaskResult(ctx context.Context, taskID string) (*types.Task, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		task  *types.Task
		model []byte
	)
	err := s.store.View(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		model, err = tx.GetTrainedModel(taskID)
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: no model found for task %s", types.ErrNotFound, taskID)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return task, model, nil
}
