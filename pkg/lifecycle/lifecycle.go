package lifecycle

import (
	"fmt"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/ledger"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// Transition describes the effect of one status change
type Transition struct {
	From    types.TaskStatus
	To      types.TaskStatus
	Changed bool
}

// Lifecycle drives the task status state machine. The only rule enforced is
// that a terminal status is never left; entering a terminal status releases
// the task's reservation in the same transaction.
type Lifecycle struct {
	store     storage.Store
	ledger    *ledger.Ledger
	publisher events.Publisher
	now       func() time.Time
}

// NewLifecycle creates a lifecycle. A nil publisher discards events.
func NewLifecycle(store storage.Store, l *ledger.Ledger, publisher events.Publisher) *Lifecycle {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Lifecycle{
		store:     store,
		ledger:    l,
		publisher: publisher,
		now:       time.Now,
	}
}

// UpdateStatus moves a task to status as a single atomic write
func (lc *Lifecycle) UpdateStatus(taskID string, status types.TaskStatus) (*types.Task, error) {
	var (
		task *types.Task
		tr   Transition
	)
	err := lc.store.Update(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		tr, err = lc.ApplyTx(tx, task, status)
		return err
	})
	if err != nil {
		return nil, err
	}

	lc.Notify(task, tr)
	return task, nil
}

// ApplyTx applies the transition to task inside tx and persists it. The
// check against the current status and the write happen in the same
// transaction, so two callers cannot both leave a non-terminal status.
// Callers that commit tx should pass the result to Notify.
func (lc *Lifecycle) ApplyTx(tx storage.Tx, task *types.Task, status types.TaskStatus) (Transition, error) {
	tr := Transition{From: task.Status, To: status}

	if !status.Valid() {
		return tr, fmt.Errorf("%w: unknown task status %q", types.ErrValidation, status)
	}

	if task.Status.Terminal() {
		if status == task.Status {
			return tr, nil
		}
		return tr, fmt.Errorf("%w: task %s is %s and cannot move to %s",
			types.ErrConflict, task.ID, task.Status, status)
	}

	if status == task.Status {
		return tr, nil
	}

	now := lc.now()
	if status.Terminal() {
		if err := lc.ledger.ReleaseReservationTx(tx, task); err != nil {
			return tr, fmt.Errorf("failed to release reservation for task %s: %w", task.ID, err)
		}
		if task.FinishedAt.IsZero() {
			task.FinishedAt = now
		}
	}
	if status == types.TaskStatusRunning && task.StartedAt.IsZero() {
		task.StartedAt = now
	}

	task.Status = status
	task.UpdatedAt = now
	if err := tx.PutTask(task); err != nil {
		return tr, fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}

	tr.Changed = true
	return tr, nil
}

// Notify records a committed transition in logs, metrics and events
func (lc *Lifecycle) Notify(task *types.Task, tr Transition) {
	if !tr.Changed {
		return
	}

	metrics.TaskTransitions.WithLabelValues(string(tr.From), string(tr.To)).Inc()

	logger := log.WithTaskID(task.ID)
	logger.Info().
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("node_id", task.NodeID).
		Msg("Task status changed")

	meta := map[string]string{
		"from":    string(tr.From),
		"to":      string(tr.To),
		"node_id": task.NodeID,
	}
	lc.publisher.Publish(&events.Event{
		ID:       task.ID,
		Type:     events.EventTaskStatusChanged,
		Message:  fmt.Sprintf("task %s moved from %s to %s", task.Name, tr.From, tr.To),
		Metadata: meta,
	})

	switch tr.To {
	case types.TaskStatusCompleted:
		lc.publisher.Publish(&events.Event{
			ID:       task.ID,
			Type:     events.EventTaskCompleted,
			Message:  fmt.Sprintf("task %s completed", task.Name),
			Metadata: meta,
		})
	case types.TaskStatusFailed:
		lc.publisher.Publish(&events.Event{
			ID:       task.ID,
			Type:     events.EventTaskFailed,
			Message:  fmt.Sprintf("task %s failed", task.Name),
			Metadata: meta,
		})
	}
}
