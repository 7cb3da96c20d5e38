package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// Operation labels for trainyard_ledger_operations_total
const (
	opAllocate = "allocate"
	opRelease  = "release"
)

// Ledger owns node free-memory accounting. FreeMemoryMb is only ever changed
// through Allocate and Release, and every change is a read-modify-write
// inside a store transaction.
type Ledger struct {
	store storage.Store
	now   func() time.Time
}

// NewLedger creates a ledger over store
func NewLedger(store storage.Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
	}
}

// SelectNode returns the ONLINE node with the most free memory that can hold
// requiredMb, skipping excludeNodeID. It returns nil when no node qualifies.
func (l *Ledger) SelectNode(requiredMb int64, excludeNodeID string) (*types.Node, error) {
	var node *types.Node
	err := l.store.View(func(tx storage.Tx) error {
		var err error
		node, err = l.SelectNodeTx(tx, requiredMb, excludeNodeID)
		return err
	})
	return node, err
}

// SelectNodeTx is SelectNode inside a caller-owned transaction
func (l *Ledger) SelectNodeTx(tx storage.Tx, requiredMb int64, excludeNodeID string) (*types.Node, error) {
	nodes, err := tx.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return selectNode(nodes, requiredMb, excludeNodeID), nil
}

// selectNode picks the eligible node with the largest free memory. Ties go to
// the lowest node ID so the choice does not depend on storage order.
func selectNode(nodes []*types.Node, requiredMb int64, excludeNodeID string) *types.Node {
	eligible := filterEligible(nodes, requiredMb, excludeNodeID)
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].FreeMemoryMb != eligible[j].FreeMemoryMb {
			return eligible[i].FreeMemoryMb > eligible[j].FreeMemoryMb
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0]
}

// filterEligible returns ONLINE nodes with at least requiredMb free
func filterEligible(nodes []*types.Node, requiredMb int64, excludeNodeID string) []*types.Node {
	var eligible []*types.Node
	for _, node := range nodes {
		if node.Status != types.NodeStatusOnline {
			continue
		}
		if excludeNodeID != "" && node.ID == excludeNodeID {
			continue
		}
		if node.FreeMemoryMb < requiredMb {
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible
}

// Allocate debits amountMb from the node's free memory
func (l *Ledger) Allocate(nodeID string, amountMb int64) (*types.Node, error) {
	var node *types.Node
	err := l.store.Update(func(tx storage.Tx) error {
		var err error
		node, err = l.AllocateTx(tx, nodeID, amountMb)
		return err
	})
	return node, err
}

// AllocateTx is Allocate inside a caller-owned transaction. The node is left
// untouched when the debit would take free memory below zero.
func (l *Ledger) AllocateTx(tx storage.Tx, nodeID string, amountMb int64) (*types.Node, error) {
	if amountMb <= 0 {
		countOp(opAllocate, types.ErrValidation)
		return nil, fmt.Errorf("%w: allocation must be positive, got %d", types.ErrValidation, amountMb)
	}

	node, err := tx.GetNode(nodeID)
	if err != nil {
		countOp(opAllocate, err)
		return nil, err
	}

	if node.FreeMemoryMb-amountMb < 0 {
		err := fmt.Errorf("%w: node %s has %d MB free, %d MB requested",
			types.ErrInsufficientCapacity, node.ID, node.FreeMemoryMb, amountMb)
		countOp(opAllocate, err)
		return nil, err
	}

	node.FreeMemoryMb -= amountMb
	node.UpdatedAt = l.now()
	if err := tx.PutNode(node); err != nil {
		countOp(opAllocate, err)
		return nil, fmt.Errorf("failed to update node %s: %w", node.ID, err)
	}

	countOp(opAllocate, nil)
	return node, nil
}

// Release credits amountMb back to the node's free memory
func (l *Ledger) Release(nodeID string, amountMb int64) (*types.Node, error) {
	var node *types.Node
	err := l.store.Update(func(tx storage.Tx) error {
		var err error
		node, err = l.ReleaseTx(tx, nodeID, amountMb)
		return err
	})
	return node, err
}

// ReleaseTx is Release inside a caller-owned transaction. Free memory is
// clamped at TotalMemoryMb; a clamp means some caller released twice and is
// logged and counted.
func (l *Ledger) ReleaseTx(tx storage.Tx, nodeID string, amountMb int64) (*types.Node, error) {
	if amountMb < 0 {
		countOp(opRelease, types.ErrValidation)
		return nil, fmt.Errorf("%w: release must not be negative, got %d", types.ErrValidation, amountMb)
	}

	node, err := tx.GetNode(nodeID)
	if err != nil {
		countOp(opRelease, err)
		return nil, err
	}

	free := node.FreeMemoryMb + amountMb
	if free > node.TotalMemoryMb {
		logger := log.WithNodeID(node.ID)
		logger.Warn().
			Int64("free_mb", node.FreeMemoryMb).
			Int64("release_mb", amountMb).
			Int64("total_mb", node.TotalMemoryMb).
			Msg("Release would exceed node capacity, clamping")
		metrics.LedgerReleaseClamped.Inc()
		free = node.TotalMemoryMb
	}

	node.FreeMemoryMb = free
	node.UpdatedAt = l.now()
	if err := tx.PutNode(node); err != nil {
		countOp(opRelease, err)
		return nil, fmt.Errorf("failed to update node %s: %w", node.ID, err)
	}

	countOp(opRelease, nil)
	return node, nil
}

// ReserveTx debits the task's memory from nodeID and records the reservation
// on the task. The caller persists the task.
func (l *Ledger) ReserveTx(tx storage.Tx, task *types.Task, nodeID string) error {
	if task.Reserved {
		return fmt.Errorf("%w: task %s already holds a reservation on node %s",
			types.ErrConflict, task.ID, task.NodeID)
	}
	if _, err := l.AllocateTx(tx, nodeID, task.UsedNodeMemoryMb); err != nil {
		return err
	}
	task.NodeID = nodeID
	task.Reserved = true
	return nil
}

// ReleaseReservationTx credits back the task's reservation, if it holds one,
// and clears it. Calling it again is a no-op, so a reservation is released at
// most once. The caller persists the task.
func (l *Ledger) ReleaseReservationTx(tx storage.Tx, task *types.Task) error {
	if !task.Reserved {
		return nil
	}
	if _, err := l.ReleaseTx(tx, task.NodeID, task.UsedNodeMemoryMb); err != nil {
		return err
	}
	task.Reserved = false
	return nil
}

func countOp(op string, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, types.ErrInsufficientCapacity):
		result = "insufficient_capacity"
	case errors.Is(err, types.ErrNotFound):
		result = "not_found"
	case errors.Is(err, types.ErrValidation):
		result = "invalid"
	default:
		result = "error"
	}
	metrics.LedgerOperations.WithLabelValues(op, result).Inc()
}
