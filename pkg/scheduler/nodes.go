package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// CreateNodeRequest declares a new node. Status defaults to ONLINE.
type CreateNodeRequest struct {
	GPUModel      string           `json:"gpuModel" yaml:"gpuModel"`
	NodeURL       string           `json:"nodeUrl" yaml:"nodeUrl"`
	TotalMemoryMb int64            `json:"totalMemoryMb" yaml:"totalMemoryMb"`
	OwnerID       string           `json:"ownerId" yaml:"ownerId"`
	Status        types.NodeStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// UpdateNodeRequest is a partial node update. Nil fields are left alone.
// OwnerID and the memory fields are accepted only to be rejected.
type UpdateNodeRequest struct {
	GPUModel      *string           `json:"gpuModel,omitempty"`
	NodeURL       *string           `json:"nodeUrl,omitempty"`
	Status        *types.NodeStatus `json:"status,omitempty"`
	OwnerID       *string           `json:"ownerId,omitempty"`
	TotalMemoryMb *int64            `json:"totalMemoryMb,omitempty"`
	FreeMemoryMb  *int64            `json:"freeMemoryMb,omitempty"`
}

// NodeDetail is a node with summaries of the tasks assigned to it
type NodeDetail struct {
	types.Node
	Tasks []types.TaskSummary `json:"tasks"`
}

// CreateNode registers a node owned by an existing user with all of its
// memory free
func (s *Scheduler) CreateNode(ctx context.Context, req CreateNodeRequest) (*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = types.NodeStatusOnline
	}
	switch {
	case strings.TrimSpace(req.GPUModel) == "":
		return nil, fmt.Errorf("%w: gpuModel is required", types.ErrValidation)
	case req.TotalMemoryMb < 1:
		return nil, fmt.Errorf("%w: totalMemoryMb must be at least 1", types.ErrValidation)
	case !status.Valid():
		return nil, fmt.Errorf("%w: unknown node status %q", types.ErrValidation, status)
	}
	if err := validateNodeURL(req.NodeURL); err != nil {
		return nil, err
	}

	now := s.now()
	node := &types.Node{
		ID:            storage.NewID(),
		GPUModel:      strings.TrimSpace(req.GPUModel),
		NodeURL:       req.NodeURL,
		TotalMemoryMb: req.TotalMemoryMb,
		FreeMemoryMb:  req.TotalMemoryMb,
		Status:        status,
		OwnerID:       req.OwnerID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.Update(func(tx storage.Tx) error {
		if _, err := tx.GetUser(req.OwnerID); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("%w: owner %s does not exist", types.ErrValidation, req.OwnerID)
			}
			return err
		}
		return tx.PutNode(node)
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithNodeID(node.ID)
	logger.Info().
		Str("gpu_model", node.GPUModel).
		Str("node_url", node.NodeURL).
		Int64("total_mb", node.TotalMemoryMb).
		Msg("Node registered")
	s.publisher.Publish(&events.Event{
		ID:      node.ID,
		Type:    events.EventNodeCreated,
		Message: fmt.Sprintf("node %s registered with %d MB", node.NodeURL, node.TotalMemoryMb),
	})
	return node, nil
}

// GetNode returns a node with its task summaries
func (s *Scheduler) GetNode(ctx context.Context, nodeID string) (*NodeDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var detail *NodeDetail
	err := s.store.View(func(tx storage.Tx) error {
		node, err := tx.GetNode(nodeID)
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasksByNode(nodeID)
		if err != nil {
			return err
		}
		detail = newNodeDetail(node, tasks)
		return nil
	})
	return detail, err
}

// ListNodes returns every node with its task summaries
func (s *Scheduler) ListNodes(ctx context.Context) ([]*NodeDetail, error) {
	return s.listNodes(ctx, func(*types.Node) bool { return true })
}

// ListNodesByOwner returns the nodes owned by ownerID
func (s *Scheduler) ListNodesByOwner(ctx context.Context, ownerID string) ([]*NodeDetail, error) {
	return s.listNodes(ctx, func(n *types.Node) bool { return n.OwnerID == ownerID })
}

func (s *Scheduler) listNodes(ctx context.Context, keep func(*types.Node) bool) ([]*NodeDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details := []*NodeDetail{}
	err := s.store.View(func(tx storage.Tx) error {
		nodes, err := tx.ListNodes()
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasks()
		if err != nil {
			return err
		}

		byNode := make(map[string][]*types.Task)
		for _, task := range tasks {
			if task.NodeID != "" {
				byNode[task.NodeID] = append(byNode[task.NodeID], task)
			}
		}
		for _, node := range nodes {
			if keep(node) {
				details = append(details, newNodeDetail(node, byNode[node.ID]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func newNodeDetail(node *types.Node, tasks []*types.Task) *NodeDetail {
	summaries := make([]types.TaskSummary, 0, len(tasks))
	for _, task := range tasks {
		summaries = append(summaries, task.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return &NodeDetail{Node: *node, Tasks: summaries}
}

// UpdateNode applies a partial update. Changing the owner is a conflict;
// memory is owned by the ledger and cannot be set directly.
func (s *Scheduler) UpdateNode(ctx context.Context, nodeID string, req UpdateNodeRequest) (*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.TotalMemoryMb != nil || req.FreeMemoryMb != nil {
		return nil, fmt.Errorf("%w: node memory cannot be updated directly", types.ErrValidation)
	}
	if req.GPUModel != nil && strings.TrimSpace(*req.GPUModel) == "" {
		return nil, fmt.Errorf("%w: gpuModel must not be empty", types.ErrValidation)
	}
	if req.NodeURL != nil {
		if err := validateNodeURL(*req.NodeURL); err != nil {
			return nil, err
		}
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown node status %q", types.ErrValidation, *req.Status)
	}

	var node *types.Node
	err := s.store.Update(func(tx storage.Tx) error {
		var err error
		node, err = tx.GetNode(nodeID)
		if err != nil {
			return err
		}
		if req.OwnerID != nil && *req.OwnerID != node.OwnerID {
			return fmt.Errorf("%w: changing ownerId is not allowed", types.ErrConflict)
		}

		if req.GPUModel != nil {
			node.GPUModel = strings.TrimSpace(*req.GPUModel)
		}
		if req.NodeURL != nil {
			node.NodeURL = *req.NodeURL
		}
		if req.Status != nil {
			node.Status = *req.Status
		}
		node.UpdatedAt = s.now()
		return tx.PutNode(node)
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithNodeID(node.ID)
	logger.Info().Str("status", string(node.Status)).Msg("Node updated")
	s.publisher.Publish(&events.Event{
		ID:      node.ID,
		Type:    events.EventNodeUpdated,
		Message: fmt.Sprintf("node %s updated", node.ID),
		Metadata: map[string]string{
			"status": string(node.Status),
		},
	})
	return node, nil
}

// RemoveNode deletes a node that has no RUNNING task. Its remaining tasks
// are unassigned in the same transaction.
func (s *Scheduler) RemoveNode(ctx context.Context, nodeID string) (*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		node       *types.Node
		unassigned int
	)
	err := s.store.Update(func(tx storage.Tx) error {
		var err error
		node, err = tx.GetNode(nodeID)
		if err != nil {
			return err
		}

		tasks, err := tx.ListTasksByNode(nodeID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if task.Status == types.TaskStatusRunning {
				return fmt.Errorf("%w: cannot delete node %s, task %s is RUNNING",
					types.ErrConflict, nodeID, task.ID)
			}
		}

		now := s.now()
		for _, task := range tasks {
			task.NodeID = ""
			task.Reserved = false
			task.UpdatedAt = now
			if err := tx.PutTask(task); err != nil {
				return err
			}
			unassigned++
		}
		return tx.DeleteNode(nodeID)
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithNodeID(node.ID)
	logger.Info().Int("unassigned_tasks", unassigned).Msg("Node deleted")
	s.publisher.Publish(&events.Event{
		ID:      node.ID,
		Type:    events.EventNodeDeleted,
		Message: fmt.Sprintf("node %s deleted", node.ID),
	})
	return node, nil
}

func validateNodeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: nodeUrl must be an absolute URL, got %q", types.ErrValidation, raw)
	}
	return nil
}
