package storage

import (
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/google/uuid"
)

// UserStore reads and writes users
type UserStore interface {
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	ListUsers() ([]*types.User, error)
}

// NodeStore reads and writes nodes
type NodeStore interface {
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
}

// TaskStore reads tasks and their blobs
type TaskStore interface {
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	ListTasksByConsumer(consumerID string) ([]*types.Task, error)
	GetTrainedModel(taskID string) ([]byte, error)
}

// Tx is a unit of work against the store. Reads inside a Tx observe the
// writes made earlier in the same Tx. Writes fail on a read-only Tx.
type Tx interface {
	GetUser(id string) (*types.User, error)
	PutUser(user *types.User) error
	ListUsers() ([]*types.User, error)

	GetNode(id string) (*types.Node, error)
	// PutNode upserts the node and increments its Version
	PutNode(node *types.Node) error
	DeleteNode(id string) error
	ListNodes() ([]*types.Node, error)

	GetTask(id string) (*types.Task, error)
	PutTask(task *types.Task) error
	// DeleteTask removes the task and its blobs
	DeleteTask(id string) error
	ListTasks() ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	ListTasksByConsumer(consumerID string) ([]*types.Task, error)

	PutDataset(taskID string, data []byte) error
	GetDataset(taskID string) ([]byte, error)
	PutTrainedModel(taskID string, data []byte) error
	GetTrainedModel(taskID string) ([]byte, error)
}

// Store is the record store consumed by the ledger, lifecycle, dispatcher and
// scheduler. Update runs fn in a single read-write transaction: either every
// write made through the Tx is committed or none is. Update transactions are
// serialized, so a read-check-write inside one cannot race another writer.
type Store interface {
	UserStore
	NodeStore
	TaskStore

	Update(fn func(tx Tx) error) error
	View(fn func(tx Tx) error) error

	Close() error
}

// NewID returns a new unique record id
func NewID() string {
	return uuid.New().String()
}
