package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers         = []byte("users")
	bucketNodes         = []byte("nodes")
	bucketTasks         = []byte("tasks")
	bucketDatasets      = []byte("task_datasets")
	bucketTrainedModels = []byte("task_models")
)

// DBFile is the database file name inside the data directory
const DBFile = "trainyard.db"

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, DBFile))
}

// OpenBoltStore opens (or creates) the database file at dbPath
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketNodes,
			bucketTasks,
			bucketDatasets,
			bucketTrainedModels,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction
func (s *BoltStore) Update(fn func(tx Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// View runs fn in a read-only transaction
func (s *BoltStore) View(fn func(tx Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Backup writes a consistent snapshot of the database to w
func (s *BoltStore) Backup(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}

// Single-operation helpers

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.Update(func(tx Tx) error { return tx.PutUser(user) })
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user *types.User
	err := s.View(func(tx Tx) error {
		var err error
		user, err = tx.GetUser(id)
		return err
	})
	return user, err
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.View(func(tx Tx) error {
		var err error
		users, err = tx.ListUsers()
		return err
	})
	return users, err
}

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.Update(func(tx Tx) error { return tx.PutNode(node) })
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node *types.Node
	err := s.View(func(tx Tx) error {
		var err error
		node, err = tx.GetNode(id)
		return err
	})
	return node, err
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.View(func(tx Tx) error {
		var err error
		nodes, err = tx.ListNodes()
		return err
	})
	return nodes, err
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task *types.Task
	err := s.View(func(tx Tx) error {
		var err error
		task, err = tx.GetTask(id)
		return err
	})
	return task, err
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.View(func(tx Tx) error {
		var err error
		tasks, err = tx.ListTasks()
		return err
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.View(func(tx Tx) error {
		var err error
		tasks, err = tx.ListTasksByNode(nodeID)
		return err
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByConsumer(consumerID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.View(func(tx Tx) error {
		var err error
		tasks, err = tx.ListTasksByConsumer(consumerID)
		return err
	})
	return tasks, err
}

func (s *BoltStore) GetTrainedModel(taskID string) ([]byte, error) {
	var data []byte
	err := s.View(func(tx Tx) error {
		var err error
		data, err = tx.GetTrainedModel(taskID)
		return err
	})
	return data, err
}

// boltTx implements Tx on top of a bolt transaction
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) put(bucket []byte, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucket).Put([]byte(id), data)
}

func (t *boltTx) get(bucket []byte, kind, id string, v interface{}) error {
	data := t.tx.Bucket(bucket).Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, id)
	}
	return json.Unmarshal(data, v)
}

// User operations
func (t *boltTx) GetUser(id string) (*types.User, error) {
	var user types.User
	if err := t.get(bucketUsers, "user", id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (t *boltTx) PutUser(user *types.User) error {
	return t.put(bucketUsers, user.ID, user)
}

func (t *boltTx) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := t.tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
		var user types.User
		if err := json.Unmarshal(v, &user); err != nil {
			return err
		}
		users = append(users, &user)
		return nil
	})
	return users, err
}

// Node operations
func (t *boltTx) GetNode(id string) (*types.Node, error) {
	var node types.Node
	if err := t.get(bucketNodes, "node", id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (t *boltTx) PutNode(node *types.Node) error {
	node.Version++
	return t.put(bucketNodes, node.ID, node)
}

func (t *boltTx) DeleteNode(id string) error {
	return t.tx.Bucket(bucketNodes).Delete([]byte(id))
}

func (t *boltTx) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := t.tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
		var node types.Node
		if err := json.Unmarshal(v, &node); err != nil {
			return err
		}
		nodes = append(nodes, &node)
		return nil
	})
	return nodes, err
}

// Task operations
func (t *boltTx) GetTask(id string) (*types.Task, error) {
	var task types.Task
	if err := t.get(bucketTasks, "task", id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *boltTx) PutTask(task *types.Task) error {
	return t.put(bucketTasks, task.ID, task)
}

func (t *boltTx) DeleteTask(id string) error {
	key := []byte(id)
	for _, bucket := range [][]byte{bucketTasks, bucketDatasets, bucketTrainedModels} {
		if err := t.tx.Bucket(bucket).Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTx) ListTasks() ([]*types.Task, error) {
	return t.filterTasks(func(*types.Task) bool { return true })
}

func (t *boltTx) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	return t.filterTasks(func(task *types.Task) bool { return task.NodeID == nodeID })
}

func (t *boltTx) ListTasksByConsumer(consumerID string) ([]*types.Task, error) {
	return t.filterTasks(func(task *types.Task) bool { return task.ConsumerID == consumerID })
}

func (t *boltTx) filterTasks(keep func(*types.Task) bool) ([]*types.Task, error) {
	var tasks []*types.Task
	err := t.tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		if keep(&task) {
			tasks = append(tasks, &task)
		}
		return nil
	})
	return tasks, err
}

// Blob operations. Values returned by bolt are only valid inside the
// transaction, so reads copy.
func (t *boltTx) PutDataset(taskID string, data []byte) error {
	return t.tx.Bucket(bucketDatasets).Put([]byte(taskID), data)
}

func (t *boltTx) GetDataset(taskID string) ([]byte, error) {
	return t.getBlob(bucketDatasets, "dataset", taskID)
}

func (t *boltTx) PutTrainedModel(taskID string, data []byte) error {
	return t.tx.Bucket(bucketTrainedModels).Put([]byte(taskID), data)
}

func (t *boltTx) GetTrainedModel(taskID string) ([]byte, error) {
	return t.getBlob(bucketTrainedModels, "trained model for task", taskID)
}

func (t *boltTx) getBlob(bucket []byte, kind, id string) ([]byte, error) {
	data := t.tx.Bucket(bucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, id)
	}
	return append([]byte(nil), data...), nil
}
