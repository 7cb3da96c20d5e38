package types

import (
	"time"
)

// User is a consumer or node owner. Identity and credentials live elsewhere;
// trainyard only needs to know the user exists.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"walletAddress"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Node is a GPU worker advertising memory capacity and the URL at which its
// runtime accepts work
type Node struct {
	ID            string     `json:"id"`
	GPUModel      string     `json:"gpuModel"`
	NodeURL       string     `json:"nodeUrl"`
	TotalMemoryMb int64      `json:"totalMemoryMb"`
	FreeMemoryMb  int64      `json:"freeMemoryMb"` // 0 <= FreeMemoryMb <= TotalMemoryMb
	Status        NodeStatus `json:"status"`
	OwnerID       string     `json:"ownerId"`
	Version       uint64     `json:"version"` // Bumped on every write
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NodeStatus represents the availability of a node
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "ONLINE"
	NodeStatusOffline NodeStatus = "OFFLINE"
)

// Valid reports whether s is a known node status
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusOnline, NodeStatusOffline:
		return true
	}
	return false
}

// Task is a training job submitted by a consumer
type Task struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ConsumerID string     `json:"consumerId"`
	NodeID     string     `json:"nodeId,omitempty"` // Empty when not assigned to a node
	Status     TaskStatus `json:"status"`

	// UsedNodeMemoryMb is fixed once set and used for both allocation and release
	UsedNodeMemoryMb int64 `json:"usedNodeMemoryMb"`

	// Reserved is true while UsedNodeMemoryMb is debited against NodeID
	Reserved bool `json:"reserved"`

	// Blob sizes. The blobs themselves are kept out of the task record.
	DatasetSizeBytes      int64 `json:"datasetSizeBytes"`
	DatasetInlineBytes    int64 `json:"datasetInlineBytes"`
	TrainedModelSizeBytes int64 `json:"trainedModelSizeBytes,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// HasResult reports whether a trained model has been stored for the task
func (t *Task) HasResult() bool {
	return t.TrainedModelSizeBytes > 0
}

// TaskStatus represents the state of a task
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is COMPLETED, FAILED or CANCELLED
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskSummary is the short form of a task shown alongside its node
type TaskSummary struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           TaskStatus `json:"status"`
	UsedNodeMemoryMb int64      `json:"usedNodeMemoryMb"`
}

// Summary returns the short form of the task
func (t *Task) Summary() TaskSummary {
	return TaskSummary{
		ID:               t.ID,
		Name:             t.Name,
		Status:           t.Status,
		UsedNodeMemoryMb: t.UsedNodeMemoryMb,
	}
}
