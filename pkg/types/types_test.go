package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTaskStatusTerminal tests terminal status classification
func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
		valid    bool
	}{
		{TaskStatusQueued, false, true},
		{TaskStatusRunning, false, true},
		{TaskStatusCompleted, true, true},
		{TaskStatusFailed, true, true},
		{TaskStatusCancelled, true, true},
		{TaskStatus("PAUSED"), false, false},
		{TaskStatus(""), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}

func TestNodeStatusValid(t *testing.T) {
	assert.True(t, NodeStatusOnline.Valid())
	assert.True(t, NodeStatusOffline.Valid())
	assert.False(t, NodeStatus("online").Valid())
}

func TestTaskSummary(t *testing.T) {
	task := &Task{ID: "t1", Name: "resnet", Status: TaskStatusRunning, UsedNodeMemoryMb: 512}

	s := task.Summary()
	assert.Equal(t, TaskSummary{ID: "t1", Name: "resnet", Status: TaskStatusRunning, UsedNodeMemoryMb: 512}, s)
	assert.False(t, task.HasResult())

	task.TrainedModelSizeBytes = 10
	assert.True(t, task.HasResult())
}

// TestTaskJSON_Timestamps tests that unset start and finish times are left out
func TestTaskJSON_Timestamps(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := &Task{ID: "task-1", Status: TaskStatusQueued, CreatedAt: now, UpdatedAt: now}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "startedAt")
	assert.NotContains(t, fields, "finishedAt")
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["createdAt"])

	task.StartedAt = now
	data, err = json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"startedAt":"2026-01-02T03:04:05Z"`)
	assert.NotContains(t, string(data), "finishedAt")
}
