/*
Package types defines the data model shared by every trainyard package.

# Core Types

  - User: a consumer or node owner, referenced by opaque id
  - Node: a GPU worker with fixed TotalMemoryMb and ledger-owned FreeMemoryMb
  - Task: a training job with a status, a memory reservation and blob sizes
  - TaskSummary: the short task form listed under a node

# State Machine

Task status moves freely between QUEUED and RUNNING and may jump to any
terminal status. Terminal statuses are sticky:

	QUEUED ──► RUNNING ──► COMPLETED
	   │          │   └──► FAILED
	   └──────────┴──────► CANCELLED

Once a task is COMPLETED, FAILED or CANCELLED the only accepted update is a
re-write of the same status. The transition rules live in pkg/lifecycle; this
package only answers TaskStatus.Terminal and TaskStatus.Valid.

# Reservations

Task.Reserved is true while Task.UsedNodeMemoryMb is debited against
Task.NodeID. The ledger credits a node back only for reserved tasks and clears
the flag in the same transaction, so a reservation is released exactly once.

# Errors

errors.go holds the error taxonomy (ErrValidation, ErrNotFound, ErrConflict,
ErrInsufficientCapacity, ErrInternal). Packages wrap these with context and the
API layer maps them to HTTP status codes with errors.Is.
*/
package types
