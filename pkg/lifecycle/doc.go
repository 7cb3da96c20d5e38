/*
Package lifecycle owns the task status state machine.

	QUEUED ──► RUNNING ──► COMPLETED
	   │          │
	   └──────────┴──────► FAILED | CANCELLED

Any non-terminal status may move to any other status, including QUEUED
straight to COMPLETED. COMPLETED, FAILED and CANCELLED are terminal: moving
to the same terminal status again succeeds without effect, anything else
fails with types.ErrConflict.

Entering a terminal status stamps FinishedAt and releases the task's memory
reservation through the ledger in the same transaction. The first move to
RUNNING stamps StartedAt.
*/
package lifecycle
