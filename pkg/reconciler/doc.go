/*
Package reconciler audits the memory ledger.

On every tick it reads nodes and tasks in one read-only transaction and
checks, per node:

	FreeMemoryMb == TotalMemoryMb - Σ UsedNodeMemoryMb (reserved, non-terminal tasks)

The difference is exported as trainyard_ledger_drift_mb{node} and logged
when non-zero. Tasks that still hold a reservation after reaching a
terminal status, or on a node that no longer exists, are reported as
orphaned.

The auditor never writes. Tasks are placed only in response to requests, so
a correction here would be a second writer racing the scheduler.
*/
package reconciler
