/*
Package ledger enforces node memory accounting.

Every node satisfies 0 <= FreeMemoryMb <= TotalMemoryMb. Allocate refuses a
debit that would go negative; Release clamps at capacity and reports the
clamp. Both read and write the node inside one bbolt transaction, and bbolt
runs one writer at a time, so concurrent allocations against the same node
cannot lose updates.

Node selection is worst-fit: the ONLINE node with the most free memory wins,
ties going to the lowest ID.

The Tx variants let the scheduler and lifecycle compose ledger changes with
task writes in a single transaction. ReserveTx and ReleaseReservationTx tie
a debit to Task.Reserved so a reservation is released exactly once.
*/
package ledger
