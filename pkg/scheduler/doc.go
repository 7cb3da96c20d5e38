/*
Package scheduler is the entry point for task and node operations. It
composes the ledger, the task lifecycle and the dispatcher so that every
operation touching both a task and a node commits or fails as a unit.

# Submission

SubmitTask validates the request, compresses the dataset for storage, and
estimates the task's memory as ceil(dataset MiB × multiplier) unless the
caller supplied an estimate. It records the node the ledger would pick (the
ONLINE node with the most free memory) and persists the task as QUEUED,
then hands it to the dispatcher without waiting for the coordinator.

By default the chosen node is only recorded: its free memory is not debited
until the task is reassigned. Options.AllocateOnSubmit debits it in the
submitting transaction instead.

# Reassignment

Reassign releases whatever the task holds, picks another node with room,
debits it and requeues the task in a single bbolt transaction. If no other
node qualifies the transaction is rolled back and ErrConflict returned, so
the old reservation is untouched.

# Removal

RemoveTask refuses RUNNING tasks and otherwise releases the reservation and
deletes the task with its blobs. RemoveNode refuses nodes with RUNNING tasks
and otherwise unassigns the remaining tasks before deleting the node.
*/
package scheduler
