/*
Package storage provides BoltDB-backed persistence for trainyard's users,
nodes, tasks and task blobs.

# Architecture

	┌──────────────────── BOLTDB STORAGE ─────────────────────┐
	│  BoltStore  (<dataDir>/trainyard.db)                     │
	│                                                          │
	│  users          user id  -> JSON User                    │
	│  nodes          node id  -> JSON Node                    │
	│  tasks          task id  -> JSON Task (sizes, no blobs)  │
	│  task_datasets  task id  -> gzip dataset bytes           │
	│  task_models    task id  -> trained model bytes (raw)    │
	└──────────────────────────────────────────────────────────┘

Blobs live in their own buckets so listing tasks never decodes megabytes of
dataset.

# Transactions

Store.Update runs a function against a Tx inside one bbolt read-write
transaction. Returning an error rolls back every write made through the Tx.
bbolt admits a single writer at a time, which gives the ledger and lifecycle
their serialization guarantee: a read-check-write inside Update cannot
interleave with any other Update.

	err := store.Update(func(tx storage.Tx) error {
		node, err := tx.GetNode(nodeID)
		if err != nil {
			return err
		}
		node.FreeMemoryMb -= amount
		if err := tx.PutNode(node); err != nil {
			return err
		}
		task.NodeID = node.ID
		return tx.PutTask(task)
	})

Store.View runs a read-only transaction. The single-operation helpers
(GetNode, ListTasksByConsumer, ...) each open their own transaction.

# Errors

Missing records return an error wrapping types.ErrNotFound.

# Backup

BoltStore.Backup streams a consistent snapshot through tx.WriteTo and is safe
while writers are active.
*/
package storage
