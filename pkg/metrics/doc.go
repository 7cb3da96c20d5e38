/*
Package metrics defines the Prometheus metrics exposed by trainyard and the
in-process health registry behind /health and /ready.

All collectors are registered with the default registry at package init and
served by Handler on /metrics.

# Metric families

Inventory (refreshed by Collector on an interval):

	trainyard_nodes_total{status}
	trainyard_node_free_memory_mb{node}
	trainyard_tasks_total{status}

Ledger and lifecycle:

	trainyard_ledger_operations_total{op,result}
	trainyard_ledger_release_clamped_total
	trainyard_ledger_drift_mb{node}
	trainyard_audit_duration_seconds
	trainyard_task_transitions_total{from,to}
	trainyard_tasks_submitted_total
	trainyard_tasks_reassigned_total

Dispatch:

	trainyard_dispatch_total{result}
	trainyard_dispatch_duration_seconds
	trainyard_completions_total{result}

API:

	trainyard_api_requests_total{method,status}
	trainyard_api_request_duration_seconds{method}

# Timing

	timer := metrics.NewTimer()
	err := coordinator.StartTraining(ctx, req)
	timer.ObserveDuration(metrics.DispatchDuration)

# Health

Components report themselves with UpdateComponent. GetReadiness is "ready"
only when the store, the dispatcher and the API server have all registered
as healthy.
*/
package metrics
