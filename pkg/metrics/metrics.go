package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	NodeFreeMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_node_free_memory_mb",
			Help: "Free GPU memory per node in megabytes",
		},
		[]string{"node"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainyard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Lifecycle metrics
	TaskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_task_transitions_total",
			Help: "Task status transitions by source and target status",
		},
		[]string{"from", "to"},
	)

	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainyard_tasks_submitted_total",
			Help: "Total number of submitted tasks",
		},
	)

	TasksReassigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainyard_tasks_reassigned_total",
			Help: "Total number of successful task reassignments",
		},
	)

	// Dispatch metrics
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_dispatch_total",
			Help: "Coordinator start-job calls by result",
		},
		[]string{"result"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trainyard_dispatch_duration_seconds",
			Help:    "Coordinator start-job call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_completions_total",
			Help: "Coordinator completion callbacks by result",
		},
		[]string{"result"},
	)

	// Ledger metrics
	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainyard_ledger_operations_total",
			Help: "Ledger allocate/release operations by result",
		},
		[]string{"op", "result"},
	)

	LedgerReleaseClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trainyard_ledger_release_clamped_total",
			Help: "Releases that would have pushed free memory above total capacity",
		},
	)

	LedgerDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainyard_ledger_drift_mb",
			Help: "Recorded free memory minus free memory implied by reservations",
		},
		[]string{"node"},
	)

	AuditDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trainyard_audit_duration_seconds",
			Help:    "Time taken by one ledger audit pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodeFreeMemory)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TaskTransitions)
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksReassigned)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(CompletionsTotal)
	prometheus.MustRegister(LedgerOperations)
	prometheus.MustRegister(LedgerReleaseClamped)
	prometheus.MustRegister(LedgerDrift)
	prometheus.MustRegister(AuditDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
