package api

import (
	"net/http"

	"github.com/cuemby/trainyard/pkg/metrics"
)

// healthHandler implements the /health endpoint.
// Liveness only: 200 while the process serves requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	health := metrics.GetHealth()

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// readyHandler implements the /ready endpoint.
// Ready once the store, dispatcher and API (and the coordinator, when a
// health path is configured) have reported healthy.
func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness := metrics.GetReadiness()

	status := http.StatusOK
	if readiness.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readiness)
}
