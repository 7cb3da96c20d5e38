package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/types"
)

// Options configures the HTTP server
type Options struct {
	// MaxUploadMb bounds multipart and callback bodies
	MaxUploadMb int64

	// RateLimit is requests per second per client IP; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// Server serves the trainyard HTTP API
type Server struct {
	scheduler      *scheduler.Scheduler
	mux            *http.ServeMux
	handler        http.Handler
	maxUploadBytes int64
	limiter        *RateLimiter
	http           *http.Server
}

// NewServer creates a new API server and registers all routes
func NewServer(sched *scheduler.Scheduler, opts Options) *Server {
	if opts.MaxUploadMb <= 0 {
		opts.MaxUploadMb = 512
	}

	s := &Server{
		scheduler:      sched,
		mux:            http.NewServeMux(),
		maxUploadBytes: opts.MaxUploadMb << 20,
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}

	s.routes()

	var h http.Handler = s.mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	s.handler = instrument(h)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/users", s.createUser)
	s.mux.HandleFunc("GET /api/users", s.listUsers)
	s.mux.HandleFunc("GET /api/users/{id}", s.getUser)

	s.mux.HandleFunc("POST /api/nodes", s.createNode)
	s.mux.HandleFunc("GET /api/nodes", s.listNodes)
	s.mux.HandleFunc("GET /api/nodes/{id}", s.getNode)
	s.mux.HandleFunc("GET /api/nodes/owner/{ownerId}", s.listNodesByOwner)
	s.mux.HandleFunc("PATCH /api/nodes/{id}", s.updateNode)
	s.mux.HandleFunc("DELETE /api/nodes/{id}", s.deleteNode)

	s.mux.HandleFunc("GET /api/tasks", s.listTasks)
	s.mux.HandleFunc("POST /api/tasks", s.submitTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/finished", s.taskFinished)
	s.mux.HandleFunc("PATCH /api/tasks/{id}/status", s.updateTaskStatus)
	s.mux.HandleFunc("PATCH /api/tasks/{id}/reassign", s.reassignTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	s.mux.HandleFunc("GET /api/tasks/{id}/model", s.getTaskModel)

	s.mux.HandleFunc("GET /health", healthHandler)
	s.mux.HandleFunc("GET /ready", readyHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on lis until Shutdown is called
func (s *Server) Serve(lis net.Listener) error {
	if s.limiter != nil {
		s.limiter.StartCleanup()
	}

	logger := log.WithComponent("api")
	logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "listening on "+lis.Addr().String())

	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	if s.limiter != nil {
		s.limiter.StopCleanup()
	}
	return s.http.Shutdown(ctx)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict), errors.Is(err, types.ErrInsufficientCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
