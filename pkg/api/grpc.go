package api

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for trainyard
const ServiceName = "trainyard"

// HealthGRPCServer exposes grpc.health.v1.Health. It reports SERVING while
// the store answers reads.
type HealthGRPCServer struct {
	store    storage.Store
	interval time.Duration
	grpc     *grpc.Server
	health   *health.Server
	stopCh   chan struct{}
	doneCh   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewHealthGRPCServer creates a gRPC server with the health service registered
func NewHealthGRPCServer(store storage.Store, interval time.Duration) *HealthGRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthGRPCServer{
		store:    store,
		interval: interval,
		grpc:     srv,
		health:   hs,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Serve probes the store periodically and serves gRPC on lis until Stop
func (s *HealthGRPCServer) Serve(lis net.Listener) error {
	s.Probe()
	s.startOnce.Do(func() {
		s.started = true
		go s.probeLoop()
	})

	logger := log.WithComponent("grpc")
	logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health service listening")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (s *HealthGRPCServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.health.Shutdown()
		s.grpc.GracefulStop()

		// Disarm a later Serve so it cannot start the probe loop
		s.startOnce.Do(func() {})
		if s.started {
			<-s.doneCh
		}
	})
}

// Probe checks the store once and updates the serving status
func (s *HealthGRPCServer) Probe() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	err := s.store.View(func(tx storage.Tx) error {
		_, err := tx.ListNodes()
		return err
	})
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		logger := log.WithComponent("grpc")
		logger.Warn().Err(err).Msg("Store probe failed")
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
	} else {
		metrics.UpdateComponent(metrics.ComponentStore, true, "")
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

func (s *HealthGRPCServer) probeLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Probe()
		case <-s.stopCh:
			return
		}
	}
}

// Check is a convenience for in-process callers and tests
func (s *HealthGRPCServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}
