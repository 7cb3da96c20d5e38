package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/trainyard/pkg/api"
	"github.com/cuemby/trainyard/pkg/config"
	"github.com/cuemby/trainyard/pkg/dispatch"
	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/health"
	"github.com/cuemby/trainyard/pkg/ledger"
	"github.com/cuemby/trainyard/pkg/lifecycle"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/reconciler"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the graceful stop of the HTTP server
const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trainyard API server",
	Long: `Run the trainyard API server.

Configuration is read from --config (YAML) and then overridden by any flag
given explicitly on the command line.

Examples:
  # Serve with defaults (data in ./trainyard-data, API on :8000)
  trainyard serve

  # Serve with a config file and a different coordinator
  trainyard serve --config trainyard.yaml --coordinator-url http://trainer:5000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("data-dir", "", "Data directory for the ledger database")
	serveCmd.Flags().String("api-addr", "", "Address for the HTTP API")
	serveCmd.Flags().String("public-url", "", "Base URL the coordinator uses for completion callbacks")
	serveCmd.Flags().String("grpc-addr", "", "Address for the gRPC health service (empty string in config disables it)")
	serveCmd.Flags().String("coordinator-url", "", "Training coordinator base URL")
	serveCmd.Flags().Bool("compress-dataset", false, "Send datasets to the coordinator gzip-compressed")
	serveCmd.Flags().Bool("allocate-on-submit", false, "Debit node memory when a task is submitted")

	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig merges the config file with explicitly set flags
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	strOverrides := map[string]*string{
		"data-dir":        &cfg.DataDir,
		"api-addr":        &cfg.API.Addr,
		"public-url":      &cfg.API.PublicURL,
		"grpc-addr":       &cfg.GRPCAddr,
		"coordinator-url": &cfg.Coordinator.URL,
	}
	for name, dst := range strOverrides {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("compress-dataset") {
		cfg.Coordinator.CompressDataset, _ = flags.GetBool("compress-dataset")
	}
	if flags.Changed("allocate-on-submit") {
		cfg.Scheduler.AllocateOnSubmit, _ = flags.GetBool("allocate-on-submit")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON, Output: os.Stderr})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.UpdateComponent(metrics.ComponentStore, true, "opened "+cfg.DataDir)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go logEvents(sub)

	l := ledger.NewLedger(store)
	lc := lifecycle.NewLifecycle(store, l, broker)

	coordinator := dispatch.NewClient(cfg.Coordinator.URL).WithCompression(cfg.Coordinator.CompressDataset)
	dispatcher := dispatch.NewDispatcher(coordinator, store, lc, broker, cfg.Coordinator.Timeout)
	dispatcher.Start()
	defer dispatcher.Stop()

	sched := scheduler.NewScheduler(store, l, lc, dispatcher, broker, scheduler.Options{
		AllocateOnSubmit: cfg.Scheduler.AllocateOnSubmit,
		MemoryMultiplier: cfg.Scheduler.MemoryMultiplier,
		PublicURL:        cfg.API.PublicURL,
	})

	collector := metrics.NewCollector(store, cfg.Metrics.Interval)
	collector.Start()
	defer collector.Stop()

	auditor := reconciler.NewReconciler(store, cfg.Audit.Interval)
	auditor.Start()
	defer auditor.Stop()

	if cfg.Coordinator.HealthPath != "" {
		metrics.RegisterCritical(metrics.ComponentCoordinator)
		monitor := health.NewCoordinatorMonitor(cfg.Coordinator)
		monitor.Start()
		defer monitor.Stop()
	}

	apiServer := api.NewServer(sched, api.Options{
		MaxUploadMb: cfg.API.MaxUploadMb,
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
	})
	apiLis, err := net.Listen("tcp", cfg.API.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.API.Addr, err)
	}

	var (
		grpcServer *api.HealthGRPCServer
		grpcLis    net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			apiLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer = api.NewHealthGRPCServer(store, 0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiServer.Serve(apiLis); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			if err := grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcServer != nil {
			grpcServer.Stop()
		}
		return apiServer.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("api", cfg.API.Addr).
		Str("grpc", cfg.GRPCAddr).
		Str("coordinator", cfg.Coordinator.URL).
		Bool("allocate_on_submit", cfg.Scheduler.AllocateOnSubmit).
		Msg("Trainyard is running")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// logEvents writes every broker event to the debug log until sub is closed
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Debug().
			Str("type", string(event.Type)).
			Str("id", event.ID).
			Interface("metadata", event.Metadata).
			Msg(event.Message)
	}
}
