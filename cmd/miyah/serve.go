package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/miyah/internal/config"
	"github.com/alfredjeanlab/miyah/internal/events"
	"github.com/alfredjeanlab/miyah/internal/server"
	"github.com/alfredjeanlab/miyah/internal/store"
	"github.com/alfredjeanlab/miyah/internal/store/memory"
	"github.com/alfredjeanlab/miyah/internal/store/postgres"
	reportsync "github.com/alfredjeanlab/miyah/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the report store server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("http-addr") {
			cfg.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
		}
		if cmd.Flags().Changed("grpc-addr") {
			cfg.GRPCAddr, _ = cmd.Flags().GetString("grpc-addr")
		}

		// Open the report store.
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.EventsURL != "" {
			pub, err := events.NewNATSPublisher(cfg.EventsURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "url", cfg.EventsURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (MIYAH_EVENTS_URL not set)")
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := server.NewMetrics(reg)
		if err != nil {
			publisher.Close()
			st.Close()
			return err
		}

		reportsServer := server.NewReportsServer(st, publisher,
			server.WithMetrics(metrics),
			server.WithLogger(logger),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Sync destinations. The first one that holds an export seeds an
		// empty store before the listeners open.
		scheduler := startSync(ctx, cfg, st, logger)

		// Start gRPC health listener.
		var grpcServer *grpc.Server
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				publisher.Close()
				st.Close()
				return err
			}
			srv, hs := reportsServer.NewGRPCServer(cfg.AuthToken)
			grpcServer = srv
			go reportsServer.WatchStoreHealth(ctx, hs, 10*time.Second)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           reportsServer.NewHTTPHandler(cfg.AuthToken, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("miyah server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"auth", cfg.AuthToken != "",
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		cancel()
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore connects to Postgres when a database URL is configured and falls
// back to an in-memory store otherwise.
func openStore(c *config.Config, l *slog.Logger) (store.Store, error) {
	if c.DatabaseURL == "" {
		l.Warn("using in-memory store; reports are lost on restart unless sync is configured")
		return memory.New(), nil
	}
	st, err := postgres.New(c.DatabaseURL)
	if err != nil {
		return nil, err
	}
	l.Info("connected to postgres")
	return st, nil
}

// syncDestination is a sync target that can also return its last export.
type syncDestination interface {
	reportsync.Destination
	reportsync.Source
}

// syncDestinations builds the configured sync targets. A destination that
// fails to initialize is logged and skipped.
func syncDestinations(ctx context.Context, c *config.Config, l *slog.Logger) []syncDestination {
	var dests []syncDestination
	if c.SyncS3Bucket != "" {
		s3Dest, err := reportsync.NewS3Destination(ctx,
			c.SyncS3Bucket,
			c.SyncS3Key,
			c.SyncS3Region,
			c.SyncS3Endpoint,
		)
		if err != nil {
			l.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			l.Info("sync S3 destination enabled", "bucket", c.SyncS3Bucket, "key", c.SyncS3Key)
		}
	}
	if c.SyncGitRepo != "" {
		dests = append(dests, reportsync.NewGitDestination(c.SyncGitRepo, c.SyncGitFile, c.SyncGitBranch))
		l.Info("sync git destination enabled", "repo", c.SyncGitRepo, "file", c.SyncGitFile)
	}
	return dests
}

// startSync restores an empty store from the first destination holding an
// export and starts the periodic export. It returns nil when sync is off.
func startSync(ctx context.Context, c *config.Config, st store.Store, l *slog.Logger) *reportsync.Scheduler {
	if c.SyncInterval.Duration <= 0 {
		return nil
	}
	dests := syncDestinations(ctx, c, l)
	if len(dests) == 0 {
		return nil
	}

	if n, err := st.CountReports(ctx); err == nil && n == 0 {
		for _, d := range dests {
			restored, err := reportsync.Restore(ctx, st, d)
			if err != nil {
				l.Warn("sync restore failed", "source", d.Name(), "err", err)
				continue
			}
			if restored > 0 {
				l.Info("restored reports from sync export", "source", d.Name(), "count", restored)
				break
			}
		}
	}

	targets := make([]reportsync.Destination, len(dests))
	for i, d := range dests {
		targets[i] = d
	}
	scheduler := reportsync.NewScheduler(st, targets, c.SyncInterval.Duration, l)
	scheduler.Start()
	l.Info("sync scheduler started", "interval", c.SyncInterval.Duration)
	return scheduler
}

func init() {
	serveCmd.Flags().String("http-addr", "", "HTTP listen address (default $MIYAH_HTTP_ADDR or :8080)")
	serveCmd.Flags().String("grpc-addr", "", "gRPC health listen address (default $MIYAH_GRPC_ADDR; empty disables)")
}
