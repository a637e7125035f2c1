package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the service name reported by the gRPC health server in
// addition to the overall ("") status.
const HealthService = "miyah.reports"

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the health service and reflection, and returns both ready to serve.
func (s *ReportsServer) NewGRPCServer(authToken string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(s.logger),
			LoggingInterceptor(s.logger),
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(RecoveryStreamInterceptor(s.logger)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// WatchStoreHealth probes the store every interval and mirrors the result on
// hs under HealthService until ctx is done.
func (s *ReportsServer) WatchStoreHealth(ctx context.Context, hs *health.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_SERVING
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next := s.probeStore(ctx)
		if ctx.Err() != nil {
			return
		}
		if next != last {
			s.logger.Info("store health changed", "status", next.String())
			hs.SetServingStatus(HealthService, next)
			last = next
		}
	}
}

func (s *ReportsServer) probeStore(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.store.CountReports(ctx); err != nil {
		s.logger.Warn("store health probe failed", "error", err)
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
