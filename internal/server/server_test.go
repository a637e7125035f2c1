package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/miyah/internal/store/memory"
)

// flakyStore fails CountReports while down is set.
type flakyStore struct {
	*memory.Store
	down atomic.Bool
}

func (s *flakyStore) CountReports(ctx context.Context) (int, error) {
	if s.down.Load() {
		return 0, errBroken
	}
	return s.Store.CountReports(ctx)
}

func checkStatus(t *testing.T, hs *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func waitForStatus(t *testing.T, hs *health.Server, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for checkStatus(t, hs, HealthService) != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewGRPCServer_ServesHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, _ := NewReportsServer(memory.New(), nil, WithLogger(discardLogger())).NewGRPCServer("secret")
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Health is exempt from auth even with a token configured.
	for _, service := range []string{"", HealthService} {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		if resp.Status != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %s, want SERVING", service, resp.Status)
		}
	}
}

func TestWatchStoreHealth(t *testing.T) {
	st := &flakyStore{Store: memory.New()}
	srv := NewReportsServer(st, nil, WithLogger(discardLogger()))
	_, hs := srv.NewGRPCServer("")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.WatchStoreHealth(ctx, hs, 5*time.Millisecond)
		close(done)
	}()

	st.down.Store(true)
	waitForStatus(t, hs, healthpb.HealthCheckResponse_NOT_SERVING)
	if got := checkStatus(t, hs, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %s, want SERVING", got)
	}

	st.down.Store(false)
	waitForStatus(t, hs, healthpb.HealthCheckResponse_SERVING)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchStoreHealth did not return after cancel")
	}
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	intercept := LoggingInterceptor(logger)

	resp, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"},
		func(ctx context.Context, req any) (any, error) { return "ok", nil })
	if err != nil || resp != "ok" {
		t.Fatalf("expected resp=%q err=nil, got resp=%v err=%v", "ok", resp, err)
	}
	if !strings.Contains(buf.String(), "method=/test.Service/Method") {
		t.Errorf("log = %q", buf.String())
	}

	buf.Reset()
	_, err = intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"},
		func(ctx context.Context, req any) (any, error) { return nil, fmt.Errorf("boom") })
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "rpc failed") || !strings.Contains(buf.String(), "boom") {
		t.Errorf("log = %q", buf.String())
	}

	// Health checks stay below info.
	buf.Reset()
	if _, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, stubHandler); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("health check logged at info: %q", buf.String())
	}
}
