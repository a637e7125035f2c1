package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// checkBearer validates an Authorization value against token and returns the
// rejection reason, or "" when it matches.
func checkBearer(value, token string) string {
	if value == "" {
		return "missing authorization header"
	}
	provided, ok := strings.CutPrefix(value, "Bearer ")
	if !ok {
		return "invalid authorization scheme"
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return "invalid token"
	}
	return ""
}

// isHealthMethod reports whether method belongs to the standard health service.
func isHealthMethod(method string) bool {
	return strings.HasPrefix(method, "/"+healthpb.Health_ServiceDesc.ServiceName+"/")
}

// LoggingInterceptor logs every unary RPC with its duration. Health checks
// log at debug level.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}

		switch {
		case err != nil:
			logger.Warn("rpc failed", append(attrs, "code", status.Code(err), "error", err)...)
		case isHealthMethod(info.FullMethod):
			logger.Debug("rpc completed", attrs...)
		default:
			logger.Info("rpc completed", attrs...)
		}
		return resp, err
	}
}

// recoverTo turns a panic into codes.Internal on *err.
func recoverTo(logger *slog.Logger, method string, err *error) {
	if r := recover(); r != nil {
		logger.Error("panic recovered in gRPC handler",
			"method", method,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
		*err = status.Error(codes.Internal, "internal server error")
	}
}

// RecoveryInterceptor converts a panicking unary handler into an Internal
// error.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer recoverTo(logger, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor is RecoveryInterceptor for streaming RPCs such as
// grpc.health.v1.Health/Watch.
func RecoveryStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverTo(logger, info.FullMethod, &err)
		return handler(srv, ss)
	}
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on every
// unary RPC except the health service. An empty token disables the check.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		var value string
		if vals := md.Get("authorization"); len(vals) > 0 {
			value = vals[0]
		}
		if reason := checkBearer(value, token); reason != "" {
			return nil, status.Error(codes.Unauthenticated, reason)
		}
		return handler(ctx, req)
	}
}

// AuthMiddleware requires "Authorization: Bearer <token>" on every request
// except GET /api/health. An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		if reason := checkBearer(r.Header.Get("Authorization"), token); reason != "" {
			writeError(w, http.StatusUnauthorized, reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}
