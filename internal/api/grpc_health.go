package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/assistant-bridge/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcHealthProbeInterval = 15 * time.Second

// GRPCHealthServer serves grpc.health.v1.Health with a status that follows
// the mapping store.
type GRPCHealthServer struct {
	server *grpc.Server
	health *health.Server
	repo   store.Repository
	logger *slog.Logger
}

// NewGRPCHealthServer creates a health server. The initial status is NOT_SERVING
// until the first probe succeeds.
func NewGRPCHealthServer(repo store.Repository, logger *slog.Logger) *GRPCHealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealthServer{server: srv, health: hs, repo: repo, logger: logger}
}

// Probe pings the store once and updates the serving status.
func (g *GRPCHealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.repo.Ping(ctx); err != nil {
		g.logger.Warn("gRPC health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	return status
}

// Serve listens on addr and blocks until ctx is done.
func (g *GRPCHealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves on lis and blocks until ctx is done.
func (g *GRPCHealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	g.Probe(ctx)
	go g.probeLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
		errCh <- g.server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		g.health.Shutdown()
		g.server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func (g *GRPCHealthServer) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(grpcHealthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
