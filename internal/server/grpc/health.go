// Package grpc serves the standard gRPC health protocol with one service per
// inference domain.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/session"
)

// ServicePrefix prefixes the health service name of every domain.
const ServicePrefix = "igichat."

// StatusSource reports the readiness of each domain.
type StatusSource interface {
	Ready() bool
	Snapshot() session.Snapshot
}

// ServiceName returns the health service name of d.
func ServiceName(d model.Domain) string {
	return ServicePrefix + string(d)
}

// Server is a gRPC server exposing readiness through the health service.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	source StatusSource
}

// NewServer creates a server reporting the readiness of source.
func NewServer(source StatusSource, opts ...grpc.ServerOption) *Server {
	s := &Server{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
		source: source,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.Sync()
	return s
}

// Sync publishes the current readiness of every domain.
func (s *Server) Sync() {
	snap := s.source.Snapshot()
	for _, d := range model.Domains {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if snap.Domains[d].Ready {
			st = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(ServiceName(d), st)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if s.source.Ready() {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)
}

// Watch calls Sync every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sync()
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// Stop marks every service as not serving and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
