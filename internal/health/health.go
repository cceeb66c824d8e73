// Package health serves the standard gRPC health protocol for the capture
// loop so supervisors can probe it with grpc_health_probe.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/autocapture/internal/pipeline"
	"github.com/GriffinCanCode/autocapture/internal/trace"
)

// Service is the name reported alongside the overall ("") status.
const Service = "autocapture"

// StateSource reports the loop state and signals changes.
type StateSource interface {
	State() pipeline.State
	Changed() <-chan struct{}
}

// Server wraps a grpc.Server exposing grpc.health.v1.Health.
type Server struct {
	addr   string
	source StateSource
	health *health.Server
	grpc   *grpc.Server
}

// New creates a health server for addr.
func New(addr string, source StateSource) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{addr: addr, source: source, health: hs, grpc: gs}
	s.sync()
	return s
}

// Serving maps a loop state onto a health status.
func Serving(st pipeline.State) healthpb.HealthCheckResponse_ServingStatus {
	if st == pipeline.Running {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (s *Server) sync() {
	status := Serving(s.source.State())
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln, following state changes until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("health server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(ln)
	}()

	for {
		changed := s.source.Changed()
		s.sync()
		select {
		case <-changed:
		case err := <-errCh:
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return err
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return nil
		}
	}
}
