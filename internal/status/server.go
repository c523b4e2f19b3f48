// Package status exposes supervisor progress over the standard gRPC health
// protocol. The overall service ("") is SERVING while the supervisor runs;
// each configuration file is a service named by its path that turns SERVING
// once its download has succeeded.
package status

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server hosts the health service for one supervisor run.
type Server struct {
	health *health.Server
	gs     *grpc.Server
	lis    net.Listener
	log    *slog.Logger
}

// NewServer creates a Server with the overall service already SERVING.
func NewServer(log *slog.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{health: hs, gs: gs, log: log}
}

// Listen binds addr and starts serving in the background. It returns the
// bound address, which differs from addr when addr uses port 0.
func (s *Server) Listen(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.lis = lis

	go func() {
		if err := s.gs.Serve(lis); err != nil {
			s.log.Error("status server stopped", "error", err)
		}
	}()
	s.log.Info("status server listening", "addr", lis.Addr().String())
	return lis.Addr(), nil
}

// Pending registers path as a service that has not finished downloading.
func (s *Server) Pending(path string) {
	s.health.SetServingStatus(path, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Succeeded marks path's download as complete.
func (s *Server) Succeeded(path string) {
	s.health.SetServingStatus(path, healthpb.HealthCheckResponse_SERVING)
}

// stopDrain is how long Stop lets open Watch streams deliver the final
// NOT_SERVING update before connections are closed.
const stopDrain = 500 * time.Millisecond

// Stop flips every service to NOT_SERVING and stops the gRPC server. Open
// Watch streams receive the NOT_SERVING update before they are closed.
func (s *Server) Stop() {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDrain):
		// Watch streams never finish on their own.
		s.gs.Stop()
		<-done
	}
}
