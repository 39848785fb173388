package api

import (
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/monitoring"
)

// HealthService is the gRPC health service name reporting the fusion state.
const HealthService = "floatbase.Estimator"

// Health publishes the fusion state over the standard gRPC health
// protocol: SERVING while nominal, NOT_SERVING while a fault is handled.
// The overall ("") status follows the estimator status.
type Health struct {
	srv *health.Server

	mu    sync.Mutex
	state fusion.State
}

func NewHealth() *Health {
	h := &Health{srv: health.NewServer()}
	h.SetState(fusion.StateNominal)
	return h
}

// SetState updates the serving status. It satisfies pipeline.HealthReporter.
func (h *Health) SetState(s fusion.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s == h.state {
		return
	}
	h.state = s
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s == fusion.StateNominal {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(HealthService, status)
	h.srv.SetServingStatus("", status)
}

// State returns the last reported state.
func (h *Health) State() fusion.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Shutdown marks every service NOT_SERVING; later updates are ignored.
func (h *Health) Shutdown() { h.srv.Shutdown() }

// GRPCServer serves the health service on a listener.
type GRPCServer struct {
	server *grpc.Server
	health *Health
}

func NewGRPCServer(h *Health) *GRPCServer {
	s := grpc.NewServer()
	h.Register(s)
	return &GRPCServer{server: s, health: h}
}

// Serve blocks until Stop is called.
func (g *GRPCServer) Serve(lis net.Listener) error {
	monitoring.Logf("[api] gRPC health listening on %s", lis.Addr())
	err := g.server.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop reports NOT_SERVING to watchers and stops the server gracefully.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
