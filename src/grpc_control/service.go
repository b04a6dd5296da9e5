package grpc_control

import (
	"context"
	"net"
	"sort"
	"sync"

	"rtrader-bridge/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Components reported through the health service. The empty service name
// reports the bridge as a whole.
const (
	ComponentGateway = "gateway"
	ComponentScanner = "scanner"
	ComponentPoller  = "poller"
	ComponentRelay   = "relay"
	ComponentPlugin  = "plugin"
)

// -----------------------------------------------------------------------------

// ControlService exposes per-component health over the standard gRPC health
// protocol, plus server reflection for grpcurl.
type ControlService struct {
	Logger *logger.Logger
	health *health.Server

	mu    sync.Mutex
	state map[string]bool
}

func NewControlService(log *logger.Logger, components ...string) *ControlService {
	s := &ControlService{
		Logger: log,
		health: health.NewServer(),
		state:  make(map[string]bool),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, c := range components {
		s.SetServing(c, false)
	}
	return s
}

// -----------------------------------------------------------------------------

// SetServing marks a component as up or down.
func (s *ControlService) SetServing(component string, up bool) {
	s.mu.Lock()
	prev, known := s.state[component]
	s.state[component] = up
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(component, status)

	if !known || prev != up {
		s.Logger.Info("Component %s is now %s", component, status)
	}
}

// -----------------------------------------------------------------------------

// Status returns a copy of the component states.
func (s *ControlService) Status() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

func (s *ControlService) Names() []string {
	status := s.Status()
	names := make([]string, 0, len(status))
	for k := range status {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------

// Register attaches the health and reflection services to srv.
func (s *ControlService) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
}

// -----------------------------------------------------------------------------

// Serve runs a gRPC server on ln until ctx is done, then stops it gracefully.
func (s *ControlService) Serve(ctx context.Context, ln net.Listener) error {
	srv := grpc.NewServer()
	s.Register(srv)

	stop := context.AfterFunc(ctx, func() {
		s.health.Shutdown()
		srv.GracefulStop()
	})
	defer stop()

	s.Logger.Info("Starting gRPC control server on %s", ln.Addr())
	return srv.Serve(ln)
}
