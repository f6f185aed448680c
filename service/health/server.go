// Package health exposes the standard gRPC health service for the gateway
// process and keeps its status in line with the backing stores.
package health

import (
	"context"
	"net"
	"sync"
	"time"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported for the chat pipeline as a whole.
const Service = "usedtrade.chat"

// Probe reports whether one dependency is usable.
type Probe func(ctx context.Context) error

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Server struct {
	cfg    Config
	grpc   *grpc.Server
	health *grpchealth.Server

	mu     sync.Mutex
	probes map[string]Probe
	stopCh chan struct{}
	done   chan struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		probes: make(map[string]Probe),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(Service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// AddProbe registers a dependency; it is also reported as its own service name.
func (s *Server) AddProbe(name string, p Probe) {
	s.mu.Lock()
	s.probes[name] = p
	s.mu.Unlock()
	s.health.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// CheckOnce runs every probe and updates the reported statuses.
func (s *Server) CheckOnce(ctx context.Context) bool {
	s.mu.Lock()
	probes := make(map[string]Probe, len(s.probes))
	for k, v := range s.probes {
		probes[k] = v
	}
	s.mu.Unlock()

	all := true
	for name, p := range probes {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := p(cctx)
		cancel()
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			all = false
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			logger.Warnf("[Health] probe %s failed: %v", name, err)
		}
		s.health.SetServingStatus(name, status)
	}
	if all {
		s.health.SetServingStatus(Service, grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus(Service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return all
}

// Serve runs the probe loop and the gRPC server until Stop.
func (s *Server) Serve(lis net.Listener) error {
	go s.loop()
	logger.Infof("[Health] gRPC listening on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && !errs.Is(err, grpc.ErrServerStopped) {
		return errs.WrapMsg(err, "grpc serve")
	}
	return nil
}

func (s *Server) loop() {
	defer close(s.done)
	s.CheckOnce(context.Background())
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.CheckOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Stop reports NOT_SERVING to every watcher and drains in-flight calls.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
