package grpc_control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthReporter produces the aggregated service health.
type HealthReporter interface {
	Report(ctx context.Context) models.MHealthReport
}

// ControlService exposes the standard gRPC health protocol for the whole
// service ("") and for every check by name, refreshed from the monitor.
type ControlService struct {
	Logger   *logger.Logger
	Reporter HealthReporter
	Interval time.Duration

	server *grpc.Server
	health *health.Server

	mu    sync.Mutex
	known map[string]struct{}
}

// -----------------------------------------------------------------------------

func NewControlService(reporter HealthReporter, interval time.Duration, log *logger.Logger) *ControlService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &ControlService{
		Logger:   log,
		Reporter: reporter,
		Interval: interval,
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		known:    make(map[string]struct{}),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// -----------------------------------------------------------------------------

// Server returns the underlying gRPC server for additional registrations.
func (s *ControlService) Server() *grpc.Server {
	return s.server
}

// -----------------------------------------------------------------------------

// Sync pulls one report and publishes it as serving statuses.
func (s *ControlService) Sync(ctx context.Context) models.MHealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := s.Reporter.Report(ctx)
	s.health.SetServingStatus("", servingStatus(report.Status))
	seen := make(map[string]struct{}, len(report.Checks))
	for name, res := range report.Checks {
		seen[name] = struct{}{}
		s.health.SetServingStatus(name, servingStatus(res.Status))
	}
	for name := range s.known {
		if _, ok := seen[name]; !ok {
			s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	s.known = seen
	return report
}

// -----------------------------------------------------------------------------

func servingStatus(status models.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case models.HealthHealthy, models.HealthDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case models.HealthUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// -----------------------------------------------------------------------------

// Serve syncs health on an interval and serves on lis until ctx ends.
func (s *ControlService) Serve(ctx context.Context, lis net.Listener) error {
	go s.syncLoop(ctx)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.Logger.Info("Starting gRPC control server on %s", lis.Addr())
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Start listens on host:port and serves until ctx ends.
func (s *ControlService) Start(ctx context.Context, host string, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// -----------------------------------------------------------------------------

func (s *ControlService) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

// -----------------------------------------------------------------------------

// Stop marks everything not serving and drains in-flight RPCs.
func (s *ControlService) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
