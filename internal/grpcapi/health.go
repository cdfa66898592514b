// Package grpcapi exposes the link state through the standard gRPC health
// protocol so load balancers and probes can follow it.
package grpcapi

import (
	"context"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/monitor"
	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/model"
)

// LinkService is the health service name that follows the link state.
// The empty service name reports the process itself.
const LinkService = "linkwatch.Link"

const shutdownGrace = 5 * time.Second

// Config controls the gRPC listener.
type Config struct {
	Addr       string `mapstructure:"addr"`
	Reflection bool   `mapstructure:"reflection"`
}

// HealthServer reports SERVING for LinkService while the link is CONNECTED.
type HealthServer struct {
	hs  *health.Server
	log logging.Logger
}

// NewHealthServer starts with the link NOT_SERVING, matching the
// monitor's initial DISCONNECTED state.
func NewHealthServer(log logging.Logger) *HealthServer {
	if log == nil {
		log = logging.Noop()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(LinkService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{hs: hs, log: log}
}

// SetLinkState maps a connection state onto the health status.
func (h *HealthServer) SetLinkState(state model.ConnectionState) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == model.StateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(LinkService, status)
}

// HandleNotification follows status changes published by the monitor.
func (h *HealthServer) HandleNotification(ctx context.Context, n monitor.Notification) {
	if n.Kind != monitor.KindStatus || n.Transition == nil {
		return
	}
	h.SetLinkState(n.Transition.To)
	h.log.Debug(ctx, "link health updated", logging.String("state", n.Transition.To.String()))
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Shutdown flips every service to NOT_SERVING ahead of a graceful stop.
func (h *HealthServer) Shutdown() { h.hs.Shutdown() }

// NewServer builds a gRPC server with the correlation id, tracing and
// metrics interceptors plus the otelgrpc stats handler.
func NewServer(log logging.Logger, collector *observability.LinkCollector, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			CorrelationIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			CorrelationIDStreamServerInterceptor(log),
		),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// Serve runs the health service on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, cfg Config, hs *HealthServer, collector *observability.LinkCollector, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	srv := NewServer(log, collector)
	hs.Register(srv)
	if cfg.Reflection {
		reflection.Register(srv)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info(ctx, "gRPC health listening", logging.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	hs.Shutdown()
	// Watch streams only end when clients hang up, so bound the drain.
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		srv.Stop()
	}
	return nil
}
