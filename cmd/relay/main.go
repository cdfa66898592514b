// Command relay runs the access-point side of linkwatch: it answers the
// station's probes, keeps the latest report and streams link state to
// attached monitors.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/config"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "Path to a linkwatch.yaml file")
	stationAddr := flag.String("station-addr", "", "TCP address for station probes and reports (overrides relay.station_addr)")
	monitorAddr := flag.String("monitor-addr", "", "TCP address monitors connect to (overrides relay.monitor_addr)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides metrics.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(2)
	}
	if *stationAddr != "" {
		cfg.Relay.StationAddr = *stationAddr
	}
	if *monitorAddr != "" {
		cfg.Relay.MonitorAddr = *monitorAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	log := logging.New(cfg.Log).With(logging.String("component", "relay"))
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "relay exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewLinkCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, collector, log)

	srv := relay.New(cfg.Relay, log, relay.WithMetricsRecorder(collector))
	err = srv.ListenAndServe(ctx)

	log.Info(context.Background(), "shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

func serveMetrics(addr string, collector *observability.LinkCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
