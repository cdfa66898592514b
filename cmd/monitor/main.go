// Command monitor connects to the relay, grades every measurement with the
// hybrid predictor and publishes the link state on a dashboard, a gRPC
// health service, Prometheus metrics and the configured event sinks. A
// session summary is printed on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/config"
	"github.com/signalsfoundry/linkwatch/internal/dashboard"
	"github.com/signalsfoundry/linkwatch/internal/grpcapi"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/monitor"
	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/internal/predictor"
	"github.com/signalsfoundry/linkwatch/internal/session"
	"github.com/signalsfoundry/linkwatch/internal/storage"
	"github.com/signalsfoundry/linkwatch/internal/uplink"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a linkwatch.yaml file")
	relayAddr := flag.String("relay", "", "Relay monitor address host:port (overrides uplink.relay_addr)")
	modelPath := flag.String("model", "", "Path to a failure model artifact (overrides monitor.model_path)")
	csvPath := flag.String("csv", "", "Append events to this CSV file (overrides storage.csv_path)")
	sqlitePath := flag.String("sqlite", "", "Store events in this SQLite database (overrides storage.sqlite_path)")
	dashboardAddr := flag.String("dashboard-addr", "", "HTTP address for the dashboard API (overrides dashboard.addr)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address for the gRPC health service (overrides grpc.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(2)
	}
	override(&cfg.Uplink.RelayAddr, *relayAddr)
	override(&cfg.Monitor.ModelPath, *modelPath)
	override(&cfg.Storage.CSVPath, *csvPath)
	override(&cfg.Storage.SQLitePath, *sqlitePath)
	override(&cfg.Dashboard.Addr, *dashboardAddr)
	override(&cfg.GRPC.Addr, *grpcAddr)

	log := logging.New(cfg.Log).With(logging.String("component", "monitor"))
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "monitor exited", logging.Err(err))
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

	sessionID := cfg.Monitor.SessionID
	if sessionID == "" {
		sessionID = time.Now().Format("20060102_150405")
	}
	ctx = logging.ContextWithCorrelationID(ctx, sessionID)

	scorer := predictor.LoadScorer(ctx, cfg.Monitor.ModelPath, log)
	pred := predictor.New(cfg.Thresholds, scorer, log)
	mon := monitor.New(sessionID, pred, timectrl.Real{}, log,
		monitor.WithMetricsRecorder(collector),
		monitor.WithHistorySize(cfg.Monitor.HistorySize),
		monitor.WithWarningFeedSize(cfg.Monitor.WarningFeedSize),
		monitor.WithAlarmInterval(cfg.Monitor.AlarmInterval),
	)

	sink, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open event sinks: %w", err)
	}

	dashLn, err := net.Listen("tcp", cfg.Dashboard.Addr)
	if err != nil {
		_ = sink.Close()
		return fmt.Errorf("listen dashboard %s: %w", cfg.Dashboard.Addr, err)
	}
	grpcLn, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		_ = dashLn.Close()
		_ = sink.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
	}

	hub := dashboard.NewHub(mon, log, collector)
	dash := dashboard.NewServer(mon, hub, collector.Handler(), log)
	health := grpcapi.NewHealthServer(log)
	client := uplink.New(cfg.Uplink, mon, log, uplink.WithMetricsRecorder(collector))

	log.Info(ctx, "monitor starting",
		logging.String("session_id", sessionID),
		logging.String("relay", cfg.Uplink.RelayAddr),
		logging.String("mode", pred.Status().Mode),
		logging.String("sinks", sink.Destination()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", name, err)
				}
				errMu.Unlock()
				cancel()
			}
		}()
	}

	start("uplink", client.Run)
	start("alarm", func(ctx context.Context) error {
		return mon.RunAlarm(ctx, cfg.Uplink.PollInterval)
	})
	start("dispatch", func(ctx context.Context) error {
		return mon.Dispatch(ctx, monitor.PersistTo(sink, log), hub, health)
	})
	start("dashboard", func(ctx context.Context) error {
		return dash.Serve(ctx, dashLn)
	})
	start("grpc", func(ctx context.Context) error {
		return grpcapi.Serve(ctx, grpcLn, cfg.GRPC, health, collector, log)
	})

	<-ctx.Done()
	log.Info(context.Background(), "shutting down monitor")
	wg.Wait()

	if err := sink.Close(); err != nil {
		log.Warn(context.Background(), "close event sinks", logging.Err(err))
	}

	status := mon.PredictorStatus()
	if err := session.WriteSummary(os.Stdout, mon.Snapshot(),
		session.PredictorStatus{
			Mode:             status.Mode,
			TotalPredictions: status.TotalPredictions,
			WarningsGiven:    status.WarningsGiven,
		},
		session.SinkStatus{Records: sink.Records(), Destination: sink.Destination()},
	); err != nil {
		log.Warn(context.Background(), "write session summary", logging.Err(err))
	}
	return firstErr
}

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}
