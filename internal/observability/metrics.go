package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/linkwatch/model"
)

// LinkCollector bundles the Prometheus metrics for the monitored link,
// the uplink, the relay and the gRPC surface. A nil *LinkCollector is a
// valid no-op recorder.
type LinkCollector struct {
	gatherer prometheus.Gatherer

	Measurements   prometheus.Counter
	SignalStrength prometheus.Gauge
	RTT            prometheus.Histogram
	PacketsLost    prometheus.Counter
	Disconnects    prometheus.Counter
	LinkConnected  prometheus.Gauge
	Warnings       *prometheus.CounterVec
	PredictionTime prometheus.Histogram
	ModelLoaded    prometheus.Gauge

	MalformedMessages *prometheus.CounterVec
	UplinkReconnects  prometheus.Counter
	UplinkConnected   prometheus.Gauge
	StationReports    *prometheus.CounterVec
	MonitorClients    prometheus.Gauge
	DashboardClients  prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewLinkCollector registers link metrics against reg, defaulting to the
// global registry when nil. Registering twice against the same registry
// reuses the existing collectors.
func NewLinkCollector(reg prometheus.Registerer) (*LinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &LinkCollector{gatherer: gatherer}
	var err error

	if c.Measurements, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_measurements_total",
		Help: "DATA reports processed by the monitor.",
	})); err != nil {
		return nil, err
	}
	if c.SignalStrength, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_signal_strength_dbm",
		Help: "Most recent signal strength reported by the station.",
	})); err != nil {
		return nil, err
	}
	if c.RTT, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkwatch_rtt_milliseconds",
		Help:    "Round-trip time of the station's probe.",
		Buckets: []float64{5, 10, 25, 50, 75, 100, 150, 200, 300, 500, 1000},
	})); err != nil {
		return nil, err
	}
	if c.PacketsLost, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_packets_lost_total",
		Help: "Sequence numbers skipped between consecutive DATA reports.",
	})); err != nil {
		return nil, err
	}
	if c.Disconnects, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_disconnects_total",
		Help: "CONNECTED to DISCONNECTED transitions.",
	})); err != nil {
		return nil, err
	}
	if c.LinkConnected, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_link_connected",
		Help: "1 while the monitored link is CONNECTED.",
	})); err != nil {
		return nil, err
	}
	if c.Warnings, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwatch_warnings_total",
		Help: "Warnings raised, labeled by level and source.",
	}, []string{"level", "source"})); err != nil {
		return nil, err
	}
	if c.PredictionTime, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkwatch_prediction_duration_seconds",
		Help:    "Time spent grading one measurement.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})); err != nil {
		return nil, err
	}
	if c.ModelLoaded, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_model_loaded",
		Help: "1 when a failure model is in use.",
	})); err != nil {
		return nil, err
	}
	if c.MalformedMessages, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwatch_malformed_messages_total",
		Help: "Protocol lines dropped because they did not decode, labeled by component.",
	}, []string{"component"})); err != nil {
		return nil, err
	}
	if c.UplinkReconnects, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_uplink_reconnects_total",
		Help: "Connection attempts made by the monitor's uplink after a failure.",
	})); err != nil {
		return nil, err
	}
	if c.UplinkConnected, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_uplink_connected",
		Help: "1 while the monitor holds a TCP session to the relay.",
	})); err != nil {
		return nil, err
	}
	if c.StationReports, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwatch_station_reports_total",
		Help: "Messages received by the relay from the station, labeled by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.MonitorClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_monitor_clients",
		Help: "Monitors currently attached to the relay.",
	})); err != nil {
		return nil, err
	}
	if c.DashboardClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_dashboard_clients",
		Help: "WebSocket clients subscribed to the dashboard push stream.",
	})); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwatch_grpc_requests_total",
		Help: "Handled gRPC calls, labeled by service, method, and status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkwatch_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}

	return c, nil
}

// register adds col to reg, returning the already-registered collector of
// the same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			var zero T
			return zero, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return existing, nil
	}
	return col, nil
}

// Gatherer returns the gatherer backing Handler.
func (c *LinkCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LinkCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// ObserveMeasurement records one processed DATA report.
func (c *LinkCollector) ObserveMeasurement(m model.Measurement) {
	if c == nil {
		return
	}
	c.Measurements.Inc()
	c.SignalStrength.Set(float64(m.SignalDBm))
	if m.ValidRTT() {
		c.RTT.Observe(float64(m.RTTMs))
	}
}

// AddPacketsLost records n skipped sequence numbers.
func (c *LinkCollector) AddPacketsLost(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PacketsLost.Add(float64(n))
}

// ObserveTransition updates the link gauge and disconnect counter.
func (c *LinkCollector) ObserveTransition(tr model.Transition) {
	if c == nil {
		return
	}
	if tr.To == model.StateConnected {
		c.LinkConnected.Set(1)
		return
	}
	c.LinkConnected.Set(0)
	c.Disconnects.Inc()
}

// ObserveWarning counts a warning.
func (c *LinkCollector) ObserveWarning(level model.WarningLevel, source model.PredictionSource) {
	if c == nil || level == model.LevelNone {
		return
	}
	c.Warnings.WithLabelValues(level.String(), string(source)).Inc()
}

// ObservePrediction records how long one prediction took.
func (c *LinkCollector) ObservePrediction(d time.Duration) {
	if c == nil {
		return
	}
	c.PredictionTime.Observe(d.Seconds())
}

// SetModelLoaded flags whether the hybrid path is active.
func (c *LinkCollector) SetModelLoaded(loaded bool) {
	if c == nil {
		return
	}
	c.ModelLoaded.Set(boolToFloat(loaded))
}

// IncMalformed counts a dropped protocol line.
func (c *LinkCollector) IncMalformed(component string) {
	if c == nil {
		return
	}
	c.MalformedMessages.WithLabelValues(component).Inc()
}

// IncUplinkReconnects counts a reconnect attempt.
func (c *LinkCollector) IncUplinkReconnects() {
	if c == nil {
		return
	}
	c.UplinkReconnects.Inc()
}

// SetUplinkConnected flags the relay session state.
func (c *LinkCollector) SetUplinkConnected(connected bool) {
	if c == nil {
		return
	}
	c.UplinkConnected.Set(boolToFloat(connected))
}

// IncStationReport counts a station message by kind (probe, data).
func (c *LinkCollector) IncStationReport(kind string) {
	if c == nil {
		return
	}
	c.StationReports.WithLabelValues(kind).Inc()
}

// SetMonitorClients records how many monitors the relay is feeding.
func (c *LinkCollector) SetMonitorClients(n int) {
	if c == nil {
		return
	}
	c.MonitorClients.Set(float64(n))
}

// SetDashboardClients records the number of push subscribers.
func (c *LinkCollector) SetDashboardClients(n int) {
	if c == nil {
		return
	}
	c.DashboardClients.Set(float64(n))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *LinkCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and
// method components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
