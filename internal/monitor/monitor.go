// Package monitor owns the state of one monitoring session: the latest
// reading, the prediction engine, the session aggregate, the chart
// history and the warning feed. Every mutation happens under a single
// lock; notifications for sinks and push clients are queued under that
// lock and delivered by Dispatch outside it.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/internal/predictor"
	"github.com/signalsfoundry/linkwatch/internal/session"
	"github.com/signalsfoundry/linkwatch/model"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

const (
	// DefaultHistorySize bounds the chart history.
	DefaultHistorySize = 300
	// DefaultWarningFeedSize bounds the warning feed.
	DefaultWarningFeedSize = 50
	// DefaultAlarmInterval is how often the "still disconnected" alarm
	// repeats while the link stays down.
	DefaultAlarmInterval = 5 * time.Second
	// MaxLostEvents caps the PACKET_LOST rows produced for one gap. The
	// loss counters stay exact beyond the cap.
	MaxLostEvents = 10000
)

const (
	msgConnectionLost  = "Connection lost! No contact with the station."
	msgStillLost       = "Connection still lost! No contact with the station."
	notificationsStart = 64
)

// MetricsRecorder receives link-level measurements. *observability.LinkCollector
// satisfies it.
type MetricsRecorder interface {
	ObserveMeasurement(model.Measurement)
	AddPacketsLost(int)
	ObserveTransition(model.Transition)
	ObserveWarning(model.WarningLevel, model.PredictionSource)
	ObservePrediction(time.Duration)
	SetModelLoaded(bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveMeasurement(model.Measurement)                      {}
func (noopRecorder) AddPacketsLost(int)                                        {}
func (noopRecorder) ObserveTransition(model.Transition)                        {}
func (noopRecorder) ObserveWarning(model.WarningLevel, model.PredictionSource) {}
func (noopRecorder) ObservePrediction(time.Duration)                           {}
func (noopRecorder) SetModelLoaded(bool)                                       {}

// Monitor is the explicitly owned session context shared by the uplink,
// the dashboard and the gRPC health surface.
type Monitor struct {
	// mu guards everything below it.
	mu sync.Mutex

	predictor *predictor.Predictor
	agg       *session.Aggregator

	state               model.ConnectionState
	disconnectStartedAt time.Time
	nextAlarmAt         time.Time

	lastSeq    uint64
	current    Reading
	hasCurrent bool

	history     []HistoryPoint
	warnings    []model.Warning // newest first
	historySize int
	feedSize    int

	pending []Notification
	wake    chan struct{}

	clock         timectrl.Clock
	alarmInterval time.Duration
	log           logging.Logger
	metrics       MetricsRecorder
	tracer        trace.Tracer
}

// Option customises Monitor construction.
type Option func(*Monitor)

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *Monitor) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithTracer overrides the tracer used for measurement spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithHistorySize overrides the chart history length.
func WithHistorySize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithWarningFeedSize overrides the warning feed length.
func WithWarningFeedSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.feedSize = n
		}
	}
}

// WithAlarmInterval overrides the repeat interval of the disconnect alarm.
func WithAlarmInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.alarmInterval = d
		}
	}
}

// New starts a session. An empty sessionID is derived from the clock.
func New(sessionID string, p *predictor.Predictor, clock timectrl.Clock, log logging.Logger, opts ...Option) *Monitor {
	if clock == nil {
		clock = timectrl.Real{}
	}
	if log == nil {
		log = logging.Noop()
	}
	m := &Monitor{
		predictor:     p,
		agg:           session.NewAggregator(sessionID, clock.Now()),
		state:         model.StateDisconnected,
		historySize:   DefaultHistorySize,
		feedSize:      DefaultWarningFeedSize,
		pending:       make([]Notification, 0, notificationsStart),
		wake:          make(chan struct{}, 1),
		clock:         clock,
		alarmInterval: DefaultAlarmInterval,
		log:           log,
		metrics:       noopRecorder{},
		tracer:        observability.Tracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.metrics.SetModelLoaded(p.Status().ModelLoaded)
	return m
}

// SessionID returns the session id.
func (m *Monitor) SessionID() string { return m.agg.ID() }

// HandleData records one measurement: it first reports any sequence gap
// as PACKET_LOST events, then grades the measurement and updates the
// session. It returns the prediction for the measurement.
func (m *Monitor) HandleData(ctx context.Context, meas model.Measurement) model.PredictionResult {
	ctx, span := m.tracer.Start(ctx, "monitor.HandleData",
		trace.WithAttributes(
			attribute.Int64("linkwatch.seq", int64(meas.Seq)),
			attribute.Int("linkwatch.signal_dbm", meas.SignalDBm),
		))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	lost := m.detectGapLocked(ctx, meas)

	start := time.Now()
	res := m.predictor.Predict(ctx, meas)
	m.metrics.ObservePrediction(time.Since(start))
	m.metrics.ObserveMeasurement(meas)
	m.agg.RecordMeasurement(meas)

	span.SetAttributes(
		attribute.String("linkwatch.level", res.Level.String()),
		attribute.String("linkwatch.source", string(res.Source)),
	)

	reading := newReading(meas, lost)
	if res.Level > model.LevelNone {
		w := model.Warning{
			At:          meas.At,
			Level:       res.Level,
			Messages:    append([]string(nil), res.Messages...),
			Source:      res.Source,
			Probability: res.Probability,
			HasProb:     res.HasProbability,
		}
		m.addWarningLocked(w)
		reading.Warning = &w
		m.log.Info(ctx, predictor.FormatWarning(res),
			logging.Uint64("seq", meas.Seq),
			logging.String("source", string(res.Source)),
		)
	}

	m.current = reading
	m.hasCurrent = true
	m.appendHistoryLocked(HistoryPoint{At: meas.At, SignalDBm: meas.SignalDBm, RTTMs: meas.RTTMs})

	m.enqueueLocked(Notification{
		Kind:    KindMeasurement,
		At:      meas.At,
		Events:  []model.Event{model.DataEvent(m.agg.ID(), meas)},
		Payload: reading,
	})
	m.enqueueStatsLocked(meas.At)
	return res
}

// detectGapLocked compares meas.Seq with the previous sequence number and
// queues one PACKET_LOST event per missing number. A sequence number that
// does not advance resets the baseline.
func (m *Monitor) detectGapLocked(ctx context.Context, meas model.Measurement) int {
	last := m.lastSeq
	m.lastSeq = meas.Seq
	if last == 0 || meas.Seq <= last+1 {
		return 0
	}

	missing := meas.Seq - last - 1
	rows := missing
	if rows > MaxLostEvents {
		rows = MaxLostEvents
		m.log.Warn(ctx, "sequence gap too large; truncating PACKET_LOST events",
			logging.Uint64("missing", missing),
			logging.Int("recorded", MaxLostEvents),
		)
	}
	events := make([]model.Event, 0, rows)
	for i := uint64(0); i < rows; i++ {
		events = append(events, model.PacketLostEvent(m.agg.ID(), last+1+i, meas.At))
	}

	n := int(missing)
	m.agg.RecordPacketLoss(n)
	m.metrics.AddPacketsLost(n)
	m.log.Warn(ctx, "packets lost",
		logging.Uint64("from", last+1),
		logging.Uint64("to", meas.Seq-1),
		logging.Int("count", n),
	)
	m.enqueueLocked(Notification{
		Kind:    KindPacketLoss,
		At:      meas.At,
		Events:  events,
		Payload: PacketLoss{Count: n, From: last + 1, To: meas.Seq - 1},
	})
	return n
}

// ApplyTransition moves the link to tr.To. Transitions to the current
// state are ignored, so the relay's STATUS lines and the monitor's own
// liveness watch can both feed it. It reports whether the state changed.
func (m *Monitor) ApplyTransition(ctx context.Context, tr model.Transition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tr.To == m.state {
		return false
	}
	at := tr.At
	if at.IsZero() {
		at = m.clock.Now()
	}
	applied := model.Transition{From: m.state, To: tr.To, At: at}
	m.state = tr.To
	change := StatusChange{Status: tr.To.String(), At: at}

	switch tr.To {
	case model.StateDisconnected:
		m.agg.RecordDisconnect()
		m.disconnectStartedAt = at
		m.nextAlarmAt = at.Add(m.alarmInterval)

		w := model.Warning{
			At:       at,
			Level:    model.LevelCritical,
			Messages: []string{msgConnectionLost},
			Source:   model.SourceSystem,
		}
		m.addWarningLocked(w)
		change.Warning = &w
		m.log.Error(ctx, "link disconnected", logging.String("session_id", m.agg.ID()))

	case model.StateConnected:
		switch {
		case !m.disconnectStartedAt.IsZero():
			applied.PreviousDuration = at.Sub(m.disconnectStartedAt)
			applied.HasDuration = true
		case tr.HasDuration:
			applied.PreviousDuration = tr.PreviousDuration
			applied.HasDuration = true
		}
		if applied.HasDuration {
			m.agg.RecordDisconnectDuration(applied.PreviousDuration)
			secs := applied.PreviousDuration.Seconds()
			change.DurationSeconds = &secs
		}
		m.disconnectStartedAt = time.Time{}
		m.nextAlarmAt = time.Time{}
		m.log.Info(ctx, "link connected", logging.Duration("outage", applied.PreviousDuration))
	}

	change.Disconnects = m.agg.Disconnects()
	m.metrics.ObserveTransition(applied)
	m.enqueueLocked(Notification{
		Kind:       KindStatus,
		At:         at,
		Events:     []model.Event{model.TransitionEvent(m.agg.ID(), applied)},
		Payload:    change,
		Transition: &applied,
	})
	if change.Warning != nil {
		m.enqueueLocked(Notification{Kind: KindWarning, At: at, Payload: *change.Warning})
		m.enqueueStatsLocked(at)
	}
	return true
}

// RunAlarm repeats a CRITICAL system warning every alarm interval while
// the link stays disconnected. Alarm warnings are pushed to clients but
// not added to the feed or the session counts.
func (m *Monitor) RunAlarm(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := m.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			m.checkAlarm(ctx, m.clock.Now())
		}
	}
}

func (m *Monitor) checkAlarm(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateDisconnected || m.nextAlarmAt.IsZero() || now.Before(m.nextAlarmAt) {
		return
	}
	for !now.Before(m.nextAlarmAt) {
		m.nextAlarmAt = m.nextAlarmAt.Add(m.alarmInterval)
	}
	w := model.Warning{
		At:       now,
		Level:    model.LevelCritical,
		Messages: []string{msgStillLost},
		Source:   model.SourceSystem,
	}
	m.metrics.ObserveWarning(w.Level, w.Source)
	m.log.Warn(ctx, "link still disconnected", logging.Duration("outage", now.Sub(m.disconnectStartedAt)))
	m.enqueueLocked(Notification{Kind: KindWarning, At: now, Payload: w})
}

func (m *Monitor) addWarningLocked(w model.Warning) {
	m.agg.RecordWarning(w.Level)
	m.metrics.ObserveWarning(w.Level, w.Source)

	m.warnings = append(m.warnings, model.Warning{})
	copy(m.warnings[1:], m.warnings)
	m.warnings[0] = w
	if len(m.warnings) > m.feedSize {
		m.warnings = m.warnings[:m.feedSize]
	}
}

func (m *Monitor) appendHistoryLocked(p HistoryPoint) {
	m.history = append(m.history, p)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

func (m *Monitor) enqueueStatsLocked(at time.Time) {
	m.enqueueLocked(Notification{Kind: KindStats, At: at, Payload: m.agg.Snapshot(at)})
}

func (m *Monitor) enqueueLocked(n Notification) {
	m.pending = append(m.pending, n)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
