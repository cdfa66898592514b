// Package relay sits between the station and the monitors. The station
// pushes probes and DATA reports to the station listener; every monitor
// attached to the monitor listener receives STATUS transitions derived
// from report freshness plus each new DATA report.
package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/liveness"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/protocol"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

const (
	// stationReadLimit bounds one station message.
	stationReadLimit = 64
	componentRelay   = "relay"
)

// Config tunes the relay.
type Config struct {
	StationAddr     string        `mapstructure:"station_addr"`
	MonitorAddr     string        `mapstructure:"monitor_addr"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		StationAddr:     ":12345",
		MonitorAddr:     ":12346",
		LivenessTimeout: liveness.DefaultTimeout,
		PollInterval:    liveness.DefaultPollInterval,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// MetricsRecorder receives relay counters. *observability.LinkCollector
// satisfies it.
type MetricsRecorder interface {
	IncStationReport(kind string)
	IncMalformed(component string)
	SetMonitorClients(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncStationReport(string) {}
func (noopMetrics) IncMalformed(string)     {}
func (noopMetrics) SetMonitorClients(int)   {}

// Server is the relay. The latest report is the only shared state;
// every monitor session keeps its own liveness tracker.
type Server struct {
	cfg     Config
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder

	mu        sync.RWMutex
	latest    protocol.DataMessage
	hasLatest bool
	fresh     liveness.Freshness

	monitors atomic.Int64
	wg       sync.WaitGroup
}

// Option customises a Server.
type Option func(*Server)

// WithMetricsRecorder attaches relay metrics.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used for freshness.
func WithClock(c timectrl.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// New builds a relay.
func New(cfg Config, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		cfg:     cfg.withDefaults(),
		clock:   timectrl.Real{},
		log:     log,
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Latest returns the most recent DATA report.
func (s *Server) Latest() (protocol.DataMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// LastReport returns when the latest DATA report arrived.
func (s *Server) LastReport() time.Time { return s.fresh.Last() }

// Monitors returns the number of attached monitors.
func (s *Server) Monitors() int { return int(s.monitors.Load()) }

// ListenAndServe binds both listeners from the config and serves until
// ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	stationLn, err := net.Listen("tcp", s.cfg.StationAddr)
	if err != nil {
		return err
	}
	monitorLn, err := net.Listen("tcp", s.cfg.MonitorAddr)
	if err != nil {
		_ = stationLn.Close()
		return err
	}
	return s.Serve(ctx, stationLn, monitorLn)
}

// Serve runs both accept loops until ctx is done, then closes the
// listeners and waits for open sessions to finish.
func (s *Server) Serve(ctx context.Context, stationLn, monitorLn net.Listener) error {
	s.log.Info(ctx, "relay listening",
		logging.String("station_addr", stationLn.Addr().String()),
		logging.String("monitor_addr", monitorLn.Addr().String()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- s.accept(ctx, stationLn, s.handleStation) }()
	go func() { errc <- s.accept(ctx, monitorLn, s.handleMonitor) }()

	var first error
	pending := 2
	select {
	case <-ctx.Done():
	case first = <-errc:
		pending--
	}
	_ = stationLn.Close()
	_ = monitorLn.Close()
	for ; pending > 0; pending-- {
		<-errc
	}
	cancel()
	s.wg.Wait()

	if first != nil && !errors.Is(first, net.ErrClosed) {
		return first
	}
	return nil
}

func (s *Server) accept(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(ctx, conn)
		}()
	}
}

// handleStation serves one short-lived station connection carrying a
// single message: a probe (answered with ACK) or a DATA report.
func (s *Server) handleStation(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.cfg.ReadTimeout))

	line, err := readMessage(conn)
	if err != nil {
		s.log.Debug(ctx, "station read failed", logging.String("remote", conn.RemoteAddr().String()), logging.Err(err))
		return
	}
	if len(line) == 0 {
		return
	}

	msg, err := protocol.Decode(line)
	if err != nil {
		s.metrics.IncMalformed(componentRelay)
		s.log.Warn(ctx, "dropping malformed station message", logging.Err(err))
		return
	}

	switch m := msg.(type) {
	case protocol.ProbeMessage:
		s.metrics.IncStationReport("probe")
		if _, err := conn.Write(protocol.Ack()); err != nil {
			s.log.Debug(ctx, "ack write failed", logging.Err(err))
		}
	case protocol.DataMessage:
		s.metrics.IncStationReport("data")
		s.mu.Lock()
		s.latest = m
		s.hasLatest = true
		s.mu.Unlock()
		s.fresh.Touch(s.clock.Now())
		s.log.Debug(ctx, "station report",
			logging.Uint64("seq", m.Seq),
			logging.Int("signal_dbm", m.SignalDBm),
			logging.Int64("rtt_ms", int64(m.RTTMs)),
		)
	default:
		s.metrics.IncMalformed(componentRelay)
		s.log.Warn(ctx, "unexpected station message", logging.String("type", typeName(msg)))
	}
}

// readMessage reads until a newline, EOF or the limit, whichever comes
// first. Stations may close without a trailing newline.
func readMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, stationReadLimit)
	chunk := make([]byte, stationReadLimit)
	for len(buf) < stationReadLimit {
		n, err := r.Read(chunk[:stationReadLimit-len(buf)])
		buf = append(buf, chunk[:n]...)
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return buf[:i], nil
		}
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
	}
	return buf, nil
}

// handleMonitor feeds one monitor until it goes away or ctx is done.
func (s *Server) handleMonitor(ctx context.Context, conn net.Conn) {
	n := s.monitors.Add(1)
	s.metrics.SetMonitorClients(int(n))
	remote := conn.RemoteAddr().String()
	ctx, _ = logging.EnsureCorrelationID(ctx)
	log := s.log.With(logging.String("remote", remote))
	log.Info(ctx, "monitor attached")

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = conn.Close()
		n := s.monitors.Add(-1)
		s.metrics.SetMonitorClients(int(n))
		log.Info(ctx, "monitor detached")
	}()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go s.drain(conn, cancel)

	sess := &monitorSession{
		tracker: liveness.NewTracker(s.cfg.LivenessTimeout),
	}
	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.tick(sess, conn); err != nil {
			if ctx.Err() == nil {
				log.Info(ctx, "monitor write failed", logging.Err(err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// drain discards anything the monitor sends and cancels the session
// when the monitor closes its side.
func (s *Server) drain(conn net.Conn, cancel context.CancelFunc) {
	defer cancel()
	_, _ = io.Copy(io.Discard, conn)
}

type monitorSession struct {
	tracker *liveness.Tracker
	sentSeq uint64
	sentAny bool
}

// tick sends a STATUS line when liveness changed and a DATA line when a
// report with a new sequence number arrived since the last tick. DATA is
// only forwarded while this session considers the link connected, so a
// report older than the liveness timeout never reaches a new monitor.
func (s *Server) tick(sess *monitorSession, conn net.Conn) error {
	var out []byte
	if tr, ok := sess.tracker.Observe(s.clock.Now(), s.fresh.Last()); ok {
		out = append(out, protocol.Encode(protocol.StatusMessage{State: tr.To})...)
	}
	if latest, ok := s.Latest(); ok && sess.tracker.Connected() && (!sess.sentAny || latest.Seq != sess.sentSeq) {
		out = append(out, protocol.Encode(latest)...)
		sess.sentSeq = latest.Seq
		sess.sentAny = true
	}
	if len(out) == 0 {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, err := conn.Write(out)
	return err
}

func typeName(msg protocol.Message) string {
	switch msg.(type) {
	case protocol.StatusMessage:
		return "status"
	case protocol.AckMessage:
		return "ack"
	default:
		return "unknown"
	}
}
