// Package uplink connects the monitor to the relay: it reassembles the
// relay's line stream, feeds measurements and STATUS transitions to the
// monitor, reconnects with exponential backoff, and runs a local
// liveness watch so a silent relay still yields DISCONNECTED.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/signalsfoundry/linkwatch/internal/liveness"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/model"
	"github.com/signalsfoundry/linkwatch/protocol"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

const componentUplink = "uplink"

// Config tunes the uplink.
type Config struct {
	RelayAddr       string        `mapstructure:"relay_addr"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns the uplink defaults.
func DefaultConfig() Config {
	return Config{
		RelayAddr:       "192.168.4.1:12346",
		DialTimeout:     2 * time.Second,
		InitialBackoff:  time.Second,
		MaxBackoff:      30 * time.Second,
		LivenessTimeout: liveness.DefaultTimeout,
		PollInterval:    liveness.DefaultPollInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Handler receives decoded relay traffic. *monitor.Monitor satisfies it.
type Handler interface {
	HandleData(ctx context.Context, m model.Measurement) model.PredictionResult
	ApplyTransition(ctx context.Context, tr model.Transition) bool
}

// MetricsRecorder receives uplink counters. *observability.LinkCollector
// satisfies it.
type MetricsRecorder interface {
	IncUplinkReconnects()
	SetUplinkConnected(bool)
	IncMalformed(component string)
}

type noopMetrics struct{}

func (noopMetrics) IncUplinkReconnects()    {}
func (noopMetrics) SetUplinkConnected(bool) {}
func (noopMetrics) IncMalformed(string)     {}

// Client is the monitor's relay connection.
type Client struct {
	cfg     Config
	handler Handler
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder
	dial    func(ctx context.Context, addr string) (net.Conn, error)

	fresh liveness.Freshness

	mu        sync.Mutex
	connected bool
	lastSeq   uint64
	seenSeq   bool
	malformed int
}

// Option customises a Client.
type Option func(*Client)

// WithMetricsRecorder attaches uplink metrics.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the clock used for timestamps and liveness.
func WithClock(clock timectrl.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer overrides how the relay is dialled.
func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// New builds an uplink client feeding h.
func New(cfg Config, h Handler, log logging.Logger, opts ...Option) *Client {
	if log == nil {
		log = logging.Noop()
	}
	c := &Client{
		cfg:     cfg.withDefaults(),
		handler: h,
		clock:   timectrl.Real{},
		log:     log,
		metrics: noopMetrics{},
	}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connected reports whether a relay session is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Malformed returns the number of relay lines that failed to decode.
func (c *Client) Malformed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.malformed
}

// Run keeps a relay session open until ctx is done. Dial failures back
// off exponentially; a session that ends after connecting reconnects
// straight away with a fresh backoff.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	watchErr := make(chan error, 1)
	go func() {
		tracker := liveness.NewTracker(c.cfg.LivenessTimeout)
		watchErr <- liveness.Watch(ctx, c.clock, c.cfg.PollInterval, tracker, c.fresh.Last,
			func(tr model.Transition) error {
				c.handler.ApplyTransition(ctx, tr)
				return nil
			})
	}()
	defer func() {
		cancel()
		<-watchErr
	}()

	for {
		conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
			return c.dial(ctx, c.cfg.RelayAddr)
		},
			backoff.WithBackOff(c.newBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.metrics.IncUplinkReconnects()
				c.log.Warn(ctx, "relay dial failed; retrying",
					logging.String("addr", c.cfg.RelayAddr),
					logging.Duration("backoff", next),
					logging.Err(err),
				)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dial relay: %w", err)
		}

		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn(ctx, "relay session ended", logging.Err(err))
	}
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = c.cfg.MaxBackoff
	b.RandomizationFactor = 0
	return b
}

// session reads one relay connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context, conn net.Conn) error {
	ctx, _ = logging.EnsureCorrelationID(ctx)
	c.setConnected(true)
	c.log.Info(ctx, "relay connected", logging.String("addr", conn.RemoteAddr().String()))

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = conn.Close()
		c.setConnected(false)
		c.log.Info(ctx, "relay disconnected")
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	var splitter protocol.LineSplitter
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range splitter.Feed(buf[:n]) {
				c.handleLine(ctx, line)
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Client) handleLine(ctx context.Context, line []byte) {
	msg, err := protocol.Decode(line)
	if err != nil {
		c.mu.Lock()
		c.malformed++
		c.mu.Unlock()
		c.metrics.IncMalformed(componentUplink)
		c.log.Warn(ctx, "dropping malformed relay line", logging.Err(err))
		return
	}

	switch m := msg.(type) {
	case protocol.DataMessage:
		if !c.acceptSeq(m.Seq) {
			// The relay repeats its latest report to every new session.
			return
		}
		now := c.clock.Now()
		c.fresh.Touch(now)
		c.handler.HandleData(ctx, model.NewMeasurement(m.Seq, m.SignalDBm, int(m.RTTMs), now))
	case protocol.StatusMessage:
		c.handler.ApplyTransition(ctx, model.Transition{To: m.State, At: c.clock.Now()})
	default:
		c.log.Debug(ctx, "ignoring relay message", logging.String("line", string(line)))
	}
}

// acceptSeq drops a DATA report whose sequence number equals the last
// one delivered.
func (c *Client) acceptSeq(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seenSeq && seq == c.lastSeq {
		return false
	}
	c.lastSeq = seq
	c.seenSeq = true
	return true
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	c.metrics.SetUplinkConnected(v)
}
