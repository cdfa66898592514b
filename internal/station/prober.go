// Package station is the measuring end of the link. Every interval it
// samples the signal, times a probe/ACK round trip against the relay
// and reports the result as a DATA message.
package station

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/protocol"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

// Config tunes the prober.
type Config struct {
	RelayAddr   string        `mapstructure:"relay_addr"`
	Interval    time.Duration `mapstructure:"interval"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Source      string        `mapstructure:"source"` // iw | random
	Interface   string        `mapstructure:"interface"`
}

// DefaultConfig returns the prober defaults.
func DefaultConfig() Config {
	return Config{
		RelayAddr:   "192.168.4.1:12345",
		Interval:    time.Second,
		DialTimeout: 3 * time.Second,
		Source:      "iw",
		Interface:   "wlan0",
	}
}

// Result describes one probe cycle.
type Result struct {
	Seq       uint64
	SignalDBm int
	RTT       time.Duration
	Sent      bool
}

// Prober runs the measurement loop.
type Prober struct {
	cfg    Config
	source Source
	clock  timectrl.Clock
	log    logging.Logger
	dial   func(ctx context.Context, addr string) (net.Conn, error)

	seq uint64
}

// NewProber builds a prober reading from src.
func NewProber(cfg Config, src Source, clock timectrl.Clock, log logging.Logger) *Prober {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if clock == nil {
		clock = timectrl.Real{}
	}
	if log == nil {
		log = logging.Noop()
	}
	p := &Prober{cfg: cfg, source: src, clock: clock, log: log}
	p.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		dl := net.Dialer{Timeout: p.cfg.DialTimeout}
		return dl.DialContext(ctx, "tcp", addr)
	}
	return p
}

// Run probes every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		p.Once(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// Once performs one cycle. The sequence number advances whenever a
// reading was taken, even if reporting it failed, so the monitor sees the
// gap.
func (p *Prober) Once(ctx context.Context) Result {
	signal, ok, err := p.source.Sample(ctx)
	if err != nil {
		p.log.Warn(ctx, "signal sample failed", logging.Err(err))
		return Result{}
	}
	if !ok {
		p.log.Info(ctx, "no signal reading", logging.Uint64("seq", p.seq))
		return Result{}
	}

	p.seq++
	res := Result{Seq: p.seq, SignalDBm: signal}

	rtt, err := p.probe(ctx, signal)
	if err != nil {
		p.log.Warn(ctx, "probe failed", logging.Uint64("seq", res.Seq), logging.Err(err))
		return res
	}
	res.RTT = rtt

	msg := protocol.DataMessage{SignalDBm: signal, RTTMs: uint32(rtt.Milliseconds()), Seq: res.Seq}
	if err := p.send(ctx, protocol.Encode(msg)); err != nil {
		p.log.Warn(ctx, "report failed", logging.Uint64("seq", res.Seq), logging.Err(err))
		return res
	}
	res.Sent = true
	p.log.Info(ctx, "reported",
		logging.Uint64("seq", res.Seq),
		logging.Int("signal_dbm", signal),
		logging.Int64("rtt_ms", rtt.Milliseconds()),
	)
	return res
}

// probe times connect + RSSI probe + ACK.
func (p *Prober) probe(ctx context.Context, signal int) (time.Duration, error) {
	start := time.Now()
	conn, err := p.dial(ctx, p.cfg.RelayAddr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(p.cfg.DialTimeout))

	if _, err := conn.Write(protocol.Encode(protocol.ProbeMessage{SignalDBm: signal})); err != nil {
		return 0, fmt.Errorf("write probe: %w", err)
	}
	buf := make([]byte, 16)
	n, err := io.ReadAtLeast(conn, buf, len(protocol.Ack()))
	if err != nil {
		return 0, fmt.Errorf("read ack: %w", err)
	}
	if !protocol.IsAck(buf[:n]) {
		return 0, fmt.Errorf("unexpected probe reply %q", buf[:n])
	}
	return time.Since(start), nil
}

func (p *Prober) send(ctx context.Context, line []byte) error {
	conn, err := p.dial(ctx, p.cfg.RelayAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(p.cfg.DialTimeout))
	_, err = conn.Write(line)
	return err
}
