package timectrl

import (
	"sync"
	"time"
)

// Clock is the time source used by the liveness poller, the station
// prober and the disconnect alarm. Production code uses Real; tests
// drive a ManualClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Ticker is the subset of *time.Ticker the pollers need.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ManualClock only moves when told to. Advance steps time forward in
// Tick increments, firing due tickers, timers and listeners at each
// step, so a poll loop sees the same sequence of ticks it would in real
// time.
type ManualClock struct {
	mu   sync.Mutex
	Tick time.Duration

	currentTime time.Time
	tickers     []*manualTicker
	timers      []manualTimer
	listeners   []func(time.Time)
}

type manualTicker struct {
	clock   *ManualClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

type manualTimer struct {
	at time.Time
	ch chan time.Time
}

// NewManualClock constructs a clock starting at start. A zero tick
// defaults to 100ms.
func NewManualClock(start time.Time, tick time.Duration) *ManualClock {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &ManualClock{Tick: tick, currentTime: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

// NewTicker registers a ticker. Its channel has a buffer of one; ticks
// that arrive while the reader is busy are dropped, like time.Ticker.
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timectrl: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{clock: c, period: d, next: c.currentTime.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// After returns a channel that fires once the clock passes now+d.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.currentTime
		return ch
	}
	c.timers = append(c.timers, manualTimer{at: c.currentTime.Add(d), ch: ch})
	return ch
}

// AddListener registers a callback invoked after every step.
func (c *ManualClock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetTime jumps the clock without firing anything.
func (c *ManualClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = t
}

// Advance moves time forward by d in Tick steps.
func (c *ManualClock) Advance(d time.Duration) {
	for d > 0 {
		step := c.Tick
		if step > d {
			step = d
		}
		d -= step
		c.step(step)
	}
}

func (c *ManualClock) step(step time.Duration) {
	c.mu.Lock()
	c.currentTime = c.currentTime.Add(step)
	now := c.currentTime

	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}

	pending := c.timers[:0]
	for _, tm := range c.timers {
		if tm.at.After(now) {
			pending = append(pending, tm)
			continue
		}
		tm.ch <- now
	}
	c.timers = pending

	listeners := append([]func(time.Time){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
