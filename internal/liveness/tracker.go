// Package liveness turns "time since the last report" into exactly-once
// CONNECTED / DISCONNECTED transitions.
package liveness

import (
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/linkwatch/model"
)

const (
	// DefaultTimeout is how long the link may stay silent before it is
	// declared disconnected.
	DefaultTimeout = 5 * time.Second
	// DefaultPollInterval is the cadence at which freshness is checked.
	DefaultPollInterval = 500 * time.Millisecond
)

// Tracker is the per-observer liveness state machine. Each consumer of a
// freshness source (each relay monitor session, the monitor's uplink)
// owns its own Tracker so every consumer sees every transition once.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	timeout time.Duration

	wasConnected        bool
	disconnectSent      bool
	disconnectStartedAt time.Time
}

// NewTracker returns a tracker that starts in the disconnected state.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{timeout: timeout}
}

// Observe evaluates freshness at now. A zero lastUpdate means no report
// has ever arrived and counts as infinitely stale.
func (t *Tracker) Observe(now, lastUpdate time.Time) (model.Transition, bool) {
	isConnected := !lastUpdate.IsZero() && now.Sub(lastUpdate) < t.timeout

	switch {
	case t.wasConnected && !isConnected && !t.disconnectSent:
		t.wasConnected = false
		t.disconnectSent = true
		t.disconnectStartedAt = now
		return model.Transition{From: model.StateConnected, To: model.StateDisconnected, At: now}, true

	case !t.wasConnected && isConnected:
		tr := model.Transition{From: model.StateDisconnected, To: model.StateConnected, At: now}
		if !t.disconnectStartedAt.IsZero() {
			tr.PreviousDuration = now.Sub(t.disconnectStartedAt)
			tr.HasDuration = true
		}
		t.wasConnected = true
		t.disconnectSent = false
		return tr, true
	}
	return model.Transition{}, false
}

// Connected reports the state as of the last Observe.
func (t *Tracker) Connected() bool {
	return t.wasConnected
}

// Freshness records when the latest report arrived. Safe for concurrent
// use; writers never contend with the monitor's state lock.
type Freshness struct {
	last atomic.Int64 // unix nanoseconds, 0 when no report arrived
}

// Touch records a report at t.
func (f *Freshness) Touch(t time.Time) {
	if t.IsZero() {
		f.last.Store(0)
		return
	}
	f.last.Store(t.UnixNano())
}

// Last returns the time of the latest report, zero if none.
func (f *Freshness) Last() time.Time {
	n := f.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
