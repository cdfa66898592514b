package liveness

import (
	"context"
	"time"

	"github.com/signalsfoundry/linkwatch/model"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

// Watch polls lastSeen every interval and calls emit for each transition
// the tracker reports. It returns when ctx is done or emit returns an
// error; the error is returned unchanged.
func Watch(ctx context.Context, clock timectrl.Clock, interval time.Duration, tracker *Tracker,
	lastSeen func() time.Time, emit func(model.Transition) error) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if tr, ok := tracker.Observe(clock.Now(), lastSeen()); ok {
				if err := emit(tr); err != nil {
					return err
				}
			}
		}
	}
}
