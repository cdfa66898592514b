package timectrl

import (
	"testing"
	"time"
)

func TestManualClockSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start, time.Second)

	newNow := start.Add(42 * time.Second)
	c.SetTime(newNow)

	if got := c.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestManualClockAdvanceFiresTicker(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start, 100*time.Millisecond)

	ticker := c.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	c.Advance(400 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatalf("ticker fired early")
	default:
	}

	c.Advance(100 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := start.Add(500 * time.Millisecond); !got.Equal(want) {
			t.Fatalf("tick = %v, want %v", got, want)
		}
	default:
		t.Fatalf("ticker did not fire at 500ms")
	}

	if got, want := c.Now(), start.Add(500*time.Millisecond); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestManualClockAfterAndListeners(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start, time.Second)

	var steps int
	c.AddListener(func(time.Time) { steps++ })

	ch := c.After(3 * time.Second)
	c.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatalf("timer fired early")
	default:
	}
	c.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatalf("timer did not fire")
	}
	if steps != 3 {
		t.Fatalf("listener steps = %d, want 3", steps)
	}
}

func TestManualClockStoppedTickerDoesNotFire(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0), time.Second)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatalf("stopped ticker fired")
	default:
	}
}

func TestRealClockTicker(t *testing.T) {
	ticker := Real{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatalf("real ticker did not fire")
	}
}
