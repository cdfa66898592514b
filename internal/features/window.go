package features

import "github.com/signalsfoundry/linkwatch/model"

// Window is a bounded FIFO of measurements; the oldest sample is evicted
// once capacity is reached.
type Window struct {
	capacity int
	samples  []model.Measurement
}

// NewWindow returns a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{capacity: capacity, samples: make([]model.Measurement, 0, capacity)}
}

// Add appends m, evicting the oldest sample when full.
func (w *Window) Add(m model.Measurement) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, m)
}

func (w *Window) Len() int      { return len(w.samples) }
func (w *Window) Capacity() int { return w.capacity }
func (w *Window) Full() bool    { return len(w.samples) == w.capacity }

// Samples returns a copy of the window contents, oldest first.
func (w *Window) Samples() []model.Measurement {
	return append([]model.Measurement(nil), w.samples...)
}

// Last returns the n most recent samples (fewer if the window is
// shorter), oldest first. The slice aliases the window.
func (w *Window) Last(n int) []model.Measurement {
	if n > len(w.samples) {
		n = len(w.samples)
	}
	return w.samples[len(w.samples)-n:]
}

// Vector extracts features over the current contents.
func (w *Window) Vector() Vector {
	return Extract(w.samples)
}

// Reset empties the window.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}
