package station

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
)

// Source yields one signal strength reading per call. ok is false when
// no reading is available (e.g. the radio is not associated).
type Source interface {
	Sample(ctx context.Context) (signalDBm int, ok bool, err error)
}

var iwSignalRe = regexp.MustCompile(`signal:\s*(-?\d+)\s*dBm`)

// IWSource reads the signal of the associated access point from
// `iw dev <iface> link`.
type IWSource struct {
	Interface string

	// run executes the command; replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewIWSource returns a source for the given wireless interface.
func NewIWSource(iface string) *IWSource {
	return &IWSource{Interface: iface, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (s *IWSource) Sample(ctx context.Context) (int, bool, error) {
	out, err := s.run(ctx, "iw", "dev", s.Interface, "link")
	if err != nil {
		return 0, false, fmt.Errorf("iw dev %s link: %w", s.Interface, err)
	}
	return parseIWLink(out)
}

// parseIWLink extracts the signal from iw output. "Not connected." and
// output without a signal line yield ok=false.
func parseIWLink(out []byte) (int, bool, error) {
	m := iwSignalRe.FindSubmatch(out)
	if m == nil {
		return 0, false, nil
	}
	v, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false, fmt.Errorf("parse iw signal %q: %w", m[1], err)
	}
	return v, true, nil
}

// RandomWalk simulates a drifting signal for bench runs without a radio.
type RandomWalk struct {
	mu       sync.Mutex
	rng      *rand.Rand
	current  float64
	min, max float64
	step     float64
	dropRate float64
}

// NewRandomWalk starts at start dBm and moves up to step dBm per sample,
// staying inside [min, max]. dropRate is the chance a sample is missing.
func NewRandomWalk(seed uint64, start, min, max, step, dropRate float64) *RandomWalk {
	return &RandomWalk{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		current:  start,
		min:      min,
		max:      max,
		step:     step,
		dropRate: dropRate,
	}
}

func (w *RandomWalk) Sample(context.Context) (int, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dropRate > 0 && w.rng.Float64() < w.dropRate {
		return 0, false, nil
	}
	w.current += (w.rng.Float64()*2 - 1) * w.step
	if w.current < w.min {
		w.current = w.min
	}
	if w.current > w.max {
		w.current = w.max
	}
	return int(w.current), true, nil
}
