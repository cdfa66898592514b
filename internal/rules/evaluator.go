// Package rules grades a measurement stream against fixed thresholds.
// Every check runs on every measurement; the result is the most severe
// level any check reached plus one message per triggered check.
package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/linkwatch/internal/features"
	"github.com/signalsfoundry/linkwatch/model"
)

// HistoryCapacity bounds the evaluator's measurement history.
const HistoryCapacity = 20

// Evaluator holds the recent history the trend checks need. Not safe for
// concurrent use; the monitor serializes access.
type Evaluator struct {
	thresholds Thresholds
	history    *features.Window
}

// NewEvaluator returns an evaluator with an empty history.
func NewEvaluator(t Thresholds) *Evaluator {
	return &Evaluator{thresholds: t, history: features.NewWindow(HistoryCapacity)}
}

// Thresholds returns the active configuration.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// HistoryLen is the number of retained measurements.
func (e *Evaluator) HistoryLen() int { return e.history.Len() }

// Reset clears the history.
func (e *Evaluator) Reset() { e.history.Reset() }

// Evaluate records m and grades it.
func (e *Evaluator) Evaluate(m model.Measurement) (model.WarningLevel, []string) {
	e.history.Add(m)

	th := e.thresholds
	level := model.LevelNone
	var msgs []string
	raise := func(l model.WarningLevel, format string, args ...any) {
		level = model.MaxLevel(level, l)
		msgs = append(msgs, fmt.Sprintf(format, args...))
	}

	signal := float64(m.SignalDBm)
	switch {
	case signal < th.SignalDanger:
		raise(model.LevelCritical, "Signal very weak (%d dBm); the station is far from the AP or obstructed, link may drop at any moment.", m.SignalDBm)
	case signal < th.SignalCritical:
		raise(model.LevelWarning, "Signal at critical level (%d dBm); high risk of disconnection soon.", m.SignalDBm)
	case signal < th.SignalWarning:
		raise(model.LevelCaution, "Signal strength low (%d dBm); link quality is degrading.", m.SignalDBm)
	}

	trend, delta := e.signalTrend()
	switch {
	case trend < th.SignalTrendCritical:
		raise(model.LevelWarning, "Signal falling fast: lost %d dBm over the last %d samples; the station may be moving away.", int(math.Abs(delta)), th.WindowSize)
	case trend < th.SignalTrendWarning:
		raise(model.LevelCaution, "Signal trending down: %d dBm lower over the last %d samples.", int(math.Abs(delta)), th.WindowSize)
	case trend < th.SignalTrendInfo && level == model.LevelNone:
		raise(model.LevelInfo, "Slight signal fluctuation (%d dBm change).", int(math.Abs(delta)))
	}

	if std := e.signalStd(); std > th.SignalStdWarning {
		raise(model.LevelCaution, "Signal unstable; fluctuation is high (±%.1f dBm).", std)
	}

	if m.ValidRTT() {
		rtt := float64(m.RTTMs)
		switch {
		case rtt > th.RTTCritical:
			raise(model.LevelWarning, "Round-trip time very high (%d ms); congestion or packet loss likely.", m.RTTMs)
		case rtt > th.RTTWarning:
			raise(model.LevelCaution, "Round-trip time above normal (%d ms); responses are slowing.", m.RTTMs)
		}
	}

	if rttTrend := e.rttTrend(); rttTrend > th.RTTTrendWarning {
		raise(model.LevelCaution, "Round-trip time rising (+%d ms); the network is slowing down.", int(rttTrend))
	}

	if latency := m.LatencyMs(); latency > 0 {
		switch {
		case float64(latency) > th.LatencyCritical:
			raise(model.LevelWarning, "One-way latency critical (%d ms); data delivery is slow.", latency)
		case float64(latency) > th.LatencyWarning:
			raise(model.LevelCaution, "One-way latency rising (%d ms).", latency)
		}
	}

	if qTrend := e.qualityTrend(); qTrend != 0 {
		switch {
		case qTrend <= -th.QualityDropCritical:
			if m.HasQuality {
				raise(model.LevelWarning, "Signal quality dropped sharply: %s → %s; the link is deteriorating.", previousLabel(m.Quality, qTrend), model.QualityLabel(m.Quality))
			} else {
				raise(model.LevelWarning, "Signal quality dropping sharply; the link is deteriorating.")
			}
		case qTrend <= -th.QualityDropWarning:
			if m.HasQuality {
				raise(model.LevelCaution, "Signal quality dropping: %s → %s.", previousLabel(m.Quality, qTrend), model.QualityLabel(m.Quality))
			} else {
				raise(model.LevelCaution, "Signal quality trending down.")
			}
		}
	}

	return level, msgs
}

// previousLabel reconstructs the label at the start of the trend window.
// Scores that fall outside 0..4 are clamped.
func previousLabel(current, trend int) string {
	return model.QualityLabel(model.ClampQuality(current - trend))
}

// recent returns the trend window, or nil while history is shorter than
// the window.
func (e *Evaluator) recent() []model.Measurement {
	if e.history.Len() < e.thresholds.WindowSize {
		return nil
	}
	return e.history.Last(e.thresholds.WindowSize)
}

// signalTrend is the average per-sample change and total change across
// the window.
func (e *Evaluator) signalTrend() (trend, delta float64) {
	w := e.recent()
	if len(w) < 2 {
		return 0, 0
	}
	delta = float64(w[len(w)-1].SignalDBm - w[0].SignalDBm)
	return delta / float64(len(w)-1), delta
}

func (e *Evaluator) signalStd() float64 {
	w := e.recent()
	if len(w) < 2 {
		return 0
	}
	xs := make([]float64, len(w))
	for i, m := range w {
		xs[i] = float64(m.SignalDBm)
	}
	return features.PopulationStd(xs)
}

func (e *Evaluator) rttTrend() float64 {
	var rtts []int
	for _, m := range e.recent() {
		if m.ValidRTT() {
			rtts = append(rtts, m.RTTMs)
		}
	}
	if len(rtts) < 2 {
		return 0
	}
	return float64(rtts[len(rtts)-1] - rtts[0])
}

func (e *Evaluator) qualityTrend() int {
	var qs []int
	for _, m := range e.recent() {
		if m.HasQuality {
			qs = append(qs, m.Quality)
		}
	}
	if len(qs) < 2 {
		return 0
	}
	return qs[len(qs)-1] - qs[0]
}

var levelPrefixes = map[model.WarningLevel]string{
	model.LevelInfo:     "[i]",
	model.LevelCaution:  "[!] CAUTION:",
	model.LevelWarning:  "[!!] WARNING:",
	model.LevelCritical: "[!!!] CRITICAL:",
}

// Prefix returns the operator-facing marker for a level.
func Prefix(level model.WarningLevel) string {
	return levelPrefixes[level]
}

// FormatWarning joins messages into one operator line. It returns "" when
// there is nothing to report.
func FormatWarning(level model.WarningLevel, messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(messages)+1)
	if p := Prefix(level); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(append(parts, messages...), " ")
}
