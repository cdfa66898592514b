package model

import "time"

// Measurement is a single link sample reported by the station and
// relayed to the monitor. It is a value type; callers never mutate a
// Measurement after it has been handed to the prediction engine.
type Measurement struct {
	Seq       uint64
	SignalDBm int

	// RTTMs is only meaningful when HasRTT is set. A reported RTT of
	// zero means the station could not time the probe.
	RTTMs  int
	HasRTT bool

	// Quality is the 0..4 quality score derived from SignalDBm.
	Quality    int
	HasQuality bool

	At time.Time
}

// NewMeasurement builds a Measurement from a decoded DATA report,
// deriving the quality score from the signal strength.
func NewMeasurement(seq uint64, signalDBm int, rttMs int, at time.Time) Measurement {
	return Measurement{
		Seq:        seq,
		SignalDBm:  signalDBm,
		RTTMs:      rttMs,
		HasRTT:     rttMs >= 0,
		Quality:    QualityFromSignal(signalDBm),
		HasQuality: true,
		At:         at,
	}
}

// LatencyMs is the one-way latency estimate (half the round trip,
// integer division).
func (m Measurement) LatencyMs() int {
	if !m.HasRTT {
		return 0
	}
	return m.RTTMs / 2
}

// ValidRTT reports whether the sample carries a usable (positive) RTT.
func (m Measurement) ValidRTT() bool {
	return m.HasRTT && m.RTTMs > 0
}
