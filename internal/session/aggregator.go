// Package session accumulates statistics over a monitoring session.
package session

import (
	"time"

	"github.com/signalsfoundry/linkwatch/model"
)

// IDLayout formats session ids from the session start time.
const IDLayout = "20060102_150405"

// Aggregator accumulates everything observed during one session. It never
// discards data. Not safe for concurrent use; the monitor serializes
// access and hands out Snapshots.
type Aggregator struct {
	id        string
	startedAt time.Time

	signal  []float64
	rtt     []float64
	latency []float64

	qualityCounts map[string]int

	totalMeasurements   int
	lostPackets         int
	disconnects         int
	disconnectDurations []time.Duration
	warnings            map[string]int
}

// NewAggregator starts a session at start. An empty id is derived from the
// start time.
func NewAggregator(id string, start time.Time) *Aggregator {
	if id == "" {
		id = start.Format(IDLayout)
	}
	a := &Aggregator{id: id, startedAt: start}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.signal, a.rtt, a.latency = nil, nil, nil
	a.qualityCounts = make(map[string]int, len(model.QualityLabels))
	for _, l := range model.QualityLabels {
		a.qualityCounts[l] = 0
	}
	a.totalMeasurements = 0
	a.lostPackets = 0
	a.disconnects = 0
	a.disconnectDurations = nil
	a.warnings = make(map[string]int)
}

// ID returns the session id.
func (a *Aggregator) ID() string { return a.id }

// StartedAt returns the session start.
func (a *Aggregator) StartedAt() time.Time { return a.startedAt }

// RecordMeasurement adds one DATA sample.
func (a *Aggregator) RecordMeasurement(m model.Measurement) {
	a.totalMeasurements++
	a.signal = append(a.signal, float64(m.SignalDBm))
	if m.HasRTT {
		a.rtt = append(a.rtt, float64(m.RTTMs))
		a.latency = append(a.latency, float64(m.LatencyMs()))
	}
	if m.HasQuality {
		a.qualityCounts[model.QualityLabel(m.Quality)]++
	}
}

// RecordPacketLoss adds n lost packets.
func (a *Aggregator) RecordPacketLoss(n int) {
	if n > 0 {
		a.lostPackets += n
	}
}

// RecordDisconnect counts one disconnect.
func (a *Aggregator) RecordDisconnect() {
	a.disconnects++
}

// RecordDisconnectDuration adds the length of a finished outage.
func (a *Aggregator) RecordDisconnectDuration(d time.Duration) {
	a.disconnectDurations = append(a.disconnectDurations, d)
}

// RecordWarning counts a warning under its level name. NONE is ignored.
func (a *Aggregator) RecordWarning(level model.WarningLevel) {
	if level == model.LevelNone {
		return
	}
	a.warnings[level.String()]++
}

// Disconnects returns the disconnect count so far.
func (a *Aggregator) Disconnects() int { return a.disconnects }

// Snapshot is an immutable view of the session at one instant.
type Snapshot struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	TotalMeasurements int            `json:"total_measurements"`
	Signal            Stats          `json:"signal"`
	RTT               Stats          `json:"rtt"`
	Latency           Stats          `json:"latency"`
	SignalRanges      []SignalRange  `json:"signal_ranges"`
	QualityCounts     map[string]int `json:"quality_counts"`

	LostPackets    int     `json:"lost_packets"`
	PacketLossRate float64 `json:"packet_loss_rate"`

	Disconnects         int             `json:"disconnects"`
	DisconnectDurations []time.Duration `json:"disconnect_durations"`
	TotalDowntime       time.Duration   `json:"total_downtime"`
	AvgDisconnect       time.Duration   `json:"avg_disconnect"`

	WarningsByLevel map[string]int `json:"warnings_by_level"`
	TotalWarnings   int            `json:"total_warnings"`
}

// Snapshot copies the current totals; later updates do not affect it.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		SessionID:           a.id,
		StartedAt:           a.startedAt,
		Duration:            now.Sub(a.startedAt),
		TotalMeasurements:   a.totalMeasurements,
		Signal:              Summarize(a.signal),
		RTT:                 Summarize(a.rtt),
		Latency:             Summarize(a.latency),
		SignalRanges:        SignalRanges(a.signal),
		QualityCounts:       make(map[string]int, len(a.qualityCounts)),
		LostPackets:         a.lostPackets,
		Disconnects:         a.disconnects,
		DisconnectDurations: append([]time.Duration(nil), a.disconnectDurations...),
		WarningsByLevel:     make(map[string]int, len(a.warnings)),
	}
	for k, v := range a.qualityCounts {
		s.QualityCounts[k] = v
	}
	for k, v := range a.warnings {
		s.WarningsByLevel[k] = v
		s.TotalWarnings += v
	}
	if total := a.totalMeasurements + a.lostPackets; total > 0 && a.totalMeasurements > 0 {
		s.PacketLossRate = float64(a.lostPackets) / float64(total) * 100
	}
	for _, d := range a.disconnectDurations {
		s.TotalDowntime += d
	}
	if n := len(a.disconnectDurations); n > 0 {
		s.AvgDisconnect = s.TotalDowntime / time.Duration(n)
	}
	return s
}

// MeasurementRate is samples per minute over the session.
func (s Snapshot) MeasurementRate() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.TotalMeasurements) / s.Duration.Minutes()
}
