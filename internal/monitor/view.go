package monitor

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/predictor"
	"github.com/signalsfoundry/linkwatch/internal/session"
	"github.com/signalsfoundry/linkwatch/model"
)

// Reading is the latest measurement as shown to operators.
type Reading struct {
	Seq          uint64         `json:"count"`
	SignalDBm    int            `json:"rssi"`
	RTTMs        int            `json:"rtt"`
	LatencyMs    int            `json:"latency"`
	Quality      string         `json:"quality"`
	QualityScore int            `json:"quality_score"`
	At           time.Time      `json:"timestamp"`
	PacketLoss   int            `json:"packet_loss"`
	Warning      *model.Warning `json:"warning,omitempty"`
}

func newReading(m model.Measurement, lost int) Reading {
	return Reading{
		Seq:          m.Seq,
		SignalDBm:    m.SignalDBm,
		RTTMs:        m.RTTMs,
		LatencyMs:    m.LatencyMs(),
		Quality:      model.QualityLabel(m.Quality),
		QualityScore: m.Quality,
		At:           m.At,
		PacketLoss:   lost,
	}
}

// HistoryPoint is one chart sample.
type HistoryPoint struct {
	At        time.Time `json:"time"`
	SignalDBm int       `json:"rssi"`
	RTTMs     int       `json:"rtt"`
}

// View is a consistent, JSON-ready copy of the whole monitor state.
type View struct {
	SessionID        string           `json:"session_id"`
	Duration         string           `json:"duration"`
	DurationSeconds  float64          `json:"duration_seconds"`
	ConnectionStatus string           `json:"connection_status"`
	Current          *Reading         `json:"current"`
	Session          session.Snapshot `json:"stats"`
	Warnings         []model.Warning  `json:"warnings"`
	Predictor        predictor.Status `json:"predictor"`
	History          []HistoryPoint   `json:"chart_data"`
}

// CurrentData returns the full view under the state lock.
func (m *Monitor) CurrentData() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	snap := m.agg.Snapshot(now)
	v := View{
		SessionID:        snap.SessionID,
		Duration:         clockDuration(snap.Duration),
		DurationSeconds:  snap.Duration.Seconds(),
		ConnectionStatus: m.state.String(),
		Session:          snap,
		Warnings:         m.warningsLocked(),
		Predictor:        m.predictor.Status(),
		History:          append([]HistoryPoint(nil), m.history...),
	}
	if m.hasCurrent {
		cur := m.current
		v.Current = &cur
	}
	return v
}

// Snapshot returns the session aggregate.
func (m *Monitor) Snapshot() session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg.Snapshot(m.clock.Now())
}

// History returns the chart history, oldest first.
func (m *Monitor) History() []HistoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryPoint(nil), m.history...)
}

// Warnings returns the warning feed, newest first.
func (m *Monitor) Warnings() []model.Warning {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningsLocked()
}

func (m *Monitor) warningsLocked() []model.Warning {
	out := make([]model.Warning, len(m.warnings))
	for i, w := range m.warnings {
		w.Messages = append([]string(nil), w.Messages...)
		out[i] = w
	}
	return out
}

// State returns the current link state.
func (m *Monitor) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PredictorStatus returns the predictor counters.
func (m *Monitor) PredictorStatus() predictor.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictor.Status()
}

// clockDuration renders d as MM:SS, or HH:MM:SS past the hour.
func clockDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	mins := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%02d:%02d", mins, s)
}
