package model

import "time"

// EventType classifies a persisted link event.
type EventType string

const (
	EventData         EventType = "DATA"
	EventConnected    EventType = "CONNECTED"
	EventDisconnected EventType = "DISCONNECTED"
	EventPacketLost   EventType = "PACKET_LOST"
)

// Event is the normalized row handed to persistence sinks. Fields that
// do not apply to the event type are left zero with their Has flag
// cleared.
type Event struct {
	SessionID string
	Timestamp time.Time
	Type      EventType

	Seq    uint64
	HasSeq bool

	SignalDBm int
	HasSignal bool
	RTTMs     int
	LatencyMs int
	HasRTT    bool

	Quality    int
	HasQuality bool

	DisconnectDuration    time.Duration
	HasDisconnectDuration bool
}

// DataEvent builds the DATA row for a measurement.
func DataEvent(sessionID string, m Measurement) Event {
	return Event{
		SessionID:  sessionID,
		Timestamp:  m.At,
		Type:       EventData,
		Seq:        m.Seq,
		HasSeq:     true,
		SignalDBm:  m.SignalDBm,
		HasSignal:  true,
		RTTMs:      m.RTTMs,
		LatencyMs:  m.LatencyMs(),
		HasRTT:     m.HasRTT,
		Quality:    m.Quality,
		HasQuality: m.HasQuality,
	}
}

// PacketLostEvent builds the row for one missing sequence number.
func PacketLostEvent(sessionID string, seq uint64, at time.Time) Event {
	return Event{SessionID: sessionID, Timestamp: at, Type: EventPacketLost, Seq: seq, HasSeq: true}
}

// TransitionEvent builds the CONNECTED/DISCONNECTED row for a transition.
func TransitionEvent(sessionID string, tr Transition) Event {
	ev := Event{SessionID: sessionID, Timestamp: tr.At, Type: EventDisconnected}
	if tr.To == StateConnected {
		ev.Type = EventConnected
		ev.DisconnectDuration = tr.PreviousDuration
		ev.HasDisconnectDuration = tr.HasDuration
	}
	return ev
}
