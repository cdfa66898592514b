package model

import (
	"fmt"
	"time"
)

// ConnectionState is the liveness state of the monitored link.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // Default: nothing heard yet
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ParseConnectionState parses the wire spelling of a state.
func ParseConnectionState(s string) (ConnectionState, bool) {
	switch s {
	case "CONNECTED":
		return StateConnected, true
	case "DISCONNECTED":
		return StateDisconnected, true
	}
	return StateDisconnected, false
}

// Transition records a single liveness state change.
type Transition struct {
	From ConnectionState
	To   ConnectionState
	At   time.Time

	// PreviousDuration is how long the link was down before a
	// DISCONNECTED -> CONNECTED transition. Only set when HasDuration.
	PreviousDuration time.Duration
	HasDuration      bool
}
