// Package protocol implements the line-oriented ASCII wire format
// spoken between station, relay and monitor.
//
//	DATA:<signal>,<rtt_ms>,<seq>\n
//	STATUS:CONNECTED\n | STATUS:DISCONNECTED\n
//	RSSI:<signal>\n   (probe, answered with the 3-byte literal ACK)
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/linkwatch/model"
)

// ErrMalformedMessage is returned for lines with an unknown prefix, the
// wrong field count, or fields that do not parse as integers.
var ErrMalformedMessage = errors.New("malformed message")

const (
	prefixData   = "DATA:"
	prefixStatus = "STATUS:"
	prefixProbe  = "RSSI:"
	ackLiteral   = "ACK"
)

// Message is one decoded protocol message.
type Message interface {
	isMessage()
}

// DataMessage carries one station measurement.
type DataMessage struct {
	SignalDBm int
	RTTMs     uint32
	Seq       uint64
}

// StatusMessage announces a liveness transition observed by the relay.
type StatusMessage struct {
	State model.ConnectionState
}

// ProbeMessage is the station's RTT probe.
type ProbeMessage struct {
	SignalDBm int
}

// AckMessage acknowledges a probe.
type AckMessage struct{}

func (DataMessage) isMessage()   {}
func (StatusMessage) isMessage() {}
func (ProbeMessage) isMessage()  {}
func (AckMessage) isMessage()    {}

// Decode parses a single line. Surrounding whitespace, including a
// trailing \r or \n, is ignored.
func Decode(line []byte) (Message, error) {
	s := string(bytes.TrimSpace(line))
	switch {
	case strings.HasPrefix(s, prefixData):
		return decodeData(s[len(prefixData):])
	case strings.HasPrefix(s, prefixStatus):
		state, ok := model.ParseConnectionState(s[len(prefixStatus):])
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedMessage, s[len(prefixStatus):])
		}
		return StatusMessage{State: state}, nil
	case strings.HasPrefix(s, prefixProbe):
		v, err := strconv.Atoi(s[len(prefixProbe):])
		if err != nil {
			return nil, fmt.Errorf("%w: probe signal: %v", ErrMalformedMessage, err)
		}
		return ProbeMessage{SignalDBm: v}, nil
	case s == ackLiteral:
		return AckMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown prefix in %q", ErrMalformedMessage, truncate(s, 32))
	}
}

func decodeData(body string) (Message, error) {
	fields := strings.Split(body, ",")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: DATA has %d fields, want 3", ErrMalformedMessage, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	signal, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: signal: %v", ErrMalformedMessage, err)
	}
	rtt, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: rtt: %v", ErrMalformedMessage, err)
	}
	seq, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: seq: %v", ErrMalformedMessage, err)
	}
	return DataMessage{SignalDBm: signal, RTTMs: uint32(rtt), Seq: seq}, nil
}

// Encode renders a message in wire form. Every message except ACK is
// newline-terminated.
func Encode(msg Message) []byte {
	switch m := msg.(type) {
	case DataMessage:
		return []byte(fmt.Sprintf("%s%d,%d,%d\n", prefixData, m.SignalDBm, m.RTTMs, m.Seq))
	case StatusMessage:
		return []byte(prefixStatus + m.State.String() + "\n")
	case ProbeMessage:
		return []byte(fmt.Sprintf("%s%d\n", prefixProbe, m.SignalDBm))
	case AckMessage:
		return []byte(ackLiteral)
	default:
		return nil
	}
}

// Ack is the literal probe acknowledgement.
func Ack() []byte { return []byte(ackLiteral) }

// IsAck reports whether b is exactly the probe acknowledgement.
func IsAck(b []byte) bool { return string(bytes.TrimSpace(b)) == ackLiteral }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
