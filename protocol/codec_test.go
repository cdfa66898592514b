package protocol

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/linkwatch/model"
)

func TestDataMessageRoundTrip(t *testing.T) {
	in := DataMessage{SignalDBm: -60, RTTMs: 120, Seq: 7}
	wire := Encode(in)
	if string(wire) != "DATA:-60,120,7\n" {
		t.Fatalf("Encode = %q, want %q", wire, "DATA:-60,120,7\n")
	}
	out, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("Decode = %+v, want %+v", out, in)
	}
}

func TestStatusAndAck(t *testing.T) {
	for _, state := range []model.ConnectionState{model.StateConnected, model.StateDisconnected} {
		msg, err := Decode(Encode(StatusMessage{State: state}))
		if err != nil {
			t.Fatalf("Decode status %v: %v", state, err)
		}
		if got := msg.(StatusMessage).State; got != state {
			t.Fatalf("state = %v, want %v", got, state)
		}
	}

	ack := Encode(AckMessage{})
	if string(ack) != "ACK" || len(ack) != 3 {
		t.Fatalf("ACK encoding = %q, want 3-byte ACK", ack)
	}
	if !IsAck(ack) {
		t.Fatalf("IsAck(%q) = false", ack)
	}

	msg, err := Decode([]byte("RSSI:-72\r\n"))
	if err != nil {
		t.Fatalf("Decode probe: %v", err)
	}
	if p, ok := msg.(ProbeMessage); !ok || p.SignalDBm != -72 {
		t.Fatalf("probe = %#v", msg)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"DATA:abc",
		"DATA:-60,120",
		"DATA:-60,120,7,9",
		"DATA:-60,-5,7",
		"DATA:x,1,2",
		"STATUS:MAYBE",
		"HELLO:1",
		"",
	}
	for _, line := range cases {
		_, err := Decode([]byte(line))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("Decode(%q) err = %v, want ErrMalformedMessage", line, err)
		}
	}
}

func TestLineSplitterKeepsPartialFragment(t *testing.T) {
	var s LineSplitter

	lines := s.Feed([]byte("DATA:-60,10,1\nDATA:-61,"))
	if len(lines) != 1 || string(lines[0]) != "DATA:-60,10,1" {
		t.Fatalf("first feed lines = %q", lines)
	}
	if string(s.Pending()) != "DATA:-61," {
		t.Fatalf("pending = %q", s.Pending())
	}

	lines = s.Feed([]byte("11,2\n\nSTATUS:CONNECTED\n"))
	if len(lines) != 2 {
		t.Fatalf("second feed got %d lines, want 2: %q", len(lines), lines)
	}
	if string(lines[0]) != "DATA:-61,11,2" || string(lines[1]) != "STATUS:CONNECTED" {
		t.Fatalf("second feed lines = %q", lines)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("pending = %q, want empty", s.Pending())
	}
}

func TestLineSplitterDropsOversizedFragment(t *testing.T) {
	var s LineSplitter
	big := make([]byte, MaxLineLength+1)
	for i := range big {
		big[i] = 'x'
	}
	if lines := s.Feed(big); len(lines) != 0 {
		t.Fatalf("expected no lines, got %d", len(lines))
	}
	if s.Dropped() != len(big) {
		t.Fatalf("Dropped = %d, want %d", s.Dropped(), len(big))
	}
	lines := s.Feed([]byte("ACK\n"))
	if len(lines) != 1 || string(lines[0]) != "ACK" {
		t.Fatalf("lines after drop = %q", lines)
	}
}
