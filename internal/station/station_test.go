package station

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/relay"
)

func TestParseIWLink(t *testing.T) {
	connected := []byte(`Connected to aa:bb:cc:dd:ee:ff (on wlan0)
	SSID: linkwatch
	freq: 2437
	signal: -58 dBm
	tx bitrate: 72.2 MBit/s
`)
	v, ok, err := parseIWLink(connected)
	if err != nil || !ok || v != -58 {
		t.Fatalf("parseIWLink(connected) = %d,%v,%v want -58,true,nil", v, ok, err)
	}

	_, ok, err = parseIWLink([]byte("Not connected.\n"))
	if err != nil || ok {
		t.Fatalf("parseIWLink(not connected) ok=%v err=%v, want false,nil", ok, err)
	}
}

func TestIWSourceUsesInterface(t *testing.T) {
	src := NewIWSource("wlp2s0")
	var gotArgs []string
	src.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("signal: -71 dBm\n"), nil
	}
	v, ok, err := src.Sample(context.Background())
	if err != nil || !ok || v != -71 {
		t.Fatalf("Sample = %d,%v,%v", v, ok, err)
	}
	want := []string{"iw", "dev", "wlp2s0", "link"}
	if len(gotArgs) != len(want) {
		t.Fatalf("args = %v, want %v", gotArgs, want)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Fatalf("args = %v, want %v", gotArgs, want)
		}
	}

	src.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("iw: not found")
	}
	if _, _, err := src.Sample(context.Background()); err == nil {
		t.Fatalf("expected error when iw fails")
	}
}

func TestRandomWalkStaysInBounds(t *testing.T) {
	w := NewRandomWalk(7, -60, -90, -40, 15, 0)
	for i := 0; i < 500; i++ {
		v, ok, err := w.Sample(context.Background())
		if err != nil || !ok {
			t.Fatalf("sample %d: ok=%v err=%v", i, ok, err)
		}
		if v < -90 || v > -40 {
			t.Fatalf("sample %d = %d, outside [-90,-40]", i, v)
		}
	}

	always := NewRandomWalk(7, -60, -90, -40, 1, 1)
	if _, ok, _ := always.Sample(context.Background()); ok {
		t.Fatalf("dropRate 1 should never yield a sample")
	}
}

type scriptedSource struct {
	values []int
	oks    []bool
	i      int
}

func (s *scriptedSource) Sample(context.Context) (int, bool, error) {
	if s.i >= len(s.values) {
		return 0, false, nil
	}
	v, ok := s.values[s.i], s.oks[s.i]
	s.i++
	return v, ok, nil
}

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()
	stationLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen station: %v", err)
	}
	monitorLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen monitor: %v", err)
	}
	srv := relay.New(relay.Config{ReadTimeout: time.Second, WriteTimeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, stationLn, monitorLn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("relay did not shut down")
		}
	})
	return srv, stationLn.Addr().String()
}

func waitLatestSeq(t *testing.T, srv *relay.Server, seq uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if latest, ok := srv.Latest(); ok && latest.Seq == seq {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	latest, _ := srv.Latest()
	t.Fatalf("relay latest seq = %d, want %d", latest.Seq, seq)
}

func TestProberReportsToRelay(t *testing.T) {
	srv, addr := startRelay(t)
	src := &scriptedSource{values: []int{-55, 0, -66}, oks: []bool{true, false, true}}
	p := NewProber(Config{RelayAddr: addr}, src, nil, nil)

	res := p.Once(context.Background())
	if !res.Sent || res.Seq != 1 || res.RTT <= 0 {
		t.Fatalf("first cycle = %+v, want sent seq 1 with rtt", res)
	}
	waitLatestSeq(t, srv, 1)
	if latest, _ := srv.Latest(); latest.SignalDBm != -55 {
		t.Fatalf("latest signal = %d, want -55", latest.SignalDBm)
	}

	if res := p.Once(context.Background()); res.Seq != 0 || res.Sent {
		t.Fatalf("missing sample cycle = %+v, want nothing sent", res)
	}

	res = p.Once(context.Background())
	if res.Seq != 2 || !res.Sent {
		t.Fatalf("third cycle = %+v, want sent seq 2", res)
	}
	waitLatestSeq(t, srv, 2)
}

func TestProberAdvancesSeqWhenRelayDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	src := &scriptedSource{values: []int{-50, -51}, oks: []bool{true, true}}
	p := NewProber(Config{RelayAddr: addr, DialTimeout: 200 * time.Millisecond}, src, nil, nil)
	for want := uint64(1); want <= 2; want++ {
		res := p.Once(context.Background())
		if res.Sent || res.Seq != want {
			t.Fatalf("cycle = %+v, want unsent seq %d", res, want)
		}
	}
}
