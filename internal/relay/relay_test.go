package relay

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/protocol"
)

type harness struct {
	srv         *Server
	stationAddr string
	monitorAddr string
	collector   *observability.LinkCollector
	done        chan error
}

func startRelay(t *testing.T, cfg Config) *harness {
	t.Helper()
	stationLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen station: %v", err)
	}
	monitorLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen monitor: %v", err)
	}
	collector, err := observability.NewLinkCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}

	srv := New(cfg, nil, WithMetricsRecorder(collector))
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		srv:         srv,
		stationAddr: stationLn.Addr().String(),
		monitorAddr: monitorLn.Addr().String(),
		collector:   collector,
		done:        make(chan error, 1),
	}
	go func() { h.done <- srv.Serve(ctx, stationLn, monitorLn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("relay did not shut down")
		}
	})
	return h
}

func fastConfig() Config {
	return Config{
		LivenessTimeout: 300 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
	}
}

func sendStation(t *testing.T, addr, msg string) []byte {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial station: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatalf("write station: %v", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	reply, _ := io.ReadAll(conn)
	return reply
}

func readLine(t *testing.T, r *bufio.Reader, conn net.Conn, within time.Duration) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(within))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read monitor line: %v", err)
	}
	return strings.TrimSpace(line)
}

func TestProbeIsAcked(t *testing.T) {
	h := startRelay(t, fastConfig())

	reply := sendStation(t, h.stationAddr, "RSSI:-61")
	if !protocol.IsAck(reply) || len(reply) != 3 {
		t.Fatalf("probe reply = %q, want ACK", reply)
	}
	if got := testutil.ToFloat64(h.collector.StationReports.WithLabelValues("probe")); got != 1 {
		t.Fatalf("probe reports = %v", got)
	}
}

func TestDataUpdatesLatestAndMalformedIsDropped(t *testing.T) {
	h := startRelay(t, fastConfig())

	sendStation(t, h.stationAddr, "DATA:-70,35,9\n")
	sendStation(t, h.stationAddr, "DATA:-70,oops,10\n")

	latest, ok := h.srv.Latest()
	if !ok || latest.Seq != 9 || latest.SignalDBm != -70 || latest.RTTMs != 35 {
		t.Fatalf("latest = %+v ok=%v", latest, ok)
	}
	if h.srv.LastReport().IsZero() {
		t.Fatalf("freshness not recorded")
	}
	if got := testutil.ToFloat64(h.collector.MalformedMessages.WithLabelValues("relay")); got != 1 {
		t.Fatalf("malformed = %v, want 1", got)
	}
}

func TestMonitorReceivesStatusAndData(t *testing.T) {
	h := startRelay(t, fastConfig())

	conn, err := net.Dial("tcp", h.monitorAddr)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendStation(t, h.stationAddr, "DATA:-55,12,1")
	if got := readLine(t, r, conn, 2*time.Second); got != "STATUS:CONNECTED" {
		t.Fatalf("first line = %q", got)
	}
	if got := readLine(t, r, conn, 2*time.Second); got != "DATA:-55,12,1" {
		t.Fatalf("second line = %q", got)
	}

	sendStation(t, h.stationAddr, "DATA:-56,14,2\n")
	if got := readLine(t, r, conn, 2*time.Second); got != "DATA:-56,14,2" {
		t.Fatalf("third line = %q", got)
	}

	// Silence past the liveness timeout produces exactly one DISCONNECTED.
	if got := readLine(t, r, conn, 2*time.Second); got != "STATUS:DISCONNECTED" {
		t.Fatalf("fourth line = %q", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if extra, err := r.ReadString('\n'); err == nil {
		t.Fatalf("unexpected line while disconnected: %q", extra)
	}

	sendStation(t, h.stationAddr, "DATA:-57,15,3\n")
	if got := readLine(t, r, conn, 2*time.Second); got != "STATUS:CONNECTED" {
		t.Fatalf("reconnect line = %q", got)
	}
	if got := readLine(t, r, conn, 2*time.Second); got != "DATA:-57,15,3" {
		t.Fatalf("post-reconnect data = %q", got)
	}
}

func TestStaleReportIsNotReplayedToNewMonitor(t *testing.T) {
	h := startRelay(t, fastConfig())

	sendStation(t, h.stationAddr, "DATA:-60,20,5\n")
	// The station goes quiet for longer than the liveness timeout before
	// any monitor attaches.
	time.Sleep(2 * fastConfig().LivenessTimeout)

	conn, err := net.Dial("tcp", h.monitorAddr)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	if line, err := r.ReadString('\n'); err == nil {
		t.Fatalf("stale link produced %q", strings.TrimSpace(line))
	}

	sendStation(t, h.stationAddr, "DATA:-61,22,6\n")
	if got := readLine(t, r, conn, 2*time.Second); got != "STATUS:CONNECTED" {
		t.Fatalf("first line after resume = %q", got)
	}
	if got := readLine(t, r, conn, 2*time.Second); got != "DATA:-61,22,6" {
		t.Fatalf("data after resume = %q", got)
	}
}

func TestMonitorCountTracksSessions(t *testing.T) {
	h := startRelay(t, fastConfig())

	conn, err := net.Dial("tcp", h.monitorAddr)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	waitFor(t, func() bool { return h.srv.Monitors() == 1 })
	if got := testutil.ToFloat64(h.collector.MonitorClients); got != 1 {
		t.Fatalf("monitor gauge = %v", got)
	}

	_ = conn.Close()
	waitFor(t, func() bool { return h.srv.Monitors() == 0 })
}

func TestReadMessage(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"RSSI:-60", "RSSI:-60"},
		{"DATA:1,2,3\nDATA:4,5,6\n", "DATA:1,2,3"},
		{strings.Repeat("x", 100), strings.Repeat("x", stationReadLimit)},
	}
	for _, tc := range cases {
		got, err := readMessage(strings.NewReader(tc.in))
		if err != nil {
			t.Fatalf("readMessage(%q): %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Fatalf("readMessage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within 2s")
}
