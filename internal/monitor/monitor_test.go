package monitor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/internal/predictor"
	"github.com/signalsfoundry/linkwatch/internal/rules"
	"github.com/signalsfoundry/linkwatch/model"
	"github.com/signalsfoundry/linkwatch/timectrl"
)

var t0 = time.Date(2025, time.May, 4, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) HandleNotification(_ context.Context, n Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recorder) events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, n := range r.notes {
		out = append(out, n.Events...)
	}
	return out
}

func newMonitor(t *testing.T, opts ...Option) (*Monitor, *timectrl.ManualClock) {
	t.Helper()
	clock := timectrl.NewManualClock(t0, 100*time.Millisecond)
	p := predictor.New(rules.DefaultThresholds(), nil, nil)
	return New("", p, clock, nil, opts...), clock
}

func meas(seq uint64, signal, rtt int, at time.Time) model.Measurement {
	return model.NewMeasurement(seq, signal, rtt, at)
}

func TestSequenceGapEmitsOneEventPerMissingNumber(t *testing.T) {
	m, _ := newMonitor(t)
	rec := &recorder{}

	for i, seq := range []uint64{1, 2, 5, 6} {
		m.HandleData(context.Background(), meas(seq, -50, 20, t0.Add(time.Duration(i)*time.Second)))
	}
	m.Drain(context.Background(), rec)

	var lost []uint64
	var order []model.EventType
	for _, ev := range rec.events() {
		order = append(order, ev.Type)
		if ev.Type == model.EventPacketLost {
			lost = append(lost, ev.Seq)
		}
	}
	if len(lost) != 2 || lost[0] != 3 || lost[1] != 4 {
		t.Fatalf("lost seqs = %v, want [3 4]", lost)
	}
	// DATA 1, DATA 2, LOST 3, LOST 4, DATA 5, DATA 6
	want := []model.EventType{model.EventData, model.EventData, model.EventPacketLost, model.EventPacketLost, model.EventData, model.EventData}
	if len(order) != len(want) {
		t.Fatalf("event order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event order = %v, want %v", order, want)
		}
	}
	if snap := m.Snapshot(); snap.LostPackets != 2 || snap.TotalMeasurements != 4 {
		t.Fatalf("snapshot lost=%d measurements=%d", snap.LostPackets, snap.TotalMeasurements)
	}
}

func TestSequenceRestartResetsBaseline(t *testing.T) {
	m, _ := newMonitor(t)
	for _, seq := range []uint64{10, 11, 1, 2} {
		m.HandleData(context.Background(), meas(seq, -50, 20, t0))
	}
	if lost := m.Snapshot().LostPackets; lost != 0 {
		t.Fatalf("lost = %d, want 0 after restart", lost)
	}
}

func TestTransitionsAreDeduplicated(t *testing.T) {
	m, clock := newMonitor(t)
	ctx := context.Background()

	if m.ApplyTransition(ctx, model.Transition{To: model.StateDisconnected, At: clock.Now()}) {
		t.Fatalf("initial DISCONNECTED should be a no-op")
	}
	if !m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: clock.Now()}) {
		t.Fatalf("CONNECTED should apply")
	}
	if m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: clock.Now()}) {
		t.Fatalf("repeated CONNECTED should be ignored")
	}

	clock.Advance(time.Second)
	if !m.ApplyTransition(ctx, model.Transition{To: model.StateDisconnected, At: clock.Now()}) {
		t.Fatalf("DISCONNECTED should apply")
	}
	if m.ApplyTransition(ctx, model.Transition{To: model.StateDisconnected, At: clock.Now()}) {
		t.Fatalf("repeated DISCONNECTED should be ignored")
	}

	clock.Advance(3 * time.Second)
	m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: clock.Now()})

	rec := &recorder{}
	m.Drain(ctx, rec)

	var transitions []model.Event
	for _, ev := range rec.events() {
		if ev.Type == model.EventConnected || ev.Type == model.EventDisconnected {
			transitions = append(transitions, ev)
		}
	}
	if len(transitions) != 3 {
		t.Fatalf("transition rows = %d, want 3", len(transitions))
	}
	last := transitions[2]
	if !last.HasDisconnectDuration || last.DisconnectDuration != 3*time.Second {
		t.Fatalf("reconnect duration = %v (has=%v), want 3s", last.DisconnectDuration, last.HasDisconnectDuration)
	}

	snap := m.Snapshot()
	if snap.Disconnects != 1 || snap.TotalDowntime != 3*time.Second {
		t.Fatalf("disconnects=%d downtime=%v", snap.Disconnects, snap.TotalDowntime)
	}
	if snap.WarningsByLevel["CRITICAL"] != 1 {
		t.Fatalf("system warning not counted: %v", snap.WarningsByLevel)
	}
	if m.State() != model.StateConnected {
		t.Fatalf("state = %v, want CONNECTED", m.State())
	}
}

func TestDisconnectAddsSystemWarningAndAlarmRepeats(t *testing.T) {
	m, clock := newMonitor(t)
	ctx := context.Background()

	m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: clock.Now()})
	m.ApplyTransition(ctx, model.Transition{To: model.StateDisconnected, At: clock.Now()})

	feed := m.Warnings()
	if len(feed) != 1 || feed[0].Source != model.SourceSystem || feed[0].Level != model.LevelCritical {
		t.Fatalf("feed = %+v", feed)
	}

	m.Drain(ctx)
	rec := &recorder{}

	m.checkAlarm(ctx, t0.Add(4*time.Second))
	if n := m.Drain(ctx, rec); n != 0 {
		t.Fatalf("alarm fired early: %d notifications", n)
	}
	m.checkAlarm(ctx, t0.Add(5*time.Second))
	m.checkAlarm(ctx, t0.Add(6*time.Second))
	m.checkAlarm(ctx, t0.Add(10*time.Second))
	m.Drain(ctx, rec)

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != KindWarning || kinds[1] != KindWarning {
		t.Fatalf("alarm notifications = %v, want two warnings", kinds)
	}
	if got := len(m.Warnings()); got != 1 {
		t.Fatalf("alarms must not enter the feed; feed len = %d", got)
	}

	m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: t0.Add(11 * time.Second)})
	m.Drain(ctx)
	m.checkAlarm(ctx, t0.Add(20*time.Second))
	if n := m.Drain(ctx, rec); n != 0 {
		t.Fatalf("alarm fired while connected")
	}
}

func TestWarningFeedIsNewestFirstAndBounded(t *testing.T) {
	m, _ := newMonitor(t, WithWarningFeedSize(3))
	ctx := context.Background()

	// Every sample below -85 dBm is CRITICAL.
	for i := 1; i <= 5; i++ {
		m.HandleData(ctx, meas(uint64(i), -90, 20, t0.Add(time.Duration(i)*time.Second)))
	}
	feed := m.Warnings()
	if len(feed) != 3 {
		t.Fatalf("feed len = %d, want 3", len(feed))
	}
	if !feed[0].At.Equal(t0.Add(5*time.Second)) || !feed[2].At.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("feed order = %v, %v", feed[0].At, feed[2].At)
	}
	if got := m.Snapshot().WarningsByLevel["CRITICAL"]; got != 5 {
		t.Fatalf("critical count = %d, want 5", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m, _ := newMonitor(t, WithHistorySize(4))
	for i := 1; i <= 10; i++ {
		m.HandleData(context.Background(), meas(uint64(i), -50-i, 10, t0.Add(time.Duration(i)*time.Second)))
	}
	h := m.History()
	if len(h) != 4 || h[0].SignalDBm != -57 || h[3].SignalDBm != -60 {
		t.Fatalf("history = %+v", h)
	}
}

func TestCurrentDataIsJSONReady(t *testing.T) {
	m, clock := newMonitor(t)
	ctx := context.Background()
	m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: clock.Now()})
	m.HandleData(ctx, meas(1, -62, 40, clock.Now()))
	clock.Advance(65 * time.Second)

	v := m.CurrentData()
	if v.Current == nil || v.Current.Quality != "Fair" || v.Current.LatencyMs != 20 {
		t.Fatalf("current = %+v", v.Current)
	}
	if v.Duration != "01:05" || v.ConnectionStatus != "CONNECTED" || v.SessionID != "20250504_100000" {
		t.Fatalf("view header = %q %q %q", v.Duration, v.ConnectionStatus, v.SessionID)
	}
	if v.Predictor.Mode != predictor.ModeRules {
		t.Fatalf("predictor mode = %q", v.Predictor.Mode)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal view: %v", err)
	}
	for _, want := range []string{`"connection_status":"CONNECTED"`, `"level":"CAUTION"`, `"rssi":-62`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("view JSON missing %s: %s", want, raw)
		}
	}
}

func TestDispatchFlushesOnCancel(t *testing.T) {
	m, _ := newMonitor(t)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Dispatch(ctx, rec) }()

	m.HandleData(context.Background(), meas(1, -50, 10, t0))
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Dispatch returned %v, want context.Canceled", err)
	}
	m.Drain(context.Background(), rec)

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != KindMeasurement || kinds[1] != KindStats {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestConcurrentProducersAndReaders(t *testing.T) {
	m, clock := newMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	dispatched := make(chan error, 1)
	go func() { dispatched <- m.Dispatch(ctx, rec) }()

	const samples = 200
	const toggles = 100

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		for seq := uint64(1); seq <= samples; seq++ {
			m.HandleData(ctx, meas(seq, -50-int(seq%30), 10+int(seq%40), clock.Now()))
		}
	}()
	go func() {
		defer producers.Done()
		for i := 0; i < toggles; i++ {
			to := model.StateConnected
			if i%2 == 1 {
				to = model.StateDisconnected
			}
			m.ApplyTransition(ctx, model.Transition{To: to, At: clock.Now()})
		}
	}()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 3; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := json.Marshal(m.CurrentData()); err != nil {
					t.Errorf("marshal current data: %v", err)
					return
				}
				_ = m.Snapshot()
				_ = m.History()
				_ = m.Warnings()
				_ = m.State()
			}
		}()
	}

	producers.Wait()
	close(stop)
	readers.Wait()
	cancel()
	<-dispatched
	m.Drain(context.Background(), rec)

	snap := m.Snapshot()
	if snap.TotalMeasurements != samples {
		t.Fatalf("measurements = %d, want %d", snap.TotalMeasurements, samples)
	}
	if snap.LostPackets != 0 {
		t.Fatalf("lost packets = %d, want 0", snap.LostPackets)
	}
	if snap.Disconnects != toggles/2 {
		t.Fatalf("disconnects = %d, want %d", snap.Disconnects, toggles/2)
	}
	if m.State() != model.StateDisconnected {
		t.Fatalf("state = %v, want DISCONNECTED", m.State())
	}

	var data int
	for _, ev := range rec.events() {
		if ev.Type == model.EventData {
			data++
		}
	}
	if data != samples {
		t.Fatalf("dispatched DATA events = %d, want %d", data, samples)
	}
}

type memWriter struct {
	rows []model.Event
}

func (w *memWriter) Write(_ context.Context, ev model.Event) error {
	w.rows = append(w.rows, ev)
	return nil
}

func TestPersistToWritesEvents(t *testing.T) {
	m, _ := newMonitor(t)
	w := &memWriter{}
	m.HandleData(context.Background(), meas(1, -50, 10, t0))
	m.HandleData(context.Background(), meas(3, -50, 10, t0))
	m.Drain(context.Background(), PersistTo(w, nil))

	if len(w.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(w.rows))
	}
	for _, r := range w.rows {
		if r.SessionID != m.SessionID() {
			t.Fatalf("row session = %q", r.SessionID)
		}
	}
}

func TestMetricsRecorderIsFed(t *testing.T) {
	c, err := observability.NewLinkCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewLinkCollector: %v", err)
	}
	m, clock := newMonitor(t, WithMetricsRecorder(c))
	ctx := context.Background()

	m.HandleData(ctx, meas(1, -50, 10, clock.Now()))
	m.HandleData(ctx, meas(4, -50, 10, clock.Now()))
	m.ApplyTransition(ctx, model.Transition{To: model.StateConnected, At: clock.Now()})
	m.ApplyTransition(ctx, model.Transition{To: model.StateDisconnected, At: clock.Now()})

	if got := testutil.ToFloat64(c.PacketsLost); got != 2 {
		t.Fatalf("packets lost = %v", got)
	}
	if got := testutil.ToFloat64(c.Measurements); got != 2 {
		t.Fatalf("measurements = %v", got)
	}
	if got := testutil.ToFloat64(c.Warnings.WithLabelValues("CRITICAL", "system")); got != 1 {
		t.Fatalf("system warnings = %v", got)
	}
}

func TestClockDuration(t *testing.T) {
	if got := clockDuration(65 * time.Second); got != "01:05" {
		t.Fatalf("clockDuration = %q", got)
	}
	if got := clockDuration(time.Hour + 2*time.Second); got != "01:00:02" {
		t.Fatalf("clockDuration = %q", got)
	}
}
