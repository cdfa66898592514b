package session

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/linkwatch/model"
)

// PredictorStatus is the subset of predictor state the summary prints.
type PredictorStatus struct {
	Mode             string
	TotalPredictions int
	WarningsGiven    int
}

// SinkStatus describes where events were persisted.
type SinkStatus struct {
	Records     int
	Destination string
}

// WriteSummary prints the end-of-session report.
func WriteSummary(w io.Writer, s Snapshot, pred PredictorStatus, sink SinkStatus) error {
	rule := strings.Repeat("=", 70)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "\n%s\n%sSESSION STATISTICS\n%s\n", rule, strings.Repeat(" ", 26), rule)

	fmt.Fprintf(tw, "\n--- GENERAL ---\n")
	fmt.Fprintf(tw, "  Session id:\t%s\n", s.SessionID)
	fmt.Fprintf(tw, "  Duration:\t%s\n", FormatDuration(s.Duration))
	fmt.Fprintf(tw, "  Measurements:\t%d\n", s.TotalMeasurements)
	if s.Duration > 0 {
		fmt.Fprintf(tw, "  Rate:\t%.1f per minute\n", s.MeasurementRate())
	}

	if s.Signal.Count > 0 {
		writeStats(tw, "SIGNAL (dBm)", "dBm", s.Signal)
		fmt.Fprintf(tw, "  Distribution:\n")
		for _, r := range s.SignalRanges {
			pct := percent(r.Count, s.Signal.Count)
			fmt.Fprintf(tw, "    %s\t%4d (%5.1f%%) %s\n", r.Label, r.Count, pct, bar(pct))
		}
	}
	if s.RTT.Count > 0 {
		writeStats(tw, "RTT (ms)", "ms", s.RTT)
	}
	if s.Latency.Count > 0 {
		writeStats(tw, "LATENCY (ms)", "ms", s.Latency)
	}

	fmt.Fprintf(tw, "\n--- SIGNAL QUALITY ---\n")
	var totalQ int
	for _, c := range s.QualityCounts {
		totalQ += c
	}
	for _, label := range model.QualityLabels {
		c := s.QualityCounts[label]
		pct := percent(c, totalQ)
		fmt.Fprintf(tw, "  %s\t%4d (%5.1f%%) %s\n", label, c, pct, bar(pct))
	}

	fmt.Fprintf(tw, "\n--- CONNECTION PROBLEMS ---\n")
	fmt.Fprintf(tw, "  Lost packets:\t%d\n", s.LostPackets)
	if s.TotalMeasurements > 0 {
		fmt.Fprintf(tw, "  Packet loss rate:\t%.2f%%\n", s.PacketLossRate)
	}
	fmt.Fprintf(tw, "  Disconnects:\t%d\n", s.Disconnects)
	if len(s.DisconnectDurations) > 0 {
		fmt.Fprintf(tw, "  Avg outage:\t%.1f s\n", s.AvgDisconnect.Seconds())
		fmt.Fprintf(tw, "  Total outage:\t%.1f s\n", s.TotalDowntime.Seconds())
	}

	if s.TotalWarnings > 0 {
		fmt.Fprintf(tw, "\n--- WARNINGS ---\n")
		for _, l := range model.AllLevels() {
			if l == model.LevelNone {
				continue
			}
			fmt.Fprintf(tw, "  %s:\t%d\n", l, s.WarningsByLevel[l.String()])
		}
		fmt.Fprintf(tw, "  Total:\t%d\n", s.TotalWarnings)
	}

	fmt.Fprintf(tw, "\n--- PREDICTION ---\n")
	fmt.Fprintf(tw, "  Mode:\t%s\n", pred.Mode)
	fmt.Fprintf(tw, "  Predictions:\t%d\n", pred.TotalPredictions)
	fmt.Fprintf(tw, "  Warnings given:\t%d\n", pred.WarningsGiven)

	if sink.Destination != "" {
		fmt.Fprintf(tw, "\n--- STORAGE ---\n")
		fmt.Fprintf(tw, "  Records written:\t%d\n", sink.Records)
		fmt.Fprintf(tw, "  Destination:\t%s\n", sink.Destination)
	}

	fmt.Fprintf(tw, "\n%s\n", rule)
	return tw.Flush()
}

func writeStats(w io.Writer, title, unit string, st Stats) {
	fmt.Fprintf(w, "\n--- %s ---\n", title)
	fmt.Fprintf(w, "  Min:\t%g %s\n", st.Min, unit)
	fmt.Fprintf(w, "  Max:\t%g %s\n", st.Max, unit)
	fmt.Fprintf(w, "  Mean:\t%.1f %s\n", st.Mean, unit)
	fmt.Fprintf(w, "  Median:\t%.1f %s\n", st.Median, unit)
	fmt.Fprintf(w, "  Std dev:\t%.2f %s\n", st.Std, unit)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func bar(pct float64) string {
	return strings.Repeat("#", int(pct/5))
}

// FormatDuration renders d as "1h 2m 3s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
