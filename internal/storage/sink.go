// Package storage persists normalized link events.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/model"
)

// ErrClosed is returned by writes to a closed sink.
var ErrClosed = errors.New("storage: sink closed")

// TimestampLayout is the wall-clock column format (millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000"

// Columns is the persisted row layout shared by every sink.
var Columns = []string{
	"session_id", "timestamp", "unix_time", "measurement_id", "event_type",
	"rssi", "rtt", "latency", "quality", "quality_score", "disconnect_duration",
}

// Sink accepts normalized events.
type Sink interface {
	Write(ctx context.Context, ev model.Event) error
	// Records is the number of rows written since the sink was opened.
	Records() int
	// Destination names where rows go, for operator output.
	Destination() string
	Close() error
}

// Config selects the sinks to open. Empty paths disable a sink.
type Config struct {
	CSVPath    string `mapstructure:"csv_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Open opens every configured sink and fans out to them. With nothing
// configured it returns a Discard sink.
func Open(ctx context.Context, cfg Config, log logging.Logger) (Sink, error) {
	if log == nil {
		log = logging.Noop()
	}
	var sinks []Sink
	if cfg.CSVPath != "" {
		s, err := OpenCSV(cfg.CSVPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
		log.Info(ctx, "csv sink opened", logging.String("path", cfg.CSVPath))
	}
	if cfg.SQLitePath != "" {
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			for _, open := range sinks {
				_ = open.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
		log.Info(ctx, "sqlite sink opened", logging.String("path", cfg.SQLitePath))
	}
	switch len(sinks) {
	case 0:
		return Discard{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMulti(sinks...), nil
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Write(context.Context, model.Event) error { return nil }
func (Discard) Records() int                            { return 0 }
func (Discard) Destination() string                     { return "" }
func (Discard) Close() error                            { return nil }

// Multi writes every event to all of its sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti fans out to sinks in order.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write writes ev to every sink, joining their errors.
func (m *Multi) Write(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Destination(), err))
		}
	}
	return errors.Join(errs...)
}

// Records reports the largest per-sink count.
func (m *Multi) Records() int {
	n := 0
	for _, s := range m.sinks {
		if r := s.Records(); r > n {
			n = r
		}
	}
	return n
}

func (m *Multi) Destination() string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Destination())
	}
	return strings.Join(names, ", ")
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Row renders ev in Columns order. Fields that do not apply are empty.
func Row(ev model.Event) []string {
	row := make([]string, len(Columns))
	row[0] = ev.SessionID
	row[1] = ev.Timestamp.Format(TimestampLayout)
	row[2] = strconv.FormatFloat(unixSeconds(ev), 'f', 3, 64)
	if ev.HasSeq {
		row[3] = strconv.FormatUint(ev.Seq, 10)
	}
	row[4] = string(ev.Type)
	if ev.HasSignal {
		row[5] = strconv.Itoa(ev.SignalDBm)
	}
	if ev.HasRTT {
		row[6] = strconv.Itoa(ev.RTTMs)
		row[7] = strconv.Itoa(ev.LatencyMs)
	}
	if ev.HasQuality {
		row[8] = model.QualityLabel(ev.Quality)
		row[9] = strconv.Itoa(ev.Quality)
	}
	if ev.HasDisconnectDuration {
		row[10] = strconv.FormatFloat(ev.DisconnectDuration.Seconds(), 'f', 3, 64)
	}
	return row
}

func unixSeconds(ev model.Event) float64 {
	return float64(ev.Timestamp.UnixMilli()) / 1000
}
