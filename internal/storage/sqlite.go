package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/linkwatch/model"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS link_events(
	session_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	unix_time REAL NOT NULL,
	measurement_id INTEGER,
	event_type TEXT NOT NULL,
	rssi INTEGER,
	rtt INTEGER,
	latency INTEGER,
	quality TEXT,
	quality_score INTEGER,
	disconnect_duration REAL
);
CREATE INDEX IF NOT EXISTS idx_link_events_session ON link_events(session_id, event_type);`

const sqliteInsert = `INSERT INTO link_events(session_id, timestamp, unix_time, measurement_id, event_type,
	rssi, rtt, latency, quality, quality_score, disconnect_duration) VALUES(?,?,?,?,?,?,?,?,?,?,?)`

// SQLiteSink stores rows in a SQLite table with the CSV column layout.
type SQLiteSink struct {
	path string
	db   *sql.DB

	mu      sync.Mutex
	records int
	closed  bool
}

// OpenSQLite opens path (creating it and its schema when missing).
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteSink{path: path, db: db}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var (
		seq, rssi, rtt, latency, score sql.NullInt64
		quality                        sql.NullString
		downtime                       sql.NullFloat64
	)
	if ev.HasSeq {
		seq = sql.NullInt64{Int64: int64(ev.Seq), Valid: true}
	}
	if ev.HasSignal {
		rssi = sql.NullInt64{Int64: int64(ev.SignalDBm), Valid: true}
	}
	if ev.HasRTT {
		rtt = sql.NullInt64{Int64: int64(ev.RTTMs), Valid: true}
		latency = sql.NullInt64{Int64: int64(ev.LatencyMs), Valid: true}
	}
	if ev.HasQuality {
		quality = sql.NullString{String: model.QualityLabel(ev.Quality), Valid: true}
		score = sql.NullInt64{Int64: int64(ev.Quality), Valid: true}
	}
	if ev.HasDisconnectDuration {
		downtime = sql.NullFloat64{Float64: ev.DisconnectDuration.Seconds(), Valid: true}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, sqliteInsert,
		ev.SessionID, ev.Timestamp.Format(TimestampLayout), unixSeconds(ev), seq, string(ev.Type),
		rssi, rtt, latency, quality, score, downtime)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	s.records++
	return nil
}

// CountByType returns the number of stored rows per event type for a
// session.
func (s *SQLiteSink) CountByType(ctx context.Context, sessionID string) (map[model.EventType]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM link_events WHERE session_id = ? GROUP BY event_type`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[model.EventType]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		out[model.EventType(typ)] = n
	}
	return out, rows.Err()
}

// DisconnectDurations returns the outage lengths recorded for a session,
// oldest first.
func (s *SQLiteSink) DisconnectDurations(ctx context.Context, sessionID string) ([]time.Duration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT disconnect_duration FROM link_events
		 WHERE session_id = ? AND event_type = ? AND disconnect_duration IS NOT NULL
		 ORDER BY unix_time`, sessionID, string(model.EventConnected))
	if err != nil {
		return nil, fmt.Errorf("query durations: %w", err)
	}
	defer rows.Close()

	var out []time.Duration
	for rows.Next() {
		var secs float64
		if err := rows.Scan(&secs); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		out = append(out, time.Duration(secs*float64(time.Second)))
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

func (s *SQLiteSink) Destination() string { return s.path }

// Close closes the database. Closing twice is a no-op.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
