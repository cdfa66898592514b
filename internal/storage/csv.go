package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/signalsfoundry/linkwatch/model"
)

// CSVSink appends rows to a CSV file, writing the header when the file is
// new. Each row is flushed as it is written.
type CSVSink struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *csv.Writer
	records int
	closed  bool
}

// OpenCSV opens (or creates) path for appending.
func OpenCSV(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat csv: %w", err)
	}

	s := &CSVSink{path: path, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.writeLocked(Columns); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) Write(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.writeLocked(Row(ev)); err != nil {
		return err
	}
	s.records++
	return nil
}

func (s *CSVSink) writeLocked(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (s *CSVSink) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

func (s *CSVSink) Destination() string { return s.path }

// Close flushes and closes the file. Closing twice is a no-op.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}
