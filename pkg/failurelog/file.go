package failurelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileSinkConfig configures the authoritative failure log.
type FileSinkConfig struct {
	Path            string
	TimestampLayout string
}

// FileSink appends failure records to a local file. The file is created on the first
// write if absent, and reopened on every write so external rotation is picked up.
// Writes are serialized: one record is one write call under the sink's lock.
type FileSink struct {
	path   string
	layout string
	now    func() time.Time
	logger zerolog.Logger

	mu sync.Mutex
}

// NewFileSink creates a FileSink. It does not touch the filesystem.
func NewFileSink(cfg FileSinkConfig, logger zerolog.Logger) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("failure log file path is required")
	}
	layout := cfg.TimestampLayout
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	return &FileSink{
		path:   cfg.Path,
		layout: layout,
		now:    time.Now,
		logger: logger.With().Str("component", "FileSink").Str("path", cfg.Path).Logger(),
	}, nil
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string {
	return s.path
}

// Record appends rec as one tab-separated line. A zero Timestamp is set to now.
func (s *FileSink) Record(_ context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	line := FormatRecord(rec, s.layout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &SinkError{Sink: "file", Err: fmt.Errorf("create directory %s: %w", dir, err)}
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &SinkError{Sink: "file", Err: fmt.Errorf("open %s: %w", s.path, err)}
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return &SinkError{Sink: "file", Err: fmt.Errorf("append to %s: %w", s.path, err)}
	}
	if err := f.Close(); err != nil {
		return &SinkError{Sink: "file", Err: fmt.Errorf("close %s: %w", s.path, err)}
	}
	s.logger.Debug().Str("reason", rec.Reason).Msg("Failure record appended.")
	return nil
}
