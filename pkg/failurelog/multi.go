package failurelog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// MultiSink writes to a primary sink and then to any number of mirrors. Only the
// primary's result is returned; mirror failures are logged.
type MultiSink struct {
	primary Sink
	mirrors []namedSink
	logger  zerolog.Logger
}

type namedSink struct {
	name string
	sink Sink
}

// NewMultiSink creates a fan-out sink around primary.
func NewMultiSink(primary Sink, logger zerolog.Logger) (*MultiSink, error) {
	if primary == nil {
		return nil, errors.New("primary failure sink cannot be nil")
	}
	return &MultiSink{
		primary: primary,
		logger:  logger.With().Str("component", "MultiSink").Logger(),
	}, nil
}

// AddMirror registers an additional best-effort sink.
func (m *MultiSink) AddMirror(name string, sink Sink) {
	if sink == nil {
		return
	}
	m.mirrors = append(m.mirrors, namedSink{name: name, sink: sink})
}

// Mirrors returns the number of registered mirrors.
func (m *MultiSink) Mirrors() int {
	return len(m.mirrors)
}

// Record writes rec to the primary, then to every mirror.
func (m *MultiSink) Record(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	err := m.primary.Record(ctx, rec)
	for _, mirror := range m.mirrors {
		if mErr := mirror.sink.Record(ctx, rec); mErr != nil {
			m.logger.Error().Err(mErr).Str("mirror", mirror.name).Msg("Failed to mirror failure record.")
		}
	}
	if err != nil {
		var sinkErr *SinkError
		if errors.As(err, &sinkErr) {
			return err
		}
		return &SinkError{Sink: "primary", Err: err}
	}
	return nil
}
