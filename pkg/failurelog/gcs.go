package failurelog

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GCSSinkConfig configures the object-storage mirror.
type GCSSinkConfig struct {
	BucketName      string
	ObjectPrefix    string
	TimestampLayout string
}

// GCSSink mirrors each failure record into its own object, named
// <prefix>/<yyyy>/<mm>/<dd>/<uuid>.tsv, holding the same line the file sink writes.
type GCSSink struct {
	client GCSClient
	cfg    GCSSinkConfig
	logger zerolog.Logger
}

// NewGCSSink creates a GCSSink.
func NewGCSSink(client GCSClient, cfg GCSSinkConfig, logger zerolog.Logger) (*GCSSink, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "GCSSink").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Record uploads rec as a single object.
func (s *GCSSink) Record(ctx context.Context, rec Record) error {
	objectName := path.Join(s.cfg.ObjectPrefix, rec.Timestamp.UTC().Format("2006/01/02"), uuid.NewString()+".tsv")
	w := s.client.Bucket(s.cfg.BucketName).Object(objectName).NewWriter(ctx)
	if _, err := w.Write([]byte(FormatRecord(rec, s.cfg.TimestampLayout))); err != nil {
		_ = w.Close()
		return &SinkError{Sink: "gcs", Err: fmt.Errorf("write object %s: %w", objectName, err)}
	}
	// The upload is only committed by Close.
	if err := w.Close(); err != nil {
		return &SinkError{Sink: "gcs", Err: fmt.Errorf("close object %s: %w", objectName, err)}
	}
	s.logger.Debug().Str("object", objectName).Msg("Failure record mirrored to GCS.")
	return nil
}
