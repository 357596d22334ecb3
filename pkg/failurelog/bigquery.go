package failurelog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
)

// BigQuerySinkConfig names the mirror table.
type BigQuerySinkConfig struct {
	DatasetID string
	TableID   string
}

// RowInserter is satisfied by *bigquery.Inserter.
type RowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// failureRow is the BigQuery shape of a Record.
type failureRow struct {
	Timestamp   time.Time `bigquery:"timestamp"`
	Reason      string    `bigquery:"reason"`
	Content     string    `bigquery:"content"`
	Destination string    `bigquery:"destination"`
}

// BigQuerySink streams failure records into a table for querying.
type BigQuerySink struct {
	inserter RowInserter
	logger   zerolog.Logger
}

// NewBigQuerySink connects to the configured table, creating it with a schema
// inferred from the row type if it does not exist yet.
func NewBigQuerySink(ctx context.Context, client *bigquery.Client, cfg BigQuerySinkConfig, logger zerolog.Logger) (*BigQuerySink, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	logger = logger.With().Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery failure table not found. Attempting to create with inferred schema.")
		schema, inferErr := bigquery.InferSchema(failureRow{})
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer failure row schema: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("BigQuery failure table created successfully.")
	}
	return NewBigQuerySinkWithInserter(tableRef.Inserter(), logger)
}

// NewBigQuerySinkWithInserter creates a sink around an existing inserter.
func NewBigQuerySinkWithInserter(inserter RowInserter, logger zerolog.Logger) (*BigQuerySink, error) {
	if inserter == nil {
		return nil, errors.New("bigquery inserter cannot be nil")
	}
	return &BigQuerySink{
		inserter: inserter,
		logger:   logger.With().Str("component", "BigQuerySink").Logger(),
	}, nil
}

// Record inserts rec as one row.
func (s *BigQuerySink) Record(ctx context.Context, rec Record) error {
	row := &failureRow{
		Timestamp:   rec.Timestamp,
		Reason:      rec.Reason,
		Content:     rec.Content,
		Destination: rec.Destination,
	}
	if err := s.inserter.Put(ctx, row); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				s.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("Row insertion failed: %v", rowErr.Errors)
			}
		}
		return &SinkError{Sink: "bigquery", Err: err}
	}
	return nil
}
