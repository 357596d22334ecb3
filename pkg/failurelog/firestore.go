package failurelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
)

// FirestoreSinkConfig names the mirror collection.
type FirestoreSinkConfig struct {
	CollectionName string
}

// DocumentAdder is satisfied by *firestore.CollectionRef.
type DocumentAdder interface {
	Add(ctx context.Context, data interface{}) (*firestore.DocumentRef, *firestore.WriteResult, error)
}

type failureDocument struct {
	Timestamp   time.Time `firestore:"timestamp"`
	Reason      string    `firestore:"reason"`
	Content     string    `firestore:"content"`
	Destination string    `firestore:"destination"`
}

// FirestoreSink adds one document per failure record. Suited to low-volume
// deployments that already run Firestore; BigQuery is the better mirror at scale.
type FirestoreSink struct {
	collection DocumentAdder
	logger     zerolog.Logger
}

// NewFirestoreSink creates a sink writing to cfg.CollectionName.
func NewFirestoreSink(client *firestore.Client, cfg FirestoreSinkConfig, logger zerolog.Logger) (*FirestoreSink, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("firestore collection name is required")
	}
	return NewFirestoreSinkWithCollection(client.Collection(cfg.CollectionName), logger)
}

// NewFirestoreSinkWithCollection creates a sink around an existing collection.
func NewFirestoreSinkWithCollection(collection DocumentAdder, logger zerolog.Logger) (*FirestoreSink, error) {
	if collection == nil {
		return nil, errors.New("firestore collection cannot be nil")
	}
	return &FirestoreSink{
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreSink").Logger(),
	}, nil
}

// Record adds rec as a new document with a generated ID.
func (s *FirestoreSink) Record(ctx context.Context, rec Record) error {
	doc := failureDocument{
		Timestamp:   rec.Timestamp,
		Reason:      rec.Reason,
		Content:     rec.Content,
		Destination: rec.Destination,
	}
	ref, _, err := s.collection.Add(ctx, doc)
	if err != nil {
		return &SinkError{Sink: "firestore", Err: fmt.Errorf("add failure document: %w", err)}
	}
	if ref != nil {
		s.logger.Debug().Str("doc_id", ref.ID).Msg("Failure record mirrored to Firestore.")
	}
	return nil
}
