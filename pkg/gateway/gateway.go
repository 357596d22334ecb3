package gateway

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-cptgateway/pkg/types"
)

// ====================================================================================
// This file defines the bus capability the dispatch layer consumes. Connection
// management, redelivery and transport guarantees belong to the implementations.
// ====================================================================================

// ErrClosed is returned by Subscribe once the gateway has been closed.
var ErrClosed = errors.New("gateway is closed")

// Handler processes a single delivered message. A nil return acknowledges the
// message with the broker. A non-nil return asks the broker for redelivery where
// the implementation supports it; the subscription itself keeps running.
type Handler func(ctx context.Context, msg types.BusMessage) error

// Subscriber is the inbound half of the bus.
type Subscriber interface {
	// Subscribe registers handler for topic. It does not block: deliveries run on
	// goroutines owned by the implementation until ctx is done or Close is called.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	// Close stops all subscriptions and waits for in-flight handler calls to return.
	Close() error
}
