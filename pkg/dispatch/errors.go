package dispatch

import "errors"

var (
	// ErrAlreadyInitialized is returned by a second Initialize call. The running
	// pipelines are left untouched.
	ErrAlreadyInitialized = errors.New("dispatch orchestrator already initialized")
	// ErrNotInitialized is returned by Shutdown before Initialize.
	ErrNotInitialized = errors.New("dispatch orchestrator not initialized")
	// ErrShuttingDown rejects an enqueue once shutdown has been signalled.
	ErrShuttingDown = errors.New("rejecting message, shutdown in progress")
	// ErrUnknownTopic is returned when no pipeline is configured for a topic.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrDecode wraps a bus payload that is not a JSON-encoded string.
	ErrDecode = errors.New("cannot decode bus payload")
)
