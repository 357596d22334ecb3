package types

import (
	"time"
)

// BusMessage is a single delivery from a bus subscription, as handed to the
// dispatch layer. It carries the raw payload bytes; decoding to text is the
// subscriber callback's job.
type BusMessage struct {
	// ID is the broker-assigned message identifier.
	ID string
	// Topic is the subscription or topic the message arrived on.
	Topic string
	// Payload is a private copy of the message data.
	Payload []byte
	// PublishTime is when the broker accepted the message.
	PublishTime time.Time
	// Attributes holds broker metadata.
	Attributes map[string]string
}
