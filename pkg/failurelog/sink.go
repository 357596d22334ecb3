package failurelog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ====================================================================================
// This file defines the failure audit contract. Every push that could not be
// delivered becomes exactly one Record; sinks only ever append.
// ====================================================================================

// DefaultTimestampLayout is the ISO local date written at the head of each line.
const DefaultTimestampLayout = time.DateOnly

// Record is a single delivery failure.
type Record struct {
	Timestamp time.Time
	// Reason is a short description: an HTTP status text or an error message.
	Reason string
	// Content is what was (or would have been) posted: the envelope if one was built,
	// the raw payload otherwise.
	Content string
	// Destination is the record kind the push was addressed to. It is not part of the
	// tab-separated file format; mirrors store it alongside the other fields.
	Destination string
}

// Sink is an append-only store for failure records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// SinkError reports that a failure record could not be stored. It is kept distinct
// from push failures: when it surfaces, the audit trail itself has lost an entry.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("failure sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

var reasonReplacer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// FormatRecord renders rec as `timestamp\treason\tcontent\n`. Tabs and line breaks in
// the reason are flattened so that the reason column stays a single field.
func FormatRecord(rec Record, layout string) string {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	var b strings.Builder
	b.Grow(len(layout) + len(rec.Reason) + len(rec.Content) + 3)
	b.WriteString(rec.Timestamp.Format(layout))
	b.WriteByte('\t')
	b.WriteString(reasonReplacer.Replace(rec.Reason))
	b.WriteByte('\t')
	b.WriteString(rec.Content)
	b.WriteByte('\n')
	return b.String()
}
