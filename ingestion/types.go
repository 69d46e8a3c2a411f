// Package ingestion implements the four-stage analytics event pipeline
// (§4.10–§4.13): an auto-flusher and batcher coalesce tracked events, a
// delivery stage POSTs them to the ingestion endpoint, and a retry stage
// re-injects transient failures with bounded exponential backoff.
package ingestion

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the analytics payload shipped to the ingestion endpoint (§3:
// IngestionEvent).
type Event struct {
	UUID      uuid.UUID `json:"uuid"`
	Timestamp time.Time `json:"-"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
}

// MarshalJSON encodes Timestamp as milliseconds since the epoch, matching
// the wire format's int64 timestamp field (§6.1).
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		UUID      uuid.UUID `json:"uuid"`
		Timestamp int64     `json:"timestamp"`
		Type      string    `json:"type"`
		Payload   any       `json:"payload"`
	}
	return json.Marshal(wire{
		UUID:      e.UUID,
		Timestamp: e.Timestamp.UnixMilli(),
		Type:      e.Type,
		Payload:   e.Payload,
	})
}

// QueuedEvent threads an Event through the pipeline alongside the number
// of delivery attempts already made (§3).
type QueuedEvent struct {
	Event    Event
	Attempts int
}

// FlushAck is closed once the batch a flush request was attached to has
// been delivered or terminally failed.
type FlushAck chan struct{}

// BatchedMessage carries a batch of T plus, optionally, a set of flush
// barriers: a non-nil Flush turns the message into a flush request and its
// channels are closed once the batch completes (§3). Grounded on the
// upstream batched_message.rs: a nil Flush is "no flush requested", a
// non-nil (possibly empty) Flush is "flush requested, notify these
// watchers".
type BatchedMessage[T any] struct {
	Batch []T
	Flush []FlushAck
}

// Empty returns a message with no payload and no flush request.
func Empty[T any]() BatchedMessage[T] {
	return BatchedMessage[T]{}
}

// Singleton wraps a single item with no flush request.
func Singleton[T any](v T) BatchedMessage[T] {
	return BatchedMessage[T]{Batch: []T{v}}
}

// RequiresFlush reports whether m carries a flush barrier.
func (m BatchedMessage[T]) RequiresFlush() bool {
	return m.Flush != nil
}

// Flushed closes every watcher registered on m, signalling completion.
func (m BatchedMessage[T]) Flushed() {
	for _, ack := range m.Flush {
		close(ack)
	}
}
