package ingestion

import (
	"context"
	"time"
)

// autoFlush forwards every message from uplink to downlink unchanged and,
// if period elapses without a flush-carrying message passing through,
// injects one itself. The timer resets whenever a message carrying a
// flush passes through. Grounded on auto_flusher.rs: the "'flushed: loop"
// outer loop corresponds to the for-select below, and the injected message
// on timeout is an empty flush, not a dropped tick.
func autoFlush[T any](ctx context.Context, uplink <-chan BatchedMessage[T], downlink chan<- BatchedMessage[T], period time.Duration) {
	defer close(downlink)

	for {
		msg, ok := recvOrDone(ctx, uplink)
		if !ok {
			return
		}
		if !forward(ctx, downlink, msg) {
			return
		}
		if msg.RequiresFlush() {
			continue
		}

		if !waitForFlushOrTimeout(ctx, uplink, downlink, period) {
			return
		}
	}
}

// waitForFlushOrTimeout forwards messages until one carrying a flush
// passes through, period elapses (in which case an empty flush message is
// injected), or ctx is done.
func waitForFlushOrTimeout[T any](ctx context.Context, uplink <-chan BatchedMessage[T], downlink chan<- BatchedMessage[T], period time.Duration) bool {
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return forward(ctx, downlink, BatchedMessage[T]{Flush: []FlushAck{}})
		case msg, ok := <-uplink:
			if !ok {
				return false
			}
			if !forward(ctx, downlink, msg) {
				return false
			}
			if msg.RequiresFlush() {
				return true
			}
		}
	}
}

func recvOrDone[T any](ctx context.Context, uplink <-chan BatchedMessage[T]) (BatchedMessage[T], bool) {
	select {
	case <-ctx.Done():
		var zero BatchedMessage[T]
		return zero, false
	case msg, ok := <-uplink:
		return msg, ok
	}
}

func forward[T any](ctx context.Context, downlink chan<- BatchedMessage[T], msg BatchedMessage[T]) bool {
	select {
	case <-ctx.Done():
		return false
	case downlink <- msg:
		return true
	}
}
