package ingestion

import "context"

// batch coalesces messages from uplink into chunks of at least
// minBatchSize items, pushing an incomplete batch downstream as soon as a
// flush-carrying message arrives. On uplink close it flushes whatever it
// has accumulated and exits; on ctx cancellation it exits, and any
// accumulated remainder may be dropped. Grounded on batcher.rs.
func batch[T any](ctx context.Context, uplink <-chan BatchedMessage[T], downlink chan<- BatchedMessage[T], minBatchSize int) {
	defer close(downlink)

	for {
		acc := Empty[T]()
		uplinkAlive := true

		for uplinkAlive && len(acc.Batch) < minBatchSize && !acc.RequiresFlush() {
			select {
			case <-ctx.Done():
				uplinkAlive = false
			case msg, ok := <-uplink:
				if !ok {
					uplinkAlive = false
					continue
				}
				acc.Batch = append(acc.Batch, msg.Batch...)
				acc.Flush = msg.Flush
			}
		}

		if len(acc.Batch) > 0 || acc.RequiresFlush() {
			select {
			case <-ctx.Done():
				return
			case downlink <- acc:
			}
		}

		if !uplinkAlive {
			return
		}
	}
}
