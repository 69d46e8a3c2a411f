package ingestion

import (
	"context"
	"time"

	"github.com/alextanhongpin/flagcore/background"
)

// retryPolicy bounds the retry stage's behavior (§4.13, §6.2).
type retryPolicy struct {
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// backoffDelay returns the wait before re-attempting delivery after
// attempts failed deliveries, capped at MaxRetryDelay. Grounded on the
// shape of sync/retry's ExponentialBackOff.At, but deterministic (no
// jitter) per the capped-exponential formula this component specifies.
func (p retryPolicy) backoffDelay(attempts int) time.Duration {
	delay := p.BaseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	return min(delay, p.MaxRetryDelay)
}

// retryLoop receives retry candidates from uplink, increments their
// attempt counter, drops events that exceed MaxRetries to terminal
// failure (reporting them on failures), and otherwise waits the backoff
// delay before re-injecting the event at downlink (the delivery stage's
// own uplink). Cancellation cuts the wait short and abandons the event.
func retryLoop(ctx context.Context, uplink <-chan QueuedEvent, downlink chan<- QueuedEvent, failures *background.Manager[QueuedEvent], policy retryPolicy) {
	for {
		select {
		case <-ctx.Done():
			return
		case qe, ok := <-uplink:
			if !ok {
				return
			}

			qe.Attempts++
			if qe.Attempts > policy.MaxRetries {
				failures.Send(qe)
				continue
			}

			delay := policy.backoffDelay(qe.Attempts)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			select {
			case <-ctx.Done():
			case downlink <- qe:
			}
		}
	}
}
