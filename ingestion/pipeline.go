package ingestion

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alextanhongpin/flagcore/background"
	"github.com/alextanhongpin/flagcore/ferrors"
	"github.com/google/uuid"
)

// Options configures a Pipeline (§6.2's ingestion knobs), following the
// teacher's Options+Valid()+functional-option construction idiom.
type Options struct {
	HTTPClient       *http.Client
	SDKKey           string
	IngestionURL     string
	MaxQueueSize     int
	DeliveryInterval time.Duration
	MinBatchSize     int
	MaxRetries       int
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
	Metrics          MetricsCollector
}

// NewOptions returns Options carrying the library's documented defaults.
func NewOptions() *Options {
	return &Options{
		HTTPClient:       &http.Client{Timeout: 10 * time.Second},
		MaxQueueSize:     10_000,
		DeliveryInterval: 10 * time.Second,
		MinBatchSize:     1_000,
		MaxRetries:       3,
		BaseRetryDelay:   5 * time.Second,
		MaxRetryDelay:    30 * time.Second,
	}
}

func (o *Options) Valid() error {
	if o.SDKKey == "" {
		return errors.New("ingestion: sdk key is empty")
	}
	if o.IngestionURL == "" {
		return errors.New("ingestion: ingestion url is empty")
	}
	o.MaxQueueSize = cmp.Or(o.MaxQueueSize, 10_000)
	o.DeliveryInterval = cmp.Or(o.DeliveryInterval, 10*time.Second)
	o.MinBatchSize = cmp.Or(o.MinBatchSize, 1_000)
	o.MaxRetries = cmp.Or(o.MaxRetries, 3)
	o.BaseRetryDelay = cmp.Or(o.BaseRetryDelay, 5*time.Second)
	o.MaxRetryDelay = cmp.Or(o.MaxRetryDelay, 30*time.Second)
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return nil
}

type Option func(*Options)

func WithHTTPClient(c *http.Client) Option        { return func(o *Options) { o.HTTPClient = c } }
func WithMaxQueueSize(n int) Option               { return func(o *Options) { o.MaxQueueSize = n } }
func WithDeliveryInterval(d time.Duration) Option { return func(o *Options) { o.DeliveryInterval = d } }
func WithMinBatchSize(n int) Option               { return func(o *Options) { o.MinBatchSize = n } }
func WithMaxRetries(n int) Option                 { return func(o *Options) { o.MaxRetries = n } }
func WithBaseRetryDelay(d time.Duration) Option   { return func(o *Options) { o.BaseRetryDelay = d } }
func WithMaxRetryDelay(d time.Duration) Option    { return func(o *Options) { o.MaxRetryDelay = d } }

func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}

// dropSink is the background.Task the failures stage runs on: one Exec
// call per event that reached terminal failure, either a non-retriable
// delivery failure or an event that exhausted its retries. Routing it through a
// background.Manager rather than a bare goroutine-over-a-channel means
// Pipeline.Close flushes whatever is still buffered instead of abandoning
// it the instant the runtime's cancellation token fires.
type dropSink struct {
	metrics MetricsCollector
}

func (d dropSink) Exec(qe QueuedEvent) {
	if d.metrics != nil {
		d.metrics.IncDropped(1)
	}
	slog.Warn("ingestion: event dropped after terminal delivery failure", "uuid", qe.Event.UUID, "attempts", qe.Attempts)
}

// Pipeline wires the auto-flusher, batcher, delivery, and retry stages
// together and exposes the public, non-blocking Track API (§4.10–§4.13,
// §5's "track never blocks" invariant).
type Pipeline struct {
	opts     *Options
	delivery *Delivery

	input         chan BatchedMessage[QueuedEvent]
	flusherDown   chan BatchedMessage[QueuedEvent]
	batcherDown   chan BatchedMessage[QueuedEvent]
	retryUplink   chan QueuedEvent
	retryReinject chan QueuedEvent

	failures     *background.Manager[QueuedEvent]
	stopFailures func()
}

// New constructs a Pipeline. The caller starts it with Start once a
// background.Runtime is available.
func New(opts ...Option) (*Pipeline, error) {
	o := NewOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.Valid(); err != nil {
		return nil, err
	}

	failures, stopFailures := background.New[QueuedEvent](dropSink{metrics: o.Metrics}, background.Buffer(o.MaxQueueSize))

	return &Pipeline{
		opts:          o,
		delivery:      NewDelivery(o.HTTPClient, o.SDKKey, o.IngestionURL),
		input:         make(chan BatchedMessage[QueuedEvent], o.MaxQueueSize),
		flusherDown:   make(chan BatchedMessage[QueuedEvent], 1),
		batcherDown:   make(chan BatchedMessage[QueuedEvent], 1),
		retryUplink:   make(chan QueuedEvent, o.MaxQueueSize),
		retryReinject: make(chan QueuedEvent, o.MaxQueueSize),
		failures:      failures,
		stopFailures:  stopFailures,
	}, nil
}

// Start spawns the pipeline's auto-flush, batch, delivery, and retry
// stages as untracked background tasks: per §5, they terminate as their
// uplinks close or the runtime's cancellation token fires, not by being
// waited on at graceful shutdown. The failures stage isn't spawned here —
// background.Manager starts its own goroutine lazily on first Send.
func (p *Pipeline) Start(rt *background.Runtime) {
	rt.SpawnUntracked(func(ctx context.Context) {
		autoFlush(ctx, p.input, p.flusherDown, p.opts.DeliveryInterval)
	})
	rt.SpawnUntracked(func(ctx context.Context) {
		batch(ctx, p.flusherDown, p.batcherDown, p.opts.MinBatchSize)
	})
	rt.SpawnUntracked(func(ctx context.Context) {
		p.runDelivery(ctx)
	})
	rt.SpawnUntracked(func(ctx context.Context) {
		retryLoop(ctx, p.retryUplink, p.retryReinject, p.failures, retryPolicy{
			MaxRetries:     p.opts.MaxRetries,
			BaseRetryDelay: p.opts.BaseRetryDelay,
			MaxRetryDelay:  p.opts.MaxRetryDelay,
		})
	})
}

// Close stops the failures sink, flushing whatever drop records are
// still buffered before returning. Callers that own a Pipeline should
// call this during graceful shutdown, after the background.Runtime
// driving the other stages has been cancelled.
func (p *Pipeline) Close() {
	p.stopFailures()
}

// runDelivery reads batches from the batcher and re-injected retries from
// the retry stage — a dedicated channel, not a shared one the batcher
// could close, since batch() closes its own downlink on uplink-close and
// a second writer on that channel would race the close (§4.13: "re-inject
// at the delivery stage", not back through the auto-flusher or batcher —
// a retried event must not wait out another auto-flush period).
func (p *Pipeline) runDelivery(ctx context.Context) {
	for {
		var events []QueuedEvent
		var flush []FlushAck

		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.batcherDown:
			if !ok {
				return
			}
			events, flush = msg.Batch, msg.Flush
		case qe := <-p.retryReinject:
			events = []QueuedEvent{qe}
		}

		status := p.delivery.Deliver(ctx, events)
		for _, qe := range status.Retry {
			select {
			case <-ctx.Done():
			case p.retryUplink <- qe:
			}
		}
		for _, qe := range status.Failure {
			p.failures.Send(qe)
		}
		if p.opts.Metrics != nil {
			delivered := len(events) - len(status.Retry) - len(status.Failure)
			if delivered > 0 {
				p.opts.Metrics.IncDelivered(delivered)
			}
			if len(status.Retry) > 0 {
				p.opts.Metrics.IncRetried(len(status.Retry))
			}
		}
		for _, ack := range flush {
			close(ack)
		}
	}
}

// Track enqueues an analytics event without blocking: per §5, the public
// API never blocks on ingestion. When the queue is at capacity the event
// is dropped and a warning logged (§4.13, ferrors "queue_full").
func (p *Pipeline) Track(eventType string, payload any) {
	event := Event{
		UUID:      uuid.New(),
		Timestamp: time.Now(),
		Type:      eventType,
		Payload:   payload,
	}

	select {
	case p.input <- Singleton(QueuedEvent{Event: event}):
		if p.opts.Metrics != nil {
			p.opts.Metrics.IncTracked()
		}
	default:
		if p.opts.Metrics != nil {
			p.opts.Metrics.IncDropped(1)
		}
		slog.Warn("ingestion: dropping event", "uuid", event.UUID, "reason", ferrors.Get("flagcore.queue_full"))
	}
}

// AttachContext attaches a context entry to every subsequent delivery
// request (§4.12). value must be a JSON primitive.
func (p *Pipeline) AttachContext(key string, value any) error {
	return p.delivery.AttachContext(key, value)
}
