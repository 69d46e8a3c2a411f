// Package configpoll repeatedly drives a configfetch.Fetcher into a
// configstore.Store on a jittered interval (§4.7), following the teacher's
// sync/poll PollOptions/BackOff shape: a struct of tunables plus a
// functional-option constructor, rather than a single opaque Run call.
package configpoll

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/alextanhongpin/flagcore/config"
	"github.com/alextanhongpin/flagcore/configstore"
	"github.com/alextanhongpin/flagcore/ferrors"
)

// Fetcher is the subset of configfetch.Fetcher the poller depends on.
type Fetcher interface {
	Fetch(ctx context.Context, now time.Time) (*config.Snapshot, error)
}

// Clock abstracts time.Now so tests can inject a fixed or fake clock; the
// poller's own production use just passes time.Now.
type Clock func() time.Time

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Jitter   time.Duration
	Clock    Clock
	OnError  func(error)
	Metrics  MetricsCollector
}

// NewOptions returns Options with the library's default 30s interval and a
// 3s jitter, matching the original SDK's polling cadence.
func NewOptions() *Options {
	return &Options{
		Interval: 30 * time.Second,
		Jitter:   3 * time.Second,
		Clock:    time.Now,
	}
}

func (o *Options) Valid() error {
	if o.Interval <= 0 {
		return errors.New("configpoll: interval must be greater than 0")
	}
	if o.Jitter < 0 || o.Jitter > o.Interval {
		return errors.New("configpoll: jitter must be within [0, interval]")
	}
	return nil
}

// Option mutates Options.
type Option func(*Options)

func WithInterval(d time.Duration) Option { return func(o *Options) { o.Interval = d } }
func WithJitter(d time.Duration) Option   { return func(o *Options) { o.Jitter = d } }
func WithClock(c Clock) Option            { return func(o *Options) { o.Clock = c } }
func WithOnError(fn func(error)) Option   { return func(o *Options) { o.OnError = fn } }

func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}

// Poller repeatedly calls Fetch and writes successful results into Store.
// It exits for good (without error) once the fetcher reports a sticky
// Unauthorized outcome (§4.7's "permanent exit" invariant): the caller's
// background goroutine running Run simply returns instead of being spun
// forever against a key the server will never accept.
type Poller struct {
	opts    *Options
	fetcher Fetcher
	store   *configstore.Store

	ready chan struct{}
	once  bool
}

// New constructs a Poller writing into store via fetcher.
func New(fetcher Fetcher, store *configstore.Store, opts ...Option) *Poller {
	o := NewOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Poller{
		opts:    o,
		fetcher: fetcher,
		store:   store,
		ready:   make(chan struct{}),
	}
}

// Run polls until ctx is cancelled or the fetcher latches Unauthorized.
func (p *Poller) Run(ctx context.Context) error {
	for {
		snap, err := p.fetcher.Fetch(ctx, p.opts.Clock())
		switch {
		case err == nil:
			p.store.Set(snap)
			p.signalReady()
			if p.opts.Metrics != nil {
				p.opts.Metrics.IncFetchSuccess()
			}
		case isUnauthorized(err):
			if p.opts.Metrics != nil {
				p.opts.Metrics.IncUnauthorized()
			}
			return nil
		default:
			if p.opts.Metrics != nil {
				p.opts.Metrics.IncFetchFailure()
			}
			if p.opts.OnError != nil {
				p.opts.OnError(err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.nextInterval()):
		}
	}
}

// WaitForConfiguration blocks until the first successful fetch lands in the
// store, or ctx is cancelled (§4.7: "wait_for_configuration").
func (p *Poller) WaitForConfiguration(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) signalReady() {
	if p.once {
		return
	}
	p.once = true
	close(p.ready)
}

// nextInterval returns interval minus a uniformly random amount of jitter,
// never negative (§4.7).
func (p *Poller) nextInterval() time.Duration {
	if p.opts.Jitter <= 0 {
		return p.opts.Interval
	}
	d := p.opts.Interval - time.Duration(rand.Int64N(int64(p.opts.Jitter)))
	if d < 0 {
		return 0
	}
	return d
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ferrors.Get("flagcore.unauthorized"))
}
