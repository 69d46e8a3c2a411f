package background

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Runtime is the cooperative goroutine runtime the client starts its
// long-running loops on: the config poller and the event-ingestion
// auto-flusher/batcher/deliverer/retrier. It extends the Manager[T]
// send/flush model above with a shared cancellation token and two spawn
// modes, matching how a client needs to start several independent loops
// and bring all of them down together on Shutdown.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewRuntime derives its cancellation token from parent.
func NewRuntime(parent context.Context) *Runtime {
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)
	return &Runtime{ctx: ctx, cancel: cancel, group: group}
}

// CancellationToken returns the context every spawned goroutine should
// select on to learn it's time to stop.
func (r *Runtime) CancellationToken() context.Context {
	return r.ctx
}

// SpawnTracked starts fn in a goroutine under the runtime's errgroup.
// GracefulShutdown waits for every tracked goroutine to return before
// unblocking, and reports the first non-nil error any of them returned. A
// tracked goroutine returning a non-nil error also cancels the runtime's
// context, per errgroup.WithContext's fail-fast behavior, stopping its
// siblings early.
func (r *Runtime) SpawnTracked(fn func(ctx context.Context) error) {
	r.group.Go(func() error {
		return fn(r.ctx)
	})
}

// SpawnUntracked starts fn in a goroutine without tracking it: Shutdown and
// GracefulShutdown cancel its context but do not wait for it to return. Use
// this for fire-and-forget work (a single best-effort flush) where waiting
// would delay shutdown for no benefit.
func (r *Runtime) SpawnUntracked(fn func(ctx context.Context)) {
	go fn(r.ctx)
}

// Shutdown cancels every spawned goroutine's context and returns
// immediately, without waiting for tracked goroutines to observe the
// cancellation and return.
func (r *Runtime) Shutdown() {
	r.cancel()
}

// GracefulShutdown cancels every spawned goroutine's context and blocks
// until all tracked goroutines have returned, or ctx is done first.
func (r *Runtime) GracefulShutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
