package configpoll

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector reports poller activity to an observability backend.
// Injecting one is optional; a nil collector (the default) means the
// poller runs with no metrics overhead, matching the teacher's
// sync/poll.PollOptions "optional collector" pattern.
type MetricsCollector interface {
	IncFetchSuccess()
	IncFetchFailure()
	IncUnauthorized()
}

// AtomicMetricsCollector is the dependency-free default implementation.
type AtomicMetricsCollector struct {
	fetchSuccess int64
	fetchFailure int64
	unauthorized int64
}

func (m *AtomicMetricsCollector) IncFetchSuccess() { atomic.AddInt64(&m.fetchSuccess, 1) }
func (m *AtomicMetricsCollector) IncFetchFailure() { atomic.AddInt64(&m.fetchFailure, 1) }
func (m *AtomicMetricsCollector) IncUnauthorized() { atomic.AddInt64(&m.unauthorized, 1) }

func (m *AtomicMetricsCollector) Snapshot() (success, failure, unauthorized int64) {
	return atomic.LoadInt64(&m.fetchSuccess), atomic.LoadInt64(&m.fetchFailure), atomic.LoadInt64(&m.unauthorized)
}

// PrometheusMetricsCollector implements MetricsCollector using caller-
// supplied prometheus counters, following sync/poll's
// PrometheusPollMetricsCollector shape: the caller registers the
// counters, this struct only increments them.
type PrometheusMetricsCollector struct {
	FetchSuccess prometheus.Counter
	FetchFailure prometheus.Counter
	Unauthorized prometheus.Counter
}

func (m *PrometheusMetricsCollector) IncFetchSuccess() { m.FetchSuccess.Inc() }
func (m *PrometheusMetricsCollector) IncFetchFailure() { m.FetchFailure.Inc() }
func (m *PrometheusMetricsCollector) IncUnauthorized() { m.Unauthorized.Inc() }
