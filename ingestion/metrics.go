package ingestion

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector reports pipeline throughput to an observability
// backend. Optional: a nil collector means the pipeline runs with no
// metrics overhead.
type MetricsCollector interface {
	IncTracked()
	IncDelivered(n int)
	IncRetried(n int)
	IncDropped(n int)
}

// AtomicMetricsCollector is the dependency-free default implementation.
type AtomicMetricsCollector struct {
	tracked   int64
	delivered int64
	retried   int64
	dropped   int64
}

func (m *AtomicMetricsCollector) IncTracked()        { atomic.AddInt64(&m.tracked, 1) }
func (m *AtomicMetricsCollector) IncDelivered(n int) { atomic.AddInt64(&m.delivered, int64(n)) }
func (m *AtomicMetricsCollector) IncRetried(n int)   { atomic.AddInt64(&m.retried, int64(n)) }
func (m *AtomicMetricsCollector) IncDropped(n int)   { atomic.AddInt64(&m.dropped, int64(n)) }

func (m *AtomicMetricsCollector) Snapshot() (tracked, delivered, retried, dropped int64) {
	return atomic.LoadInt64(&m.tracked), atomic.LoadInt64(&m.delivered),
		atomic.LoadInt64(&m.retried), atomic.LoadInt64(&m.dropped)
}

// PrometheusMetricsCollector implements MetricsCollector using caller-
// supplied prometheus counters, following the same
// caller-registers/we-only-increment shape as configpoll's collector.
type PrometheusMetricsCollector struct {
	Tracked   prometheus.Counter
	Delivered prometheus.Counter
	Retried   prometheus.Counter
	Dropped   prometheus.Counter
}

func (m *PrometheusMetricsCollector) IncTracked()        { m.Tracked.Inc() }
func (m *PrometheusMetricsCollector) IncDelivered(n int) { m.Delivered.Add(float64(n)) }
func (m *PrometheusMetricsCollector) IncRetried(n int)   { m.Retried.Add(float64(n)) }
func (m *PrometheusMetricsCollector) IncDropped(n int)   { m.Dropped.Add(float64(n)) }
