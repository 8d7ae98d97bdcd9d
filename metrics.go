package boxkernel

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the submit-to-response latency histogram
// buckets in nanoseconds. Buckets cover from 1us to 10s with
// logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Kernel:
// event submission, routing, and per-deck completion.
type Metrics struct {
	// Event counters
	SubmitOps  atomic.Uint64 // total Submit calls that enqueued an event
	RouteOps   atomic.Uint64 // total events routed to a deck
	CompleteOps atomic.Uint64 // total deck completions (success)
	FailureOps atomic.Uint64 // total deck/router failures

	// Backpressure counters
	SubmitBackpressure atomic.Uint64 // Submit calls rejected, event ring full
	RouteBackpressure  atomic.Uint64 // routes rejected, deck FIFO full

	// Queue statistics
	QueueDepthTotal atomic.Uint64 // cumulative event-ring depth samples
	QueueDepthCount atomic.Uint64 // number of depth measurements
	MaxQueueDepth   atomic.Uint32 // maximum observed event-ring depth

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // cumulative submit->response latency
	OpCount        atomic.Uint64 // total completions+failures timed

	// Latency histogram buckets (cumulative counts): bucket[i] holds
	// the count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64 // kernel start timestamp (UnixNano)
	StopTime  atomic.Int64 // kernel stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records a Submit call outcome.
func (m *Metrics) RecordSubmit(accepted bool) {
	if accepted {
		m.SubmitOps.Add(1)
	} else {
		m.SubmitBackpressure.Add(1)
	}
}

// RecordRoute records a router dispatch outcome.
func (m *Metrics) RecordRoute(accepted bool) {
	if accepted {
		m.RouteOps.Add(1)
	} else {
		m.RouteBackpressure.Add(1)
	}
}

// RecordCompletion records a deck finishing an event, successfully or
// not, along with its submit-to-response latency.
func (m *Metrics) RecordCompletion(latencyNs uint64, success bool) {
	if success {
		m.CompleteOps.Add(1)
	} else {
		m.FailureOps.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records the current event-ring depth for statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	SubmitOps   uint64
	RouteOps    uint64
	CompleteOps uint64
	FailureOps  uint64

	SubmitBackpressure uint64
	RouteBackpressure  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	ErrorRate  float64 // percentage of failed completions
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SubmitOps:          m.SubmitOps.Load(),
		RouteOps:           m.RouteOps.Load(),
		CompleteOps:        m.CompleteOps.Load(),
		FailureOps:         m.FailureOps.Load(),
		SubmitBackpressure: m.SubmitBackpressure.Load(),
		RouteBackpressure:  m.RouteBackpressure.Load(),
		MaxQueueDepth:      m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.CompleteOps + snap.FailureOps

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(snap.FailureOps) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.SubmitOps.Store(0)
	m.RouteOps.Store(0)
	m.CompleteOps.Store(0)
	m.FailureOps.Store(0)
	m.SubmitBackpressure.Store(0)
	m.RouteBackpressure.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for a Kernel.
type Observer interface {
	ObserveSubmit(accepted bool)
	ObserveRoute(accepted bool)
	ObserveCompletion(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(bool)                 {}
func (NoOpObserver) ObserveRoute(bool)                  {}
func (NoOpObserver) ObserveCompletion(uint64, bool)     {}
func (NoOpObserver) ObserveQueueDepth(uint32)           {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(accepted bool) { o.metrics.RecordSubmit(accepted) }
func (o *MetricsObserver) ObserveRoute(accepted bool)  { o.metrics.RecordRoute(accepted) }
func (o *MetricsObserver) ObserveCompletion(latencyNs uint64, success bool) {
	o.metrics.RecordCompletion(latencyNs, success)
}
func (o *MetricsObserver) ObserveQueueDepth(depth uint32) { o.metrics.RecordQueueDepth(depth) }

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
