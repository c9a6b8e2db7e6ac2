package streamclust

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    insertCounter prometheus.Counter
//	    sweepGauge    prometheus.Gauge
//	}
//
//	func (p *PrometheusCollector) RecordInsert(duration time.Duration, absorbed bool, err error) {
//	    p.insertCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordGroup is called after each temporal group has been reduced.
	// points is the group size, clusters the number of emitted microclusters.
	RecordGroup(points, clusters int, duration time.Duration)

	// RecordInsert is called after each index insert.
	// absorbed reports whether the cluster merged into an existing entry.
	RecordInsert(duration time.Duration, absorbed bool, err error)

	// RecordEvict is called when inserts or sweeps evict clusters.
	RecordEvict(count int)

	// RecordSweep is called after each sweep cycle that evicted clusters.
	RecordSweep(evicted int)

	// RecordAggregate is called after each batch aggregation run.
	RecordAggregate(merges, deleted int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGroup(int, int, time.Duration)            {}
func (NoopMetricsCollector) RecordInsert(time.Duration, bool, error)        {}
func (NoopMetricsCollector) RecordEvict(int)                                {}
func (NoopMetricsCollector) RecordSweep(int)                                {}
func (NoopMetricsCollector) RecordAggregate(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GroupCount       atomic.Int64
	GroupPoints      atomic.Int64
	GroupClusters    atomic.Int64
	InsertCount      atomic.Int64
	InsertAbsorbed   atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	EvictCount       atomic.Int64
	SweepCount       atomic.Int64
	SweepEvicted     atomic.Int64
	AggregateCount   atomic.Int64
	AggregateMerges  atomic.Int64
	AggregateDeleted atomic.Int64
	AggregateErrors  atomic.Int64
}

// RecordGroup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGroup(points, clusters int, duration time.Duration) {
	b.GroupCount.Add(1)
	b.GroupPoints.Add(int64(points))
	b.GroupClusters.Add(int64(clusters))
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, absorbed bool, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if absorbed {
		b.InsertAbsorbed.Add(1)
	}
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordEvict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvict(count int) {
	b.EvictCount.Add(int64(count))
}

// RecordSweep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSweep(evicted int) {
	b.SweepCount.Add(1)
	b.SweepEvicted.Add(int64(evicted))
}

// RecordAggregate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAggregate(merges, deleted int, duration time.Duration, err error) {
	b.AggregateCount.Add(1)
	b.AggregateMerges.Add(int64(merges))
	b.AggregateDeleted.Add(int64(deleted))
	if err != nil {
		b.AggregateErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GroupCount:       b.GroupCount.Load(),
		GroupPoints:      b.GroupPoints.Load(),
		GroupClusters:    b.GroupClusters.Load(),
		InsertCount:      b.InsertCount.Load(),
		InsertAbsorbed:   b.InsertAbsorbed.Load(),
		InsertErrors:     b.InsertErrors.Load(),
		InsertAvgNanos:   b.getAvgInsertNanos(),
		EvictCount:       b.EvictCount.Load(),
		SweepCount:       b.SweepCount.Load(),
		SweepEvicted:     b.SweepEvicted.Load(),
		AggregateCount:   b.AggregateCount.Load(),
		AggregateMerges:  b.AggregateMerges.Load(),
		AggregateDeleted: b.AggregateDeleted.Load(),
		AggregateErrors:  b.AggregateErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgInsertNanos() int64 {
	count := b.InsertCount.Load()
	if count == 0 {
		return 0
	}
	return b.InsertTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GroupCount       int64
	GroupPoints      int64
	GroupClusters    int64
	InsertCount      int64
	InsertAbsorbed   int64
	InsertErrors     int64
	InsertAvgNanos   int64
	EvictCount       int64
	SweepCount       int64
	SweepEvicted     int64
	AggregateCount   int64
	AggregateMerges  int64
	AggregateDeleted int64
	AggregateErrors  int64
}
