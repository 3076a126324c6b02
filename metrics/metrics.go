// Package metrics exposes the snap-index core's counters and timing
// histograms (spec.md §2, Metrics/Debug row) as real Prometheus
// collectors, plus a bounded operation-log ring buffer for debugging.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// opLogCapacity bounds the operation log ring buffer.
const opLogCapacity = 256

// OpRecord is one entry in the operation log.
type OpRecord struct {
	Operation string
	DurationNs int64
	Timestamp  time.Time
}

// Collector wires the core's counters/histograms into a Prometheus
// registry and retains the last opLogCapacity operations for
// inspection via statistics().
type Collector struct {
	queriesTotal   prometheus.Counter
	cacheHitsTotal prometheus.Counter
	cacheMissTotal prometheus.Counter
	queryDuration  prometheus.Histogram
	mutationTotal  prometheus.Counter

	opLog    []OpRecord
	opLogPos int
}

// NewCollector builds a Collector and registers its collectors with
// reg. A nil reg skips registration, useful in tests that don't want
// a live Prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapindex_queries_total",
			Help: "Total number of findClosest queries served.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapindex_cache_hits_total",
			Help: "Total number of cache hits.",
		}),
		cacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapindex_cache_misses_total",
			Help: "Total number of cache misses.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapindex_query_duration_seconds",
			Help:    "findClosest latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us .. ~328ms
		}),
		mutationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapindex_mutations_total",
			Help: "Total number of addSnapPoint/removeSnapPoint/clear calls.",
		}),
		opLog: make([]OpRecord, 0, opLogCapacity),
	}
	if reg != nil {
		reg.MustRegister(c.queriesTotal, c.cacheHitsTotal, c.cacheMissTotal, c.queryDuration, c.mutationTotal)
	}
	return c
}

// RecordQuery records a findClosest invocation's outcome and latency.
func (c *Collector) RecordQuery(d time.Duration, cacheHit bool) {
	c.queriesTotal.Inc()
	c.queryDuration.Observe(d.Seconds())
	if cacheHit {
		c.cacheHitsTotal.Inc()
	} else {
		c.cacheMissTotal.Inc()
	}
	c.recordOp("findClosest", d)
}

// RecordMutation records an addSnapPoint/removeSnapPoint/clear call.
func (c *Collector) RecordMutation(operation string, d time.Duration) {
	c.mutationTotal.Inc()
	c.recordOp(operation, d)
}

func (c *Collector) recordOp(operation string, d time.Duration) {
	rec := OpRecord{Operation: operation, DurationNs: d.Nanoseconds(), Timestamp: time.Now()}
	if len(c.opLog) < opLogCapacity {
		c.opLog = append(c.opLog, rec)
		return
	}
	c.opLog[c.opLogPos] = rec
	c.opLogPos = (c.opLogPos + 1) % opLogCapacity
}

// OperationLog returns a copy of the retained operation records,
// oldest first.
func (c *Collector) OperationLog() []OpRecord {
	if len(c.opLog) < opLogCapacity {
		out := make([]OpRecord, len(c.opLog))
		copy(out, c.opLog)
		return out
	}
	out := make([]OpRecord, opLogCapacity)
	copy(out, c.opLog[c.opLogPos:])
	copy(out[opLogCapacity-c.opLogPos:], c.opLog[:c.opLogPos])
	return out
}
