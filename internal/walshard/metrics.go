package walshard

// metrics.go mirrors the teacher's pkg/metrics.go dual noop/Prometheus sink
// shape (see internal/horizoncache/metrics.go for the same pattern applied
// to the cache), narrowed to the counters a WAL shard needs.

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink abstracts Prometheus so the shard never pays for metric
// updates when metrics are disabled.
type MetricsSink interface {
	incAppend(shard uint8)
	incFsync(shard uint8)
	incFsyncError(shard uint8)
	incDegraded(shard uint8)
	observeFlush(shard uint8, entries int, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) incAppend(uint8)                        {}
func (noopMetrics) incFsync(uint8)                          {}
func (noopMetrics) incFsyncError(uint8)                     {}
func (noopMetrics) incDegraded(uint8)                        {}
func (noopMetrics) observeFlush(uint8, int, time.Duration) {}

// PromSink adapts Prometheus collectors to MetricsSink.
type PromSink struct {
	appends     *prometheus.CounterVec
	fsyncs      *prometheus.CounterVec
	fsyncErrors *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	flushMs     *prometheus.HistogramVec
	flushSize   *prometheus.HistogramVec
}

// NewPromSink registers WAL shard collectors on reg.
func NewPromSink(reg *prometheus.Registry) *PromSink {
	label := []string{"shard"}
	s := &PromSink{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "wal_shard", Name: "appends_total",
			Help: "Number of entries appended to a shard's WAL buffer.",
		}, label),
		fsyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "wal_shard", Name: "fsyncs_total",
			Help: "Number of successful fsync calls.",
		}, label),
		fsyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "wal_shard", Name: "fsync_errors_total",
			Help: "Number of failed fsync calls (retried next interval).",
		}, label),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "wal_shard", Name: "degraded_total",
			Help: "Number of times a shard transitioned to degraded.",
		}, label),
		flushMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warpengine", Subsystem: "wal_shard", Name: "flush_duration_ms",
			Help:    "Flush latency in milliseconds.",
			Buckets: prometheus.DefBuckets,
		}, label),
		flushSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warpengine", Subsystem: "wal_shard", Name: "flush_batch_entries",
			Help:    "Number of entries per flushed batch.",
			Buckets: []float64{1, 10, 100, 1000, 2500, 5000, 25000},
		}, label),
	}
	reg.MustRegister(s.appends, s.fsyncs, s.fsyncErrors, s.degraded, s.flushMs, s.flushSize)
	return s
}

func (s *PromSink) incAppend(shard uint8) {
	s.appends.WithLabelValues(strconv.Itoa(int(shard))).Inc()
}
func (s *PromSink) incFsync(shard uint8) {
	s.fsyncs.WithLabelValues(strconv.Itoa(int(shard))).Inc()
}
func (s *PromSink) incFsyncError(shard uint8) {
	s.fsyncErrors.WithLabelValues(strconv.Itoa(int(shard))).Inc()
}
func (s *PromSink) incDegraded(shard uint8) {
	s.degraded.WithLabelValues(strconv.Itoa(int(shard))).Inc()
}
func (s *PromSink) observeFlush(shard uint8, entries int, d time.Duration) {
	l := strconv.Itoa(int(shard))
	s.flushMs.WithLabelValues(l).Observe(float64(d.Milliseconds()))
	s.flushSize.WithLabelValues(l).Observe(float64(entries))
}
