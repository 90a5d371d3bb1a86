package horizoncache

// metrics.go mirrors the teacher's pkg/metrics.go dual noop/Prometheus sink
// shape, narrowed to the counters the Event-Horizon Cache needs.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incHit()
	incMiss()
	incEvict(level Level)
	setItemCount(n int)
}

type noopMetrics struct{}

func (noopMetrics) incHit()             {}
func (noopMetrics) incMiss()            {}
func (noopMetrics) incEvict(Level)      {}
func (noopMetrics) setItemCount(int)    {}

// PromSink adapts Prometheus collectors to metricsSink. Construct with
// NewPromSink and pass to New.
type PromSink struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions *prometheus.CounterVec
	items     prometheus.Gauge
}

// NewPromSink registers Event-Horizon Cache collectors on reg.
func NewPromSink(reg *prometheus.Registry) *PromSink {
	s := &PromSink{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "horizon_cache", Name: "hits_total",
			Help: "Number of Event-Horizon Cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "horizon_cache", Name: "misses_total",
			Help: "Number of Event-Horizon Cache misses.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpengine", Subsystem: "horizon_cache", Name: "evictions_total",
			Help: "Number of entries evicted, by level.",
		}, []string{"level"}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warpengine", Subsystem: "horizon_cache", Name: "items",
			Help: "Current number of cached items across all levels.",
		}),
	}
	reg.MustRegister(s.hits, s.misses, s.evictions, s.items)
	return s
}

func (s *PromSink) incHit()  { s.hits.Inc() }
func (s *PromSink) incMiss() { s.misses.Inc() }
func (s *PromSink) incEvict(level Level) {
	s.evictions.WithLabelValues(strconv.Itoa(int(level))).Inc()
}
func (s *PromSink) setItemCount(n int) { s.items.Set(float64(n)) }
