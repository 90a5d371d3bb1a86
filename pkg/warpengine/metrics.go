package warpengine

// metrics.go aggregates every component's point-in-time snapshot into one
// EngineMetrics struct for external consumption (mirrors the teacher's
// pkg/metrics.go single-sink aggregation, widened from one cache's counters
// to all of C2/C6/C7's).

import (
	"github.com/warpengine/warpengine/internal/balancer"
	"github.com/warpengine/warpengine/internal/horizoncache"
	"github.com/warpengine/warpengine/internal/walshard"
)

// EngineMetrics is a point-in-time snapshot across every component.
type EngineMetrics struct {
	WALShards     map[string]walshard.Stats
	Cache         horizoncache.CacheMetrics
	Balancer      balancer.Stats
}

// Metrics returns a fresh snapshot. It never blocks on the hot path: every
// component's Stats()/Metrics() takes at most a short-lived read lock or
// atomic load.
func (e *Engine) Metrics() EngineMetrics {
	return EngineMetrics{
		WALShards: e.coord.AggregateStats(),
		Cache:     e.cache.Metrics(),
		Balancer:  e.balancer.Stats(),
	}
}
