package driver

import (
	"sync/atomic"

	"github.com/dgraft/factengine/pkg/cache"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
)

// MetricsSnapshot merges the Driver's own turn counters with the
// underlying cache metrics and circuit breaker state into the single value
// GetMetrics returns.
type MetricsSnapshot struct {
	TotalQueries int64   `json:"total_queries"`
	TotalErrors  int64   `json:"total_errors"`
	ErrorRate    float64 `json:"error_rate"`

	CacheHits            int64   `json:"cache_hits"`
	CacheMisses          int64   `json:"cache_misses"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	CacheEntriesResident int     `json:"cache_total_entries"`
	CacheBytesResident   int64   `json:"cache_total_size"`

	CircuitBreakerState string `json:"circuit_breaker_state"`
}

// GetMetrics reports a point-in-time snapshot of turn counters, cache
// metrics, and circuit breaker state.
func (d *Driver) GetMetrics() MetricsSnapshot {
	total := atomic.LoadInt64(&d.totalQueries)
	errs := atomic.LoadInt64(&d.totalErrors)

	var cm cache.Metrics
	var state circuitbreaker.State
	if d.cache != nil {
		cm, state = d.cache.GetMetrics()
	}

	snap := MetricsSnapshot{
		TotalQueries:         total,
		TotalErrors:          errs,
		CacheHits:            cm.Hits,
		CacheMisses:          cm.Misses,
		CacheEntriesResident: cm.EntriesResident,
		CacheBytesResident:   cm.BytesResident,
		CircuitBreakerState:  state.String(),
	}
	if total > 0 {
		snap.ErrorRate = float64(errs) / float64(total)
	}
	if cm.Hits+cm.Misses > 0 {
		snap.CacheHitRate = float64(cm.Hits) / float64(cm.Hits+cm.Misses)
	}
	return snap
}
