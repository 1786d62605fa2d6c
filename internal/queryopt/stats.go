package queryopt

import (
	"sort"
	"sync"
)

// DefaultMaxHistory is the default ring-buffer capacity for QueryStatsCollector.
const DefaultMaxHistory = 1000

// QueryStatsCollector accumulates a bounded history of QueryMetrics and
// derives running averages, percentiles, and optimization recommendations.
//
// Grounded on query_optimizer.py's QueryStatsCollector, which guards all
// mutation and summary computation behind one threading.RLock; here a
// single sync.Mutex plays the same role since both reads and writes mutate
// derived aggregates.
type QueryStatsCollector struct {
	mu sync.Mutex

	maxHistory int
	history    []*QueryMetrics // ring buffer, oldest first

	countByKind   map[string]int
	totalByKind   map[string]float64 // running sum of duration_ms, for averages
	avgByKind     map[string]float64
	indexUsage    map[string]int
	cacheHits     int
	cacheMisses   int
	errorCount    int
	totalQueries  int
}

// NewQueryStatsCollector constructs a collector with the given ring-buffer
// capacity; 0 or negative selects DefaultMaxHistory.
func NewQueryStatsCollector(maxHistory int) *QueryStatsCollector {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &QueryStatsCollector{
		maxHistory:  maxHistory,
		countByKind: make(map[string]int),
		totalByKind: make(map[string]float64),
		avgByKind:   make(map[string]float64),
		indexUsage:  make(map[string]int),
	}
}

// RecordQuery appends a finalized metrics record, updating all derived
// aggregates, and evicts the oldest entry once the ring is full.
func (c *QueryStatsCollector) RecordQuery(m *QueryMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, m)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}

	c.totalQueries++
	c.countByKind[m.QueryType]++
	c.totalByKind[m.QueryType] += m.DurationMs
	c.avgByKind[m.QueryType] = c.totalByKind[m.QueryType] / float64(c.countByKind[m.QueryType])

	if m.CacheHit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
	if m.IndexUsed && m.IndexName != "" {
		c.indexUsage[m.IndexName]++
	}
	if m.Error != "" {
		c.errorCount++
	}
}

// AverageDurationMs returns the running average duration for a query kind,
// and whether any queries of that kind have been recorded.
func (c *QueryStatsCollector) AverageDurationMs(kind string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	avg, ok := c.avgByKind[kind]
	return avg, ok
}

// GetStatsSummary returns totals, kind distribution, per-kind averages,
// cache-hit rate, error rate, duration percentiles, and the 5 slowest
// non-error entries.
func (c *QueryStatsCollector) GetStatsSummary() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := map[string]interface{}{
		"total_queries": c.totalQueries,
	}

	kindCounts := make(map[string]int, len(c.countByKind))
	for k, v := range c.countByKind {
		kindCounts[k] = v
	}
	summary["query_counts_by_type"] = kindCounts

	kindAverages := make(map[string]float64, len(c.avgByKind))
	for k, v := range c.avgByKind {
		kindAverages[k] = v
	}
	summary["avg_duration_ms_by_type"] = kindAverages

	totalCacheable := c.cacheHits + c.cacheMisses
	hitRate := 0.0
	if totalCacheable > 0 {
		hitRate = float64(c.cacheHits) / float64(totalCacheable)
	}
	summary["cache_hit_rate"] = hitRate

	errorRate := 0.0
	if c.totalQueries > 0 {
		errorRate = float64(c.errorCount) / float64(c.totalQueries)
	}
	summary["error_rate"] = errorRate

	durations := make([]float64, 0, len(c.history))
	for _, m := range c.history {
		durations = append(durations, m.DurationMs)
	}
	summary["p50_duration_ms"] = percentile(durations, 50)
	summary["p90_duration_ms"] = percentile(durations, 90)
	summary["p99_duration_ms"] = percentile(durations, 99)

	summary["top_slowest"] = c.topSlowest(5)

	type kindFreq struct {
		Kind  string
		Count int
	}
	freqs := make([]kindFreq, 0, len(c.countByKind))
	for k, v := range c.countByKind {
		freqs = append(freqs, kindFreq{k, v})
	}
	sort.Slice(freqs, func(i, j int) bool {
		if freqs[i].Count != freqs[j].Count {
			return freqs[i].Count > freqs[j].Count
		}
		return freqs[i].Kind < freqs[j].Kind
	})
	sortedKinds := make([]string, len(freqs))
	for i, f := range freqs {
		sortedKinds[i] = f.Kind
	}
	summary["sorted_query_types"] = sortedKinds

	summary["index_usage"] = func() map[string]int {
		out := make(map[string]int, len(c.indexUsage))
		for k, v := range c.indexUsage {
			out[k] = v
		}
		return out
	}()

	return summary
}

func (c *QueryStatsCollector) topSlowest(n int) []*QueryMetrics {
	candidates := make([]*QueryMetrics, 0, len(c.history))
	for _, m := range c.history {
		if m.Error == "" {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DurationMs > candidates[j].DurationMs
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// percentile computes the p-th percentile (0..100) via linear interpolation
// between closest ranks, matching numpy.percentile's default behavior.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// GetOptimizationRecommendations emits structured advice derived from the
// recorded history. Grounded on query_optimizer.py's
// get_optimization_recommendations thresholds.
func (c *QueryStatsCollector) GetOptimizationRecommendations() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		return []map[string]interface{}{
			{"type": "insufficient_data", "message": "not enough query history to generate recommendations"},
		}
	}

	var recs []map[string]interface{}

	highScanKinds := map[string]bool{}
	for _, m := range c.history {
		if m.ScanCount > 100 && m.ResultCount > 0 && float64(m.ScanCount)/float64(m.ResultCount) > 10 {
			highScanKinds[m.QueryType] = true
		}
	}
	for kind := range highScanKinds {
		recs = append(recs, map[string]interface{}{
			"type":    "index_suggestion",
			"kind":    kind,
			"message": "consider adding an index for query kind " + kind + ": scan/result ratio is high",
		})
	}

	for kind, avg := range c.avgByKind {
		if avg > 100 {
			recs = append(recs, map[string]interface{}{
				"type":    "performance_warning",
				"kind":    kind,
				"message": "average duration exceeds 100ms for query kind " + kind,
			})
		}
	}

	totalCacheable := c.cacheHits + c.cacheMisses
	if totalCacheable >= 20 {
		hitRate := float64(c.cacheHits) / float64(totalCacheable)
		if hitRate < 0.5 {
			recs = append(recs, map[string]interface{}{
				"type":    "cache_strategy",
				"message": "cache hit rate is below 50%; consider revisiting cache key granularity or size",
			})
		}
	}

	return recs
}

// ResetStats clears all accumulated state.
func (c *QueryStatsCollector) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = nil
	c.countByKind = make(map[string]int)
	c.totalByKind = make(map[string]float64)
	c.avgByKind = make(map[string]float64)
	c.indexUsage = make(map[string]int)
	c.cacheHits = 0
	c.cacheMisses = 0
	c.errorCount = 0
	c.totalQueries = 0
}
