package queryopt

import (
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nexuslabs/docoptic/internal/logging"
)

// Executor runs an optimized parameter set against a real backing store and
// returns a result along with an optional declared scan count. Real
// implementations attach ScanCount when they know the true number of rows
// or vectors examined; when absent, ExecuteQuery falls back to the
// documented result_count*2 heuristic.
type Executor func(params Params) (Result, error)

// Result is an executor's return value. Count is the logical result count
// (e.g. len(rows)); a non-collection result should set Count to 1.
type Result struct {
	Value     interface{}
	Count     int
	ScanCount int // 0 means "not supplied"; see ExecuteQuery's fallback rule
}

// Options are the optimization knobs, composed as defaults ⊕ overrides.
type Options struct {
	UseCache             bool
	UseIndexes           bool
	LimitScan            bool
	MaxScanCount         int
	AdaptiveOptimization bool
}

// DefaultOptions mirrors query_optimizer.py's QueryOptimizer.default_optimizations.
func DefaultOptions() Options {
	return Options{
		UseCache:             true,
		UseIndexes:           true,
		LimitScan:            true,
		MaxScanCount:         10000,
		AdaptiveOptimization: true,
	}
}

// Overrides carries only the knobs a caller actually wants to adjust for one
// call. Unlike Options, whose bool fields have no way to express "leave this
// alone" (a zero-value Options forces every bool to false), every field here
// is a pointer: nil means "inherit the base value," matching spec §4.7's
// "effective options = defaults ⊕ overrides."
type Overrides struct {
	UseCache             *bool
	UseIndexes           *bool
	LimitScan            *bool
	MaxScanCount         *int
	AdaptiveOptimization *bool
}

func mergeOptions(base Options, overrides *Overrides) Options {
	if overrides == nil {
		return base
	}
	out := base
	if overrides.UseCache != nil {
		out.UseCache = *overrides.UseCache
	}
	if overrides.UseIndexes != nil {
		out.UseIndexes = *overrides.UseIndexes
	}
	if overrides.LimitScan != nil {
		out.LimitScan = *overrides.LimitScan
	}
	if overrides.MaxScanCount != nil {
		out.MaxScanCount = *overrides.MaxScanCount
	}
	if overrides.AdaptiveOptimization != nil {
		out.AdaptiveOptimization = *overrides.AdaptiveOptimization
	}
	return out
}

// Plan is the optimization output: the original and optimized parameter
// sets, which indexes (if any) were selected, and bookkeeping fields.
type Plan struct {
	QueryID         string
	Kind            string
	OriginalParams  Params
	OptimizedParams Params
	Indexes         []string
	OptimizationTimeMs float64
	Extra           map[string]interface{} // e.g. vector_specific, path_plan
}

// QueryOptimizer is the base optimizer: plan construction, index selection,
// adaptive scan-limit tightening, caching, and metrics recording.
//
// Grounded on query_optimizer.py's QueryOptimizer base class.
type QueryOptimizer struct {
	Options  Options
	Registry *IndexRegistry
	Cache    *LRUQueryCache
	Stats    *QueryStatsCollector
	log      *logging.Logger

	group singleflight.Group
}

// NewQueryOptimizer builds a base optimizer. cacheMaxSize <= 0 falls back to
// LRUQueryCache's own default.
func NewQueryOptimizer(registry *IndexRegistry, cacheMaxSize int, log *logging.Logger) *QueryOptimizer {
	return &QueryOptimizer{
		Options:  DefaultOptions(),
		Registry: registry,
		Cache:    NewLRUQueryCache(cacheMaxSize),
		Stats:    NewQueryStatsCollector(0),
		log:      log,
	}
}

// OptimizeQuery builds a Plan for (kind, params) under the effective options.
func (o *QueryOptimizer) OptimizeQuery(kind string, params Params, overrides *Overrides) *Plan {
	start := time.Now()
	opts := mergeOptions(o.Options, overrides)

	optimized := make(Params, len(params))
	for k, v := range params {
		optimized[k] = v
	}

	plan := &Plan{
		QueryID:         queryID(kind, params),
		Kind:            kind,
		OriginalParams:  params,
		OptimizedParams: optimized,
	}

	if opts.UseIndexes && o.Registry != nil {
		candidates := o.Registry.FindIndexesForQuery(kind, params)
		if chosen := chooseBestIndex(kind, params, candidates); chosen != nil {
			plan.Indexes = []string{chosen.Name}
			optimized["use_index"] = chosen.Name
		}
	}

	if opts.AdaptiveOptimization && o.Stats != nil {
		if avg, ok := o.Stats.AverageDurationMs(kind); ok && avg > 500 {
			if opts.MaxScanCount > 1000 {
				opts.MaxScanCount = 1000
				if o.log != nil {
					o.log.Debug("adaptive scan tightening applied", "kind", kind, "avg_duration_ms", avg, "max_scan_count", opts.MaxScanCount)
				}
			}
		}
	}
	optimized["max_scan_count"] = opts.MaxScanCount

	plan.OptimizationTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	return plan
}

// chooseBestIndex implements _choose_best_index's per-kind preference rules.
func chooseBestIndex(kind string, params Params, candidates []*IndexDescriptor) *IndexDescriptor {
	if len(candidates) == 0 {
		return nil
	}

	switch kind {
	case "vector":
		if dim, ok := asFloat(params["dimension"]); ok {
			for _, idx := range candidates {
				if idx.Kind != IndexKindVector {
					continue
				}
				if mdim, ok := asFloat(idx.Metadata["dimension"]); ok && mdim == dim {
					return idx
				}
			}
		}
		for _, idx := range candidates {
			if idx.Kind == IndexKindVector {
				return idx
			}
		}
		return candidates[0]

	case "property":
		for _, idx := range candidates {
			if idx.Kind == IndexKindBTree {
				return idx
			}
		}
		return candidates[0]

	case "graph":
		for _, idx := range candidates {
			if idx.Kind == IndexKindGraph {
				return idx
			}
		}
		return candidates[0]

	default:
		return candidates[0]
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// ExecuteQuery checks the cache, plans on a miss, invokes executor exactly
// once per distinct concurrent miss (via singleflight), and always records
// metrics — even on executor failure, where the error is re-raised to the
// caller after recording.
func (o *QueryOptimizer) ExecuteQuery(kind string, params Params, executor Executor, overrides *Overrides) (interface{}, *QueryMetrics, error) {
	opts := mergeOptions(o.Options, overrides)
	qid := queryID(kind, params)
	metrics := NewQueryMetrics(qid, kind)

	if opts.UseCache {
		if cached, hit := o.Cache.Get(kind, params); hit {
			count := resultCollectionLen(cached)
			metrics.Complete(count, 0, false, "", nil)
			metrics.CacheHit = true
			if o.Stats != nil {
				o.Stats.RecordQuery(metrics)
			}
			return cached, metrics, nil
		}
	}

	plan := o.OptimizeQuery(kind, params, overrides)
	metrics.ExecutionPlan = map[string]interface{}{
		"query_id": plan.QueryID,
		"indexes":  plan.Indexes,
	}

	sfResult, err, _ := o.group.Do(qid, func() (interface{}, error) {
		return executor(plan.OptimizedParams)
	})

	if err != nil {
		metrics.Complete(0, 0, len(plan.Indexes) > 0, firstOrEmpty(plan.Indexes), err)
		if o.Stats != nil {
			o.Stats.RecordQuery(metrics)
		}
		return nil, metrics, fmt.Errorf("query executor failed for kind %q: %w", kind, err)
	}

	result := sfResult.(Result)
	resultCount := result.Count
	scanCount := result.ScanCount
	if scanCount == 0 {
		scanCount = resultCount * 2
	}

	metrics.Complete(resultCount, scanCount, len(plan.Indexes) > 0, firstOrEmpty(plan.Indexes), nil)
	if o.Stats != nil {
		o.Stats.RecordQuery(metrics)
	}

	if opts.UseCache {
		o.Cache.Put(kind, params, result.Value)
	}

	return result.Value, metrics, nil
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func resultCollectionLen(v interface{}) int {
	switch t := v.(type) {
	case []interface{}:
		return len(t)
	case nil:
		return 0
	default:
		return 1
	}
}
