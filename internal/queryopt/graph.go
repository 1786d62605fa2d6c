package queryopt

import "sync"

const (
	defaultMaxTraverseDepth       = 3
	defaultBatchSizeForPathQueries = 50
	defaultMaxPatternCacheSize     = 100
	defaultRelationshipCost        = 1.0
)

// KnowledgeGraphQueryOptimizer specializes the base optimizer for graph
// traversal queries: depth capping, per-relationship cost weighting, entity
// priorities, and a pattern-result cache distinct from the base's result
// cache.
//
// Grounded on query_optimizer.py's KnowledgeGraphQueryOptimizer; borrows
// (does not own) the base optimizer.
type KnowledgeGraphQueryOptimizer struct {
	Base *QueryOptimizer

	MaxTraverseDepth        int
	BatchSizeForPathQueries int
	CacheFrequentPatterns   bool
	PatternCache            *LRUQueryCache

	mu                sync.Mutex
	relationshipCosts map[string]float64
	entityPriorities  map[string]int
}

func NewKnowledgeGraphQueryOptimizer(base *QueryOptimizer, maxPatternCacheSize int) *KnowledgeGraphQueryOptimizer {
	if maxPatternCacheSize <= 0 {
		maxPatternCacheSize = defaultMaxPatternCacheSize
	}
	return &KnowledgeGraphQueryOptimizer{
		Base:                    base,
		MaxTraverseDepth:        defaultMaxTraverseDepth,
		BatchSizeForPathQueries: defaultBatchSizeForPathQueries,
		CacheFrequentPatterns:   true,
		PatternCache:            NewLRUQueryCache(maxPatternCacheSize),
		relationshipCosts:       make(map[string]float64),
		entityPriorities:        make(map[string]int),
	}
}

func (g *KnowledgeGraphQueryOptimizer) relCost(kind string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.relationshipCosts[kind]; ok {
		return c
	}
	return defaultRelationshipCost
}

// OptimizeGraphQuery caps requested depth at MaxTraverseDepth, synthesizes a
// per-depth path_plan, and augments optimized params with max_depth,
// path_plan, and batch_size.
func (g *KnowledgeGraphQueryOptimizer) OptimizeGraphQuery(params Params, overrides *Overrides) *Plan {
	plan := g.Base.OptimizeQuery("graph", params, overrides)

	requestedDepth := g.MaxTraverseDepth
	if d, ok := asFloat(params["max_depth"]); ok {
		requestedDepth = int(d)
	}
	if requestedDepth > g.MaxTraverseDepth {
		requestedDepth = g.MaxTraverseDepth
	}
	if requestedDepth < 1 {
		requestedDepth = 1
	}

	var relTypes []string
	if raw, ok := params["relationship_types"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				relTypes = append(relTypes, s)
			}
		}
	}
	_, hasStartType := params["start_node_type"]

	pathPlan := make([]map[string]interface{}, 0, requestedDepth)
	for depth := 1; depth <= requestedDepth; depth++ {
		var cost float64
		if hasStartType && len(relTypes) > 0 {
			for _, rt := range relTypes {
				cost += g.relCost(rt)
			}
		} else {
			cost = defaultRelationshipCost * float64(depth)
		}
		pathPlan = append(pathPlan, map[string]interface{}{
			"depth":          depth,
			"estimated_cost": cost,
		})
	}

	plan.OptimizedParams["max_depth"] = requestedDepth
	plan.OptimizedParams["batch_size"] = g.BatchSizeForPathQueries
	plan.OptimizedParams["path_plan"] = pathPlan
	plan.Extra = map[string]interface{}{
		"path_plan": pathPlan,
	}
	return plan
}

// ExecuteGraphQuery checks the pattern cache first, fabricating a
// cache-hit QueryMetrics recorded through the shared base collector on hit;
// otherwise delegates to the base executor and caches the result when
// caching is enabled and no error occurred.
func (g *KnowledgeGraphQueryOptimizer) ExecuteGraphQuery(params Params, executor Executor, overrides *Overrides) (interface{}, *QueryMetrics, error) {
	qid := queryID("graph", params)

	if g.CacheFrequentPatterns {
		if cached, hit := g.PatternCache.Get("graph", params); hit {
			metrics := NewQueryMetrics(qid, "graph")
			metrics.Complete(resultCollectionLen(cached), 0, false, "", nil)
			metrics.CacheHit = true
			if g.Base.Stats != nil {
				g.Base.Stats.RecordQuery(metrics)
			}
			return cached, metrics, nil
		}
	}

	value, metrics, err := g.Base.ExecuteQuery("graph", params, executor, overrides)
	if err == nil && g.CacheFrequentPatterns {
		g.PatternCache.Put("graph", params, value)
	}
	return value, metrics, err
}

// UpdateRelationshipCosts merges the given costs into the cost table.
func (g *KnowledgeGraphQueryOptimizer) UpdateRelationshipCosts(costs map[string]float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, v := range costs {
		g.relationshipCosts[k] = v
	}
}

// SetEntityTypePriority records an entity kind's traversal priority.
func (g *KnowledgeGraphQueryOptimizer) SetEntityTypePriority(kind string, priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entityPriorities[kind] = priority
}

// InvalidatePatternCache clears the pattern cache entirely.
func (g *KnowledgeGraphQueryOptimizer) InvalidatePatternCache() {
	g.PatternCache.Invalidate("")
}
