package queryopt

import "sync"

const (
	defaultVectorWeight      = 0.6
	defaultGraphWeight       = 0.4
	defaultQueryContextSize  = 10
	adaptiveShiftFactor      = 1.2
)

// MergeFunc combines a vector-search result and a graph-traversal result
// weighted by (wVector, wGraph) into one unified payload.
type MergeFunc func(vectorResult, graphResult interface{}, wVector, wGraph float64) interface{}

// HybridQueryOptimizer composes a vector and a graph optimizer, blending
// their observed latencies into adaptive component weights.
//
// Grounded on query_optimizer.py's HybridQueryOptimizer, which shares one
// base optimizer instance across both specializations
// (self.query_optimizer = vector_optimizer.query_optimizer) — the cyclic
// reference the expansion's §9 note resolves by having both specializations
// borrow, not own, the base.
type HybridQueryOptimizer struct {
	Vector *VectorIndexOptimizer
	Graph  *KnowledgeGraphQueryOptimizer
	Base   *QueryOptimizer

	AdaptiveWeighting bool
	MinVectorWeight   float64
	MaxVectorWeight   float64

	mu      sync.Mutex
	history []float64 // rolling vector-weight history, most recent last
}

func NewHybridQueryOptimizer(vector *VectorIndexOptimizer, graph *KnowledgeGraphQueryOptimizer) *HybridQueryOptimizer {
	return &HybridQueryOptimizer{
		Vector:            vector,
		Graph:             graph,
		Base:              vector.Base,
		AdaptiveWeighting: true,
		MinVectorWeight:   0.3,
		MaxVectorWeight:   0.8,
	}
}

// HybridPlan is optimize_hybrid_query's output: per-component plans plus
// the blended weights used to merge their results.
type HybridPlan struct {
	VectorPlan *Plan
	GraphPlan  *Plan
	VectorWeight float64
	GraphWeight  float64
}

// OptimizeHybridQuery extracts vector_component/graph_component from params,
// plans each with its specialization, and computes adaptive weights.
func (h *HybridQueryOptimizer) OptimizeHybridQuery(params Params, overrides *Overrides) *HybridPlan {
	vectorParams, _ := params["vector_component"].(map[string]interface{})
	graphParams, _ := params["graph_component"].(map[string]interface{})

	vectorPlan := h.Vector.OptimizeVectorSearch(Params(vectorParams), overrides)
	graphPlan := h.Graph.OptimizeGraphQuery(Params(graphParams), overrides)

	wVector, wGraph := h.computeAdaptiveWeights()

	return &HybridPlan{
		VectorPlan:   vectorPlan,
		GraphPlan:    graphPlan,
		VectorWeight: wVector,
		GraphWeight:  wGraph,
	}
}

// computeAdaptiveWeights shifts the vector/graph split toward a component
// whose average duration is under half the other's, by adaptiveShiftFactor
// (otherwise the default split is kept), clamped to
// [MinVectorWeight, MaxVectorWeight], recording the chosen vector weight in
// a bounded rolling history.
func (h *HybridQueryOptimizer) computeAdaptiveWeights() (float64, float64) {
	wVector := defaultVectorWeight

	if h.AdaptiveWeighting && h.Base.Stats != nil {
		avgVector, okV := h.Base.Stats.AverageDurationMs("vector")
		avgGraph, okG := h.Base.Stats.AverageDurationMs("graph")

		if okV && okG && avgVector > 0 && avgGraph > 0 {
			switch {
			case avgVector < avgGraph*0.5:
				wVector = defaultVectorWeight * adaptiveShiftFactor
			case avgGraph < avgVector*0.5:
				wVector = defaultVectorWeight / adaptiveShiftFactor
			}
		}
	}

	if wVector < h.MinVectorWeight {
		wVector = h.MinVectorWeight
	}
	if wVector > h.MaxVectorWeight {
		wVector = h.MaxVectorWeight
	}

	h.mu.Lock()
	h.history = append(h.history, wVector)
	if len(h.history) > defaultQueryContextSize {
		h.history = h.history[len(h.history)-defaultQueryContextSize:]
	}
	h.mu.Unlock()

	return wVector, 1 - wVector
}

// ExecuteHybridQuery runs the vector then the graph component sequentially,
// merges their results via merge, and produces a unified metrics record.
func (h *HybridQueryOptimizer) ExecuteHybridQuery(params Params, vectorExec, graphExec Executor, merge MergeFunc, overrides *Overrides) (interface{}, *QueryMetrics, error) {
	plan := h.OptimizeHybridQuery(params, overrides)

	vectorValue, vectorMetrics, err := h.Vector.ExecuteVectorSearch(plan.VectorPlan.OptimizedParams, vectorExec, overrides)
	if err != nil {
		return nil, nil, err
	}

	graphValue, graphMetrics, err := h.Graph.ExecuteGraphQuery(plan.GraphPlan.OptimizedParams, graphExec, overrides)
	if err != nil {
		return nil, nil, err
	}

	merged := merge(vectorValue, graphValue, plan.VectorWeight, plan.GraphWeight)

	qid := queryID("hybrid", params)
	metrics := NewQueryMetrics(qid, "hybrid")
	metrics.Complete(
		resultCollectionLen(merged),
		vectorMetrics.ScanCount+graphMetrics.ScanCount,
		vectorMetrics.IndexUsed || graphMetrics.IndexUsed,
		firstNonEmpty(vectorMetrics.IndexName, graphMetrics.IndexName),
		nil,
	)
	metrics.ExecutionPlan = map[string]interface{}{
		"vector_weight": plan.VectorWeight,
		"graph_weight":  plan.GraphWeight,
		"vector_metrics": vectorMetrics,
		"graph_metrics":  graphMetrics,
	}
	if h.Base.Stats != nil {
		h.Base.Stats.RecordQuery(metrics)
	}

	return merged, metrics, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
