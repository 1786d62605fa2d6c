package queryopt

import "github.com/nexuslabs/docoptic/internal/logging"

// Stack is the full optimizer family sharing one base, one registry, and
// one stats collector — base/vector/graph/hybrid.
//
// Grounded on query_optimizer.py's create_query_optimizer() factory
// function, which returns {"base": ..., "vector": ..., "graph": ...,
// "hybrid": ...}.
type Stack struct {
	Base   *QueryOptimizer
	Vector *VectorIndexOptimizer
	Graph  *KnowledgeGraphQueryOptimizer
	Hybrid *HybridQueryOptimizer
}

// NewStack builds the full optimizer family. cacheMaxSize and
// patternCacheMaxSize size the base result cache and the graph pattern
// cache respectively.
func NewStack(registry *IndexRegistry, cacheMaxSize, patternCacheMaxSize int, log *logging.Logger) *Stack {
	base := NewQueryOptimizer(registry, cacheMaxSize, log)
	vector := NewVectorIndexOptimizer(base)
	graph := NewKnowledgeGraphQueryOptimizer(base, patternCacheMaxSize)
	hybrid := NewHybridQueryOptimizer(vector, graph)

	return &Stack{
		Base:   base,
		Vector: vector,
		Graph:  graph,
		Hybrid: hybrid,
	}
}
