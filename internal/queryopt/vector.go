package queryopt

import "sync"

// vectorIndexParams holds the tuned ef_search/ef_construction/m triple for
// a given dimension.
type vectorIndexParams struct {
	EfSearch       int
	EfConstruction int
	M              int
}

// defaultCuratedVectorDims is the dimension -> (ef_search, ef_construction,
// m) table for dimensions the source tunes explicitly, used to seed each
// VectorIndexOptimizer's own copy.
//
// Grounded on query_optimizer.py's VectorIndexOptimizer.vector_index_settings.
func defaultCuratedVectorDims() map[int]vectorIndexParams {
	return map[int]vectorIndexParams{
		128:  {EfSearch: 100, EfConstruction: 200, M: 16},
		256:  {EfSearch: 120, EfConstruction: 200, M: 16},
		384:  {EfSearch: 150, EfConstruction: 200, M: 24},
		512:  {EfSearch: 180, EfConstruction: 250, M: 24},
		768:  {EfSearch: 200, EfConstruction: 300, M: 32},
		1024: {EfSearch: 220, EfConstruction: 300, M: 32},
		1536: {EfSearch: 250, EfConstruction: 350, M: 48},
	}
}

const (
	defaultVectorParamsEfSearch       = 100
	defaultVectorParamsEfConstruction = 200
	defaultVectorParamsM              = 16

	preferExactSearchBelowDim = 50
)

// VectorIndexOptimizer specializes the base optimizer for vector-similarity
// search, tuning ef_search/exact-vs-approximate decisions by dimension.
//
// Grounded on query_optimizer.py's VectorIndexOptimizer; borrows (does not
// own) the base optimizer per the hybrid optimizer's shared-root design.
type VectorIndexOptimizer struct {
	Base *QueryOptimizer

	mu    sync.Mutex
	byDim map[int]vectorIndexParams
}

func NewVectorIndexOptimizer(base *QueryOptimizer) *VectorIndexOptimizer {
	return &VectorIndexOptimizer{Base: base, byDim: defaultCuratedVectorDims()}
}

func (v *VectorIndexOptimizer) paramsForDim(dim int) vectorIndexParams {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.byDim[dim]; ok {
		return p
	}
	return vectorIndexParams{
		EfSearch:       defaultVectorParamsEfSearch,
		EfConstruction: defaultVectorParamsEfConstruction,
		M:              defaultVectorParamsM,
	}
}

// OptimizeVectorSearch defers to the base optimizer, then augments the plan
// with exact_search/ef_search/ef_construction/m under a vector_specific key.
func (v *VectorIndexOptimizer) OptimizeVectorSearch(params Params, overrides *Overrides) *Plan {
	plan := v.Base.OptimizeQuery("vector", params, overrides)

	dim := 0
	if d, ok := asFloat(params["dimension"]); ok {
		dim = int(d)
	}

	exactSearch := dim > 0 && dim <= preferExactSearchBelowDim
	tuned := v.paramsForDim(dim)

	plan.OptimizedParams["exact_search"] = exactSearch
	plan.OptimizedParams["ef_search"] = tuned.EfSearch

	plan.Extra = map[string]interface{}{
		"vector_specific": map[string]interface{}{
			"dimension":       dim,
			"exact_search":    exactSearch,
			"ef_search":       tuned.EfSearch,
			"ef_construction": tuned.EfConstruction,
			"m":               tuned.M,
		},
	}
	return plan
}

// ExecuteVectorSearch passes through to the base executor with the
// vector-augmented plan's params, so exact_search/ef_search reach the
// executor instead of the caller's raw params.
func (v *VectorIndexOptimizer) ExecuteVectorSearch(params Params, executor Executor, overrides *Overrides) (interface{}, *QueryMetrics, error) {
	plan := v.OptimizeVectorSearch(params, overrides)
	return v.Base.ExecuteQuery("vector", plan.OptimizedParams, executor, overrides)
}

// VectorSearchMetrics is the minimal shape TuneVectorIndexParams consults.
type VectorSearchMetrics struct {
	AvgSearchTimeMs float64
	Accuracy        float64
}

// TuneVectorIndexParams adjusts this optimizer's table in place for dim
// based on observed accuracy/latency, per query_optimizer.py's
// tune_vector_index_params thresholds.
func (v *VectorIndexOptimizer) TuneVectorIndexParams(dim int, metrics VectorSearchMetrics) vectorIndexParams {
	params := v.paramsForDim(dim)

	switch {
	case metrics.AvgSearchTimeMs > 10 && metrics.Accuracy > 0.95:
		params.EfSearch -= 20
		if params.EfSearch < 40 {
			params.EfSearch = 40
		}
	case metrics.Accuracy < 0.9 && metrics.AvgSearchTimeMs < 5:
		params.EfSearch += 20
		if params.EfSearch > 400 {
			params.EfSearch = 400
		}
	}

	v.mu.Lock()
	v.byDim[dim] = params
	v.mu.Unlock()
	return params
}
