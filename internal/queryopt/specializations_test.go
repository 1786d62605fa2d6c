package queryopt

import "testing"

func TestVectorSearchExactBelowDimThreshold(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	vec := NewVectorIndexOptimizer(opt)

	plan := vec.OptimizeVectorSearch(Params{"dimension": float64(32)}, nil)
	if plan.OptimizedParams["exact_search"] != true {
		t.Fatalf("expected exact_search true for dimension below threshold, got %v", plan.OptimizedParams["exact_search"])
	}

	plan = vec.OptimizeVectorSearch(Params{"dimension": float64(768)}, nil)
	if plan.OptimizedParams["exact_search"] != false {
		t.Fatalf("expected exact_search false for dimension above threshold, got %v", plan.OptimizedParams["exact_search"])
	}
	specific := plan.Extra["vector_specific"].(map[string]interface{})
	if specific["ef_search"] != 200 {
		t.Fatalf("expected curated ef_search=200 for dim 768, got %v", specific["ef_search"])
	}
}

func TestTuneVectorIndexParamsNarrowsAndWidens(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	vec := NewVectorIndexOptimizer(opt)

	tuned := vec.TuneVectorIndexParams(128, VectorSearchMetrics{AvgSearchTimeMs: 15, Accuracy: 0.99})
	if tuned.EfSearch != 80 {
		t.Fatalf("expected ef_search narrowed to 80 (100-20), got %d", tuned.EfSearch)
	}

	for i := 0; i < 5; i++ {
		tuned = vec.TuneVectorIndexParams(128, VectorSearchMetrics{AvgSearchTimeMs: 15, Accuracy: 0.99})
	}
	if tuned.EfSearch != 40 {
		t.Fatalf("expected ef_search floored at 40, got %d", tuned.EfSearch)
	}

	tuned = vec.TuneVectorIndexParams(256, VectorSearchMetrics{AvgSearchTimeMs: 2, Accuracy: 0.5})
	if tuned.EfSearch != 140 {
		t.Fatalf("expected ef_search widened to 140 (120+20), got %d", tuned.EfSearch)
	}
}

func TestVectorIndexOptimizerInstancesDoNotShareState(t *testing.T) {
	optA := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	optB := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	vecA := NewVectorIndexOptimizer(optA)
	vecB := NewVectorIndexOptimizer(optB)

	vecA.TuneVectorIndexParams(128, VectorSearchMetrics{AvgSearchTimeMs: 15, Accuracy: 0.99})

	tunedB := vecB.paramsForDim(128)
	if tunedB.EfSearch != 100 {
		t.Fatalf("expected vecB's table to be untouched by vecA's tuning, got %d", tunedB.EfSearch)
	}
}

func TestGraphQueryDepthCapping(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	graph := NewKnowledgeGraphQueryOptimizer(opt, 10)

	plan := graph.OptimizeGraphQuery(Params{"max_depth": float64(10)}, nil)
	if plan.OptimizedParams["max_depth"] != defaultMaxTraverseDepth {
		t.Fatalf("expected depth capped at %d, got %v", defaultMaxTraverseDepth, plan.OptimizedParams["max_depth"])
	}

	pathPlan := plan.Extra["path_plan"].([]map[string]interface{})
	if len(pathPlan) != defaultMaxTraverseDepth {
		t.Fatalf("expected %d path plan entries, got %d", defaultMaxTraverseDepth, len(pathPlan))
	}
}

func TestGraphQueryCostUsesRelationshipWeights(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	graph := NewKnowledgeGraphQueryOptimizer(opt, 10)
	graph.UpdateRelationshipCosts(map[string]float64{"KNOWS": 2.5})

	plan := graph.OptimizeGraphQuery(Params{
		"max_depth":           float64(1),
		"start_node_type":     "Person",
		"relationship_types": []interface{}{"KNOWS"},
	}, nil)

	pathPlan := plan.Extra["path_plan"].([]map[string]interface{})
	if pathPlan[0]["estimated_cost"] != 2.5 {
		t.Fatalf("expected estimated_cost 2.5 from custom relationship weight, got %v", pathPlan[0]["estimated_cost"])
	}
}

func TestGraphPatternCacheHitFabricatesMetrics(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	graph := NewKnowledgeGraphQueryOptimizer(opt, 10)

	calls := 0
	executor := func(Params) (Result, error) {
		calls++
		return Result{Value: []interface{}{"a", "b"}, Count: 2}, nil
	}

	params := Params{"start_node_type": "Person"}
	_, m1, err := graph.ExecuteGraphQuery(params, executor, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m1.CacheHit {
		t.Fatalf("expected first graph execution to be a cache miss")
	}

	_, m2, err := graph.ExecuteGraphQuery(params, executor, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m2.CacheHit {
		t.Fatalf("expected pattern cache hit on second identical graph query")
	}
	if calls != 1 {
		t.Fatalf("expected executor invoked once, got %d", calls)
	}
}

func TestHybridAdaptiveWeightShift(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	vec := NewVectorIndexOptimizer(opt)
	graph := NewKnowledgeGraphQueryOptimizer(opt, 10)
	hybrid := NewHybridQueryOptimizer(vec, graph)

	for i := 0; i < 3; i++ {
		vm := NewQueryMetrics("v", "vector")
		vm.DurationMs = 10
		opt.Stats.RecordQuery(vm)

		gm := NewQueryMetrics("g", "graph")
		gm.DurationMs = 100
		opt.Stats.RecordQuery(gm)
	}

	wVector, wGraph := hybrid.computeAdaptiveWeights()
	expected := defaultVectorWeight * adaptiveShiftFactor
	if wVector != expected {
		t.Fatalf("expected vector weight shifted to %v, got %v", expected, wVector)
	}
	if wVector+wGraph != 1 {
		t.Fatalf("expected weights to sum to 1, got %v + %v", wVector, wGraph)
	}
}

func TestHybridWeightClampedToBounds(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	vec := NewVectorIndexOptimizer(opt)
	graph := NewKnowledgeGraphQueryOptimizer(opt, 10)
	hybrid := NewHybridQueryOptimizer(vec, graph)
	hybrid.MaxVectorWeight = 0.65

	for i := 0; i < 3; i++ {
		vm := NewQueryMetrics("v", "vector")
		vm.DurationMs = 1
		opt.Stats.RecordQuery(vm)

		gm := NewQueryMetrics("g", "graph")
		gm.DurationMs = 1000
		opt.Stats.RecordQuery(gm)
	}

	wVector, _ := hybrid.computeAdaptiveWeights()
	if wVector != 0.65 {
		t.Fatalf("expected vector weight clamped to MaxVectorWeight 0.65, got %v", wVector)
	}
}

func TestHybridExecuteMergesBothComponents(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	vec := NewVectorIndexOptimizer(opt)
	graph := NewKnowledgeGraphQueryOptimizer(opt, 10)
	hybrid := NewHybridQueryOptimizer(vec, graph)

	params := Params{
		"vector_component": map[string]interface{}{"dimension": float64(128)},
		"graph_component":  map[string]interface{}{"start_node_type": "Person"},
	}

	vectorExec := func(Params) (Result, error) { return Result{Value: "vector-hits", Count: 3}, nil }
	graphExec := func(Params) (Result, error) { return Result{Value: "graph-hits", Count: 2}, nil }
	merge := func(v, g interface{}, wv, wg float64) interface{} {
		return map[string]interface{}{"vector": v, "graph": g}
	}

	merged, metrics, err := hybrid.ExecuteHybridQuery(params, vectorExec, graphExec, merge, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := merged.(map[string]interface{})
	if result["vector"] != "vector-hits" || result["graph"] != "graph-hits" {
		t.Fatalf("expected merged result to carry both components, got %v", result)
	}
	if metrics.QueryType != "hybrid" {
		t.Fatalf("expected hybrid metrics query type, got %q", metrics.QueryType)
	}
}
