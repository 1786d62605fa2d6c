package queryopt

import (
	"errors"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	calls := 0
	executor := func(params Params) (Result, error) {
		calls++
		return Result{Value: []interface{}{1, 2, 3}, Count: 3}, nil
	}

	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)
	params := Params{"q": []interface{}{0.1, 0.2}, "top_k": float64(10), "dimension": float64(2)}

	_, m1, err := opt.ExecuteQuery("vector", params, executor, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m1.CacheHit {
		t.Fatalf("expected first call to be a cache miss")
	}
	if calls != 1 {
		t.Fatalf("expected executor called once, got %d", calls)
	}

	v2, m2, err := opt.ExecuteQuery("vector", params, executor, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m2.CacheHit {
		t.Fatalf("expected second call to be a cache hit")
	}
	if calls != 1 {
		t.Fatalf("expected executor not called again, got %d calls", calls)
	}
	result := v2.([]interface{})
	if len(result) != 3 {
		t.Fatalf("expected cached payload to be bit-identical, got %v", result)
	}
}

func TestIndexSelection(t *testing.T) {
	registry := NewIndexRegistry()
	registry.RegisterIndex("vector_index_128", IndexKindVector, nil, map[string]interface{}{"dimension": float64(128)})
	registry.RegisterIndex("entity_type_index", IndexKindBTree, []string{"type"}, nil)

	opt := NewQueryOptimizer(registry, 10, nil)

	vectorPlan := opt.OptimizeQuery("vector", Params{"dimension": float64(128)}, nil)
	if len(vectorPlan.Indexes) != 1 || vectorPlan.Indexes[0] != "vector_index_128" {
		t.Fatalf("expected vector_index_128 selected, got %v", vectorPlan.Indexes)
	}
	if vectorPlan.OptimizedParams["use_index"] != "vector_index_128" {
		t.Fatalf("expected use_index set, got %v", vectorPlan.OptimizedParams["use_index"])
	}

	propertyPlan := opt.OptimizeQuery("property", Params{
		"filters": []interface{}{
			map[string]interface{}{"field": "type", "op": "=", "value": "x"},
		},
	}, nil)
	if len(propertyPlan.Indexes) != 1 || propertyPlan.Indexes[0] != "entity_type_index" {
		t.Fatalf("expected entity_type_index selected, got %v", propertyPlan.Indexes)
	}
}

func TestAdaptiveTightening(t *testing.T) {
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)

	for i := 0; i < 3; i++ {
		m := NewQueryMetrics("seed", "property")
		m.DurationMs = 800
		opt.Stats.RecordQuery(m)
	}

	maxScanCount := 9999
	overrides := &Overrides{MaxScanCount: &maxScanCount}
	plan := opt.OptimizeQuery("property", Params{}, overrides)
	if got := plan.OptimizedParams["max_scan_count"]; got != 1000 {
		t.Fatalf("expected max_scan_count tightened to 1000, got %v", got)
	}
}

func TestDeterministicQueryID(t *testing.T) {
	params := Params{"b": 1, "a": 2}
	id1 := queryID("vector", params)
	id2 := queryID("vector", Params{"a": 2, "b": 1})
	if id1 != id2 {
		t.Fatalf("expected deterministic query id regardless of key order, got %q vs %q", id1, id2)
	}
}

func TestLRUEvictionBoundary(t *testing.T) {
	cache := NewLRUQueryCache(2)
	cache.Put("k", Params{"id": "a"}, "a")
	cache.Put("k", Params{"id": "b"}, "b")
	cache.Put("k", Params{"id": "c"}, "c")

	if cache.Size() != 2 {
		t.Fatalf("expected size 2, got %d", cache.Size())
	}
	if _, hit := cache.Get("k", Params{"id": "a"}); hit {
		t.Fatalf("expected eviction of oldest entry 'a'")
	}
	if _, hit := cache.Get("k", Params{"id": "b"}); !hit {
		t.Fatalf("expected 'b' to remain cached")
	}
	if _, hit := cache.Get("k", Params{"id": "c"}); !hit {
		t.Fatalf("expected 'c' to remain cached")
	}
}

func TestIndexRegistryRoundTrip(t *testing.T) {
	r := NewIndexRegistry()
	r.RegisterIndex("n1", IndexKindBTree, []string{"a"}, nil)
	if _, ok := r.GetIndex("n1"); !ok {
		t.Fatalf("expected to find n1")
	}
	if !r.UnregisterIndex("n1") {
		t.Fatalf("expected unregister to report true")
	}
	if _, ok := r.GetIndex("n1"); ok {
		t.Fatalf("expected n1 to be gone after unregister")
	}
}

func TestResetStats(t *testing.T) {
	collector := NewQueryStatsCollector(0)
	m := NewQueryMetrics("q1", "vector")
	m.Complete(1, 1, false, "", nil)
	collector.RecordQuery(m)

	collector.ResetStats()
	summary := collector.GetStatsSummary()
	if summary["total_queries"] != 0 {
		t.Fatalf("expected total_queries reset to 0, got %v", summary["total_queries"])
	}
}

func TestExecuteQueryRecordsMetricsOnError(t *testing.T) {
	boom := errors.New("executor exploded")
	opt := NewQueryOptimizer(NewIndexRegistry(), 10, nil)

	_, _, err := opt.ExecuteQuery("vector", Params{"q": "x"}, func(Params) (Result, error) {
		return Result{}, boom
	}, nil)
	if err == nil {
		t.Fatalf("expected error to be re-raised")
	}

	summary := opt.Stats.GetStatsSummary()
	if summary["total_queries"] != 1 {
		t.Fatalf("expected metrics to be recorded even on failure, got %v", summary["total_queries"])
	}
}
