package queryopt

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// IndexKind is the closed set of index categories IndexRegistry tracks.
type IndexKind string

const (
	IndexKindBTree IndexKind = "btree"
	IndexKindHash  IndexKind = "hash"
	IndexKindVector IndexKind = "vector"
	IndexKindGraph IndexKind = "graph"
)

// IndexDescriptor is a catalog entry: a named index, its kind, the ordered
// set of fields it covers, and arbitrary metadata (e.g. vector dimension).
type IndexDescriptor struct {
	Name      string
	Kind      IndexKind
	Fields    []string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// IndexRegistry is a mutex-guarded catalog of named indexes.
//
// Grounded on query_optimizer.py's IndexRegistry.
type IndexRegistry struct {
	mu      sync.Mutex
	indexes map[string]*IndexDescriptor
}

// NewIndexRegistry constructs an empty registry.
func NewIndexRegistry() *IndexRegistry {
	return &IndexRegistry{indexes: make(map[string]*IndexDescriptor)}
}

// RegisterIndex adds or silently overwrites a named index.
func (r *IndexRegistry) RegisterIndex(name string, kind IndexKind, fields []string, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.indexes[name] = &IndexDescriptor{
		Name:      name,
		Kind:      kind,
		Fields:    append([]string(nil), fields...),
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// UnregisterIndex removes a named index, reporting whether it existed.
func (r *IndexRegistry) UnregisterIndex(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[name]; !ok {
		return false
	}
	delete(r.indexes, name)
	return true
}

// GetIndex looks up a single index by name.
func (r *IndexRegistry) GetIndex(name string) (*IndexDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[name]
	return idx, ok
}

// FindIndexesForFields returns every index whose covered fields are a
// superset of the requested fields.
func (r *IndexRegistry) FindIndexesForFields(fields []string) []*IndexDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*IndexDescriptor
	for _, idx := range r.indexes {
		if coversAll(idx.Fields, fields) {
			out = append(out, idx)
		}
	}
	return out
}

func coversAll(covered, requested []string) bool {
	return lo.EveryBy(requested, func(f string) bool {
		return lo.Contains(covered, f)
	})
}

// FindIndexesForQuery dispatches by kind: vector indexes are all returned
// (dimension matching happens in the vector specialization); property and
// graph kinds derive a field set from params and delegate to
// FindIndexesForFields.
func (r *IndexRegistry) FindIndexesForQuery(kind string, params Params) []*IndexDescriptor {
	switch kind {
	case "vector":
		r.mu.Lock()
		defer r.mu.Unlock()
		var out []*IndexDescriptor
		for _, idx := range r.indexes {
			if idx.Kind == IndexKindVector {
				out = append(out, idx)
			}
		}
		return out

	case "property":
		return r.FindIndexesForFields(fieldsFromFilters(params))

	case "graph":
		return r.FindIndexesForFields(fieldsFromGraphParams(params))

	default:
		return nil
	}
}

// GetAllIndexes returns the full catalog.
func (r *IndexRegistry) GetAllIndexes() []*IndexDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*IndexDescriptor, 0, len(r.indexes))
	for _, idx := range r.indexes {
		out = append(out, idx)
	}
	return out
}

func fieldsFromFilters(params Params) []string {
	raw, ok := params["filters"]
	if !ok {
		return nil
	}
	filters, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var fields []string
	for _, f := range filters {
		m, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		if field, ok := m["field"].(string); ok {
			fields = append(fields, field)
		}
	}
	return fields
}

func fieldsFromGraphParams(params Params) []string {
	var fields []string
	if startType, ok := params["start_node_type"].(string); ok && startType != "" {
		fields = append(fields, startType)
	}
	if rels, ok := params["relationship_types"].([]interface{}); ok {
		for _, r := range rels {
			if s, ok := r.(string); ok {
				fields = append(fields, s)
			}
		}
	}
	return fields
}
