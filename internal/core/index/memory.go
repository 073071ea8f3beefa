package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store used for dry runs and tests
type Memory struct {
	mu       sync.Mutex
	indexes  map[string]map[string]Document
	order    map[string][]string
	mappings map[string]Mapping
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		indexes:  map[string]map[string]Document{},
		order:    map[string][]string{},
		mappings: map[string]Mapping{},
	}
}

// PutMapping records m for index, merging with an earlier mapping
func (m *Memory) PutMapping(_ context.Context, index string, mp Mapping) error {
	if err := mp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[index] = m.mappings[index].Merge(mp)
	return nil
}

// MappingOf returns the mapping recorded for index
func (m *Memory) MappingOf(index string) Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings[index]
}

// BulkIndex upserts docs keyed by idField; documents without an id are skipped
func (m *Memory) BulkIndex(_ context.Context, index string, docs []Document, idField string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		idx = map[string]Document{}
		m.indexes[index] = idx
	}
	stored := 0
	for _, d := range docs {
		id := DocID(d, idField)
		if id == "" {
			continue
		}
		if _, seen := idx[id]; !seen {
			m.order[index] = append(m.order[index], id)
		}
		cp := make(Document, len(d))
		for k, v := range d {
			cp[k] = v
		}
		idx[id] = cp
		stored++
	}
	return stored, nil
}

// Search filters, sorts and pages documents; insertion order breaks sort ties
func (m *Memory) Search(_ context.Context, index string, q Query, size, from int) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexes[index]
	var hits []Hit
	for _, id := range m.order[index] {
		d := idx[id]
		if matches(d, q) {
			hits = append(hits, Hit{ID: id, Source: d})
		}
	}
	if len(q.Sort) > 0 {
		sort.SliceStable(hits, func(i, j int) bool {
			for _, s := range q.Sort {
				c := compare(hits[i].Source[s.Field], hits[j].Source[s.Field])
				if c == 0 {
					continue
				}
				if s.Order == Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if from >= len(hits) {
		return nil, nil
	}
	hits = hits[from:]
	if size > 0 && size < len(hits) {
		hits = hits[:size]
	}
	return hits, nil
}

// Len returns the number of documents in index
func (m *Memory) Len(index string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexes[index])
}

// Get returns the stored document with id
func (m *Memory) Get(index, id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.indexes[index][id]
	return d, ok
}

func matches(d Document, q Query) bool {
	for k, want := range q.Terms {
		if compare(d[k], want) != 0 {
			return false
		}
	}
	for _, r := range q.Ranges {
		v, ok := d[r.Field]
		if !ok || v == nil {
			return false
		}
		if r.GTE != nil && compare(v, r.GTE) < 0 {
			return false
		}
		if r.LT != nil && compare(v, r.LT) >= 0 {
			return false
		}
	}
	return true
}

// compare orders numbers numerically and everything else by string form; nil sorts first
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	}
	return 0, false
}

var _ Store = (*Memory)(nil)
