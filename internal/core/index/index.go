// Package index defines the document store seam every enriched, study and cache index goes through
package index

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Document is one flat enriched document
type Document = map[string]any

// Hit is one stored document read back from an index
type Hit struct {
	ID     string
	Source Document
}

// Order is a sort direction
type Order int

const (
	// Asc sorts ascending
	Asc Order = iota
	// Desc sorts descending
	Desc
)

// Sort names a field and direction
type Sort struct {
	Field string
	Order Order
}

// Range bounds a field; nil bounds are open
type Range struct {
	Field string
	GTE   any
	LT    any
}

// Query is the small read surface the pipeline needs: exact term filters,
// optional range filters and a sort. The zero Query matches every document
type Query struct {
	Terms  map[string]any
	Ranges []Range
	Sort   []Sort
}

// MatchAll returns the zero query
func MatchAll() Query { return Query{} }

// Term returns a query with one exact filter
func Term(field string, v any) Query {
	return Query{Terms: map[string]any{field: v}}
}

// SortedBy returns q with an extra sort key
func (q Query) SortedBy(field string, o Order) Query {
	q.Sort = append(append([]Sort(nil), q.Sort...), Sort{Field: field, Order: o})
	return q
}

// Between returns q with an extra range filter
func (q Query) Between(field string, gte, lt any) Query {
	q.Ranges = append(append([]Range(nil), q.Ranges...), Range{Field: field, GTE: gte, LT: lt})
	return q
}

// TermFields returns the term filter keys in a stable order
func (q Query) TermFields() []string {
	keys := make([]string, 0, len(q.Terms))
	for k := range q.Terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FieldType is the storage type of a mapped field
type FieldType string

// Field types understood by the stores
const (
	Keyword  FieldType = "keyword"
	Text     FieldType = "text"
	GeoPoint FieldType = "geo_point"
	Date     FieldType = "date"
	Double   FieldType = "double"
	Long     FieldType = "long"
	Boolean  FieldType = "boolean"
)

// Valid reports whether t is a known field type
func (t FieldType) Valid() bool {
	switch t {
	case Keyword, Text, GeoPoint, Date, Double, Long, Boolean:
		return true
	}
	return false
}

// Mapping declares field types for an index; unmapped fields are stored as is
type Mapping map[string]FieldType

// Merge returns a new mapping with other layered over m
func (m Mapping) Merge(other Mapping) Mapping {
	out := make(Mapping, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Fields returns mapped field names of type t, sorted
func (m Mapping) Fields(t FieldType) []string {
	var out []string
	for k, v := range m {
		if v == t {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Validate rejects unknown types and blank names
func (m Mapping) Validate() error {
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("mapping: blank field name")
		}
		if !v.Valid() {
			return fmt.Errorf("mapping: field %q has unknown type %q", k, v)
		}
	}
	return nil
}

// Store is the index seam. BulkIndex upserts by the value of idField and returns
// how many documents the store accepted; a partial failure returns the accepted
// count with a nil error. Search on a missing index returns no hits
type Store interface {
	Search(ctx context.Context, index string, q Query, size, from int) ([]Hit, error)
	BulkIndex(ctx context.Context, index string, docs []Document, idField string) (int, error)
	PutMapping(ctx context.Context, index string, m Mapping) error
}

// DocID returns the string form of the id field or "" when absent
func DocID(d Document, idField string) string {
	v, ok := d[idField]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
