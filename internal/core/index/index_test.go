package index

import (
	"context"
	"testing"
)

func TestMappingValidateAndMerge(t *testing.T) {
	m := Mapping{"title": Text, "id": Keyword}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Mapping{"x": "nested"}).Validate(); err == nil {
		t.Fatalf("unknown type accepted")
	}
	if err := (Mapping{" ": Keyword}).Validate(); err == nil {
		t.Fatalf("blank field accepted")
	}
	merged := m.Merge(Mapping{"title": Keyword, "geo": GeoPoint})
	if merged["title"] != Keyword || merged["geo"] != GeoPoint || len(merged) != 3 {
		t.Fatalf("Merge = %v", merged)
	}
	if m["title"] != Text {
		t.Fatalf("Merge mutated receiver")
	}
	if got := merged.Fields(Keyword); len(got) != 2 || got[0] != "id" || got[1] != "title" {
		t.Fatalf("Fields = %v", got)
	}
}

func TestDocID(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"abc", "abc"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{7, "7"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := DocID(Document{"id": c.in}, "id"); got != c.want {
			t.Fatalf("DocID(%v) = %q, want %q", c.in, got, c.want)
		}
	}
	if DocID(Document{}, "id") != "" {
		t.Fatalf("missing id should be empty")
	}
}

func TestMemorySearch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	docs := []Document{
		{"id": "a", "author": "x", "n": 3},
		{"id": "b", "author": "y", "n": 1},
		{"id": "c", "author": "x", "n": 2},
		{"author": "no id"},
	}
	n, err := m.BulkIndex(ctx, "i", docs, "id")
	if err != nil || n != 3 {
		t.Fatalf("BulkIndex = %d, %v, want 3", n, err)
	}

	hits, _ := m.Search(ctx, "i", Term("author", "x").SortedBy("n", Asc), 0, 0)
	if len(hits) != 2 || hits[0].ID != "c" || hits[1].ID != "a" {
		t.Fatalf("term+sort hits = %v", hits)
	}

	hits, _ = m.Search(ctx, "i", MatchAll().Between("n", 2, 3), 10, 0)
	if len(hits) != 1 || hits[0].ID != "c" {
		t.Fatalf("range hits = %v", hits)
	}

	hits, _ = m.Search(ctx, "i", MatchAll(), 2, 2)
	if len(hits) != 1 || hits[0].ID != "c" {
		t.Fatalf("paged hits = %v", hits)
	}
	if hits, _ := m.Search(ctx, "missing", MatchAll(), 10, 0); len(hits) != 0 {
		t.Fatalf("missing index returned %v", hits)
	}

	// upsert keeps position and replaces the body
	_, _ = m.BulkIndex(ctx, "i", []Document{{"id": "a", "author": "z"}}, "id")
	if d, _ := m.Get("i", "a"); d["author"] != "z" || m.Len("i") != 3 {
		t.Fatalf("upsert failed: %v len=%d", d, m.Len("i"))
	}
}
