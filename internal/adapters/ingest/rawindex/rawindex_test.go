package rawindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"enrichd/internal/core/index"
	perr "enrichd/internal/platform/errors"
)

func seed(t *testing.T, n int) *index.Memory {
	t.Helper()
	m := index.NewMemory()
	docs := make([]index.Document, 0, n)
	for i := n - 1; i >= 0; i-- {
		d := index.Document{
			"uuid":                fmt.Sprintf("u%03d", i),
			"origin":              "https://github.com/chaoss/grimoirelab",
			"metadata__timestamp": float64(1490000000 + i),
			"data":                map[string]any{"id": i},
		}
		if i == 7 {
			delete(d, "data")
		}
		docs = append(docs, d)
	}
	if _, err := m.BulkIndex(context.Background(), "raw", docs, "uuid"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func TestReaderPagesInTimestampOrder(t *testing.T) {
	r := New(seed(t, 25), Options{Index: "raw", PageSize: 10})
	ctx := context.Background()

	var got []string
	bad := 0
	for {
		rec, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !perr.IsCode(err, perr.ErrorCodeStructural) {
				t.Fatalf("Next err = %v", err)
			}
			bad++
			continue
		}
		got = append(got, rec.UUID)
	}
	if len(got) != 24 || bad != 1 {
		t.Fatalf("records = %d bad = %d, want 24 and 1", len(got), bad)
	}
	if got[0] != "u000" || got[23] != "u024" {
		t.Fatalf("order = %s..%s", got[0], got[23])
	}
	if r.Read() != 25 {
		t.Fatalf("Read = %d, want 25", r.Read())
	}
}

func TestReaderSince(t *testing.T) {
	r := New(seed(t, 25), Options{Index: "raw", PageSize: 100, Since: float64(1490000020)})
	n := 0
	for {
		_, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		n++
	}
	if n != 5 {
		t.Fatalf("records since = %d, want 5", n)
	}
}

func TestReaderMissingIndex(t *testing.T) {
	r := New(index.NewMemory(), Options{Index: "none"})
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next on a missing index = %v, want io.EOF", err)
	}
}
