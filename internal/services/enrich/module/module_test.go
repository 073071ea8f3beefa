package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"enrichd/internal/adapters/ingest/rawfile"
	"enrichd/internal/adapters/ingest/rawindex"
	"enrichd/internal/modkit"
	"enrichd/internal/platform/config"
	"enrichd/internal/platform/store"
	"enrichd/internal/services/enrich/domain"
)

type stubPG struct{ store.TxRunner }

func TestFromConfigDefaults(t *testing.T) {
	o := FromConfig(config.New())
	if o.Kind != "github" || o.Backend != BackendPostgres {
		t.Fatalf("kind/backend = %s/%s", o.Kind, o.Backend)
	}
	if o.Index != "github_enriched" || o.RawIndex != "github_raw" {
		t.Fatalf("indexes = %s/%s", o.Index, o.RawIndex)
	}
	if o.MaxBulk != 1000 || o.Geo.Index != "github_geolocations" || o.Onion.WindowSeconds != 7884000 {
		t.Fatalf("defaults = %+v", o)
	}
}

func TestFromConfigGerritOrigin(t *testing.T) {
	t.Setenv("CORE_ENRICH_SOURCE", "gerrit")
	t.Setenv("CORE_ENRICH_BACKEND", "ch")
	t.Setenv("CORE_ENRICH_ORIGIN", "review.example.org --filter-raw=data.project:openstack/nova")
	t.Setenv("CORE_ENRICH_STUDIES", "onion, demography")

	o := FromConfig(config.New())
	if o.Kind != "gerrit" || o.Backend != BackendClickhouse || o.Index != "gerrit_enriched" {
		t.Fatalf("options = %+v", o)
	}
	if o.Origin != "review.example.org" || o.FilterRaw != "data.project:openstack/nova" {
		t.Fatalf("origin/filter = %q/%q", o.Origin, o.FilterRaw)
	}
	if len(o.Studies) != 2 || o.Studies[0] != "onion" {
		t.Fatalf("studies = %v", o.Studies)
	}
}

func TestNewWiringErrors(t *testing.T) {
	base := FromConfig(config.New())

	if _, err := New(modkit.Deps{}, base); err == nil {
		t.Fatalf("missing postgres seam should fail")
	}

	ch := base
	ch.Backend = BackendClickhouse
	if _, err := New(modkit.Deps{PG: stubPG{}}, ch); err == nil {
		t.Fatalf("missing clickhouse seam should fail")
	}

	idents := base
	idents.Identities = true
	if _, err := New(modkit.Deps{PG: stubPG{}}, idents); err == nil {
		t.Fatalf("identity resolution without a directory should fail")
	}

	geo := base
	geo.Geocode = true
	if _, err := New(modkit.Deps{PG: stubPG{}}, geo); err == nil {
		t.Fatalf("geocoding without an api key should fail")
	}
}

func TestOpenSource(t *testing.T) {
	o := FromConfig(config.New())
	m, err := New(modkit.Deps{PG: stubPG{}}, o, modkit.WithPorts(domain.Ports{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Name() != "enrich" {
		t.Fatalf("Name = %s", m.Name())
	}
	src, err := m.OpenSource(context.Background())
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	if _, ok := src.(*rawindex.Reader); !ok {
		t.Fatalf("source = %T, want raw index reader", src)
	}

	path := filepath.Join(t.TempDir(), "raw.jsonl")
	if err := os.WriteFile(path, []byte(`{"data":{"id":1}}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	o.RawFile = path
	m, err = New(modkit.Deps{PG: stubPG{}}, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src, err = m.OpenSource(context.Background())
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer func() { _ = src.Close() }()
	if _, ok := src.(*rawfile.Reader); !ok {
		t.Fatalf("source = %T, want raw file reader", src)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
