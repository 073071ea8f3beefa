package pgindex

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"enrichd/internal/core/index"
	"enrichd/internal/platform/store"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeTag int64

func (t fakeTag) String() string      { return "INSERT" }
func (t fakeTag) RowsAffected() int64 { return int64(t) }

// fakeDB rejects any insert batch carrying a poisoned id
type fakeDB struct {
	execs    []string
	inserts  [][]string
	poison   string
	queryErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (store.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if !strings.Contains(sql, "INSERT INTO") {
		return fakeTag(0), nil
	}
	ids := args[0].([]string)
	f.inserts = append(f.inserts, slices.Clone(ids))
	if slices.Contains(ids, f.poison) {
		return nil, &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type json"}
	}
	return fakeTag(len(ids)), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, f.queryErr
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) store.Row { return nil }

func (f *fakeDB) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error { return fn(f) }

func docs(ids ...string) []index.Document {
	out := make([]index.Document, len(ids))
	for i, id := range ids {
		out[i] = index.Document{"id": id, "n": i}
	}
	return out
}

func TestTableName(t *testing.T) {
	cases := map[string]string{
		"github_enriched":     "idx_github_enriched",
		"Gerrit-Enriched.v2":  "idx_gerrit_enriched_v2",
		"github_geolocations": "idx_github_geolocations",
	}
	for in, want := range cases {
		if got := TableName(in); got != want {
			t.Fatalf("TableName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBulkIndexBisectsBadDocument(t *testing.T) {
	db := &fakeDB{poison: "d"}
	s := New(db)

	in := append(docs("a", "b", "c", "d", "e"), index.Document{"n": 9})
	stored, err := s.BulkIndex(context.Background(), "x", in, "id")
	if err != nil {
		t.Fatalf("BulkIndex err = %v", err)
	}
	if stored != 4 {
		t.Fatalf("stored = %d, want 4", stored)
	}
	if len(db.inserts) < 3 {
		t.Fatalf("expected the failing batch to be split, inserts = %v", db.inserts)
	}
	if !slices.Equal(db.inserts[0], []string{"a", "b", "c", "d", "e"}) {
		t.Fatalf("first insert = %v", db.inserts[0])
	}
}

func TestBulkIndexAllRejected(t *testing.T) {
	db := &fakeDB{poison: "only"}
	stored, err := New(db).BulkIndex(context.Background(), "x", docs("only"), "id")
	if stored != 0 || err == nil {
		t.Fatalf("BulkIndex = %d, %v; want 0 and an error", stored, err)
	}
}

func TestBulkIndexCollapsesRepeatedIDs(t *testing.T) {
	db := &fakeDB{}
	in := docs("a", "a", "b")
	stored, err := New(db).BulkIndex(context.Background(), "x", in, "id")
	if err != nil || stored != 3 {
		t.Fatalf("BulkIndex = %d, %v; want 3, nil", stored, err)
	}
	if !slices.Equal(db.inserts[len(db.inserts)-1], []string{"a", "b"}) {
		t.Fatalf("insert ids = %v, want one row per id", db.inserts)
	}

	mem := index.NewMemory()
	memStored, err := mem.BulkIndex(context.Background(), "x", in, "id")
	if err != nil || memStored != stored {
		t.Fatalf("memory store counted %d, postgres %d", memStored, stored)
	}
}

func TestBulkIndexBisectsKeepsRepeatedCounts(t *testing.T) {
	db := &fakeDB{poison: "c"}
	stored, err := New(db).BulkIndex(context.Background(), "x", docs("a", "a", "b", "c"), "id")
	if err != nil || stored != 3 {
		t.Fatalf("BulkIndex = %d, %v; want 3, nil", stored, err)
	}
}

func TestStatementTimeoutWrapsInsert(t *testing.T) {
	db := &fakeDB{}
	s := New(db, WithStatementTimeout(2*time.Second))
	if _, err := s.BulkIndex(context.Background(), "x", docs("a"), "id"); err != nil {
		t.Fatalf("BulkIndex err = %v", err)
	}
	n := len(db.execs)
	if n < 2 || db.execs[n-2] != "SET LOCAL statement_timeout = 2000" || !strings.Contains(db.execs[n-1], "INSERT INTO") {
		t.Fatalf("execs = %v", db.execs)
	}
}

func TestCreateTableOnce(t *testing.T) {
	db := &fakeDB{}
	s := New(db)
	ctx := context.Background()
	_, _ = s.BulkIndex(ctx, "x", docs("a"), "id")
	_, _ = s.BulkIndex(ctx, "x", docs("b"), "id")

	creates := 0
	for _, q := range db.execs {
		if strings.Contains(q, "CREATE TABLE") {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("CREATE TABLE issued %d times, want 1", creates)
	}
}

func TestSearchMissingTable(t *testing.T) {
	db := &fakeDB{queryErr: &pgconn.PgError{Code: "42P01"}}
	hits, err := New(db).Search(context.Background(), "nope", index.MatchAll(), 10, 0)
	if err != nil || hits != nil {
		t.Fatalf("Search = %v, %v; want nil, nil", hits, err)
	}

	db.queryErr = errors.New("boom")
	if _, err := New(db).Search(context.Background(), "nope", index.MatchAll(), 10, 0); err == nil {
		t.Fatalf("Search should surface other errors")
	}
}

func TestBuildSearch(t *testing.T) {
	q := index.Term("data_source", "git").
		Between("grimoire_creation_date", "2017-01-01T00:00:00Z", nil).
		SortedBy("window_epoch", index.Desc)

	sql, args, err := buildSearch("idx_onion", q, 1, 20)
	if err != nil {
		t.Fatalf("buildSearch err = %v", err)
	}
	want := `SELECT id, doc FROM "idx_onion" WHERE doc->'data_source' = $1::jsonb AND ` +
		`jsonb_typeof(doc->'grimoire_creation_date') = jsonb_typeof($2::jsonb) AND doc->'grimoire_creation_date' >= $2::jsonb ` +
		`ORDER BY doc->'window_epoch' DESC NULLS LAST, id LIMIT 1 OFFSET 20`
	if sql != want {
		t.Fatalf("sql =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 2 || args[0] != `"git"` || args[1] != `"2017-01-01T00:00:00Z"` {
		t.Fatalf("args = %v", args)
	}

	sql, args, _ = buildSearch("idx_x", index.MatchAll(), 0, 0)
	if sql != `SELECT id, doc FROM "idx_x" ORDER BY id` || len(args) != 0 {
		t.Fatalf("match all sql = %q args = %v", sql, args)
	}
}

func TestMappingDDL(t *testing.T) {
	m := index.Mapping{
		"title_analyzed": index.Text,
		"geolocation":    index.GeoPoint,
		"id":             index.Keyword,
	}
	stmts := mappingDDL("idx_g", m)
	if len(stmts) != 3 {
		t.Fatalf("statements = %d, want 3: %v", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "USING gin (to_tsvector('simple', coalesce(doc->>'title_analyzed', '')))") {
		t.Fatalf("text index = %s", stmts[0])
	}
	if !strings.Contains(stmts[1], "USING gist (point(") {
		t.Fatalf("geo index = %s", stmts[1])
	}
	if !strings.Contains(stmts[2], `"idx_g_id_btree"`) {
		t.Fatalf("keyword index = %s", stmts[2])
	}

	long := truncIdent(strings.Repeat("a", 80))
	if len(long) > 63 {
		t.Fatalf("truncIdent length = %d", len(long))
	}
	if truncIdent(strings.Repeat("a", 80)) == truncIdent(strings.Repeat("a", 79)+"b") {
		t.Fatalf("truncIdent should keep distinct names distinct")
	}
}
