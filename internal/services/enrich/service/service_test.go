package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"enrichd/internal/core/activity"
	"enrichd/internal/core/identity"
	"enrichd/internal/core/index"
	"enrichd/internal/core/raw"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/services/enrich/domain"
)

var fixedNow = time.Date(2017, 3, 31, 10, 4, 5, 0, time.UTC)

// sliceSource yields items in order; an error item is returned as the Next error
type sliceSource struct {
	items  []any
	closed bool
}

func (s *sliceSource) Next(context.Context) (raw.Record, error) {
	if len(s.items) == 0 {
		return raw.Record{}, io.EOF
	}
	it := s.items[0]
	s.items = s.items[1:]
	if err, ok := it.(error); ok {
		return raw.Record{}, err
	}
	return it.(raw.Record), nil
}

func (s *sliceSource) Close() error { s.closed = true; return nil }

func src(items ...any) *sliceSource { return &sliceSource{items: items} }

func issue(n int, login, location string) raw.Record {
	return raw.Record{
		Origin:    "https://github.com/acme/widgets",
		UUID:      fmt.Sprintf("uuid-%d", n),
		UpdatedOn: "2017-03-22T08:00:00Z",
		Timestamp: "2017-03-23T09:30:00Z",
		Data: map[string]any{
			"id":         float64(n),
			"title":      "issue",
			"state":      "open",
			"html_url":   fmt.Sprintf("https://github.com/acme/widgets/issues/%d", n),
			"created_at": "2017-03-21T10:04:05Z",
			"user":       map[string]any{"login": login},
			"user_data": map[string]any{
				"login":    login,
				"name":     "John Doe",
				"email":    login + "@example.com",
				"location": location,
			},
		},
	}
}

func activityRecord(uuid, username string) raw.Record {
	return raw.Record{
		Origin: "https://github.com/" + username + "/None/None",
		UUID:   uuid,
		Data: map[string]any{
			"html_url":   "https://github.com/acme/widgets/pull/3",
			"created_at": "2017-03-21T10:04:05Z",
			"head":       map[string]any{},
		},
	}
}

// fakeDir knows usernames per canonical id and records merges
type fakeDir struct {
	usernames map[string][]string
	merged    []identity.Identity
}

func (f *fakeDir) Lookup(_ context.Context, _ string, id identity.Identity) (identity.Canonical, error) {
	return identity.Canonical{}, perr.NotFoundf("no profile for %s", id.Key())
}

func (f *fakeDir) Merge(_ context.Context, _ string, ids []identity.Identity) (int, error) {
	f.merged = append(f.merged, ids...)
	return len(ids), nil
}

func (f *fakeDir) Usernames(_ context.Context, uuid, _ string) ([]string, error) {
	names, ok := f.usernames[uuid]
	if !ok {
		return nil, perr.NotFoundf("profile %s not found", uuid)
	}
	return names, nil
}

type fakeCoder struct{ calls int }

func (f *fakeCoder) Geocode(_ context.Context, addr string) (float64, float64, bool, error) {
	f.calls++
	if addr == "Madrid" {
		return 40.4168, -3.7038, true, nil
	}
	return 0, 0, false, nil
}

type fakeTable struct {
	rows []activity.Row
	bad  int
}

func (f fakeTable) Rows(context.Context) ([]activity.Row, int, error) { return f.rows, f.bad, nil }

type fakeSnap struct{ saved int }

func (f *fakeSnap) Save(_ context.Context, cs []*activity.Contributor, _ time.Time) error {
	f.saved = len(cs)
	return nil
}

func newSvc(st index.Store, cfg Config, opts ...Option) *Service {
	if cfg.Kind == "" {
		cfg.Kind = "github"
	}
	if cfg.Index == "" {
		cfg.Index = "github_enriched"
	}
	n := 0
	opts = append(opts,
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string { n++; return fmt.Sprintf("run-%d", n) }),
	)
	return New(st, cfg, opts...)
}

func TestRunEnrichesAndCountsSkips(t *testing.T) {
	st := index.NewMemory()
	s := newSvc(st, Config{MaxBulk: 1})

	broken := issue(3, "rroe", "")
	delete(broken.Data, "html_url")
	rep, err := s.Run(context.Background(), src(
		issue(1, "jdoe", "Madrid"),
		perr.JSONErrf("bad line"),
		broken,
		issue(2, "jdoe", "Madrid"),
	))
	if err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if rep.RunID != "run-1" || rep.Mode != domain.ModeEnrich {
		t.Fatalf("report id/mode = %s/%s", rep.RunID, rep.Mode)
	}
	if rep.Records != 3 || rep.Documents != 2 {
		t.Fatalf("records/documents = %d/%d, want 3/2", rep.Records, rep.Documents)
	}
	if rep.Skipped.Decode != 1 || rep.Skipped.Structural != 1 || rep.Skipped.JoinMiss != 0 {
		t.Fatalf("Skipped = %+v", rep.Skipped)
	}
	if rep.Upload.Flushes != 2 || rep.Upload.Stored != 2 {
		t.Fatalf("Upload = %+v", rep.Upload)
	}
	if got := st.Len("github_enriched"); got != 2 {
		t.Fatalf("stored docs = %d, want 2", got)
	}
	if d, ok := st.Get("github_enriched", "1"); !ok || d["uuid"] != "uuid-1" {
		t.Fatalf("doc 1 = %v, %v", d, ok)
	}
	if len(st.MappingOf("github_enriched")) == 0 {
		t.Fatalf("enriched mapping not bootstrapped")
	}
	if rep.Geo != nil || rep.Identity != nil {
		t.Fatalf("geo and identity stats should be absent when disabled")
	}
	last, ok := s.LastRun()
	if !ok || last.RunID != rep.RunID {
		t.Fatalf("LastRun = %+v, %v", last, ok)
	}
}

func TestRunStopsOnSourceFailureAfterFlushing(t *testing.T) {
	st := index.NewMemory()
	s := newSvc(st, Config{})

	rep, err := s.Run(context.Background(), src(issue(1, "jdoe", ""), errors.New("disk gone")))
	if err == nil {
		t.Fatalf("Run should surface the source failure")
	}
	if rep.OK() || rep.Error == "" {
		t.Fatalf("report should carry the error: %+v", rep)
	}
	if rep.Upload.Stored != 1 || st.Len("github_enriched") != 1 {
		t.Fatalf("pending batch was not flushed: %+v", rep.Upload)
	}
}

func TestRunEmptySource(t *testing.T) {
	st := index.NewMemory()
	rep, err := newSvc(st, Config{}).Run(context.Background(), src())
	if err != nil || rep.Records != 0 || rep.Documents != 0 {
		t.Fatalf("Run = %+v, %v", rep, err)
	}
}

func TestRunGeoAndIdentities(t *testing.T) {
	st := index.NewMemory()
	coder := &fakeCoder{}
	s := newSvc(st, Config{Geocode: true, GeoIndex: "geo", Identities: true},
		WithGeocoder(coder), WithDirectory(&fakeDir{}))

	rep, err := s.Run(context.Background(), src(
		issue(1, "jdoe", "Madrid"),
		issue(2, "rroe", "Madrid"),
		issue(3, "ghost", "Atlantis"),
	))
	if err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if coder.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", coder.calls)
	}
	if rep.Geo == nil || rep.Geo.ProviderCalls != 2 || rep.Geo.Persisted != 1 {
		t.Fatalf("Geo = %+v", rep.Geo)
	}
	if st.Len("geo") != 1 {
		t.Fatalf("geo index = %d docs, want 1", st.Len("geo"))
	}
	if rep.Identity == nil || rep.Identity.Misses == 0 || rep.Identity.Hits != 0 {
		t.Fatalf("Identity = %+v", rep.Identity)
	}
	d, _ := st.Get("github_enriched", "1")
	if d["user_geolocation"] == nil {
		t.Fatalf("user_geolocation missing: %v", d)
	}
}

func TestRunActivityJoin(t *testing.T) {
	st := index.NewMemory()
	snap := &fakeSnap{}
	dir := &fakeDir{usernames: map[string][]string{"c1": {"jdoe"}}}
	s := newSvc(st, Config{Index: "github_activity"},
		WithDirectory(dir),
		WithActivity(fakeTable{
			rows: []activity.Row{{Name: "John Doe", CanonicalID: "c1", Project: "widgets", Commits: 10, MaxDate: 1490090645000, MinDate: 1480090645000}},
			bad:  2,
		}, snap))

	rep, err := s.Run(context.Background(), src(
		activityRecord("a1", "jdoe"),
		activityRecord("a2", "ghost"),
	))
	if err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if rep.Mode != domain.ModeActivity {
		t.Fatalf("mode = %s", rep.Mode)
	}
	if rep.Documents != 1 || rep.Skipped.JoinMiss != 3 {
		t.Fatalf("documents = %d join misses = %d, want 1 and 3", rep.Documents, rep.Skipped.JoinMiss)
	}
	if snap.saved != 1 {
		t.Fatalf("snapshot saved %d contributors, want 1", snap.saved)
	}
	d, ok := st.Get("github_activity", "a1")
	if !ok || d["involves_uuid"] != "c1" || d["involves_username"] != "jdoe" {
		t.Fatalf("activity doc = %v", d)
	}
	if rep.Activity == nil || rep.Activity.Joined != 1 {
		t.Fatalf("Activity = %+v", rep.Activity)
	}
}

func TestRunActivityNeedsTable(t *testing.T) {
	s := newSvc(index.NewMemory(), Config{})
	if _, err := s.Run(context.Background(), src(activityRecord("a1", "jdoe"))); err == nil {
		t.Fatalf("activity run without a table should fail")
	}
}

func TestLoadIdentities(t *testing.T) {
	dir := &fakeDir{}
	s := newSvc(index.NewMemory(), Config{}, WithDirectory(dir))

	rep, err := s.LoadIdentities(context.Background(), src(
		issue(1, "jdoe", ""),
		issue(2, "jdoe", ""),
		perr.Structuralf("no data"),
		issue(3, "rroe", ""),
	))
	if err != nil {
		t.Fatalf("LoadIdentities err = %v", err)
	}
	if rep.Records != 3 || rep.Skipped.Structural != 1 {
		t.Fatalf("records = %d skipped = %+v", rep.Records, rep.Skipped)
	}
	if rep.Extracted != 3 || rep.Unique != 2 || rep.Added != 2 || len(dir.merged) != 2 {
		t.Fatalf("report = %+v merged = %d", rep, len(dir.merged))
	}
}

func TestLoadIdentitiesNeedsDirectory(t *testing.T) {
	s := newSvc(index.NewMemory(), Config{})
	if _, err := s.LoadIdentities(context.Background(), src()); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestRunStudiesUsesEnricherDefaults(t *testing.T) {
	st := index.NewMemory()
	s := newSvc(st, Config{Kind: "gerrit", Index: "gerrit_enriched"})

	rep, err := s.RunStudies(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunStudies err = %v", err)
	}
	if rep.Mode != domain.ModeStudies || len(rep.Studies) != 2 {
		t.Fatalf("report = %+v", rep)
	}

	rep, err = newSvc(st, Config{}).RunStudies(context.Background(), nil)
	if err != nil || len(rep.Studies) != 0 {
		t.Fatalf("github declares no studies: %+v, %v", rep, err)
	}
}
