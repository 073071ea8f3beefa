package identity

import (
	"context"
	"slices"
	"testing"
	"time"

	perr "enrichd/internal/platform/errors"
	pstrings "enrichd/internal/platform/strings"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractByRole(t *testing.T) {
	gh := map[string]any{"login": "jdoe", "name": "John Doe", "email": "jdoe@example.com", "username": "ignored"}
	id := Extract(gh, RoleUser)
	assert.Equal(t, "jdoe", pstrings.Deref(id.Username))
	assert.Equal(t, "John Doe", pstrings.Deref(id.Name))
	assert.Equal(t, "example.com", pstrings.Deref(id.Domain()))

	gr := map[string]any{"username": "rev", "login": "ignored"}
	id = Extract(gr, RoleReviewer)
	assert.Equal(t, "rev", pstrings.Deref(id.Username))
	assert.Nil(t, id.Email)

	assert.True(t, Extract(nil, RoleUser).Empty())
	assert.True(t, Extract(map[string]any{}, RoleOwner).Empty())
	assert.True(t, Extract(gh, Role("committer")).Empty())
	assert.True(t, Extract(map[string]any{"login": 42}, RoleUser).Empty())
}

func usernames(ids []Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = pstrings.Deref(id.Username)
	}
	return out
}

func TestGerritIdentitiesOrder(t *testing.T) {
	data := map[string]any{
		"owner": map[string]any{"username": "owner"},
		"patchSets": []any{
			map[string]any{
				"uploader":  map[string]any{"username": "up1"},
				"author":    map[string]any{"username": "auth1"},
				"approvals": []any{map[string]any{"by": map[string]any{"username": "ap1"}}},
			},
			map[string]any{
				"uploader": map[string]any{"username": "owner"},
			},
		},
		"comments": []any{
			map[string]any{"reviewer": map[string]any{"username": "rev1"}},
			map[string]any{"reviewer": map[string]any{"username": "up1"}},
		},
	}
	got := usernames(slices.Collect(GerritIdentities(data)))
	want := []string{"owner", "up1", "auth1", "ap1", "owner", "rev1", "up1"}
	require.Equal(t, want, got)

	deduped := usernames(slices.Collect(Dedup(GerritIdentities(data))))
	require.Equal(t, []string{"owner", "up1", "auth1", "ap1", "rev1"}, deduped)

	// early stop is honoured
	n := 0
	for range GerritIdentities(data) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestGitHubIdentities(t *testing.T) {
	data := map[string]any{
		"user_data":     map[string]any{"login": "a"},
		"assignee_data": nil,
	}
	got := usernames(slices.Collect(GitHubIdentities(data)))
	assert.Equal(t, []string{"a"}, got)

	data["assignee_data"] = map[string]any{"login": "b"}
	got = usernames(slices.Collect(GitHubIdentities(data)))
	assert.Equal(t, []string{"a", "b"}, got)
}

type fakeDir struct {
	calls int
	known map[string]Canonical
	fail  error
}

func (f *fakeDir) Lookup(_ context.Context, _ string, id Identity) (Canonical, error) {
	f.calls++
	if f.fail != nil {
		return Canonical{}, f.fail
	}
	if c, ok := f.known[pstrings.Deref(id.Username)]; ok {
		return c, nil
	}
	return Canonical{}, perr.NotFoundf("no identity")
}

func TestResolverMemoizesAndCounts(t *testing.T) {
	ctx := context.Background()
	name := "Jane Canonical"
	dir := &fakeDir{known: map[string]Canonical{
		"jane": {ID: "id1", UUID: "uuid1", Name: &name, Enrollments: []Enrollment{{Org: "Acme"}}},
	}}
	r := NewResolver(dir, "github", zerolog.Nop())

	jane := Identity{Username: pstrings.Ptr("jane")}
	c, ok := r.Resolve(ctx, jane)
	require.True(t, ok)
	assert.Equal(t, "uuid1", c.UUID)
	_, _ = r.Resolve(ctx, jane)

	ghost := Identity{Username: pstrings.Ptr("ghost")}
	_, ok = r.Resolve(ctx, ghost)
	assert.False(t, ok)
	_, ok = r.Resolve(ctx, ghost)
	assert.False(t, ok)

	_, ok = r.Resolve(ctx, Identity{})
	assert.False(t, ok)

	assert.Equal(t, 2, dir.calls, "directory should be hit once per distinct identity")
	assert.Equal(t, Stats{Lookups: 2, Hits: 2, Misses: 2}, r.Stats())
}

func TestResolverErrorsAreMissesNotMemoized(t *testing.T) {
	dir := &fakeDir{fail: perr.Unavailablef("directory down")}
	r := NewResolver(dir, "gerrit", zerolog.Nop())
	id := Identity{Username: pstrings.Ptr("x")}
	for range 2 {
		_, ok := r.Resolve(context.Background(), id)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, dir.calls)
	assert.Equal(t, 2, r.Stats().Errors)
}

func TestRoleFields(t *testing.T) {
	ctx := context.Background()
	acc := 90
	dir := &fakeDir{known: map[string]Canonical{
		"jane": {ID: "id1", UUID: "uuid1", GenderAcc: &acc, Gender: pstrings.Ptr("female"), Enrollments: []Enrollment{{Org: "Acme"}}},
	}}
	r := NewResolver(dir, "github", zerolog.Nop())

	got := r.RoleFields(ctx, map[string]any{"login": "jane", "name": "Jane", "email": "jane@acme.io"}, RoleUser, "user")
	assert.Len(t, got, len(FieldSuffixes))
	assert.Equal(t, "uuid1", got["user_uuid"])
	assert.Equal(t, "Jane", got["user_name"])
	assert.Equal(t, "acme.io", got["user_domain"])
	assert.Equal(t, "Acme", got["user_org_name"])
	assert.Equal(t, 90, got["user_gender_acc"])
	assert.Equal(t, false, got["user_bot"])

	miss := r.RoleFields(ctx, nil, RoleAssignee, "assignee")
	require.Len(t, miss, len(FieldSuffixes))
	for k, v := range miss {
		assert.Nil(t, v, k)
	}

	var nilResolver *Resolver
	partial := nilResolver.RoleFields(ctx, map[string]any{"username": "bob"}, RoleOwner, "author")
	assert.Equal(t, "bob", partial["author_user_name"])
	assert.Nil(t, partial["author_uuid"])
}

func TestOrgAt(t *testing.T) {
	c := Canonical{Enrollments: []Enrollment{
		{Org: "Old", Start: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Org: "New", Start: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	assert.Equal(t, "Old", pstrings.Deref(c.OrgAt(time.Date(2012, 6, 1, 0, 0, 0, 0, time.UTC))))
	assert.Equal(t, "New", pstrings.Deref(c.OrgAt(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))))
	assert.Equal(t, "Old", pstrings.Deref(c.OrgAt(time.Time{})))
	assert.Nil(t, Canonical{}.OrgAt(time.Now()))
}
