// Package activity joins per-user activity records with an auxiliary table of
// contributors and the projects they commit to
package activity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"enrichd/internal/core/index"
	"enrichd/internal/core/raw"
	perr "enrichd/internal/platform/errors"
	ptime "enrichd/internal/platform/time"
)

// Row is one contributor-project line of the auxiliary table; dates are epoch milliseconds
type Row struct {
	Name        string
	CanonicalID string
	Project     string
	Commits     int
	MaxDate     int64
	MinDate     int64
}

// Contributor is the aggregate of every row of one canonical id
type Contributor struct {
	CanonicalID string
	Name        string
	Usernames   []string
	Project     string
	Commits     int
	Projects    []string
	MaxDate     int64
	MinDate     int64
}

// PrimaryUsername is the smallest username, "" when none is known
func (c *Contributor) PrimaryUsername() string {
	if len(c.Usernames) == 0 {
		return ""
	}
	return c.Usernames[0]
}

// UsernameSource lists the platform usernames of a canonical identity
type UsernameSource interface {
	Usernames(ctx context.Context, uuid, source string) ([]string, error)
}

// Stats counts table building and join outcomes
type Stats struct {
	Rows           int `json:"rows"`
	Contributors   int `json:"contributors"`
	WithoutUser    int `json:"without_user"`
	SharedUsername int `json:"shared_username"`
	Joined         int `json:"joined"`
	JoinMisses     int `json:"join_misses"`
}

// Table is the aggregated auxiliary table with a username index
type Table struct {
	byID       map[string]*Contributor
	order      []string
	byUsername map[string]string
	stats      Stats
}

// Aggregate folds rows per canonical id. The primary project is the one with the
// most commits, the first row seen winning ties. Dates widen to the overall min and max
func Aggregate(rows []Row) *Table {
	t := &Table{byID: map[string]*Contributor{}, byUsername: map[string]string{}}
	for _, r := range rows {
		t.stats.Rows++
		c, ok := t.byID[r.CanonicalID]
		if !ok {
			t.byID[r.CanonicalID] = &Contributor{
				CanonicalID: r.CanonicalID,
				Name:        r.Name,
				Project:     r.Project,
				Commits:     r.Commits,
				Projects:    []string{r.Project},
				MaxDate:     r.MaxDate,
				MinDate:     r.MinDate,
			}
			t.order = append(t.order, r.CanonicalID)
			continue
		}
		if !slices.Contains(c.Projects, r.Project) {
			c.Projects = append(c.Projects, r.Project)
		}
		if r.Commits > c.Commits {
			c.Commits = r.Commits
			c.Project = r.Project
		}
		c.MaxDate = max(c.MaxDate, r.MaxDate)
		c.MinDate = min(c.MinDate, r.MinDate)
	}
	t.stats.Contributors = len(t.byID)
	return t
}

// AttachUsernames loads usernames of source for every contributor and indexes
// them. A username shared by several contributors resolves to the smallest
// canonical id. Lookup failures leave the contributor without usernames
func (t *Table) AttachUsernames(ctx context.Context, src UsernameSource, source string) error {
	for _, id := range t.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := t.byID[id]
		names, err := src.Usernames(ctx, id, source)
		if err != nil && !perr.IsCode(err, perr.ErrorCodeNotFound) {
			return err
		}
		c.Usernames = dedupSorted(names)
		t.index(c)
	}
	return nil
}

// SetUsernames assigns usernames directly, used when the table is rebuilt from a snapshot
func (t *Table) SetUsernames(id string, names []string) {
	c, ok := t.byID[id]
	if !ok {
		return
	}
	c.Usernames = dedupSorted(names)
	t.index(c)
}

func (t *Table) index(c *Contributor) {
	if len(c.Usernames) == 0 {
		t.stats.WithoutUser++
		return
	}
	for _, u := range c.Usernames {
		owner, taken := t.byUsername[u]
		switch {
		case !taken:
			t.byUsername[u] = c.CanonicalID
		case owner != c.CanonicalID:
			t.stats.SharedUsername++
			if c.CanonicalID < owner {
				t.byUsername[u] = c.CanonicalID
			}
		}
	}
}

func dedupSorted(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// Contributors returns the aggregates in first-seen order
func (t *Table) Contributors() []*Contributor {
	out := make([]*Contributor, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Resolve returns the contributor owning username
func (t *Table) Resolve(username string) (*Contributor, bool) {
	id, ok := t.byUsername[username]
	if !ok {
		return nil, false
	}
	return t.byID[id], true
}

// Stats returns the counters accumulated so far
func (t *Table) Stats() Stats { return t.stats }

// UsernameFromOrigin returns the fourth "/" separated segment of an activity
// origin such as https://github.com/<username>/None/None
func UsernameFromOrigin(origin string) (string, bool) {
	parts := strings.Split(origin, "/")
	if len(parts) < 4 || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}

// Join builds the activity document of rec. An unknown username is a join miss;
// a record without html_url is structural
func (t *Table) Join(rec raw.Record) (index.Document, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	issue := rec.Data
	htmlURL, ok := raw.String(issue, "html_url")
	if !ok {
		return nil, perr.WithField(perr.Structuralf("activity: html_url missing"), "html_url")
	}
	username, ok := UsernameFromOrigin(rec.Origin)
	if !ok {
		t.stats.JoinMisses++
		return nil, perr.JoinMissf("activity: no username in origin %q", rec.Origin)
	}
	c, ok := t.Resolve(username)
	if !ok {
		t.stats.JoinMisses++
		return nil, perr.WithField(perr.JoinMissf("activity: username %q not in table", username), "involves_username")
	}

	org, repo := orgRepo(htmlURL)
	d := index.Document{
		"id":                      rec.UUID,
		"origin":                  rec.Origin,
		"tag":                     rec.Tag,
		"project":                 c.Project,
		"project_commits":         c.Commits,
		"projects":                slices.Clone(c.Projects),
		"github_organization":     org,
		"github_repository":       repo,
		"max_date_author_commits": ptime.ISO(ptime.FromEpochMillis(c.MaxDate)),
		"min_date_author_commits": ptime.ISO(ptime.FromEpochMillis(c.MinDate)),
		"grimoire_creation_date":  ptime.ISOOrNil(issue["created_at"]),
		"is_github_issue":         1,
		"involves_uuid":           c.CanonicalID,
		"involves_name":           c.Name,
		"involves_username":       username,
		"pull_request":            1,
		"issue":                   0,
	}
	_, head := issue["head"]
	_, pr := issue["pull_request"]
	if !head && !pr {
		d["pull_request"] = 0
		d["issue"] = 1
	}
	t.stats.Joined++
	return d, nil
}

// orgRepo reads organization and repository from .../<org>/<repo>/<kind>/<n>
func orgRepo(htmlURL string) (any, any) {
	parts := strings.Split(strings.TrimRight(htmlURL, "/"), "/")
	if len(parts) < 5 {
		return nil, nil
	}
	n := len(parts)
	return parts[n-4], parts[n-3]
}

// Mapping is the activity index layout
func Mapping() index.Mapping {
	return index.Mapping{
		"id":                      index.Keyword,
		"project":                 index.Keyword,
		"projects":                index.Keyword,
		"project_commits":         index.Long,
		"github_organization":     index.Keyword,
		"github_repository":       index.Keyword,
		"max_date_author_commits": index.Date,
		"min_date_author_commits": index.Date,
		"grimoire_creation_date":  index.Date,
		"involves_uuid":           index.Keyword,
		"involves_username":       index.Keyword,
	}
}

// Snapshotter persists the aggregated table for inspection after a run
type Snapshotter interface {
	Save(ctx context.Context, cs []*Contributor, at time.Time) error
}
