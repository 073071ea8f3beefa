package rich

import (
	"context"
	"iter"
	"strings"

	"enrichd/internal/core/identity"
	"enrichd/internal/core/index"
	"enrichd/internal/core/raw"
	pstrings "enrichd/internal/platform/strings"
	ptime "enrichd/internal/platform/time"
	"enrichd/internal/platform/validate"
)

// KindGitHub is the GitHub issues and pull requests source
const KindGitHub = "github"

const githubPrefix = "https://github.com/"

var githubRules = validate.Rules{
	"html_url":   "required",
	"created_at": "required,datelike",
	"id":         "required",
}

// GitHub enriches issues and pull requests, one document per record
type GitHub struct {
	base
}

// NewGitHub returns the GitHub enricher
func NewGitHub(o Options) *GitHub {
	return &GitHub{base: base{opts: o.withDefaults(), kind: KindGitHub}}
}

// Studies returns no default studies for GitHub
func (g *GitHub) Studies() []string { return nil }

// Mapping declares geo points and the analyzed title
func (g *GitHub) Mapping() index.Mapping {
	return commonMapping().Merge(index.Mapping{
		"user_geolocation":     index.GeoPoint,
		"assignee_geolocation": index.GeoPoint,
		"title_analyzed":       index.Text,
		"created_at":           index.Date,
		"updated_at":           index.Date,
		"closed_at":            index.Date,
		"time_to_close_days":   index.Double,
		"time_open_days":       index.Double,
		"state":                index.Keyword,
		"github_repo":          index.Keyword,
		"url_id":               index.Keyword,
		"item_type":            index.Keyword,
		"user_login":           index.Keyword,
		"assignee_login":       index.Keyword,
		"pull_request":         index.Boolean,
	})
}

// Identities yields the author then the assignee
func (g *GitHub) Identities(rec raw.Record) iter.Seq[identity.Identity] {
	return identity.GitHubIdentities(rec.Data)
}

// Enrich flattens one issue or pull request
func (g *GitHub) Enrich(ctx context.Context, rec raw.Record) ([]index.Document, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	issue := rec.Data
	if err := validate.Map(issue, githubRules); err != nil {
		return nil, err
	}

	d := index.Document{}
	rec.CopyInto(d)

	created, _ := ptime.Parse(issue["created_at"])
	if closed, ok := ptime.Parse(issue["closed_at"]); ok {
		days := ptime.DiffDays(created, closed)
		d["time_to_close_days"] = days
		d["time_open_days"] = days
	} else {
		d["time_to_close_days"] = nil
		d["time_open_days"] = ptime.DiffDays(created, g.opts.Now())
	}

	d["user_login"] = str(raw.Map(issue, "user"), "login")
	user := raw.Map(issue, string(identity.RoleUser))
	if len(user) == 0 {
		user = nil
	}
	g.actor(ctx, d, "user", user)
	if user != nil && d["user_login"] == nil {
		d["user_login"] = str(user, "login")
	}
	d["author_name"] = d["user_name"]

	d["assignee_login"] = nil
	assignee := raw.Map(issue, string(identity.RoleAssignee))
	if len(assignee) == 0 {
		assignee = nil
	}
	g.actor(ctx, d, "assignee", assignee)
	if assignee != nil {
		d["assignee_login"] = str(raw.Map(issue, "assignee"), "login")
		if d["assignee_login"] == nil {
			d["assignee_login"] = str(assignee, "login")
		}
	}

	htmlURL, _ := raw.String(issue, "html_url")
	idInRepo := pstrings.LastSegment(htmlURL)
	repository := pstrings.TrimSegments(htmlURL, 2)
	githubRepo := strings.TrimSuffix(strings.TrimPrefix(repository, githubPrefix), ".git")

	d["id"] = issue["id"]
	d["id_in_repo"] = idInRepo
	d["repository"] = repository
	d["github_repo"] = githubRepo
	d["url_id"] = githubRepo + "/issues/" + idInRepo
	title, _ := raw.String(issue, "title")
	d["title"] = pstrings.Truncate(title, g.opts.KeywordMax)
	d["title_analyzed"] = title
	d["state"] = str(issue, "state")
	d["created_at"] = ptime.ISOOrNil(issue["created_at"])
	d["updated_at"] = ptime.ISOOrNil(issue["updated_at"])
	d["closed_at"] = ptime.ISOOrNil(issue["closed_at"])
	d["url"] = htmlURL
	d["labels"] = labels(issue)

	itemType := "issue"
	d["pull_request"] = false
	d["item_type"] = "issue"
	if isPullRequest(issue) {
		itemType = "pull_request"
		d["pull_request"] = true
		d["item_type"] = "pull request"
	}

	g.project(d, rec, rec.Origin)
	for k, v := range g.grimoire(issue["created_at"], itemType) {
		d[k] = v
	}

	if r := g.opts.Identities; r != nil {
		for k, v := range r.RoleFieldsAt(ctx, user, identity.RoleUser, "user", created) {
			d[k] = v
		}
		for k, v := range r.RoleFieldsAt(ctx, assignee, identity.RoleAssignee, "assignee", created) {
			d[k] = v
		}
		for k, v := range r.RoleFieldsAt(ctx, user, identity.RoleUser, "author", created) {
			d[k] = v
		}
	}

	g.metadata(d)
	return []index.Document{d}, nil
}

// actor fills the name, email, domain, org, location and geolocation of one role
func (g *GitHub) actor(ctx context.Context, d index.Document, prefix string, a map[string]any) {
	for _, f := range []string{"_name", "_email", "_domain", "_org", "_location", "_geolocation"} {
		d[prefix+f] = nil
	}
	if a == nil {
		return
	}
	id := identity.Extract(a, identity.RoleUser)
	d[prefix+"_name"] = pstrings.OrNil(id.Name)
	d[prefix+"_email"] = pstrings.OrNil(id.Email)
	d[prefix+"_domain"] = pstrings.OrNil(id.Domain())
	d[prefix+"_org"] = org(a)

	loc, ok := raw.String(a, "location")
	if !ok {
		return
	}
	d[prefix+"_location"] = loc
	if g.opts.Geo != nil {
		if p, ok := g.opts.Geo.Get(ctx, loc); ok {
			d[prefix+"_geolocation"] = p.Doc()
		}
	}
}

// org is the company, or the organization logins joined by ";;" when there is none
func org(a map[string]any) any {
	if c, ok := raw.String(a, "company"); ok {
		return c
	}
	var logins []string
	for _, o := range raw.List(a, "orgs") {
		if l, ok := raw.String(o, "login"); ok {
			logins = append(logins, l)
		}
	}
	if len(logins) == 0 {
		return nil
	}
	return strings.Join(logins, ";;")
}

func labels(issue map[string]any) string {
	var names []string
	for _, l := range raw.List(issue, "labels") {
		if n, ok := raw.String(l, "name"); ok {
			names = append(names, n)
		}
	}
	return strings.Join(names, ";;")
}

func isPullRequest(issue map[string]any) bool {
	_, head := issue["head"]
	_, pr := issue["pull_request"]
	return head || pr
}
