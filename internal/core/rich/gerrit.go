package rich

import (
	"context"
	"iter"
	"strconv"
	"strings"
	"time"

	"enrichd/internal/core/identity"
	"enrichd/internal/core/index"
	"enrichd/internal/core/raw"
	"enrichd/internal/core/studies"
	pstrings "enrichd/internal/platform/strings"
	ptime "enrichd/internal/platform/time"
	"enrichd/internal/platform/validate"
)

// KindGerrit is the Gerrit code review source
const KindGerrit = "gerrit"

const (
	typeReview  = "review"
	typeComment = "comment"
)

var gerritRules = validate.Rules{
	"number":  "required",
	"project": "required",
}

// closedStatuses end the open period of a review at its last update
var closedStatuses = map[string]bool{"MERGED": true, "ABANDONED": true}

// Gerrit enriches reviews into one review document plus one document per comment
type Gerrit struct {
	base
}

// NewGerrit returns the Gerrit enricher
func NewGerrit(o Options) *Gerrit {
	return &Gerrit{base: base{opts: o.withDefaults(), kind: KindGerrit}}
}

// Studies runs demography and onion after Gerrit enrichment
func (g *Gerrit) Studies() []string { return []string{studies.Demography, studies.Onion} }

// Mapping declares the status keyword, analyzed texts and the open time
func (g *Gerrit) Mapping() index.Mapping {
	return commonMapping().Merge(index.Mapping{
		"status":           index.Keyword,
		"summary_analyzed": index.Text,
		"message_analyzed": index.Text,
		"timeopen":         index.Double,
		"repository":       index.Keyword,
		"branch":           index.Keyword,
		"type":             index.Keyword,
		"opened":           index.Date,
		"created_on":       index.Date,
		"last_updated":     index.Date,
		"created":          index.Date,
		"patchsets":        index.Long,
		"author_uuid":      index.Keyword,
	})
}

// Identities yields owner, patch set actors and comment reviewers
func (g *Gerrit) Identities(rec raw.Record) iter.Seq[identity.Identity] {
	return identity.GerritIdentities(rec.Data)
}

// ParseSourceURL splits a Gerrit source of the form "host --filter-raw=value"
// into the host and the raw filter value
func ParseSourceURL(s string) (url, filterRaw string) {
	host, rest, found := strings.Cut(strings.TrimSpace(s), " ")
	if !found {
		return host, ""
	}
	_, v, ok := strings.Cut(rest, "=")
	if !ok {
		return host, ""
	}
	return host, strings.TrimSpace(v)
}

// Enrich returns the review document followed by its comment documents
func (g *Gerrit) Enrich(ctx context.Context, rec raw.Record) ([]index.Document, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	review := rec.Data
	if err := validate.Map(review, gerritRules); err != nil {
		return nil, err
	}

	eitem := g.review(ctx, rec)
	comments := raw.List(review, "comments")
	out := make([]index.Document, 0, 1+len(comments))
	out = append(out, eitem)
	for _, c := range comments {
		out = append(out, g.comment(ctx, rec, eitem, c))
	}
	return out, nil
}

func (g *Gerrit) review(ctx context.Context, rec raw.Record) index.Document {
	review := rec.Data
	d := index.Document{}
	rec.CopyInto(d)
	d["closed"] = rec.UpdatedOn

	for _, f := range []string{"status", "branch", "url"} {
		d[f] = review[f]
	}
	subject, _ := raw.String(review, "subject")
	number := numberString(review["number"])

	d["summary"] = pstrings.Truncate(subject, g.opts.KeywordMax)
	d["summary_analyzed"] = subject
	d["githash"] = review["id"]
	d["opened"] = ptime.ISOOrNil(review["createdOn"])
	d["repository"] = review["project"]
	d["number"] = number
	d["id"] = number

	owner := raw.Map(review, "owner")
	ownerID := identity.Extract(owner, identity.RoleOwner)
	d["name"] = pstrings.OrNil(ownerID.Name)
	d["domain"] = pstrings.OrNil(ownerID.Domain())

	patchSets := raw.List(review, "patchSets")
	d["patchsets"] = len(patchSets)

	createdOn, _ := ptime.Parse(review["createdOn"])
	if len(patchSets) > 0 {
		if t, ok := ptime.Parse(patchSets[0]["createdOn"]); ok {
			createdOn = t
		}
	}
	lastUpdated, hasUpdate := ptime.Parse(review["lastUpdated"])
	d["created_on"] = isoOrNil(createdOn)
	d["last_updated"] = isoOrNil(lastUpdated)

	d["timeopen"] = nil
	if !createdOn.IsZero() {
		end := g.opts.Now()
		status, _ := raw.String(review, "status")
		if closedStatuses[status] && hasUpdate {
			end = lastUpdated
		}
		d["timeopen"] = ptime.Round2(ptime.DiffDays(createdOn, end))
	}
	d["type"] = typeReview

	if r := g.opts.Identities; r != nil {
		opened, _ := ptime.Parse(review["createdOn"])
		for k, v := range r.RoleFieldsAt(ctx, owner, identity.RoleOwner, "author", opened) {
			d[k] = v
		}
	}
	g.project(d, rec, g.repoKey(rec))
	for k, v := range g.grimoire(review["createdOn"], typeReview) {
		d[k] = v
	}
	g.metadata(d)
	return d
}

func (g *Gerrit) comment(ctx context.Context, rec raw.Record, eitem index.Document, c map[string]any) index.Document {
	d := index.Document{}
	for _, f := range raw.PassThrough {
		d[f] = eitem[f]
	}
	for _, f := range []string{"url", "summary", "repository", "branch"} {
		d[f] = eitem[f]
	}
	d["review_number"] = eitem["number"]

	reviewer := raw.Map(c, "reviewer")
	rid := identity.Extract(reviewer, identity.RoleReviewer)
	d["reviewer_name"] = pstrings.OrNil(rid.Name)
	d["reviewer_username"] = pstrings.OrNil(rid.Username)
	d["reviewer_email"] = pstrings.OrNil(rid.Email)
	d["reviewer_domain"] = pstrings.OrNil(rid.Domain())

	created, ok := ptime.Parse(c["timestamp"])
	d["created"] = isoOrNil(created)
	message, _ := raw.String(c, "message")
	d["message"] = pstrings.Truncate(message, g.opts.KeywordMax)
	d["message_analyzed"] = message

	stamp := ""
	if ok {
		stamp = epochString(created)
	}
	d["id"] = numberString(eitem["number"]) + "_comment_" + stamp
	d["type"] = typeComment

	if r := g.opts.Identities; r != nil {
		for k, v := range r.RoleFieldsAt(ctx, reviewer, identity.RoleReviewer, "reviewer", created) {
			d[k] = v
		}
		for _, s := range identity.FieldSuffixes {
			d["author"+s] = d["reviewer"+s]
		}
	}
	g.project(d, rec, g.repoKey(rec))
	for k, v := range g.grimoire(c["timestamp"], typeComment) {
		d[k] = v
	}
	g.metadata(d)
	return d
}

// repoKey is how Gerrit repositories are named in project maps: "{origin}_{project}"
func (g *Gerrit) repoKey(rec raw.Record) string {
	p, _ := raw.String(rec.Data, "project")
	return rec.Origin + "_" + p
}

// numberString renders a review number that may arrive as a JSON number or string
func numberString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

// epochString renders t as epoch seconds in the shortest exact decimal form
func epochString(t time.Time) string {
	if t.Nanosecond() == 0 {
		return strconv.FormatInt(t.Unix(), 10)
	}
	sec := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return strconv.FormatFloat(sec, 'f', -1, 64)
}

func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return ptime.ISO(t)
}
