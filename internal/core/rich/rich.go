// Package rich turns raw records into flat enriched documents, one Enricher per source kind
package rich

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"enrichd/internal/core/geo"
	"enrichd/internal/core/identity"
	"enrichd/internal/core/index"
	"enrichd/internal/core/projects"
	"enrichd/internal/core/raw"
	"enrichd/internal/core/version"
	ptime "enrichd/internal/platform/time"
)

// DefaultKeywordMax bounds keyword fields, counted in runes
const DefaultKeywordMax = 30000

// Enricher transforms raw records of one source kind
type Enricher interface {
	// Kind is the source kind, e.g. "github"
	Kind() string
	// IDField names the document field used as storage key
	IDField() string
	// Mapping declares the enriched index field types
	Mapping() index.Mapping
	// Identities yields every actor identity of rec in document order
	Identities(rec raw.Record) iter.Seq[identity.Identity]
	// Enrich returns the documents for rec or a structural error
	Enrich(ctx context.Context, rec raw.Record) ([]index.Document, error)
	// Studies names the studies run by default after enrichment
	Studies() []string
}

// Options are shared by every enricher. Nil collaborators disable the matching fields
type Options struct {
	KeywordMax int
	Projects   *projects.Index
	Identities *identity.Resolver
	Geo        *geo.Cache
	FilterRaw  string
	Version    string
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.KeywordMax <= 0 {
		o.KeywordMax = DefaultKeywordMax
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Version == "" {
		o.Version = version.Info().Version
	}
	return o
}

type factory func(Options) Enricher

var registry = map[string]factory{
	KindGitHub: func(o Options) Enricher { return NewGitHub(o) },
	KindGerrit: func(o Options) Enricher { return NewGerrit(o) },
}

// New returns the enricher registered for kind
func New(kind string, o Options) (Enricher, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("rich: unknown source kind %q", kind)
	}
	return f(o), nil
}

// Kinds lists the registered source kinds
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// base holds what every source kind shares
type base struct {
	opts Options
	kind string
}

func (b base) Kind() string    { return b.kind }
func (b base) IDField() string { return "id" }

// metadata stamps pipeline fields on d
func (b base) metadata(d index.Document) {
	d["metadata__enriched_on"] = ptime.ISO(b.opts.Now())
	d["metadata__gelk_version"] = b.opts.Version
	if b.opts.FilterRaw != "" {
		d["metadata__filter_raw"] = b.opts.FilterRaw
	}
}

// grimoire returns the common date and type flag fields
func (b base) grimoire(created any, itemType string) index.Document {
	d := index.Document{"grimoire_creation_date": ptime.ISOOrNil(created)}
	d["is_"+b.kind+"_"+itemType] = 1
	return d
}

// project merges project fields for repo when a project map is configured.
// An explicit project on the raw record wins
func (b base) project(d index.Document, rec raw.Record, repo string) {
	if rec.Project != "" {
		for k, v := range projects.Fields(rec.Project) {
			d[k] = v
		}
		return
	}
	if b.opts.Projects == nil {
		return
	}
	p, _ := b.opts.Projects.Lookup(b.kind, repo)
	for k, v := range projects.Fields(p) {
		d[k] = v
	}
}

// commonMapping is layered under every kind's mapping
func commonMapping() index.Mapping {
	return index.Mapping{
		"id":                     index.Keyword,
		"uuid":                   index.Keyword,
		"origin":                 index.Keyword,
		"tag":                    index.Keyword,
		"metadata__updated_on":   index.Date,
		"metadata__timestamp":    index.Date,
		"metadata__enriched_on":  index.Date,
		"metadata__gelk_version": index.Keyword,
		"grimoire_creation_date": index.Date,
		"project":                index.Keyword,
	}
}

// str returns m[key] when it is a non-empty string, nil otherwise
func str(m map[string]any, key string) any {
	s, ok := raw.String(m, key)
	if !ok {
		return nil
	}
	return s
}
