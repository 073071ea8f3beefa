package studies

import (
	"context"
	"fmt"
	"sort"
	"time"

	"enrichd/internal/core/index"
	ptime "enrichd/internal/platform/time"
)

// DemographyParams selects the date and contributor fields
type DemographyParams struct {
	DateField   string
	AuthorField string
}

func (p DemographyParams) withDefaults() DemographyParams {
	if p.DateField == "" {
		p.DateField = "grimoire_creation_date"
	}
	if p.AuthorField == "" {
		p.AuthorField = "author_uuid"
	}
	return p
}

// DemographyStudy computes the first and last activity date of every contributor
type DemographyStudy struct {
	p DemographyParams
}

// NewDemography returns the demography study
func NewDemography(p DemographyParams) *DemographyStudy {
	return &DemographyStudy{p: p.withDefaults()}
}

// Name returns "demography"
func (d *DemographyStudy) Name() string { return Demography }

// OutIndex is where the study writes for a given source index
func (d *DemographyStudy) OutIndex(in string) string { return in + "_demography" }

// Mapping is the demography index layout
func (d *DemographyStudy) Mapping() index.Mapping {
	return index.Mapping{
		"id":                  index.Keyword,
		d.p.AuthorField:       index.Keyword,
		"demography_min_date": index.Date,
		"demography_max_date": index.Date,
		"demography_items":    index.Long,
	}
}

type span struct {
	min, max time.Time
	items    int
}

// Run scans env.Index and writes one document per contributor keyed by contributor
func (d *DemographyStudy) Run(ctx context.Context, env Env) (Result, error) {
	out := d.OutIndex(env.Index)
	res := Result{Study: Demography, OutIndex: out}

	spans := map[string]*span{}
	read, err := scan(ctx, env.Store, env.Index, index.MatchAll().SortedBy("id", index.Asc), func(doc index.Document) {
		author := contributor(doc[d.p.AuthorField])
		t, ok := ptime.Parse(doc[d.p.DateField])
		if author == "" || !ok {
			return
		}
		s, seen := spans[author]
		if !seen {
			spans[author] = &span{min: t, max: t, items: 1}
			return
		}
		if t.Before(s.min) {
			s.min = t
		}
		if t.After(s.max) {
			s.max = t
		}
		s.items++
	})
	res.Read = read
	if err != nil {
		return res, err
	}

	authors := make([]string, 0, len(spans))
	for a := range spans {
		authors = append(authors, a)
	}
	sort.Strings(authors)

	docs := make([]index.Document, 0, len(authors))
	for _, a := range authors {
		s := spans[a]
		docs = append(docs, index.Document{
			"id":                  a,
			d.p.AuthorField:       a,
			"demography_min_date": ptime.ISO(s.min),
			"demography_max_date": ptime.ISO(s.max),
			"demography_items":    s.items,
		})
	}
	if err := env.Store.PutMapping(ctx, out, d.Mapping()); err != nil {
		return res, fmt.Errorf("mapping %s: %w", out, err)
	}
	res.Written, res.Missing = write(ctx, env, out, docs)
	return res, nil
}

// contributor renders a contributor id; nil and blank values yield ""
func contributor(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
