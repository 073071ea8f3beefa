package studies

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"enrichd/internal/core/index"
	ptime "enrichd/internal/platform/time"
)

// DefaultOnionWindow is one quarter in seconds
const DefaultOnionWindow = 7884000

// Onion tiers and their cumulative contribution thresholds
const (
	RoleCore    = "core"
	RoleRegular = "regular"
	RoleCasual  = "casual"

	CoreShare    = 0.80
	RegularShare = 0.95
)

// OnionParams configures the onion study. Empty fields take the Gerrit defaults;
// InIndex and OutIndex default from the run index
type OnionParams struct {
	InIndex        string
	OutIndex       string
	DataSource     string
	ContribsField  string
	TimeframeField string
	SortOnField    string
	WindowSeconds  int64
	Incremental    bool
}

func (p OnionParams) withDefaults(env Env) OnionParams {
	if p.InIndex == "" {
		p.InIndex = env.Index
	}
	if p.OutIndex == "" {
		p.OutIndex = p.InIndex + "_onion"
	}
	if p.DataSource == "" {
		p.DataSource = env.DataSource
	}
	if p.ContribsField == "" {
		p.ContribsField = "author_uuid"
	}
	if p.TimeframeField == "" {
		p.TimeframeField = "grimoire_creation_date"
	}
	if p.SortOnField == "" {
		p.SortOnField = "metadata__timestamp"
	}
	if p.WindowSeconds <= 0 {
		p.WindowSeconds = DefaultOnionWindow
	}
	return p
}

// OnionStudy classifies contributors per time window into core, regular and casual
type OnionStudy struct {
	p OnionParams
}

// NewOnion returns the onion study
func NewOnion(p OnionParams) *OnionStudy { return &OnionStudy{p: p} }

// Name returns "onion"
func (o *OnionStudy) Name() string { return Onion }

// Mapping is the onion index layout
func (o *OnionStudy) Mapping() index.Mapping {
	return index.Mapping{
		"id":                     index.Keyword,
		"data_source":            index.Keyword,
		"author_uuid":            index.Keyword,
		"onion_role":             index.Keyword,
		"window_start":           index.Date,
		"window_end":             index.Date,
		"window_epoch":           index.Long,
		"grimoire_creation_date": index.Date,
		"contributions":          index.Long,
		"cum_net_sum":            index.Long,
		"percent_cum_net_sum":    index.Double,
		"total_contributions":    index.Long,
	}
}

// WindowStart aligns t to the start of its window; windows are multiples of
// seconds counted from the Unix epoch
func WindowStart(t time.Time, seconds int64) int64 {
	s := t.Unix()
	w := s / seconds
	if s < 0 && s%seconds != 0 {
		w--
	}
	return w * seconds
}

// Member is one contributor placed in a tier
type Member struct {
	Contributor   string
	Contributions int
	CumSum        int
	Role          string
}

// Tiers sorts counts by contributions, highest first with ties broken by
// contributor, and assigns roles: contributors are core until the cumulative
// share before them reaches CoreShare, then regular until RegularShare
func Tiers(counts map[string]int) []Member {
	ms := make([]Member, 0, len(counts))
	total := 0
	for c, n := range counts {
		ms = append(ms, Member{Contributor: c, Contributions: n})
		total += n
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Contributions != ms[j].Contributions {
			return ms[i].Contributions > ms[j].Contributions
		}
		return ms[i].Contributor < ms[j].Contributor
	})
	cum := 0
	for i := range ms {
		before := float64(cum)
		switch {
		case before < CoreShare*float64(total):
			ms[i].Role = RoleCore
		case before < RegularShare*float64(total):
			ms[i].Role = RoleRegular
		default:
			ms[i].Role = RoleCasual
		}
		cum += ms[i].Contributions
		ms[i].CumSum = cum
	}
	return ms
}

// Run reads the input index, counts contributions per window and writes one
// document per contributor and window. In incremental mode windows before the
// latest one already written are left alone
func (o *OnionStudy) Run(ctx context.Context, env Env) (Result, error) {
	p := o.p.withDefaults(env)
	res := Result{Study: Onion, OutIndex: p.OutIndex}

	q := index.MatchAll().SortedBy(p.SortOnField, index.Asc).SortedBy("id", index.Asc)
	var since int64
	resume := false
	if p.Incremental {
		w, ok, err := o.latestWindow(ctx, env, p)
		if err != nil {
			return res, err
		}
		if ok {
			since, resume = w, true
			q = q.Between(p.TimeframeField, ptime.ISO(time.Unix(w, 0)), nil)
		}
	}

	windows := map[int64]map[string]int{}
	read, err := scan(ctx, env.Store, p.InIndex, q, func(doc index.Document) {
		c := contributor(doc[p.ContribsField])
		t, ok := ptime.Parse(doc[p.TimeframeField])
		if c == "" || !ok {
			return
		}
		w := WindowStart(t, p.WindowSeconds)
		if resume && w < since {
			return
		}
		if windows[w] == nil {
			windows[w] = map[string]int{}
		}
		windows[w][c]++
	})
	res.Read = read
	if err != nil {
		return res, err
	}

	starts := make([]int64, 0, len(windows))
	for w := range windows {
		starts = append(starts, w)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	var docs []index.Document
	for _, w := range starts {
		counts := windows[w]
		total := 0
		for _, n := range counts {
			total += n
		}
		begin := time.Unix(w, 0).UTC()
		end := time.Unix(w+p.WindowSeconds, 0).UTC()
		for _, m := range Tiers(counts) {
			docs = append(docs, index.Document{
				"id":                     OnionID(p.DataSource, w, m.Contributor),
				"data_source":            p.DataSource,
				"author_uuid":            m.Contributor,
				"onion_role":             m.Role,
				"window_start":           ptime.ISO(begin),
				"window_end":             ptime.ISO(end),
				"window_epoch":           w,
				"grimoire_creation_date": ptime.ISO(begin),
				"contributions":          m.Contributions,
				"cum_net_sum":            m.CumSum,
				"percent_cum_net_sum":    float64(m.CumSum) * 100 / float64(total),
				"total_contributions":    total,
			})
		}
	}

	if err := env.Store.PutMapping(ctx, p.OutIndex, o.Mapping()); err != nil {
		return res, fmt.Errorf("mapping %s: %w", p.OutIndex, err)
	}
	res.Written, res.Missing = write(ctx, env, p.OutIndex, docs)
	return res, nil
}

// OnionID is the deterministic document id "{dataSource}_{windowStart}_{contributor}"
func OnionID(dataSource string, windowStart int64, contributor string) string {
	return dataSource + "_" + strconv.FormatInt(windowStart, 10) + "_" + contributor
}

// latestWindow returns the newest window already written for the data source
func (o *OnionStudy) latestWindow(ctx context.Context, env Env, p OnionParams) (int64, bool, error) {
	q := index.Term("data_source", p.DataSource).SortedBy("window_epoch", index.Desc)
	hits, err := env.Store.Search(ctx, p.OutIndex, q, 1, 0)
	if err != nil {
		return 0, false, fmt.Errorf("latest window in %s: %w", p.OutIndex, err)
	}
	if len(hits) == 0 {
		return 0, false, nil
	}
	switch w := hits[0].Source["window_epoch"].(type) {
	case int64:
		return w, true, nil
	case int:
		return int64(w), true, nil
	case float64:
		return int64(w), true, nil
	}
	return 0, false, nil
}
