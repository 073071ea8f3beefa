// Package studies runs post-enrichment analyses that read an enriched index and
// write a derived one. Studies never modify the index they read
package studies

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"enrichd/internal/core/bulk"
	"enrichd/internal/core/index"
	"enrichd/internal/platform/logger"
)

// Study names
const (
	Demography = "demography"
	Onion      = "onion"
)

// ScanPage is the page size used to read the source index
const ScanPage = 500

// Env is what a study needs from the run that triggers it
type Env struct {
	Store      index.Store
	Index      string
	DataSource string
	MaxBulk    int
	Log        logger.Logger
}

// Result summarizes one study run
type Result struct {
	Study    string `json:"study"`
	OutIndex string `json:"out_index"`
	Read     int    `json:"read"`
	Written  int    `json:"written"`
	Missing  int    `json:"missing"`
}

// Study is one named analysis
type Study interface {
	Name() string
	Run(ctx context.Context, env Env) (Result, error)
}

// Config carries the parameters of every registered study
type Config struct {
	Demography DemographyParams
	Onion      OnionParams
}

var registry = map[string]func(Config) Study{
	Demography: func(c Config) Study { return NewDemography(c.Demography) },
	Onion:      func(c Config) Study { return NewOnion(c.Onion) },
}

// Names lists registered studies
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup builds the named study
func Lookup(name string, c Config) (Study, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("studies: unknown study %q", name)
	}
	return f(c), nil
}

// RunAll runs names in order. A failing study is logged and reported in the
// joined error; later studies still run
func RunAll(ctx context.Context, names []string, env Env, c Config) ([]Result, error) {
	var (
		out  []Result
		errs []error
	)
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s, err := Lookup(n, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := s.Run(ctx, env)
		if err != nil {
			env.Log.Error().Err(err).Str("study", n).Str("index", env.Index).Msg("studies: run failed")
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		env.Log.Info().Str("study", n).Str("out", res.OutIndex).Int("read", res.Read).Int("written", res.Written).Msg("studies: done")
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// scan pages through q on idx and calls fn for every document
func scan(ctx context.Context, st index.Store, idx string, q index.Query, fn func(index.Document)) (int, error) {
	n := 0
	for from := 0; ; from += ScanPage {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		hits, err := st.Search(ctx, idx, q, ScanPage, from)
		if err != nil {
			return n, fmt.Errorf("scan %s: %w", idx, err)
		}
		for _, h := range hits {
			fn(h.Source)
			n++
		}
		if len(hits) < ScanPage {
			return n, nil
		}
	}
}

// write uploads docs to out and returns stored and missing counts
func write(ctx context.Context, env Env, out string, docs []index.Document) (int, int) {
	up := bulk.New(env.Store, out, "id", env.MaxBulk, bulk.WithLogger(env.Log))
	stored := up.Upload(ctx, docs)
	return stored, up.Stats().Missing()
}
