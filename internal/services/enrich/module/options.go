package module

import (
	"time"

	"enrichd/internal/core/bulk"
	"enrichd/internal/core/geo"
	"enrichd/internal/core/rich"
	"enrichd/internal/core/studies"
	"enrichd/internal/platform/config"
)

// Index store backends
const (
	BackendPostgres   = "pg"
	BackendClickhouse = "ch"
)

// Options holds configuration options for the enrich module
type Options struct {
	Kind     string
	Backend  string
	RawIndex string
	RawFile  string
	Origin   string
	Index    string

	MaxBulk    int
	KeywordMax int
	FilterRaw  string

	Identities   bool
	Geocode      bool
	ProjectsFile string

	RunStudies bool
	Studies    []string

	ActivityCSV      string
	ActivitySnapshot string

	OpsAddr string

	// StatementTimeout bounds each postgres bulk insert, 0 disables it
	StatementTimeout time.Duration

	Geo   GeoOptions
	Onion studies.OnionParams
}

// GeoOptions configures the geocoding provider and cache index
type GeoOptions struct {
	Index   string
	APIKey  string
	BaseURL string
	RPS     float64
	Timeout time.Duration
}

// FromConfig reads the enrich options from config with the CORE_ENRICH_,
// CORE_GEO_ and CORE_ONION_ prefixes
func FromConfig(cfg config.Conf) Options {
	en := cfg.Prefix("CORE_ENRICH_")
	gc := cfg.Prefix("CORE_GEO_")
	on := cfg.Prefix("CORE_ONION_")

	kind := en.MayEnum("SOURCE", rich.KindGitHub, rich.Kinds()...)
	o := Options{
		Kind:     kind,
		Backend:  en.MayEnum("BACKEND", BackendPostgres, BackendPostgres, BackendClickhouse),
		RawIndex: en.MayString("RAW_INDEX", kind+"_raw"),
		RawFile:  en.MayString("RAW_FILE", ""),
		Origin:   en.MayString("ORIGIN", ""),
		Index:    en.MayString("ENRICHED_INDEX", kind+"_enriched"),

		MaxBulk:    en.MayPositiveInt("MAX_BULK", bulk.DefaultMaxItems),
		KeywordMax: en.MayPositiveInt("KEYWORD_MAX", rich.DefaultKeywordMax),
		FilterRaw:  en.MayString("FILTER_RAW", ""),

		Identities:   en.MayBool("SORTINGHAT", false),
		Geocode:      en.MayBool("GEOCODE", false),
		ProjectsFile: en.MayString("PROJECTS_FILE", ""),

		RunStudies: en.MayBool("RUN_STUDIES", false),
		Studies:    en.MayCSV("STUDIES", nil),

		ActivityCSV:      en.MayString("ACTIVITY_CSV", ""),
		ActivitySnapshot: en.MayString("ACTIVITY_SNAPSHOT", ""),

		OpsAddr: en.MayString("OPS_ADDR", ""),

		StatementTimeout: en.MayDuration("PG_STATEMENT_TIMEOUT", 0),

		Geo: GeoOptions{
			Index:   gc.MayString("INDEX", geo.DefaultIndex),
			APIKey:  gc.MayString("API_KEY", ""),
			BaseURL: gc.MayString("BASE_URL", ""),
			RPS:     gc.MayFloat64("RPS", 10),
			Timeout: gc.MayDuration("TIMEOUT", 10*time.Second),
		},
		Onion: studies.OnionParams{
			InIndex:       on.MayString("IN_INDEX", ""),
			OutIndex:      on.MayString("OUT_INDEX", ""),
			WindowSeconds: int64(on.MayPositiveInt("INTERVAL", studies.DefaultOnionWindow)),
			Incremental:   on.MayBool("INCREMENTAL", true),
		},
	}
	// a gerrit origin may carry its raw filter: "host --filter-raw=value"
	if origin, filter := rich.ParseSourceURL(o.Origin); filter != "" {
		o.Origin = origin
		if o.FilterRaw == "" {
			o.FilterRaw = filter
		}
	}
	return o
}
