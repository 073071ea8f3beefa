// Package module provides the enrich module implementation
package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enrichd/internal/adapters/activitytable"
	"enrichd/internal/adapters/geocode/google"
	"enrichd/internal/adapters/index/chindex"
	"enrichd/internal/adapters/index/pgindex"
	"enrichd/internal/adapters/ingest/rawfile"
	"enrichd/internal/adapters/ingest/rawindex"
	"enrichd/internal/core/activity"
	"enrichd/internal/core/index"
	"enrichd/internal/core/projects"
	"enrichd/internal/core/studies"
	"enrichd/internal/modkit"
	"enrichd/internal/platform/logger"
	phttp "enrichd/internal/platform/net/http"
	"enrichd/internal/services/enrich/domain"
	enrichhttp "enrichd/internal/services/enrich/http"
	"enrichd/internal/services/enrich/service"
)

// Ports defines the enrich module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the enrich module
type Module struct {
	deps    modkit.Deps
	built   modkit.Built
	opts    Options
	store   index.Store
	svc     *service.Service
	snap    *activitytable.Snapshot
	ports   Ports
	started time.Time
}

// New constructs the enrich module from opts, usually FromConfig(deps.Cfg) with
// flag overrides applied. The identity directory arrives through
// modkit.WithPorts(domain.Ports{...}) and is required by identity resolution,
// identity loading and the activity join
func New(deps modkit.Deps, o Options, opts ...modkit.Option) (*Module, error) {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("enrich")}, opts...)...)
	var dir domain.Directory
	if p, ok := b.Ports.(domain.Ports); ok {
		dir = p.Directory
	}
	if o.Identities && dir == nil {
		return nil, errors.New("enrich module: identity resolution needs WithPorts(enrich/domain.Ports) with a Directory")
	}

	st, err := openIndex(deps, o)
	if err != nil {
		return nil, err
	}

	cfg := service.Config{
		Kind:       o.Kind,
		Index:      o.Index,
		MaxBulk:    o.MaxBulk,
		KeywordMax: o.KeywordMax,
		FilterRaw:  o.FilterRaw,
		Identities: o.Identities,
		Geocode:    o.Geocode,
		GeoIndex:   o.Geo.Index,
		RunStudies: o.RunStudies,
		Studies:    o.Studies,
		StudyConfig: studies.Config{
			Onion: o.Onion,
		},
	}
	if o.ProjectsFile != "" {
		pm, err := projects.Load(o.ProjectsFile)
		if err != nil {
			return nil, err
		}
		cfg.Projects = pm.Index()
	}

	var svcOpts []service.Option
	if dir != nil {
		svcOpts = append(svcOpts, service.WithDirectory(dir))
	}
	if o.Geocode {
		if o.Geo.APIKey == "" {
			return nil, errors.New("enrich module: geocoding needs CORE_GEO_API_KEY")
		}
		svcOpts = append(svcOpts, service.WithGeocoder(google.New(google.Options{
			BaseURL: o.Geo.BaseURL,
			APIKey:  o.Geo.APIKey,
			Timeout: o.Geo.Timeout,
			RPS:     o.Geo.RPS,
		})))
	}

	m := &Module{deps: deps, built: b, opts: o, store: st, started: time.Now()}
	if o.ActivityCSV != "" {
		if o.ActivitySnapshot != "" {
			m.snap, err = activitytable.OpenSnapshot(o.ActivitySnapshot)
			if err != nil {
				return nil, err
			}
		}
		var snap activity.Snapshotter
		if m.snap != nil {
			snap = m.snap
		}
		svcOpts = append(svcOpts, service.WithActivity(activitytable.CSVFile(o.ActivityCSV), snap))
	}

	m.svc = service.New(st, cfg, svcOpts...)
	m.ports = Ports{Runner: m.svc}
	return m, nil
}

func openIndex(deps modkit.Deps, o Options) (index.Store, error) {
	switch o.Backend {
	case BackendClickhouse:
		if deps.CH == nil {
			return nil, errors.New("enrich module: clickhouse backend selected but SERVICE_CLICKHOUSE_ is not configured")
		}
		return chindex.New(deps.CH, chindex.WithLogger(*logger.Named("chindex"))), nil
	case BackendPostgres, "":
		if deps.PG == nil {
			return nil, errors.New("enrich module: postgres backend selected but SERVICE_PGSQL_ is not configured")
		}
		return pgindex.New(deps.PG,
			pgindex.WithLogger(*logger.Named("pgindex")),
			pgindex.WithStatementTimeout(o.StatementTimeout),
		), nil
	default:
		return nil, fmt.Errorf("enrich module: unknown backend %q", o.Backend)
	}
}

// Name returns the module name
func (m *Module) Name() string { return "enrich" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Options returns the effective options
func (m *Module) Options() Options { return m.opts }

// Runner returns the typed runner port
func (m *Module) Runner() domain.RunnerPort { return m.svc }

// Store returns the index store the module writes to
func (m *Module) Store() index.Store { return m.store }

// MountRoutes mounts the ops endpoints under the module prefix and middleware
func (m *Module) MountRoutes(r phttp.Router) {
	m.built.Mount(r, func(sub phttp.Router) {
		enrichhttp.Register(sub, enrichhttp.Deps{
			Runner:    m.svc,
			StartedAt: m.started,
			PG:        m.deps.PG,
			CH:        m.deps.CH,
		})
	})
}

// OpenSource opens the configured raw source: the JSON-lines file when set,
// the raw index otherwise
func (m *Module) OpenSource(_ context.Context) (domain.Source, error) {
	if m.opts.RawFile != "" {
		rd, err := rawfile.Open(m.opts.RawFile)
		if err != nil {
			return nil, err
		}
		return rd, nil
	}
	return rawindex.New(m.store, rawindex.Options{
		Index:  m.opts.RawIndex,
		Origin: m.opts.Origin,
	}), nil
}

// Close releases the activity snapshot
func (m *Module) Close() error {
	if m.snap != nil {
		return m.snap.Close()
	}
	return nil
}
