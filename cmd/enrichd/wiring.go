package main

import (
	"context"
	"errors"
	"time"

	"enrichd/internal/modkit"
	"enrichd/internal/modkit/module"
	"enrichd/internal/platform/config"
	"enrichd/internal/platform/logger"
	phttp "enrichd/internal/platform/net/http"
	"enrichd/internal/platform/net/middleware"
	"enrichd/internal/platform/store"

	enrichdom "enrichd/internal/services/enrich/domain"
	enrichmod "enrichd/internal/services/enrich/module"
	identmod "enrichd/internal/services/ident/module"

	"github.com/go-chi/chi/v5"
)

// app is one command invocation's wired store and modules
type app struct {
	cfg    config.Conf
	st     *store.Store
	enrich *enrichmod.Module
	log    *logger.Logger
}

// needs lists which seams a command requires beyond the index backend
type needs struct {
	directory bool
}

// openApp opens the store for the selected backend and builds the ident and
// enrich modules over it
func openApp(ctx context.Context, n needs) (*app, error) {
	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	l := logger.Get()

	o := enrichmod.FromConfig(root)
	n.directory = n.directory || o.Identities || o.ActivityCSV != ""

	pgURL := pgCfg.MayString("DBURL", "")
	if pgURL == "" && (o.Backend != enrichmod.BackendClickhouse || n.directory) {
		return nil, errors.New("SERVICE_PGSQL_DBURL is required for the postgres backend and the identity directory")
	}
	chOn := o.Backend == enrichmod.BackendClickhouse

	var chURL string
	if chOn {
		chURL = chCfg.MustString("DBURL")
	}
	st, err := store.Open(ctx, store.Config{
		AppName: "enrichd",
		PG: store.PGConfig{
			Enabled:        pgURL != "",
			URL:            pgURL,
			MaxConns:       int32(pgCfg.MayPositiveInt("MAX_CONNS", 4)),
			SlowQueryMs:    pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:         pgCfg.MayBool("LOG_SQL", false),
			ConnectRetries: pgCfg.MayInt("CONNECT_RETRIES", 0),
		},
		CH: store.CHConfig{
			Enabled:      chOn,
			URL:          chURL,
			LogSQL:       chCfg.MayBool("LOG_SQL", false),
			ClientName:   "enrichd",
			ClientTag:    o.Kind,
			MaxOpenConns: chCfg.MayPositiveInt("MAX_OPEN_CONNS", 4),
			DialTimeout:  chCfg.MayDuration("DIAL_TIMEOUT", 5*time.Second),
		},
	}, store.WithLogger(*l))
	if err != nil {
		return nil, err
	}

	deps := modkit.Deps{Log: *l, Cfg: root, PG: st.PG, CH: st.CH}

	mopts := []modkit.Option{modkit.WithMiddlewares(middleware.NoCache())}
	if n.directory {
		ident := identmod.New(deps)
		if err := ident.Directory().EnsureSchema(ctx); err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		mopts = append(mopts, modkit.WithPorts(enrichdom.Ports{
			Directory: module.MustPortsOf[enrichdom.Directory](ident),
		}))
	}

	m, err := enrichmod.New(deps, o, mopts...)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	return &app{cfg: root, st: st, enrich: m, log: l}, nil
}

// Close releases the module and the store
func (a *app) Close(ctx context.Context) {
	if err := a.enrich.Close(); err != nil {
		a.log.Error().Err(err).Msg("failed to close enrich module")
	}
	if err := a.st.Close(ctx); err != nil {
		a.log.Error().Err(err).Msg("failed to close store")
	}
}

// serveOps starts the ops endpoints when an address is configured and
// returns once ctx is cancelled
func (a *app) serveOps(ctx context.Context) {
	addr := a.enrich.Options().OpsAddr
	if addr == "" {
		return
	}
	ops := a.cfg.Prefix("CORE_ENRICH_OPS_")
	srv := phttp.Listen(addr, func(m *chi.Mux) {
		m.Use(middleware.RealIP(), middleware.RequestID(), middleware.RecoverJSON)
		m.Use(middleware.AccessLogZerolog(middleware.AccessLogOptions{
			Slow: ops.MayDuration("SLOW", 500*time.Millisecond),
			Skip: []string{"/metrics", "/healthz"},
		}))
		if origins := ops.MayCSV("CORS_ORIGINS", nil); len(origins) > 0 {
			m.Use(middleware.CORS(middleware.CORSOptions{
				AllowedOrigins: origins,
				AllowedMethods: []string{"GET", "OPTIONS"},
			}))
		}
	})
	r := srv.Router()
	a.enrich.MountRoutes(r)
	phttp.MountProfiler(r, "/debug", ops.MayBool("PROFILER", false))

	go func() {
		if err := srv.Run(ctx); err != nil {
			a.log.Error().Err(err).Str("addr", addr).Msg("ops server stopped")
		}
	}()
}
