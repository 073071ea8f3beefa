// Package pg opens the pgx pool behind the store's sql seam
package pg

import (
	"context"
	"time"

	"enrichd/internal/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures the pool and its query tracer
type Config struct {
	URL      string
	MaxConns int32
	// AppName is reported to the server as application_name
	AppName string
	// Slow marks statements taking at least Slow; they are logged even when LogSQL is off
	Slow   time.Duration
	LogSQL bool
	Log    logger.Logger
}

var newPool = pgxpool.NewWithConfig

// Open parses cfg.URL and builds a pool with the tracer attached. It does not
// wait for the server; callers ping
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.AppName != "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = cfg.AppName
	}
	if cfg.LogSQL || cfg.Slow > 0 {
		pcfg.ConnConfig.Tracer = NewTracer(cfg.Log, cfg.Slow, cfg.LogSQL)
	}
	return newPool(ctx, pcfg)
}
