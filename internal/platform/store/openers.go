package store

import (
	"context"
	"fmt"
	"time"

	chx "enrichd/internal/platform/store/ch"
	"enrichd/internal/platform/store/pg"
)

const (
	defaultConnectRetries = 20
	defaultPingTimeout    = 3 * time.Second
	backoffStart          = 150 * time.Millisecond
	backoffCeiling        = 2 * time.Second
)

// pingWithBackoff pings until success, ctx cancellation, or attempts run out
func pingWithBackoff(ctx context.Context, attempts int, timeout time.Duration, ping func(context.Context) error) error {
	if attempts <= 0 {
		attempts = defaultConnectRetries
	}
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	var lastErr error
	backoff := backoffStart
	for range attempts {
		toCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = ping(toCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffCeiling)
	}
	return fmt.Errorf("ping failed after %d attempts: %w", attempts, lastErr)
}

// openPG opens the pool, waits for it to answer and wraps it as the sql seam
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	pool, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		AppName:  cfg.AppName,
		Slow:     time.Duration(cfg.PG.SlowQueryMs) * time.Millisecond,
		LogSQL:   cfg.PG.LogSQL,
		Log:      s.Log,
	})
	if err != nil {
		return nil, err
	}
	if err := pingWithBackoff(ctx, cfg.PG.ConnectRetries, cfg.PG.PingTimeout, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return newPGAdapter(pool), nil
}

func openCH(ctx context.Context, cfg Config, s *Store) (Clickhouse, error) {
	c, err := chx.Open(ctx, chx.Config{
		URL:          cfg.CH.URL,
		ClientName:   cfg.CH.ClientName,
		ClientTag:    cfg.CH.ClientTag,
		MaxOpenConns: cfg.CH.MaxOpenConns,
		DialTimeout:  cfg.CH.DialTimeout,
		LogSQL:       cfg.CH.LogSQL,
		Log:          s.Log,
	})
	if err != nil {
		return nil, err
	}
	if err := pingWithBackoff(ctx, 0, 0, c.Ping); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	return newCHAdapter(c), nil
}
