// Package ch provides a clickhouse client over clickhouse-go
package ch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
)

// Config configures clickhouse client
type Config struct {
	URL          string
	ClientName   string
	ClientTag    string
	MaxOpenConns int
	DialTimeout  time.Duration
	LogSQL       bool
	Log          zerolog.Logger
}

// Rows is the minimal result set iteration for ch
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
	Columns() []string
}

// Batch is a prepared insert accepting rows until Send
type Batch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

type conn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// CH is a clickhouse client
type CH struct {
	conn    conn
	query   func(ctx context.Context, sql string, args ...any) (Rows, error)
	prepare func(ctx context.Context, sql string) (Batch, error)
	logSQL  bool
	log     zerolog.Logger
}

var openConn = clickhouse.Open

// Open parses the DSN, applies pool and client info settings and returns a client.
// The driver dials lazily; callers ping before use
func Open(_ context.Context, cfg Config) (*CH, error) {
	opts, err := clickhouse.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		opts.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	name := cfg.ClientName
	if name == "" {
		name = "enrichd"
	}
	opts.ClientInfo = BuildClientInfo(name, cfg.ClientTag)

	c, err := openConn(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	out := fromDriver(c)
	out.logSQL = cfg.LogSQL
	out.log = cfg.Log.With().Str("component", "ch").Logger()
	return out, nil
}

func fromDriver(c driver.Conn) *CH {
	return &CH{
		conn: c,
		query: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return c.Query(ctx, sql, args...)
		},
		prepare: func(ctx context.Context, sql string) (Batch, error) {
			return c.PrepareBatch(ctx, sql)
		},
	}
}

// Ping verifies connectivity
func (c *CH) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

// Exec runs a statement that returns no rows (DDL, mutations)
func (c *CH) Exec(ctx context.Context, sql string, args ...any) error {
	c.trace(sql, len(args))
	return c.conn.Exec(ctx, sql, args...)
}

// Insert appends rows to a prepared batch for table and sends it in one block.
// A row the driver rejects aborts the batch so nothing is half written
func (c *CH) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	sql := "INSERT INTO " + table
	if len(columns) > 0 {
		sql += " (" + strings.Join(columns, ", ") + ")"
	}
	c.trace(sql, len(rows))
	b, err := c.prepare(ctx, sql)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare %s: %w", table, err)
	}
	for i, r := range rows {
		if err := b.Append(r...); err != nil {
			_ = b.Abort()
			return fmt.Errorf("clickhouse: append row %d to %s: %w", i, table, err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("clickhouse: send %s: %w", table, err)
	}
	return nil
}

// Query runs a query and returns ch.Rows
func (c *CH) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	c.trace(sql, len(args))
	return c.query(ctx, sql, args...)
}

// Close closes resources
func (c *CH) Close() error { return c.conn.Close() }

func (c *CH) trace(sql string, n int) {
	if !c.logSQL {
		return
	}
	c.log.Info().Str("sql", strings.Join(strings.Fields(sql), " ")).Int("n", n).Msg("ch query")
}
