package pg

import (
	"context"
	"strings"
	"time"

	"enrichd/internal/platform/logger"

	"github.com/jackc/pgx/v5"
)

// Tracer logs statements through pgx's tracing hook: every statement at debug
// when all is set, slow ones at warn regardless
type Tracer struct {
	log  logger.Logger
	slow time.Duration
	all  bool
	now  func() time.Time
}

var _ pgx.QueryTracer = (*Tracer)(nil)

type traceKey struct{}

type traceStart struct {
	sql  string
	args []any
	at   time.Time
}

// NewTracer returns a Tracer writing to log under component=pg
func NewTracer(log logger.Logger, slow time.Duration, all bool) *Tracer {
	return &Tracer{
		log:  log.With().Str("component", "pg").Logger(),
		slow: slow,
		all:  all,
		now:  time.Now,
	}
}

// TraceQueryStart records the statement and its start time on ctx
func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{sql: data.SQL, args: data.Args, at: t.now()})
}

// TraceQueryEnd logs the finished statement
func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	elapsed := t.now().Sub(st.at)
	slow := t.slow > 0 && elapsed >= t.slow

	var evt = t.log.Debug()
	switch {
	case slow:
		evt = t.log.Warn()
	case data.Err != nil:
		evt = t.log.Info()
	case !t.all:
		return
	}
	evt.Dur("elapsed", elapsed).
		Bool("slow", slow).
		Str("sql", compact(st.sql)).
		Int("args", len(st.args)).
		Int64("rows", data.CommandTag.RowsAffected()).
		Err(data.Err).
		Msg("pg query")
}

// compact folds whitespace runs so multi-line statements log on one line
func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
