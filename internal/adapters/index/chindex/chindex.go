// Package chindex stores index documents in ClickHouse ReplacingMergeTree tables
package chindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"enrichd/internal/core/index"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
	"enrichd/internal/platform/store"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const (
	// TablePrefix is prepended to every index table
	TablePrefix = "idx_"

	codeUnknownTable = 60
)

var columns = []string{"id", "doc", "version"}

// Store implements index.Store over the store.Clickhouse seam.
// Rows are versioned so the latest write per id wins once parts merge; reads use FINAL
type Store struct {
	ch  store.Clickhouse
	log logger.Logger
	now func() time.Time

	mu      sync.Mutex
	created map[string]bool
}

var _ index.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithLogger sets the logger for rejected documents
func WithLogger(l logger.Logger) Option { return func(s *Store) { s.log = l } }

// WithClock overrides the version clock
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a Store bound to ch
func New(ch store.Clickhouse, opts ...Option) *Store {
	if ch == nil {
		panic("chindex.New requires a non-nil clickhouse seam")
	}
	s := &Store{ch: ch, now: time.Now, created: map[string]bool{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TableName maps an index name to a safe table name
func TableName(idx string) string {
	var b strings.Builder
	b.WriteString(TablePrefix)
	for _, r := range strings.ToLower(idx) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func ident(s string) string { return "`" + strings.ReplaceAll(s, "`", "\\`") + "`" }

func literal(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

func (s *Store) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	done := s.created[table]
	s.mu.Unlock()
	if done {
		return nil
	}
	err := s.ch.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id      String,
			doc     String,
			version UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY id`, ident(table)))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "chindex: create %s", table)
	}
	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return nil
}

// PutMapping creates the table, skip indexes for text and keyword fields and
// materialized lat/lon columns for geo points
func (s *Store) PutMapping(ctx context.Context, idx string, m index.Mapping) error {
	if err := m.Validate(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "chindex: mapping")
	}
	table := TableName(idx)
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}
	for _, stmt := range mappingDDL(table, m) {
		if err := s.ch.Exec(ctx, stmt); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeDB, "chindex: mapping %s", table)
		}
	}
	return nil
}

func mappingDDL(table string, m index.Mapping) []string {
	var out []string
	alter := "ALTER TABLE " + ident(table) + " "
	col := func(f string) string { return strings.TrimPrefix(TableName(f), TablePrefix) }

	for _, f := range m.Fields(index.Text) {
		out = append(out, alter+fmt.Sprintf(
			"ADD INDEX IF NOT EXISTS %s lower(JSONExtractString(doc, %s)) TYPE tokenbf_v1(10240, 3, 0) GRANULARITY 4",
			ident("tbf_"+col(f)), literal(f)))
	}
	for _, f := range m.Fields(index.Keyword) {
		out = append(out, alter+fmt.Sprintf(
			"ADD INDEX IF NOT EXISTS %s JSONExtractRaw(doc, %s) TYPE bloom_filter(0.01) GRANULARITY 4",
			ident("bf_"+col(f)), literal(f)))
	}
	for _, f := range m.Fields(index.GeoPoint) {
		for _, axis := range []string{"lat", "lon"} {
			out = append(out, alter+fmt.Sprintf(
				"ADD COLUMN IF NOT EXISTS %s Float64 MATERIALIZED JSONExtractFloat(doc, %s, %s)",
				ident(col(f)+"_"+axis), literal(f), literal(axis)))
		}
	}
	return out
}

// BulkIndex inserts docs as a new version of their id. A rejected block is split
// in halves until only the bad documents are left out
func (s *Store) BulkIndex(ctx context.Context, idx string, docs []index.Document, idField string) (int, error) {
	table := TableName(idx)
	if err := s.ensureTable(ctx, table); err != nil {
		return 0, err
	}
	version := uint64(s.now().UnixNano())
	rows := make([][]any, 0, len(docs))
	for _, d := range docs {
		id := index.DocID(d, idField)
		if id == "" {
			continue
		}
		b, err := json.Marshal(d)
		if err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("chindex: document does not encode")
			continue
		}
		rows = append(rows, []any{id, string(b), version})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	stored, err := s.insert(ctx, table, rows)
	if stored > 0 {
		return stored, nil
	}
	return 0, err
}

func (s *Store) insert(ctx context.Context, table string, rows [][]any) (int, error) {
	err := s.ch.Insert(ctx, ident(table), columns, rows)
	if err == nil {
		return len(rows), nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if len(rows) == 1 {
		s.log.Warn().Err(err).Str("table", table).Any("id", rows[0][0]).Msg("chindex: document rejected")
		return 0, perr.Wrapf(err, perr.ErrorCodeDB, "chindex: insert %v", rows[0][0])
	}
	mid := len(rows) / 2
	left, lerr := s.insert(ctx, table, rows[:mid])
	right, rerr := s.insert(ctx, table, rows[mid:])
	return left + right, errors.Join(lerr, rerr)
}

// Search runs q with FINAL so only the latest version per id is read
func (s *Store) Search(ctx context.Context, idx string, q index.Query, size, from int) ([]index.Hit, error) {
	sql, args, err := buildSearch(TableName(idx), q, size, from)
	if err != nil {
		return nil, err
	}
	rows, err := s.ch.Query(ctx, sql, args...)
	if err != nil {
		if unknownTable(err) {
			return nil, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chindex: search %s", idx)
	}
	defer rows.Close()

	var out []index.Hit
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDB, "chindex: scan %s", idx)
		}
		var d index.Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "chindex: decode %s/%s", idx, id)
		}
		out = append(out, index.Hit{ID: id, Source: d})
	}
	return out, rows.Err()
}

func unknownTable(err error) bool {
	var ex *clickhouse.Exception
	return errors.As(err, &ex) && ex.Code == codeUnknownTable
}

// buildSearch renders q as ClickHouse SQL. Numeric bounds compare JSONExtractFloat
// over numeric values, string bounds compare JSONExtractString over strings
func buildSearch(table string, q index.Query, size, from int) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	for _, f := range q.TermFields() {
		b, err := json.Marshal(q.Terms[f])
		if err != nil {
			return "", nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "chindex: query value %v", q.Terms[f])
		}
		where = append(where, fmt.Sprintf("JSONExtractRaw(doc, %s) = ?", literal(f)))
		args = append(args, string(b))
	}
	for _, r := range q.Ranges {
		for _, b := range []struct {
			op string
			v  any
		}{{">=", r.GTE}, {"<", r.LT}} {
			if b.v == nil {
				continue
			}
			if f, ok := number(b.v); ok {
				where = append(where, fmt.Sprintf(
					"JSONType(doc, %[1]s) IN ('Int64', 'UInt64', 'Double') AND JSONExtractFloat(doc, %[1]s) %[2]s ?",
					literal(r.Field), b.op))
				args = append(args, f)
				continue
			}
			where = append(where, fmt.Sprintf(
				"JSONType(doc, %[1]s) = 'String' AND JSONExtractString(doc, %[1]s) %[2]s ?",
				literal(r.Field), b.op))
			args = append(args, fmt.Sprint(b.v))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, doc FROM %s FINAL", ident(table))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	for _, o := range q.Sort {
		dir := "ASC"
		if o.Order == index.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "JSONExtractFloat(doc, %[1]s) %[2]s, JSONExtractString(doc, %[1]s) %[2]s, ", literal(o.Field), dir)
	}
	sb.WriteString("id")
	if size > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", size)
		if from > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", from)
		}
	}
	return sb.String(), args, nil
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
