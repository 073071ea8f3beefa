// Package pgindex stores index documents as jsonb rows in Postgres, one table per index
package pgindex

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"enrichd/internal/core/index"
	"enrichd/internal/modkit/repokit"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"

	"github.com/jackc/pgx/v5"
)

// TablePrefix is prepended to every index table
const TablePrefix = "idx_"

// Store implements index.Store over a repokit.TxRunner
type Store struct {
	db    repokit.TxRunner
	log   logger.Logger
	hooks []repokit.BeginHook

	mu      sync.Mutex
	created map[string]bool
}

var _ index.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithLogger sets the logger for failed documents and bisect progress
func WithLogger(l logger.Logger) Option { return func(s *Store) { s.log = l } }

// WithStatementTimeout bounds each bulk insert transaction statement to d
func WithStatementTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.hooks = append(s.hooks, repokit.StatementTimeout(d))
		}
	}
}

// New returns a Store bound to db
func New(db repokit.TxRunner, opts ...Option) *Store {
	if db == nil {
		panic("pgindex.New requires a non-nil TxRunner")
	}
	s := &Store{db: db, created: map[string]bool{}}
	for _, o := range opts {
		o(s)
	}
	s.db = repokit.WithBeginHooks(s.db, s.hooks...)
	return s
}

// TableName maps an index name to a safe table name
func TableName(idx string) string {
	var b strings.Builder
	b.WriteString(TablePrefix)
	for _, r := range strings.ToLower(idx) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func quote(name string) string { return pgx.Identifier{name}.Sanitize() }

func (s *Store) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	done := s.created[table]
	s.mu.Unlock()
	if done {
		return nil
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         text PRIMARY KEY,
			doc        jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, quote(table))); err != nil {
		return perr.FromPostgresf(err, "pgindex: create %s", table)
	}
	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return nil
}

// PutMapping creates the table and one expression index per mapped field:
// GIN tsvector for text, GiST point for geo_point, btree for the rest
func (s *Store) PutMapping(ctx context.Context, idx string, m index.Mapping) error {
	if err := m.Validate(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "pgindex: mapping")
	}
	table := TableName(idx)
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}
	for _, stmt := range mappingDDL(table, m) {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return perr.FromPostgresf(err, "pgindex: mapping %s", table)
		}
	}
	return nil
}

func mappingDDL(table string, m index.Mapping) []string {
	var out []string
	add := func(t index.FieldType, suffix, using, expr func(f string) string) {
		for _, f := range m.Fields(t) {
			name := quote(truncIdent(table + "_" + sanitize(f) + "_" + suffix(f)))
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING %s (%s)",
				name, quote(table), using(f), expr(f)))
		}
	}
	fixed := func(v string) func(string) string { return func(string) string { return v } }

	add(index.Text, fixed("tsv"), fixed("gin"), func(f string) string {
		return fmt.Sprintf("to_tsvector('simple', coalesce(doc->>%s, ''))", literal(f))
	})
	add(index.GeoPoint, fixed("geo"), fixed("gist"), func(f string) string {
		return fmt.Sprintf("point((doc->%[1]s->>'lon')::float8, (doc->%[1]s->>'lat')::float8)", literal(f))
	})
	for _, t := range []index.FieldType{index.Keyword, index.Date, index.Long, index.Double, index.Boolean} {
		add(t, fixed("btree"), fixed("btree"), func(f string) string {
			return fmt.Sprintf("(doc->%s)", literal(f))
		})
	}
	return out
}

// postgres truncates identifiers at 63 bytes; long names keep a hash of the full name
func truncIdent(s string) string {
	const maxIdent = 63
	if len(s) <= maxIdent {
		return s
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return s[:40] + "_" + strconv.FormatUint(uint64(h.Sum32()), 36)
}

func sanitize(f string) string { return strings.TrimPrefix(TableName(f), TablePrefix) }

func literal(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// BulkIndex upserts docs keyed by idField. A failing batch is split in halves until
// the bad documents are isolated, so only they are lost
func (s *Store) BulkIndex(ctx context.Context, idx string, docs []index.Document, idField string) (int, error) {
	table := TableName(idx)
	if err := s.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	b := encode(docs, idField, s.log)
	if len(b.ids) == 0 {
		return 0, nil
	}
	stored, err := s.insert(ctx, table, b)
	if stored > 0 {
		return stored, nil
	}
	return 0, err
}

// batch is one row per distinct id; docs counts the documents folded into each row
type batch struct {
	ids, bodies []string
	docs        []int
}

func (b batch) split(i int) (batch, batch) {
	return batch{b.ids[:i], b.bodies[:i], b.docs[:i]}, batch{b.ids[i:], b.bodies[i:], b.docs[i:]}
}

func (b batch) total() int {
	n := 0
	for _, d := range b.docs {
		n += d
	}
	return n
}

// encode drops documents without id or that fail to marshal. A repeated id keeps
// its last document and still counts every upsert, as the memory store does
func encode(docs []index.Document, idField string, log logger.Logger) batch {
	pos := make(map[string]int, len(docs))
	var b batch
	for _, d := range docs {
		id := index.DocID(d, idField)
		if id == "" {
			continue
		}
		body, err := json.Marshal(d)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("pgindex: document does not encode")
			continue
		}
		if i, ok := pos[id]; ok {
			b.bodies[i] = string(body)
			b.docs[i]++
			continue
		}
		pos[id] = len(b.ids)
		b.ids = append(b.ids, id)
		b.bodies = append(b.bodies, string(body))
		b.docs = append(b.docs, 1)
	}
	return b
}

func (s *Store) insert(ctx context.Context, table string, b batch) (int, error) {
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		_, err := q.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, doc)
			SELECT t.id, t.doc::jsonb FROM unnest($1::text[], $2::text[]) AS t(id, doc)
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, quote(table)),
			b.ids, b.bodies)
		return err
	})
	if err == nil {
		return b.total(), nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if len(b.ids) == 1 {
		s.log.Warn().Err(err).Str("table", table).Str("id", b.ids[0]).Msg("pgindex: document rejected")
		return 0, perr.FromPostgresf(err, "pgindex: insert %s", b.ids[0])
	}
	lb, rb := b.split(len(b.ids) / 2)
	left, lerr := s.insert(ctx, table, lb)
	right, rerr := s.insert(ctx, table, rb)
	if lerr != nil {
		return left + right, lerr
	}
	return left + right, rerr
}

// Search runs q against the index table; a missing table yields no hits
func (s *Store) Search(ctx context.Context, idx string, q index.Query, size, from int) ([]index.Hit, error) {
	sql, args, err := buildSearch(TableName(idx), q, size, from)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		if perr.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, perr.FromPostgresf(err, "pgindex: search %s", idx)
	}
	defer rows.Close()

	var out []index.Hit
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, perr.FromPostgresf(err, "pgindex: scan %s", idx)
		}
		var d index.Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "pgindex: decode %s/%s", idx, id)
		}
		out = append(out, index.Hit{ID: id, Source: d})
	}
	if err := rows.Err(); err != nil {
		if perr.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, perr.FromPostgresf(err, "pgindex: rows %s", idx)
	}
	return out, nil
}

// buildSearch renders q as SQL. Term and range values are compared as jsonb so
// numbers order numerically and strings lexically; a range only matches values of
// its bound's json type
func buildSearch(table string, q index.Query, size, from int) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "pgindex: query value %v", v)
		}
		args = append(args, string(b))
		return "$" + strconv.Itoa(len(args)) + "::jsonb", nil
	}

	for _, f := range q.TermFields() {
		p, err := arg(q.Terms[f])
		if err != nil {
			return "", nil, err
		}
		where = append(where, fmt.Sprintf("doc->%s = %s", literal(f), p))
	}
	for _, r := range q.Ranges {
		for _, b := range []struct {
			op string
			v  any
		}{{">=", r.GTE}, {"<", r.LT}} {
			if b.v == nil {
				continue
			}
			p, err := arg(b.v)
			if err != nil {
				return "", nil, err
			}
			where = append(where, fmt.Sprintf("jsonb_typeof(doc->%[1]s) = jsonb_typeof(%[2]s) AND doc->%[1]s %[3]s %[2]s",
				literal(r.Field), p, b.op))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, doc FROM %s", quote(table))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	for _, o := range q.Sort {
		dir := "ASC NULLS FIRST"
		if o.Order == index.Desc {
			dir = "DESC NULLS LAST"
		}
		fmt.Fprintf(&sb, "doc->%s %s, ", literal(o.Field), dir)
	}
	sb.WriteString("id")
	if size > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", size)
	}
	if from > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", from)
	}
	return sb.String(), args, nil
}
