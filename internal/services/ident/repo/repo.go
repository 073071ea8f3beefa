// Package repo provides Postgres bindings for domain.Repo
package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"enrichd/internal/core/identity"
	"enrichd/internal/modkit/repokit"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/store"
	"enrichd/internal/services/ident/domain"
)

//go:embed schema.sql
var schemaSQL string

type (
	// PG is a Postgres binder for domain.Repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// Compile-time assertion: queries implements domain.Repo
var _ domain.Repo = (*queries)(nil)

// NewPG returns a Postgres binder for Repo
func NewPG() repokit.Binder[domain.Repo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.Repo { return &queries{q: q} }

// EnsureSchema creates the directory tables
func (r *queries) EnsureSchema(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, schemaSQL); err != nil {
		return perr.FromPostgres(err, "ident: ensure schema")
	}
	return nil
}

// Lookup reads the identity row keyed by its content id, its profile and enrollments
func (r *queries) Lookup(ctx context.Context, source string, id identity.Identity) (identity.Canonical, error) {
	key := domain.IdentityID(source, id)
	c, err := store.One(ctx, r.q, func(row store.Row) (identity.Canonical, error) {
		var c identity.Canonical
		err := row.Scan(&c.ID, &c.UUID, &c.Name, &c.Email, &c.Username, &c.Gender, &c.GenderAcc, &c.Bot)
		return c, err
	}, `
		SELECT i.id, i.uuid, p.name, p.email, i.username, p.gender, p.gender_acc, p.is_bot
		FROM sh_identities i
		JOIN sh_profiles p ON p.uuid = i.uuid
		WHERE i.id = $1`, key)
	if errors.Is(err, perr.ErrNotFound) {
		return identity.Canonical{}, perr.NotFoundf("ident: %s identity %s not found", source, key)
	}
	if err != nil {
		return identity.Canonical{}, perr.FromPostgres(err, "ident: lookup")
	}

	c.Enrollments, err = store.Many(ctx, r.q, func(row store.Row) (identity.Enrollment, error) {
		var e identity.Enrollment
		err := row.Scan(&e.Org, &e.Start, &e.End)
		e.Start, e.End = e.Start.UTC(), e.End.UTC()
		return e, err
	}, `
		SELECT o.name, e.start_date, e.end_date
		FROM sh_enrollments e
		JOIN sh_organizations o ON o.id = e.organization_id
		WHERE e.uuid = $1
		ORDER BY e.start_date, o.name`, c.UUID)
	if err != nil {
		return identity.Canonical{}, perr.FromPostgres(err, "ident: enrollments")
	}
	return c, nil
}

// Merge stages ids in a temp table and inserts the unknown ones, each as its own
// profile. Must run inside a transaction so the temp table stays on one connection
func (r *queries) Merge(ctx context.Context, source string, ids []identity.Identity) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	names := make([]*string, len(ids))
	emails := make([]*string, len(ids))
	usernames := make([]*string, len(ids))
	for i, id := range ids {
		keys[i] = domain.IdentityID(source, id)
		names[i], emails[i], usernames[i] = id.Name, id.Email, id.Username
	}

	if _, err := r.q.Exec(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS _sh_stage(
			id       text PRIMARY KEY,
			name     text,
			email    text,
			username text
		) ON COMMIT DROP;
		TRUNCATE _sh_stage;
	`); err != nil {
		return 0, fmt.Errorf("stage identities: create temp: %w", err)
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO _sh_stage(id, name, email, username)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
		ON CONFLICT (id) DO NOTHING;
	`, keys, names, emails, usernames); err != nil {
		return 0, fmt.Errorf("stage identities: load: %w", err)
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO sh_profiles(uuid, name, email)
		SELECT s.id, s.name, s.email FROM _sh_stage s
		WHERE NOT EXISTS (SELECT 1 FROM sh_identities i WHERE i.id = s.id)
		ON CONFLICT (uuid) DO NOTHING;
	`); err != nil {
		return 0, perr.FromPostgres(err, "ident: ensure profiles")
	}
	tag, err := r.q.Exec(ctx, `
		INSERT INTO sh_identities(id, uuid, source, name, email, username, last_modified)
		SELECT s.id, s.id, $1, s.name, s.email, s.username, $2 FROM _sh_stage s
		ON CONFLICT (id) DO NOTHING;
	`, source, time.Now().UTC())
	if err != nil {
		return 0, perr.FromPostgres(err, "ident: insert identities")
	}
	return int(tag.RowsAffected()), nil
}

// Usernames lists distinct non-null usernames of uuid on source. An unknown uuid
// is perr.ErrorCodeNotFound
func (r *queries) Usernames(ctx context.Context, uuid, source string) ([]string, error) {
	known, err := store.Scalar[bool](ctx, r.q, `SELECT EXISTS (SELECT 1 FROM sh_profiles WHERE uuid = $1)`, uuid)
	if err != nil {
		return nil, perr.FromPostgres(err, "ident: profile exists")
	}
	if !known {
		return nil, perr.NotFoundf("ident: profile %s not found", uuid)
	}
	out, err := store.Many(ctx, r.q, func(row store.Row) (string, error) {
		var s string
		return s, row.Scan(&s)
	}, `
		SELECT DISTINCT username FROM sh_identities
		WHERE uuid = $1 AND source = $2 AND username IS NOT NULL AND username <> ''
		ORDER BY username`, uuid, source)
	if err != nil {
		return nil, perr.FromPostgres(err, "ident: usernames")
	}
	return out, nil
}
