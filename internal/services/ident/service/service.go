// Package service provides the ident service implementation
package service

import (
	"context"
	"slices"

	"enrichd/internal/core/activity"
	"enrichd/internal/core/identity"
	"enrichd/internal/modkit/repokit"
	"enrichd/internal/services/ident/domain"
)

// DefaultMergeChunk bounds how many identities one Merge transaction stages
const DefaultMergeChunk = 5000

// Svc is the identity directory: lookups for the resolver, merges for the
// identity loading step and usernames for the activity join
type Svc struct {
	db     repokit.TxRunner
	binder repokit.Binder[domain.Repo]
	chunk  int
}

var (
	_ domain.Ports            = (*Svc)(nil)
	_ identity.Directory      = (*Svc)(nil)
	_ activity.UsernameSource = (*Svc)(nil)
)

// New constructs the ident service
func New(db repokit.TxRunner, binder repokit.Binder[domain.Repo]) *Svc {
	if db == nil {
		panic("ident.Service requires a non-nil TxRunner")
	}
	if binder == nil {
		panic("ident.Service requires a non-nil Repo binder")
	}
	return &Svc{db: db, binder: binder, chunk: DefaultMergeChunk}
}

// EnsureSchema creates the directory tables
func (s *Svc) EnsureSchema(ctx context.Context) error {
	return s.binder.Bind(s.db).EnsureSchema(ctx)
}

// Lookup resolves one identity
func (s *Svc) Lookup(ctx context.Context, source string, id identity.Identity) (identity.Canonical, error) {
	return s.binder.Bind(s.db).Lookup(ctx, source, id)
}

// Usernames lists the usernames of uuid on source
func (s *Svc) Usernames(ctx context.Context, uuid, source string) ([]string, error) {
	return s.binder.Bind(s.db).Usernames(ctx, uuid, source)
}

// Merge adds unknown identities, skipping empty ones, in chunked transactions
func (s *Svc) Merge(ctx context.Context, source string, ids []identity.Identity) (int, error) {
	ids = slices.DeleteFunc(slices.Clone(ids), identity.Identity.Empty)
	added := 0
	for chunk := range slices.Chunk(ids, s.chunk) {
		var n int
		// Single tx to guarantee temp-table connection affinity
		err := s.db.Tx(ctx, func(q repokit.Queryer) error {
			var err error
			n, err = s.binder.Bind(q).Merge(ctx, source, chunk)
			return err
		})
		if err != nil {
			return added, err
		}
		added += n
	}
	return added, nil
}
