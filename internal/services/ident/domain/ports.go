// Package domain defines the core types and interfaces for the ident service
package domain

import (
	"context"
	"crypto/sha1" //nolint:gosec // identity ids are content keys, not secrets
	"encoding/hex"
	"strings"

	"enrichd/internal/core/identity"
	pstrings "enrichd/internal/platform/strings"
)

// Source names as stored in sh_identities.source
const (
	SourceGitHub = "github"
	SourceGerrit = "gerrit"
)

// Repo abstracts the directory tables
type Repo interface {
	// EnsureSchema creates the sh_* tables when missing
	EnsureSchema(ctx context.Context) error

	// Lookup returns the canonical identity behind (source, id).
	// A miss is perr.ErrorCodeNotFound
	Lookup(ctx context.Context, source string, id identity.Identity) (identity.Canonical, error)

	// Merge stages ids and inserts the ones not yet known, each as its own
	// individual. Returns how many identities were added
	Merge(ctx context.Context, source string, ids []identity.Identity) (int, error)

	// Usernames lists the distinct usernames of uuid on source
	Usernames(ctx context.Context, uuid, source string) ([]string, error)
}

// Ports is what the module exposes to the enrichment pipeline
type Ports interface {
	identity.Directory
	Merge(ctx context.Context, source string, ids []identity.Identity) (int, error)
	Usernames(ctx context.Context, uuid, source string) ([]string, error)
}

// IdentityID is the SHA-1 hex of "source:email:name:username", absent parts empty
func IdentityID(source string, id identity.Identity) string {
	key := strings.Join([]string{
		source,
		pstrings.Deref(id.Email),
		pstrings.Deref(id.Name),
		pstrings.Deref(id.Username),
	}, ":")
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
