package identity

import (
	"context"
	"time"

	"enrichd/internal/core/index"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
	pstrings "enrichd/internal/platform/strings"
)

// Enrollment ties a canonical identity to an organization for a period
type Enrollment struct {
	Org   string
	Start time.Time
	End   time.Time
}

// Canonical is a resolved contributor from the identity directory
type Canonical struct {
	ID          string
	UUID        string
	Name        *string
	Email       *string
	Username    *string
	Gender      *string
	GenderAcc   *int
	Bot         bool
	Enrollments []Enrollment
}

// OrgAt returns the organization enrolled at t. A zero t, or no enrollment
// covering t, falls back to the first enrollment
func (c Canonical) OrgAt(t time.Time) *string {
	if len(c.Enrollments) == 0 {
		return nil
	}
	if !t.IsZero() {
		for _, e := range c.Enrollments {
			if !t.Before(e.Start) && (e.End.IsZero() || t.Before(e.End)) {
				org := e.Org
				return &org
			}
		}
	}
	org := c.Enrollments[0].Org
	return &org
}

// Directory is the identity directory collaborator. A miss is reported as an
// error with perr.ErrorCodeNotFound
type Directory interface {
	Lookup(ctx context.Context, source string, id Identity) (Canonical, error)
}

// Stats counts resolution outcomes for one run
type Stats struct {
	Lookups int `json:"lookups"`
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Errors  int `json:"errors"`
}

type cached struct {
	c  Canonical
	ok bool
}

// Resolver resolves identities for one source during one run. It memoizes
// directory answers and is not safe for concurrent use
type Resolver struct {
	dir    Directory
	source string
	log    logger.Logger
	memo   map[string]cached
	stats  Stats
}

// NewResolver returns a resolver for source; a nil dir resolves nothing
func NewResolver(dir Directory, source string, log logger.Logger) *Resolver {
	return &Resolver{dir: dir, source: source, log: log, memo: map[string]cached{}}
}

// Resolve looks id up in the directory. Misses and directory failures both
// return false; neither is an error for the caller
func (r *Resolver) Resolve(ctx context.Context, id Identity) (Canonical, bool) {
	if r == nil || r.dir == nil || id.Empty() {
		return Canonical{}, false
	}
	k := id.Key()
	if m, ok := r.memo[k]; ok {
		if m.ok {
			r.stats.Hits++
		} else {
			r.stats.Misses++
		}
		return m.c, m.ok
	}

	r.stats.Lookups++
	c, err := r.dir.Lookup(ctx, r.source, id)
	switch {
	case err == nil:
		r.stats.Hits++
		r.memo[k] = cached{c: c, ok: true}
		return c, true
	case perr.IsCode(err, perr.ErrorCodeNotFound):
		r.stats.Misses++
		r.log.Debug().
			Str("source", r.source).
			Str("username", pstrings.Deref(id.Username)).
			Msg("identity: lookup miss")
	default:
		r.stats.Misses++
		r.stats.Errors++
		r.log.Warn().Err(err).
			Str("source", r.source).
			Str("username", pstrings.Deref(id.Username)).
			Msg("identity: directory lookup failed")
		// failures are not memoized so a transient error can recover
		return Canonical{}, false
	}
	r.memo[k] = cached{}
	return Canonical{}, false
}

// Stats returns the counters accumulated so far
func (r *Resolver) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return r.stats
}

// FieldSuffixes are the per-role identity fields every enriched document carries
var FieldSuffixes = []string{"_id", "_uuid", "_name", "_user_name", "_domain", "_org_name", "_gender", "_gender_acc", "_bot"}

// RoleFields resolves the actor of role and returns the prefixed identity fields
func (r *Resolver) RoleFields(ctx context.Context, actor map[string]any, role Role, prefix string) index.Document {
	return r.RoleFieldsAt(ctx, actor, role, prefix, time.Time{})
}

// RoleFieldsAt is RoleFields with the organization picked by enrollment at t.
// Name, user name and domain come from the raw actor; the directory fields are
// nil when the actor does not resolve
func (r *Resolver) RoleFieldsAt(ctx context.Context, actor map[string]any, role Role, prefix string, at time.Time) index.Document {
	out := make(index.Document, len(FieldSuffixes))
	for _, s := range FieldSuffixes {
		out[prefix+s] = nil
	}
	id := Extract(actor, role)
	out[prefix+"_name"] = pstrings.OrNil(id.Name)
	out[prefix+"_user_name"] = pstrings.OrNil(id.Username)
	out[prefix+"_domain"] = pstrings.OrNil(id.Domain())

	c, ok := r.Resolve(ctx, id)
	if !ok {
		return out
	}
	out[prefix+"_id"] = c.ID
	out[prefix+"_uuid"] = c.UUID
	if c.Name != nil {
		out[prefix+"_name"] = *c.Name
	}
	out[prefix+"_org_name"] = pstrings.OrNil(c.OrgAt(at))
	out[prefix+"_gender"] = pstrings.OrNil(c.Gender)
	if c.GenderAcc != nil {
		out[prefix+"_gender_acc"] = *c.GenderAcc
	}
	out[prefix+"_bot"] = c.Bot
	return out
}
