// Package identity extracts actor identities from raw records and resolves them
// against the identity directory
package identity

import (
	"iter"

	"enrichd/internal/core/raw"
	pstrings "enrichd/internal/platform/strings"
)

// Identity is one actor as it appears in a raw record; every field may be nil
type Identity struct {
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Email    *string `json:"email"`
}

// Empty reports whether no field is set
func (i Identity) Empty() bool {
	return i.Username == nil && i.Name == nil && i.Email == nil
}

// Key is a stable dedup key; nil and empty fields are distinct
func (i Identity) Key() string {
	part := func(p *string) string {
		if p == nil {
			return "\x01"
		}
		return *p
	}
	return part(i.Username) + "\x00" + part(i.Name) + "\x00" + part(i.Email)
}

// Role names the sub-record of a raw item an actor is read from
type Role string

// GitHub roles
const (
	RoleUser     Role = "user_data"
	RoleAssignee Role = "assignee_data"
)

// Gerrit roles
const (
	RoleOwner    Role = "owner"
	RoleUploader Role = "uploader"
	RoleAuthor   Role = "author"
	RoleApprover Role = "by"
	RoleReviewer Role = "reviewer"
)

// contract is the fixed field layout of a role's actor object
type contract struct {
	username string
	name     string
	email    string
}

var (
	githubContract = contract{username: "login", name: "name", email: "email"}
	gerritContract = contract{username: "username", name: "name", email: "email"}

	contracts = map[Role]contract{
		RoleUser:     githubContract,
		RoleAssignee: githubContract,
		RoleOwner:    gerritContract,
		RoleUploader: gerritContract,
		RoleAuthor:   gerritContract,
		RoleApprover: gerritContract,
		RoleReviewer: gerritContract,
	}
)

// Extract reads an Identity from actor using role's contract.
// A nil or empty actor, or an unknown role, yields the all-nil identity
func Extract(actor map[string]any, role Role) Identity {
	c, ok := contracts[role]
	if !ok || len(actor) == 0 {
		return Identity{}
	}
	return Identity{
		Username: field(actor, c.username),
		Name:     field(actor, c.name),
		Email:    field(actor, c.email),
	}
}

func field(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return pstrings.Ptr(s)
}

// GitHubIdentities yields the author then the assignee of an issue or pull request
func GitHubIdentities(data map[string]any) iter.Seq[Identity] {
	return func(yield func(Identity) bool) {
		for _, role := range []Role{RoleUser, RoleAssignee} {
			actor := raw.Map(data, string(role))
			if len(actor) == 0 {
				continue
			}
			if !yield(Extract(actor, role)) {
				return
			}
		}
	}
}

// GerritIdentities yields the review owner, then per patch set its uploader,
// author and approvers, then every comment reviewer. Duplicates are kept
func GerritIdentities(data map[string]any) iter.Seq[Identity] {
	return func(yield func(Identity) bool) {
		emit := func(actor map[string]any, role Role) bool {
			if len(actor) == 0 {
				return true
			}
			return yield(Extract(actor, role))
		}
		if !emit(raw.Map(data, "owner"), RoleOwner) {
			return
		}
		for _, ps := range raw.List(data, "patchSets") {
			if !emit(raw.Map(ps, "uploader"), RoleUploader) {
				return
			}
			if !emit(raw.Map(ps, "author"), RoleAuthor) {
				return
			}
			for _, ap := range raw.List(ps, "approvals") {
				if !emit(raw.Map(ap, "by"), RoleApprover) {
					return
				}
			}
		}
		for _, c := range raw.List(data, "comments") {
			if !emit(raw.Map(c, "reviewer"), RoleReviewer) {
				return
			}
		}
	}
}

// Dedup drops repeated and all-nil identities, keeping first-seen order
func Dedup(seq iter.Seq[Identity]) iter.Seq[Identity] {
	return func(yield func(Identity) bool) {
		seen := map[string]struct{}{}
		for id := range seq {
			if id.Empty() {
				continue
			}
			k := id.Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if !yield(id) {
				return
			}
		}
	}
}

// Domain returns the email domain of id or nil
func (i Identity) Domain() *string { return pstrings.EmailDomain(i.Email) }
