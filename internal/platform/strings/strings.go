// Package strings holds string helpers for flattening raw records into documents
package strings

import (
	std "strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// IfEmpty returns def if in is empty, otherwise returns in
func IfEmpty[T any](in []T, def []T) []T {
	if len(in) == 0 {
		return def
	}
	return in
}

// Ptr returns a pointer to s, or nil if s is blank
func Ptr(s string) *string {
	if std.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Deref returns "" if ps is nil, else *ps
func Deref(ps *string) string {
	if ps == nil {
		return ""
	}
	return *ps
}

// OrNil returns *ps as an any for documents, nil for a nil pointer
func OrNil(ps *string) any {
	if ps == nil {
		return nil
	}
	return *ps
}

// SQLNullPtr returns nil if ps is nil or points to a blank string, else the dereferenced string
func SQLNullPtr(ps *string) any {
	if ps == nil || std.TrimSpace(*ps) == "" {
		return nil
	}
	return *ps
}

// Truncate cuts s to at most max runes, never splitting a code point.
// max <= 0 disables truncation
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// EmailDomain returns the part after the last "@", or nil when there is none
func EmailDomain(email *string) *string {
	if email == nil {
		return nil
	}
	i := std.LastIndexByte(*email, '@')
	if i < 0 || i == len(*email)-1 {
		return nil
	}
	d := (*email)[i+1:]
	return &d
}

// LastSegment returns the substring after the final "/" of a URL or path
func LastSegment(u string) string {
	u = std.TrimRight(u, "/")
	if i := std.LastIndexByte(u, '/'); i >= 0 {
		return u[i+1:]
	}
	return u
}

// TrimSegments drops the last n "/"-separated segments of u
func TrimSegments(u string, n int) string {
	u = std.TrimRight(u, "/")
	for range n {
		i := std.LastIndexByte(u, '/')
		if i < 0 {
			return ""
		}
		u = u[:i]
	}
	return u
}

var asciiPool = sync.Pool{
	New: func() any {
		return runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII }))
	},
}

// ASCII keeps the ASCII runes of s and drops every other rune, accented letters
// included, so "São" becomes "So". Invalid UTF-8 bytes are dropped as well
func ASCII(s string) string {
	if isASCII(s) {
		return s
	}
	s = std.ToValidUTF8(s, "")
	tr := asciiPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	asciiPool.Put(tr)
	if err != nil {
		var b std.Builder
		for _, r := range s {
			if r <= unicode.MaxASCII {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
