package strings

import (
	"testing"
	"unicode/utf8"
)

func TestIfEmpty(t *testing.T) {
	t.Parallel()

	if got := IfEmpty([]int{1, 2, 3}, []int{9}); len(got) != 3 || got[0] != 1 {
		t.Fatalf("IfEmpty returned wrong slice: %#v", got)
	}
	var empty []string
	if got := IfEmpty(empty, []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("IfEmpty did not return default: %#v", got)
	}
}

func TestPtrDerefOrNil(t *testing.T) {
	t.Parallel()

	if Ptr("") != nil || Ptr("   ") != nil {
		t.Fatalf("Ptr should be nil for blank input")
	}
	p := Ptr("alice")
	if p == nil || *p != "alice" || Deref(p) != "alice" {
		t.Fatalf("Ptr/Deref round trip failed")
	}
	if Deref(nil) != "" {
		t.Fatalf("Deref(nil) should be empty")
	}
	if OrNil(nil) != nil {
		t.Fatalf("OrNil(nil) = %v, want nil", OrNil(nil))
	}
	if OrNil(p) != "alice" {
		t.Fatalf("OrNil(p) = %v, want alice", OrNil(p))
	}
	blank := "  "
	if SQLNullPtr(&blank) != nil || SQLNullPtr(nil) != nil || SQLNullPtr(p) != "alice" {
		t.Fatalf("SQLNullPtr mismatch")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"disabled", "abcdef", 0, "abcdef"},
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"multibyte kept whole", "añoñoño", 3, "año"},
		{"cjk", "日本語テキスト", 2, "日本"},
		{"emoji", "ok👍👍", 3, "ok👍"},
	}
	for _, c := range cases {
		got := Truncate(c.in, c.max)
		if got != c.want {
			t.Fatalf("%s: Truncate(%q, %d) = %q, want %q", c.name, c.in, c.max, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("%s: Truncate produced invalid UTF-8 %q", c.name, got)
		}
	}
}

func TestEmailDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   *string
		want *string
	}{
		{nil, nil},
		{Ptr("jdoe@example.com"), Ptr("example.com")},
		{Ptr("odd@name@host.org"), Ptr("host.org")},
		{Ptr("nodomain"), nil},
		{Ptr("trailing@"), nil},
	}
	for _, c := range cases {
		got := EmailDomain(c.in)
		if Deref(got) != Deref(c.want) || (got == nil) != (c.want == nil) {
			t.Fatalf("EmailDomain(%q) = %v, want %v", Deref(c.in), OrNil(got), OrNil(c.want))
		}
	}
}

func TestURLSegments(t *testing.T) {
	t.Parallel()

	u := "https://github.com/chaoss/grimoirelab/issues/42"
	if got := LastSegment(u); got != "42" {
		t.Fatalf("LastSegment = %q, want 42", got)
	}
	if got := TrimSegments(u, 2); got != "https://github.com/chaoss/grimoirelab" {
		t.Fatalf("TrimSegments = %q", got)
	}
	if got := TrimSegments("a", 2); got != "" {
		t.Fatalf("TrimSegments past the root = %q, want empty", got)
	}
	if got := LastSegment("plain"); got != "plain" {
		t.Fatalf("LastSegment without slash = %q", got)
	}
}

func TestASCII(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Madrid", "Madrid"},
		{"Málaga, España", "Mlaga, Espaa"},
		{"São Paulo", "So Paulo"},
		{"Zürich", "Zrich"},
		{"東京 Tokyo", " Tokyo"},
		{"Kraków 🇵🇱", "Krakw "},
		{"bad\xffbyte", "badbyte"},
	}
	for _, c := range cases {
		if got := ASCII(c.in); got != c.want {
			t.Fatalf("ASCII(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
