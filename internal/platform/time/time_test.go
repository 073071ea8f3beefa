package time

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	want := time.Date(2017, 3, 21, 10, 4, 5, 0, time.UTC)
	cases := []struct {
		name string
		in   any
		ok   bool
	}{
		{"rfc3339 zulu", "2017-03-21T10:04:05Z", true},
		{"rfc3339 offset", "2017-03-21T12:04:05+02:00", true},
		{"naive", "2017-03-21T10:04:05", true},
		{"space", "2017-03-21 10:04:05", true},
		{"epoch float", float64(want.Unix()), true},
		{"epoch int64", want.Unix(), true},
		{"epoch json number", json.Number("1490090645"), true},
		{"epoch string", "1490090645", true},
		{"nil", nil, false},
		{"blank", "  ", false},
		{"garbage", "yesterday", false},
		{"bool", true, false},
	}
	for _, c := range cases {
		got, ok := Parse(c.in)
		if ok != c.ok {
			t.Fatalf("%s: Parse ok = %v, want %v", c.name, ok, c.ok)
		}
		if ok && !got.Equal(want) {
			t.Fatalf("%s: Parse = %v, want %v", c.name, got, want)
		}
	}
}

func TestISOAndEpoch(t *testing.T) {
	ts := FromEpoch(1490090645.5)
	if ts.Nanosecond() != 500000000 {
		t.Fatalf("FromEpoch fraction = %d", ts.Nanosecond())
	}
	if got := ISO(FromEpoch(1490090645)); got != "2017-03-21T10:04:05Z" {
		t.Fatalf("ISO = %q", got)
	}
	if got := ISO(ts); got != "2017-03-21T10:04:05.5Z" {
		t.Fatalf("ISO keeps fraction = %q", got)
	}
	if got := ISO(FromEpochMillis(1490090645000)); got != "2017-03-21T10:04:05Z" {
		t.Fatalf("ISO(millis) = %q", got)
	}
	if ISOOrNil("nope") != nil {
		t.Fatalf("ISOOrNil should be nil for unparseable input")
	}
	if got := ISOOrNil(float64(1490090645)); got != "2017-03-21T10:04:05Z" {
		t.Fatalf("ISOOrNil = %v", got)
	}
}

func TestDiffDaysAndRound(t *testing.T) {
	a := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(36 * time.Hour)
	if got := DiffDays(a, b); got != 1.5 {
		t.Fatalf("DiffDays = %v, want 1.5", got)
	}
	if got := DiffDays(b, a); got != -1.5 {
		t.Fatalf("DiffDays reversed = %v, want -1.5", got)
	}
	if got := Round2(1.23456); got != 1.23 {
		t.Fatalf("Round2 = %v", got)
	}
	if Ptr(time.Time{}) != nil || Ptr(a) == nil {
		t.Fatalf("Ptr mismatch")
	}
}
