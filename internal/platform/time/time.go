// Package time contains timestamp helpers for raw record fields
package time

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the layout every date field in an enriched document uses.
// Fractional seconds are kept when present
const ISOLayout = time.RFC3339Nano

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Parse reads a date field from a raw record. Strings in ISO-8601-like layouts and
// numeric epoch seconds are accepted; timestamps without a zone are taken as UTC
func Parse(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x.UTC(), !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, l := range layouts {
			if t, err := time.Parse(l, s); err == nil {
				return t.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FromEpoch(f), true
		}
		return time.Time{}, false
	default:
		if f, ok := number(v); ok {
			return FromEpoch(f), true
		}
		return time.Time{}, false
	}
}

// FromEpoch converts epoch seconds, fractional part included, to a UTC time
func FromEpoch(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

// FromEpochMillis converts epoch milliseconds to a UTC time
func FromEpochMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ISO formats t with ISOLayout in UTC
func ISO(t time.Time) string { return t.UTC().Format(ISOLayout) }

// ISOOrNil formats v when it parses as a date, nil otherwise
func ISOOrNil(v any) any {
	t, ok := Parse(v)
	if !ok {
		return nil
	}
	return ISO(t)
}

// DiffDays returns the exact number of days from a to b, fractional part included
func DiffDays(a, b time.Time) float64 {
	return b.Sub(a).Seconds() / 86400
}

// Round2 rounds f to two decimals
func Round2(f float64) float64 { return math.Round(f*100) / 100 }

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
