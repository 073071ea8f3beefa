// Package raw models the unmodified records the collection layer produces
package raw

import (
	"encoding/json"
	"strings"

	"enrichd/internal/core/index"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/validate"
)

// PassThrough lists the record fields copied verbatim into every enriched document
var PassThrough = []string{
	"metadata__updated_on",
	"metadata__timestamp",
	"offset",
	"origin",
	"tag",
	"uuid",
}

// ActivitySuffix marks origins of per-user activity dumps
const ActivitySuffix = "/None/None"

// Record is one raw item. Data holds the platform-native JSON object
type Record struct {
	Data        map[string]any `json:"data" validate:"required"`
	Origin      string         `json:"origin"`
	UUID        string         `json:"uuid"`
	Tag         string         `json:"tag"`
	Offset      any            `json:"offset"`
	UpdatedOn   any            `json:"metadata__updated_on"`
	Timestamp   any            `json:"metadata__timestamp"`
	BackendName string         `json:"backend_name"`
	Category    string         `json:"category"`
	Project     string         `json:"project,omitempty"`
}

// Decode parses one JSON object into a Record and checks its top-level shape
func Decode(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, perr.Wrap(err, perr.ErrorCodeJSON, "raw: decode record")
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// FromDocument builds a Record from a document read back from a raw index
func FromDocument(d index.Document) (Record, error) {
	r := Record{
		Origin:      str(d["origin"]),
		UUID:        str(d["uuid"]),
		Tag:         str(d["tag"]),
		Offset:      d["offset"],
		UpdatedOn:   d["metadata__updated_on"],
		Timestamp:   d["metadata__timestamp"],
		BackendName: str(d["backend_name"]),
		Category:    str(d["category"]),
		Project:     str(d["project"]),
	}
	if data, ok := d["data"].(map[string]any); ok {
		r.Data = data
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate reports a structural error when the record has no data object
func (r Record) Validate() error {
	return perr.WithOp(validate.Struct(r), "raw.Validate")
}

// Field returns the named pass-through value or nil
func (r Record) Field(name string) any {
	switch name {
	case "metadata__updated_on":
		return r.UpdatedOn
	case "metadata__timestamp":
		return r.Timestamp
	case "offset":
		return r.Offset
	case "origin":
		return nilIfEmpty(r.Origin)
	case "tag":
		return nilIfEmpty(r.Tag)
	case "uuid":
		return nilIfEmpty(r.UUID)
	}
	return nil
}

// CopyInto writes every pass-through field into d, nil when absent
func (r Record) CopyInto(d index.Document) {
	for _, f := range PassThrough {
		d[f] = r.Field(f)
	}
}

// IsActivity reports whether the record comes from a per-user activity dump
func (r Record) IsActivity() bool {
	return strings.HasSuffix(r.Origin, ActivitySuffix)
}

// Map returns data[key] as an object or nil
func Map(data map[string]any, key string) map[string]any {
	m, _ := data[key].(map[string]any)
	return m
}

// List returns data[key] as a slice of objects, skipping non-object entries
func List(data map[string]any, key string) []map[string]any {
	xs, _ := data[key].([]any)
	out := make([]map[string]any, 0, len(xs))
	for _, x := range xs {
		if m, ok := x.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// String returns data[key] when it is a non-empty string
func String(data map[string]any, key string) (string, bool) {
	s, ok := data[key].(string)
	return s, ok && s != ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
