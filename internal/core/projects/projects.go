// Package projects maps data source repositories to the projects they belong to
package projects

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"enrichd/internal/core/index"

	"gopkg.in/yaml.v3"
)

// Map is the project file layout: project -> data source -> repository urls
type Map map[string]map[string][]string

// Load reads a project map from a YAML or JSON file
func Load(path string) (Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("projects: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a YAML or JSON project map
func Parse(b []byte) (Map, error) {
	var m Map
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("projects: decode: %w", err)
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// Index is the reverse lookup from (data source, repository) to project
type Index struct {
	byDS map[string]map[string]string
}

// Index builds the reverse lookup. A repository listed under several projects
// belongs to the lexicographically smallest project name
func (m Map) Index() *Index {
	names := make([]string, 0, len(m))
	for p := range m {
		names = append(names, p)
	}
	sort.Strings(names)

	ix := &Index{byDS: map[string]map[string]string{}}
	for _, p := range names {
		for ds, repos := range m[p] {
			dst, ok := ix.byDS[ds]
			if !ok {
				dst = map[string]string{}
				ix.byDS[ds] = dst
			}
			for _, r := range repos {
				r = strings.TrimSpace(r)
				if _, taken := dst[r]; !taken && r != "" {
					dst[r] = p
				}
			}
		}
	}
	return ix
}

// Lookup returns the project of repo within data source ds
func (i *Index) Lookup(ds, repo string) (string, bool) {
	if i == nil {
		return "", false
	}
	p, ok := i.byDS[ds][repo]
	return p, ok
}

// Fields returns the project document fields: project plus one project_N per
// dot-separated level of the project name. An empty project yields a nil project
func Fields(project string) index.Document {
	if project == "" {
		return index.Document{"project": nil, "project_1": nil}
	}
	out := index.Document{"project": project}
	for n, level := range strings.Split(project, ".") {
		out["project_"+strconv.Itoa(n+1)] = level
	}
	return out
}

// LegacySources lists the data sources kept when converting a legacy file
var LegacySources = []string{"git", "github"}

// ConvertLegacy reads a legacy project file, where every repository is an
// object carrying a url, and returns the current layout. Only LegacySources survive
func ConvertLegacy(r io.Reader) (Map, error) {
	var old map[string]map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&old); err != nil {
		return nil, fmt.Errorf("projects: decode legacy: %w", err)
	}
	out := Map{}
	for project, sources := range old {
		out[project] = map[string][]string{}
		for _, ds := range LegacySources {
			v, ok := sources[ds]
			if !ok {
				continue
			}
			items, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("projects: %s/%s is not a list", project, ds)
			}
			urls := make([]string, 0, len(items))
			for _, it := range items {
				obj, _ := it.(map[string]any)
				u, _ := obj["url"].(string)
				if u == "" {
					return nil, fmt.Errorf("projects: %s/%s has an entry without url", project, ds)
				}
				urls = append(urls, u)
			}
			out[project][ds] = urls
		}
	}
	return out, nil
}

// WriteJSON writes m with sorted keys and four space indentation
func (m Map) WriteJSON(w io.Writer) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
