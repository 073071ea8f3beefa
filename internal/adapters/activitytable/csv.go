// Package activitytable reads the contributor activity CSV and snapshots the
// aggregated table to SQLite
package activitytable

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"enrichd/internal/core/activity"
)

// columns: name, canonical id, project, commits, projects (ignored), max date, min date
const minColumns = 7

// CSVFile is a table read from a CSV path on every call
type CSVFile string

// Rows reads the file
func (f CSVFile) Rows(context.Context) ([]activity.Row, int, error) { return ReadFile(string(f)) }

// ReadFile opens path and reads it with ReadCSV
func ReadFile(path string) ([]activity.Row, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("activitytable: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f)
}

// ReadCSV skips the header line and returns the parsed rows plus how many data
// rows were skipped for being short or unparseable
func ReadCSV(r io.Reader) ([]activity.Row, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("activitytable: header: %w", err)
	}

	var (
		out     []activity.Row
		skipped int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, skipped, nil
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			skipped++
			continue
		}
		if err != nil {
			return out, skipped, fmt.Errorf("activitytable: read: %w", err)
		}
		row, ok := parseRow(rec)
		if !ok {
			skipped++
			continue
		}
		out = append(out, row)
	}
}

func parseRow(rec []string) (activity.Row, bool) {
	if len(rec) < minColumns {
		return activity.Row{}, false
	}
	id := strings.TrimSpace(rec[1])
	if id == "" {
		return activity.Row{}, false
	}
	commits, ok1 := integer(rec[3])
	maxDate, ok2 := integer(rec[5])
	minDate, ok3 := integer(rec[6])
	if !ok1 || !ok2 || !ok3 {
		return activity.Row{}, false
	}
	return activity.Row{
		Name:        strings.TrimSpace(rec[0]),
		CanonicalID: id,
		Project:     strings.TrimSpace(rec[2]),
		Commits:     int(commits),
		MaxDate:     maxDate,
		MinDate:     minDate,
	}, true
}

// integer accepts plain integers and integral floats such as "1490090645000.0"
func integer(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}
