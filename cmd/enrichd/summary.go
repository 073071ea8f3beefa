package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	enrichdom "enrichd/internal/services/enrich/domain"

	"github.com/fatih/color"
)

var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

func success(w io.Writer, format string, args ...any) {
	_, _ = green.Fprintf(w, "✓ "+format+"\n", args...)
}

func warning(w io.Writer, format string, args ...any) {
	_, _ = yellow.Fprintf(w, "⚠ "+format+"\n", args...)
}

func failure(w io.Writer, format string, args ...any) {
	_, _ = red.Fprintf(w, "✗ "+format+"\n", args...)
}

func field(w io.Writer, label string, v any) {
	_, _ = fmt.Fprintf(w, "  %s %v\n", dim.Sprintf("%-14s", label+":"), v)
}

// printRun renders a run report for the terminal
func printRun(w io.Writer, rep enrichdom.RunReport) {
	_, _ = bold.Fprintf(w, "%s run %s\n", rep.Mode, rep.RunID)
	field(w, "source", rep.Source)
	if rep.Index != "" {
		field(w, "index", rep.Index)
	}
	field(w, "records", rep.Records)
	field(w, "documents", rep.Documents)
	if n := rep.Skipped.Total(); n > 0 {
		field(w, "skipped", fmt.Sprintf("%d (decode %d, structural %d, join miss %d)",
			n, rep.Skipped.Decode, rep.Skipped.Structural, rep.Skipped.JoinMiss))
	}
	if rep.Upload.Flushes > 0 {
		field(w, "stored", fmt.Sprintf("%d/%d in %d flushes", rep.Upload.Stored, rep.Upload.Attempted, rep.Upload.Flushes))
	}
	if s := rep.Identity; s != nil {
		field(w, "identities", fmt.Sprintf("%d lookups, %d hits, %d misses, %d errors", s.Lookups, s.Hits, s.Misses, s.Errors))
	}
	if s := rep.Geo; s != nil {
		field(w, "geocoding", fmt.Sprintf("%d hits, %d misses, %d provider calls, %d persisted", s.Hits, s.Misses, s.ProviderCalls, s.Persisted))
	}
	if s := rep.Activity; s != nil {
		field(w, "contributors", fmt.Sprintf("%d from %d rows, %d joined", s.Contributors, s.Rows, s.Joined))
	}
	for _, st := range rep.Studies {
		field(w, "study", fmt.Sprintf("%s -> %s: %d written", st.Study, st.OutIndex, st.Written))
	}
	field(w, "took", rep.Took().Round(time.Millisecond))

	for _, msg := range rep.Warnings {
		warning(w, "%s", msg)
	}
	if rep.OK() {
		success(w, "%s finished", rep.Mode)
		return
	}
	failure(w, "%s failed: %s", rep.Mode, rep.Error)
}

// printIdentities renders an identity load report
func printIdentities(w io.Writer, rep enrichdom.IdentityReport, err error) {
	_, _ = bold.Fprintf(w, "identities run %s\n", rep.RunID)
	field(w, "source", rep.Source)
	field(w, "records", rep.Records)
	if n := rep.Skipped.Total(); n > 0 {
		field(w, "skipped", n)
	}
	field(w, "extracted", rep.Extracted)
	field(w, "unique", rep.Unique)
	field(w, "added", rep.Added)
	if err != nil {
		failure(w, "identity load failed: %v", err)
		return
	}
	success(w, "%d identities merged into the directory", rep.Added)
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "all declared"
	}
	return strings.Join(names, ", ")
}
