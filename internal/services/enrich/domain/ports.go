package domain

import (
	"context"

	"enrichd/internal/core/activity"
	"enrichd/internal/core/identity"
	"enrichd/internal/core/raw"
)

// Source yields raw records until io.EOF. A per-record error carrying a JSON or
// structural code skips that record; any other error ends the run
type Source interface {
	Next(ctx context.Context) (raw.Record, error)
	Close() error
}

// Directory is what the pipeline needs from the identity directory
type Directory interface {
	identity.Directory
	Merge(ctx context.Context, source string, ids []identity.Identity) (int, error)
	Usernames(ctx context.Context, uuid, source string) ([]string, error)
}

// RunnerPort is the public port exposed by the enrich module
type RunnerPort interface {
	// Run drains src through the enricher and uploads the documents
	Run(ctx context.Context, src Source) (RunReport, error)
	// LoadIdentities merges every actor identity found in src into the directory
	LoadIdentities(ctx context.Context, src Source) (IdentityReport, error)
	// RunStudies runs the named studies, or the enricher defaults when names is empty
	RunStudies(ctx context.Context, names []string) (RunReport, error)
	// LastRun returns the most recent finished report
	LastRun() (RunReport, bool)
}

// ActivityTable reads the auxiliary per-contributor commit table
type ActivityTable interface {
	// Rows returns the parsed rows and how many rows could not be parsed
	Rows(ctx context.Context) (rows []activity.Row, skipped int, err error)
}

// Ports are the collaborators other modules hand to the enrich module
type Ports struct {
	Directory Directory
}
