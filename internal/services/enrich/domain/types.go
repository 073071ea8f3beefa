// Package domain holds the enrichment run contracts and reports
package domain

import (
	"time"

	"enrichd/internal/core/activity"
	"enrichd/internal/core/bulk"
	"enrichd/internal/core/geo"
	"enrichd/internal/core/identity"
	"enrichd/internal/core/studies"
)

// Run modes
const (
	ModeEnrich   = "enrich"
	ModeActivity = "activity"
	ModeStudies  = "studies"
)

// Skips counts records left out of the output, by cause
type Skips struct {
	Decode     int `json:"decode"`
	Structural int `json:"structural"`
	JoinMiss   int `json:"join_miss"`
}

// Total sums every skip cause
func (s Skips) Total() int { return s.Decode + s.Structural + s.JoinMiss }

// RunReport is the outcome of one pipeline run
type RunReport struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Mode       string    `json:"mode"`
	Index      string    `json:"index"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Records   int        `json:"records"`
	Documents int        `json:"documents"`
	Skipped   Skips      `json:"skipped"`
	Upload    bulk.Stats `json:"upload"`

	Identity *identity.Stats `json:"identity,omitempty"`
	Geo      *geo.Stats      `json:"geo,omitempty"`
	Activity *activity.Stats `json:"activity,omitempty"`

	Studies []studies.Result `json:"studies,omitempty"`

	// Warnings carries non-fatal conditions such as upload discrepancies
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the run stopped early
	Error string `json:"error,omitempty"`
}

// Took is the wall time of the run
func (r RunReport) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// OK reports whether the run finished without a fatal error
func (r RunReport) OK() bool { return r.Error == "" }

// IdentityReport is the outcome of an identity loading pass
type IdentityReport struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Records   int    `json:"records"`
	Skipped   Skips  `json:"skipped"`
	Extracted int    `json:"extracted"`
	Unique    int    `json:"unique"`
	Added     int    `json:"added"`
}
