// Package http provides the enrichment ops endpoints
package http

import (
	"context"
	"net/http"
	"time"

	"enrichd/internal/core/version"
	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/metrics"
	phttp "enrichd/internal/platform/net/http"
	"enrichd/internal/services/enrich/domain"
)

// Pinger is satisfied by store seams that expose Ping
type Pinger interface {
	Ping(context.Context) error
}

// Deps are the handler dependencies
type Deps struct {
	Runner    domain.RunnerPort
	StartedAt time.Time
	PG        any
	CH        any
}

type handlers struct {
	deps Deps
	now  func() time.Time
}

// Register mounts the ops routes
func Register(r phttp.Router, d Deps) {
	h := &handlers{deps: d, now: time.Now}

	phttp.GetJSON(r, "/healthz", h.health)
	phttp.GetJSON(r, "/readyz", h.ready)
	phttp.GetJSON(r, "/version", h.version)
	phttp.GetJSON(r, "/v1/runs/last", h.lastRun)
	r.Handle("/metrics", metrics.Handler())
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Started string `json:"started"`
	Uptime  int64  `json:"uptime"`
}

// ReadyCheck is one dependency check
type ReadyCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ok fail skipped unknown
	Error  string `json:"error,omitempty"`
}

// ReadyResponse summarizes readiness
type ReadyResponse struct {
	Status string       `json:"status"` // ok degraded fail
	Checks []ReadyCheck `json:"checks"`
}

func (h *handlers) health(_ *http.Request) (any, error) {
	return HealthResponse{
		OK:      true,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Uptime:  int64(h.now().Sub(h.deps.StartedAt) / time.Second),
	}, nil
}

func (h *handlers) ready(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	check := func(name string, c any) ReadyCheck {
		if c == nil {
			return ReadyCheck{Name: name, Status: "skipped"}
		}
		p, ok := c.(Pinger)
		if !ok {
			return ReadyCheck{Name: name, Status: "unknown"}
		}
		if err := p.Ping(ctx); err != nil {
			return ReadyCheck{Name: name, Status: "fail", Error: err.Error()}
		}
		return ReadyCheck{Name: name, Status: "ok"}
	}

	checks := []ReadyCheck{check("pg", h.deps.PG), check("ch", h.deps.CH)}
	overall := "ok"
	for _, c := range checks {
		switch c.Status {
		case "fail":
			overall = "fail"
		case "unknown":
			if overall == "ok" {
				overall = "degraded"
			}
		}
	}
	return ReadyResponse{Status: overall, Checks: checks}, nil
}

func (h *handlers) version(_ *http.Request) (any, error) {
	return version.Info(), nil
}

func (h *handlers) lastRun(_ *http.Request) (any, error) {
	rep, ok := h.deps.Runner.LastRun()
	if !ok {
		return nil, perr.NotFoundf("no run has finished yet")
	}
	return rep, nil
}
