// Package module wires the identity directory
package module

import (
	"enrichd/internal/modkit"
	phttp "enrichd/internal/platform/net/http"
	"enrichd/internal/services/ident/domain"
	"enrichd/internal/services/ident/repo"
	"enrichd/internal/services/ident/service"
)

// Ports defines the ident module ports
type Ports struct {
	Directory domain.Ports
}

// Module implements the ident module
type Module struct {
	deps  modkit.Deps
	svc   *service.Svc
	ports Ports
}

// New constructs the ident module over the postgres seam. It does not mount any routes
func New(deps modkit.Deps) *Module {
	svc := service.New(deps.PG, repo.NewPG())
	return &Module{deps: deps, svc: svc, ports: Ports{Directory: svc}}
}

// Name returns the module name
func (m *Module) Name() string { return "ident" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// MountRoutes is a no-op as ident has no routes
func (m *Module) MountRoutes(_ phttp.Router) {}

// Directory returns the typed directory port
func (m *Module) Directory() *service.Svc { return m.svc }
