package modkit

import (
	"net/http"

	phttp "enrichd/internal/platform/net/http"
)

// Built is the resolved module build configuration
type Built struct {
	Name   string
	Prefix string
	Mw     []func(http.Handler) http.Handler
	Ports  any
}

// Build applies opts and returns a Built with copied slices
func Build(opts ...Option) Built {
	var c buildCfg
	for _, o := range opts {
		o(&c)
	}
	return Built{
		Name:   c.name,
		Prefix: c.prefix,
		Mw:     append([]func(http.Handler) http.Handler(nil), c.mw...),
		Ports:  c.ports,
	}
}

// Mount attaches register under the module prefix with the module middleware.
// Without a prefix the routes land in an inline group so middleware stays scoped
func (b Built) Mount(r phttp.Router, register func(phttp.Router)) {
	attach := func(sub phttp.Router) {
		if len(b.Mw) > 0 {
			sub.Use(b.Mw...)
		}
		register(sub)
	}
	if b.Prefix == "" {
		r.Group(attach)
		return
	}
	r.Route(b.Prefix, attach)
}
