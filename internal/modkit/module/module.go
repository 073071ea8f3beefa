// Package module defines the module contract and typed port lookup
package module

import (
	phttp "enrichd/internal/platform/net/http"
)

// Module is what cmd wiring sees of a service module
type Module interface {
	MountRoutes(r phttp.Router)
	Ports() any
	Name() string
}
