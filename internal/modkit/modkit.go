// Package modkit wires service modules over the shared platform seams
package modkit

import (
	"enrichd/internal/modkit/module"
)

// Module is the surface every service module exposes to cmd wiring
type Module = module.Module

// Builder constructs a Module from shared deps and options
type Builder func(Deps, ...Option) Module
