package modkit

import (
	"enrichd/internal/platform/config"
	"enrichd/internal/platform/logger"
	"enrichd/internal/platform/store"
)

// Deps holds the platform seams handed to modules. PG and CH are nil when the
// corresponding store is disabled and modules must check before use
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  store.TxRunner
	CH  store.Clickhouse
}

// HasPG reports whether the postgres seam is configured
func (d Deps) HasPG() bool { return d.PG != nil }

// HasCH reports whether the clickhouse seam is configured
func (d Deps) HasCH() bool { return d.CH != nil }
