package ch

import (
	"cmp"
	"os"
	"runtime"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"enrichd/internal/core/version"
)

// BuildClientInfo names this process in system.query_log
// name is the product ("enrichd"), tag the source kind being enriched
func BuildClientInfo(name, tag string) clickhouse.ClientInfo {
	host, _ := os.Hostname()
	bi := version.Info()
	return clickhouse.ClientInfo{
		Products: []struct{ Name, Version string }{
			{Name: orUnknown(name), Version: orUnknown(bi.Version)},
			{Name: "source", Version: orUnknown(tag)},
			{Name: "commit", Version: orUnknown(bi.Commit)},
			{Name: "go", Version: runtime.Version()},
			{Name: "host", Version: orUnknown(host)},
		},
	}
}

func orUnknown(s string) string {
	return cmp.Or(strings.TrimSpace(s), "unknown")
}
