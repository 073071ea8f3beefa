package main

import (
	"os"
	"strconv"

	"enrichd/internal/core/version"
	"enrichd/internal/platform/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// globalFlags are surfaced to modules through the CORE_ENRICH_ environment
type globalFlags struct {
	source   string
	backend  string
	rawIndex string
	rawFile  string
	origin   string
	index    string
	maxBulk  int
	noColor  bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "enrichd",
		Short:         "Enrich raw GitHub and Gerrit records into analytics-ready documents",
		Version:       version.Info().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opt := logger.FromEnv()
			opt.Writer = os.Stderr
			if opt.Service == "" {
				opt.Service = "enrichd"
			}
			logger.Init(opt)
			color.NoColor = color.NoColor || g.noColor

			setEnvFlag(cmd, "source", "CORE_ENRICH_SOURCE", g.source)
			setEnvFlag(cmd, "backend", "CORE_ENRICH_BACKEND", g.backend)
			setEnvFlag(cmd, "raw-index", "CORE_ENRICH_RAW_INDEX", g.rawIndex)
			setEnvFlag(cmd, "raw-file", "CORE_ENRICH_RAW_FILE", g.rawFile)
			setEnvFlag(cmd, "origin", "CORE_ENRICH_ORIGIN", g.origin)
			setEnvFlag(cmd, "index", "CORE_ENRICH_ENRICHED_INDEX", g.index)
			setEnvFlag(cmd, "max-bulk", "CORE_ENRICH_MAX_BULK", strconv.Itoa(g.maxBulk))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.source, "source", "github", "source kind: github | gerrit")
	pf.StringVar(&g.backend, "backend", "pg", "index store backend: pg | ch")
	pf.StringVar(&g.rawIndex, "raw-index", "", "raw index to read (default <source>_raw)")
	pf.StringVar(&g.rawFile, "raw-file", "", "JSON-lines raw dump to read instead of the raw index, - for stdin")
	pf.StringVar(&g.origin, "origin", "", "only read records of this origin; gerrit accepts \"host --filter-raw=value\"")
	pf.StringVar(&g.index, "index", "", "enriched index (default <source>_enriched)")
	pf.IntVar(&g.maxBulk, "max-bulk", 1000, "documents per bulk flush")
	pf.BoolVar(&g.noColor, "no-color", false, "disable coloured output")

	root.AddCommand(
		newEnrichCmd(),
		newIdentitiesCmd(),
		newStudiesCmd(),
		newProjectsCmd(),
	)
	return root
}

// setEnvFlag exports an explicitly set flag so FromConfig sees it over the env
func setEnvFlag(cmd *cobra.Command, name, key, val string) {
	if cmd.Flags().Changed(name) {
		_ = os.Setenv(key, val)
	}
}

func boolEnv(b bool) string { return map[bool]string{true: "1", false: "0"}[b] }
