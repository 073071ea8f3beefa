package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

type enrichFlags struct {
	sortinghat       bool
	geocode          bool
	runStudies       bool
	studies          []string
	activityCSV      string
	activitySnapshot string
	projectsFile     string
	opsAddr          string
}

func newEnrichCmd() *cobra.Command {
	var f enrichFlags
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich raw records into the enriched index",
		Long: `Reads raw records from the raw index (or --raw-file), derives one or more
enriched documents per record and bulk-writes them to the enriched index.

Pull-request activity records switch the run into the activity join, which
needs --activity-csv and the identity directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setEnvFlag(cmd, "sortinghat", "CORE_ENRICH_SORTINGHAT", boolEnv(f.sortinghat))
			setEnvFlag(cmd, "geocode", "CORE_ENRICH_GEOCODE", boolEnv(f.geocode))
			setEnvFlag(cmd, "run-studies", "CORE_ENRICH_RUN_STUDIES", boolEnv(f.runStudies))
			setEnvFlag(cmd, "studies", "CORE_ENRICH_STUDIES", strings.Join(f.studies, ","))
			setEnvFlag(cmd, "activity-csv", "CORE_ENRICH_ACTIVITY_CSV", f.activityCSV)
			setEnvFlag(cmd, "activity-snapshot", "CORE_ENRICH_ACTIVITY_SNAPSHOT", f.activitySnapshot)
			setEnvFlag(cmd, "projects-file", "CORE_ENRICH_PROJECTS_FILE", f.projectsFile)
			setEnvFlag(cmd, "ops-addr", "CORE_ENRICH_OPS_ADDR", f.opsAddr)
			return runEnrich(cmd)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.sortinghat, "sortinghat", false, "resolve actor identities against the identity directory")
	fl.BoolVar(&f.geocode, "geocode", false, "geocode user locations through the geocoding cache")
	fl.BoolVar(&f.runStudies, "run-studies", false, "run the source's studies after enrichment")
	fl.StringSliceVar(&f.studies, "studies", nil, "restrict --run-studies to these study names")
	fl.StringVar(&f.activityCSV, "activity-csv", "", "contributor activity table for the activity join")
	fl.StringVar(&f.activitySnapshot, "activity-snapshot", "", "sqlite file to snapshot aggregated contributors into")
	fl.StringVar(&f.projectsFile, "projects-file", "", "projects mapping (JSON or YAML) for project fields")
	fl.StringVar(&f.opsAddr, "ops-addr", "", "serve health, readiness and metrics on this address during the run")
	return cmd
}

func runEnrich(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, needs{})
	if err != nil {
		failure(cmd.ErrOrStderr(), "%v", err)
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	a.serveOps(ctx)

	src, err := a.enrich.OpenSource(ctx)
	if err != nil {
		failure(cmd.ErrOrStderr(), "%v", err)
		return err
	}
	defer func() { _ = src.Close() }()

	rep, err := a.enrich.Runner().Run(ctx, src)
	printRun(cmd.OutOrStdout(), rep)
	return err
}
