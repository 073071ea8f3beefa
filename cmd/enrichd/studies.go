package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newStudiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "studies [name...]",
		Short: "Run studies over the enriched index",
		Long: `Runs the named studies, or every study the source declares when no name is
given. Gerrit declares the onion and timing studies; GitHub declares none.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, needs{})
			if err != nil {
				failure(cmd.ErrOrStderr(), "%v", err)
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			cmd.Printf("running %s studies for %s\n", joinNames(args), a.enrich.Options().Kind)
			rep, err := a.enrich.Runner().RunStudies(ctx, args)
			printRun(cmd.OutOrStdout(), rep)
			return err
		},
	}
}
