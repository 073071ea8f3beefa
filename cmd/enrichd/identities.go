package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newIdentitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "Load every actor identity of the raw records into the identity directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, needs{directory: true})
			if err != nil {
				failure(cmd.ErrOrStderr(), "%v", err)
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			src, err := a.enrich.OpenSource(ctx)
			if err != nil {
				failure(cmd.ErrOrStderr(), "%v", err)
				return err
			}
			defer func() { _ = src.Close() }()

			rep, err := a.enrich.Runner().LoadIdentities(ctx, src)
			printIdentities(cmd.OutOrStdout(), rep, err)
			return err
		},
	}
}
