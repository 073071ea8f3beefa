package main

import (
	"io"
	"os"

	"enrichd/internal/core/projects"

	"github.com/spf13/cobra"
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Projects mapping utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "format <legacy-file|-> [out]",
		Short: "Convert a legacy projects file into the current JSON layout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			m, err := projects.ConvertLegacy(in)
			if err != nil {
				failure(cmd.ErrOrStderr(), "%v", err)
				return err
			}

			if len(args) == 1 {
				return m.WriteJSON(cmd.OutOrStdout())
			}
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := m.WriteJSON(out); err != nil {
				_ = out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			success(cmd.ErrOrStderr(), "%d projects written to %s", len(m), args[1])
			return nil
		},
	})
	return cmd
}
