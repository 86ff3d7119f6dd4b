package main

import (
	"fmt"

	"github.com/danmuck/dronenet/internal/config"
	"github.com/danmuck/dronenet/internal/observability"
	"github.com/danmuck/dronenet/internal/topology"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a simulation file and its topology",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(args[0])
			if err != nil {
				return err
			}
			g, err := topology.Validate(f.Roster())
			observability.RecordValidation("validate", err)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d nodes, %d edges)\n", args[0], len(g.Nodes()), len(g.Edges()))
			return nil
		},
	}
}
