package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dronesim",
		Short: "Simulate a source-routed drone network",
		Long: `dronesim loads a simulation file describing drones, clients and servers, ` +
			`validates the topology and runs every node as its own goroutine under a controller.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newRunCmd(), newInitCmd())
	return root
}
