// Package cli wires the engine together behind a cobra command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/pkg/logger"
)

var version = "dev"

// RootCmd builds the top-level toolbridge command.
func RootCmd() *cobra.Command {
	var logLevel string
	var logJSON bool

	root := &cobra.Command{
		Use:           "toolbridge",
		Short:         "ToolBridge connects task agents to external productivity tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.SetupLogger(logLevel, logJSON, false)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolbridge version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
