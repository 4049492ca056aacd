// Package app provides the entry point for the actingwebd reference
// daemon. Grounded on the teacher's cmd/thv/app/commands.go
// (stacklok-toolhive): one NewRootCmd() constructor that wires
// persistent flags through viper and attaches each subcommand.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/actingweb/aw/pkg/logger"
)

// NewRootCmd creates the root command for the actingwebd daemon.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "actingwebd",
		DisableAutoGenTag: true,
		Short:             "actingwebd runs the ActingWeb peer-to-peer actor runtime",
		Long: `actingwebd hosts ActingWeb actors behind the standardized wire protocol:
actor factory, property/list/attribute storage, bilateral trust, subscriptions
and callbacks, unified access control, and an OAuth2 authorization server for
MCP/API clients.

Configuration is read entirely from ACTINGWEB_-prefixed environment variables
(see pkg/config); this command only decides which subcommand to run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}
