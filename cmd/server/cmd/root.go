package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ledger-engine",
	Short: "Peer-to-peer ticket trading ledger",
	Long: `ledger-engine keeps per-user ticket portfolios and cash balances and
runs the bilateral proposal workflow between traders.

Configuration is read from --config (YAML) and TICKETX_* environment
variables, e.g. TICKETX_HTTP_PORT=9000.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
}
