package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "liveclass-gateway",
	Short: "Live-class gateway: realtime directory, room handoff, per-role dashboards",
	Long:  `HTTP + WebSocket gateway to the tuition backend. Commands: serve, cleanup.`,
	RunE:  runServe, // default: run the gateway (same as "liveclass-gateway serve")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
