package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "socketbot",
	Short: "Real-time socket channel for chat bots",
	Long:  "Socketbot serves a WebSocket chat channel that negotiates sessions, hands user messages to a processor, and paces normalized bot replies back to the browser.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
