// Package commands provides the CLI commands for chatsync.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chatsync/chatsync/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	configDir string
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "chatsync - real-time chat synchronization server",
	Long: `chatsync keeps multi-tab and multi-device chat clients in sync:
a connection registry with per-tab unread state, exclude-sender event
fan-out, and streaming AI replies with cumulative chunk delivery.

Run 'chatsync serve' to start the server, or 'chatsync tail' to watch
the live event stream of a running instance.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; flags and real env win over it.
		_ = godotenv.Load()

		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: logPretty,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding chatsync.json(c)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("chatsync %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
