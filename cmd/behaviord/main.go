// Behaviord learns workflow patterns from task-management activity, turns
// them into automation rules and gates outgoing notifications.
//
// Usage:
//
//	# Start the service with ~/.config/behaviord/config.yaml
//	behaviord serve
//
//	# Analyze an exported event file offline
//	behaviord analyze --events events.json --user u-42
//
//	# Check a quiet-hours window
//	behaviord quiet-hours --start 22:00 --end 07:00 --at 23:30
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location
	configPath string
	// serverURL is the base URL used by client commands
	serverURL string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "behaviord",
	Short: "Behavior-pattern recognition and automation engine",
	Long: `behaviord records user activity, detects recurring workflow patterns,
promotes strong patterns to automation rules and decides when and where
notifications are delivered.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/behaviord/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "behaviord server URL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(quietHoursCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd)
	},
}

// printVersion prints version information
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "behaviord\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
