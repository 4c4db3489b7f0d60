// Gantry turns natural-language build requests into verified, deployed
// projects.
//
// The serve command runs the daemon: blueprint drafting, the policy gate,
// sandboxed builds with evidence, and the ops HTTP API. The remaining
// commands talk to a running daemon, except policy check and version which
// work offline.
//
// Usage:
//
//	# Start the daemon with a config file
//	gantry serve --config gantry.yaml
//
//	# Submit a mission and wait for the outcome
//	gantry run "a todo app with dark mode" --deploy --wait
//
//	# Configure via environment
//	GANTRY_SERVER_PORT=9090 GEMINI_API_KEY=... gantry serve
package main

import (
	"fmt"
	"os"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the optional YAML config file for serve and policy check.
	configPath string
	// serverURL is the base URL of a running gantry daemon.
	serverURL string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Build, verify and ship projects from a prompt",
	Long: `gantry drafts a project blueprint from a natural-language request,
checks it against the security policy, builds it in an isolated sandbox
with tamper-evident evidence, and optionally deploys and publishes it.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to gantry YAML config")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "gantry daemon URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(missionsCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads .env, then the config file and environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return config.Load(configPath)
}

func defaultServerURL() string {
	if v := os.Getenv("GANTRY_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "gantry %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", gitCommit)
		fmt.Fprintf(out, "  built:  %s\n", buildDate)
	},
}
