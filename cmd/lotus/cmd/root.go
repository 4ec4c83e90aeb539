// Package cmd provides the Cobra commands for the Lotus CLI.
package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wayli-app/lotus"
	"github.com/wayli-app/lotus/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	backendName string
	outputFmt   string
	debug       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lotus",
	Short: "Lotus - safe SQL gateway",
	Long: `Lotus runs user-authored SQL against configured backends with
variable binding, read-only enforcement, visibility rules, and a result
cache.

Get started:
  lotus query "SELECT 1"          Run a query against the default backend
  lotus tables                    List visible tables
  lotus --help                    Show available commands`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&backendName, "repo", "r", "",
		"data repo to target (default is the configured default_backend)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, csv, json, jsonl")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// openGateway loads configuration and assembles the gateway for one
// command invocation.
func openGateway() (*lotus.Gateway, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	g, err := lotus.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open backends: %w", err)
	}
	return g, nil
}
