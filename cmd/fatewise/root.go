package main

import (
	"fmt"
	"os"

	"github.com/fatewise/fatewise/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fatewise",
	Short: "Membership entitlement and usage metering engine",
	Long: `Fatewise is the membership engine behind a subscription product.

It answers entitlement questions ("may this user use this feature right
now"), meters per-use credits with race-safe decrements, and applies
plan transitions driven by billing events.

Quick start:
  fatewise serve     # Start the API server
  fatewise plans     # Show the plan catalog
  fatewise validate  # Validate configuration

Operations:
  fatewise sweep     # Run a one-shot expiry sweep
  fatewise token     # Mint a test bearer token`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "fatewise.yaml", "config file path")
}

// loadConfig loads the config file if it exists, otherwise the defaults.
func loadConfig() (*config.Config, bool, error) {
	if _, err := os.Stat(cfgFile); err != nil {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}
