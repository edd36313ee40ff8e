package main

import (
	"fmt"

	"github.com/fatewise/fatewise/bootstrap"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the membership API server",
	Long: `Start the Fatewise API server.

The server will:
  - Load configuration from fatewise.yaml (or --config)
  - Open the membership database and apply migrations
  - Serve entitlement, consumption, and billing event endpoints

Without a config file the server runs on the built-in defaults and the
default plan catalog.

Examples:
  fatewise serve
  fatewise serve --config /etc/fatewise/config.yaml
  fatewise serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, hasFile, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !hasFile {
		fmt.Printf("No config file at %s, running with defaults\n", cfgFile)
	}

	path := ""
	if hasFile {
		path = cfgFile
	}
	a, err := bootstrap.New(cfg, path, hotReload && hasFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return a.Run()
}
