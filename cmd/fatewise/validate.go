package main

import (
	"fmt"
	"os"

	"github.com/fatewise/fatewise/adapters/sqlite"
	"github.com/fatewise/fatewise/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the Fatewise configuration file.

Checks:
  - YAML syntax is valid
  - Server, engine, and auth settings are consistent
  - The plan catalog builds without errors
  - Database is writable (optional)

Examples:
  fatewise validate
  fatewise validate --config /etc/fatewise/config.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		fmt.Printf("  %s Plan catalog builds\n", crossMark)
		return err
	}
	fmt.Printf("  %s Plan catalog builds\n", checkMark)

	fmt.Printf("  %s Listen: %s:%d\n", checkMark, cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  %s Database: %s\n", checkMark, cfg.Database.Path)
	fmt.Printf("  %s Plans configured: %d\n", checkMark, len(catalog.List()))
	if cfg.Auth.JWTSecret == "" {
		fmt.Printf("  %s JWT secret is empty (tokens will not validate)\n", crossMark)
	} else {
		fmt.Printf("  %s JWT secret set\n", checkMark)
	}
	if cfg.Auth.WebhookSecret == "" {
		fmt.Printf("  %s Webhook secret is empty (billing endpoints disabled)\n", crossMark)
	} else {
		fmt.Printf("  %s Webhook secret set\n", checkMark)
	}

	if validateCheckDatabase {
		if err := checkDatabaseWritable(cfg.Database.Path); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database writable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkDatabaseWritable(path string) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
