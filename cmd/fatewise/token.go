package main

import (
	"fmt"
	"time"

	"github.com/fatewise/fatewise/adapters/auth"
	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a test bearer token for a user",
	Long: `Mint a signed bearer token for local testing.

The token is signed with the configured JWT secret and accepted by the
entitlement and consume endpoints.

Examples:
  fatewise token user-42
  fatewise token user-42 --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, tokenTTL)
	signed, expiresAt, err := tokens.GenerateToken(args[0])
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	fmt.Println(signed)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires: %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
