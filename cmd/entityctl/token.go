package main

import (
	"fmt"
	"time"

	"github.com/jordanlanch/entityhub/pkg/auth"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <workspace_id>",
	Short: "Issue an API token for a workspace",
	Long: `Token signs a bearer token with JWT_SECRET. Without --user the token is
workspace-scoped and sees only shared records.

Example:
  entityctl token ws-demo --user alice --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := auth.GenerateJWT(tokenUser, args[0], cfg.JWTSecret, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		printf(cmd.OutOrStdout(), "%s\n", tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
