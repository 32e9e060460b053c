// Package main provides entityctl, the operator tool for the entity store:
// schema migration, demo data, retention purges and API tokens.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/jordanlanch/entityhub/config"
	"github.com/jordanlanch/entityhub/pkg/app"
	"github.com/jordanlanch/entityhub/pkg/logger"
	"github.com/jordanlanch/entityhub/pkg/secrets"
	"github.com/spf13/cobra"
)

var (
	flagJSON bool

	cfg *config.Config
	log logger.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "entityctl",
	Short:         "entityctl administers an EntityHub database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		log = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, "console")
		if err := secrets.Load(cmd.Context(), cfg, log); err != nil {
			return fmt.Errorf("load secrets: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(tokenCmd)
}

// openApp connects to the configured database without Redis; the commands
// write through the services and never read cached views.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, log, app.Options{SkipCache: true})
	if err != nil {
		return nil, fmt.Errorf("open services: %w", err)
	}
	return a, nil
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
