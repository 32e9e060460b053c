package main

import (
	"encoding/json"
	"fmt"

	"github.com/jordanlanch/entityhub/pkg/jobs"
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove records whose undo window has ended",
	Long: `Purge runs the retention job once, outside the API scheduler. Soft-deleted
entities older than ENTITY_RETENTION_DAYS and custom fields older than
CUSTOM_FIELD_RETENTION_DAYS are removed in every workspace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := jobs.NewPurger(a.Store, a.Registry, nil, log).Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}

		out := cmd.OutOrStdout()
		if flagJSON {
			return json.NewEncoder(out).Encode(report)
		}
		printf(out, "%d workspaces: %d entities and %d custom fields purged\n",
			report.Workspaces, report.EntitiesPurged, report.FieldsPurged)
		return nil
	},
}
