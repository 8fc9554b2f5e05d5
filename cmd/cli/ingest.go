package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <user>",
	Short: "Fetch the user's activities since the last ingest",
	Long: `Fetch and store the activities a user started since their last complete
ingest, with a one week overlap. A user never ingested gets their most recent
page of activities. Run it from cron to keep a synced user current.

The last sync time only advances when every listed activity was stored, so a
run cut short by failures or the daily budget is picked up by the next one.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Output as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.requireUser(ctx, args[0]); err != nil {
		return err
	}

	result, err := e.runner.Ingest(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ingestJSON {
		return printJSON(out, result)
	}

	if result.Complete {
		fmt.Fprintf(out, "✓ Ingest complete (run %s)\n", result.RunID)
	} else {
		fmt.Fprintf(out, "Ingest incomplete (run %s), the next run retries what is missing\n", result.RunID)
	}
	if result.Since != nil {
		fmt.Fprintf(out, "  Since: %s\n", result.Since.Format(timeLayout))
	}
	fmt.Fprintf(out, "  Listed: %d\n", result.Listed)
	fmt.Fprintf(out, "  Added: %d, updated: %d, skipped: %d, failed: %d\n",
		result.Added, result.Updated, result.Skipped, result.Failed)
	fmt.Fprintf(out, "  Requests used: %d\n", result.RequestsUsed)
	return nil
}
