package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lifestream-ingest/internal/bulksync"
)

var bulkSyncJSON bool

var bulkSyncCmd = &cobra.Command{
	Use:   "bulksync",
	Short: "Manage a user's bulk activity sync",
}

var bulkSyncResumeCmd = &cobra.Command{
	Use:   "resume <user>",
	Short: "Start or resume a bulk sync",
	Long: `Start or resume a user's bulk sync in the foreground.

The run stops when every activity is stored or the daily budget is spent.
Interrupting it with Ctrl-C pauses the sync; run the command again to resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runBulkSyncResume,
}

var bulkSyncStatusCmd = &cobra.Command{
	Use:   "status <user>",
	Short: "Show bulk sync progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runBulkSyncStatus,
}

var bulkSyncResetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Discard bulk sync progress so the next resume starts over",
	Args:  cobra.ExactArgs(1),
	RunE:  runBulkSyncReset,
}

func init() {
	bulkSyncCmd.PersistentFlags().BoolVar(&bulkSyncJSON, "json", false, "Output as JSON")

	bulkSyncCmd.AddCommand(bulkSyncResumeCmd)
	bulkSyncCmd.AddCommand(bulkSyncStatusCmd)
	bulkSyncCmd.AddCommand(bulkSyncResetCmd)
}

func runBulkSyncResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	userID := args[0]
	if err := e.requireUser(ctx, userID); err != nil {
		return err
	}

	result, err := e.runner.Resume(ctx, userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if bulkSyncJSON {
		return printJSON(out, result)
	}

	switch {
	case result.AlreadyComplete:
		fmt.Fprintln(out, "Bulk sync already complete.")
	case result.AlreadyRunning:
		fmt.Fprintln(out, "Bulk sync already running elsewhere.")
	case result.IsComplete:
		fmt.Fprintf(out, "✓ Bulk sync complete (run %s)\n", result.RunID)
	default:
		fmt.Fprintf(out, "Bulk sync paused (run %s), resume it tomorrow or once quota frees up\n", result.RunID)
	}
	if !result.AlreadyComplete && !result.AlreadyRunning {
		fmt.Fprintf(out, "  Requests used: %d\n", result.RequestsUsed)
		fmt.Fprintf(out, "  Activities stored: %d\n", result.ActivitiesProcessed)
	}
	if result.Progress != nil {
		printProgress(cmd, result.Progress)
	}
	return nil
}

func runBulkSyncStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.requireUser(ctx, args[0]); err != nil {
		return err
	}

	progress, err := e.runner.Status(ctx, args[0])
	if err != nil {
		return err
	}

	if bulkSyncJSON {
		return printJSON(cmd.OutOrStdout(), progress)
	}
	printProgress(cmd, progress)
	return nil
}

func runBulkSyncReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.requireUser(ctx, args[0]); err != nil {
		return err
	}

	if err := e.runner.Reset(ctx, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Bulk sync state reset for %s\n", args[0])
	return nil
}

func printProgress(cmd *cobra.Command, p *bulksync.Progress) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User: %s\n", p.UserID)
	fmt.Fprintf(out, "  Status: %s (phase %s)\n", p.Status, p.Phase)
	fmt.Fprintf(out, "  Activities: %d/%d (%d%%)\n",
		p.Progress.ProcessedActivities, p.Progress.TotalActivities, p.Progress.Percentage)
	if p.Progress.SkippedActivities > 0 {
		fmt.Fprintf(out, "  Skipped (gone or unreadable): %d\n", p.Progress.SkippedActivities)
	}
	fmt.Fprintf(out, "  Summary pages fetched: %d\n", p.Progress.CurrentPage)
	fmt.Fprintf(out, "  Requests today: %d/%d (%d remaining)\n",
		p.RateLimits.RequestsUsedToday, p.RateLimits.DailyLimit, p.RateLimits.RemainingToday)
	fmt.Fprintf(out, "  Started: %s\n", p.Timing.StartDate.Format(timeLayout))
	fmt.Fprintf(out, "  Last update: %s\n", p.Timing.LastUpdate.Format(timeLayout))
	if p.Timing.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", p.Timing.CompletedAt.Format(timeLayout))
	}
	if p.Error != nil {
		fmt.Fprintf(out, "  Last error: %s\n", *p.Error)
	}
}

const timeLayout = "2006-01-02 15:04:05 MST"
