package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lifestream-ingest/internal/handlers"
)

var (
	limitsSince time.Duration
	limitsJSON  bool
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show quota usage and recent rate limit telemetry",
	Long: `Show the last known upstream quota windows and a summary of the calls
logged in the rate limit telemetry.

Examples:
  cli limits
  cli limits --since 24h --json`,
	Args: cobra.NoArgs,
	RunE: runLimits,
}

func init() {
	limitsCmd.Flags().DurationVar(&limitsSince, "since", handlers.DefaultLimitsWindow, "How far back to summarize telemetry")
	limitsCmd.Flags().BoolVar(&limitsJSON, "json", false, "Output as JSON")
}

func runLimits(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := handlers.BuildLimitsReport(ctx, e.tracker, e.db, time.Now().Add(-limitsSince))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if limitsJSON {
		return printJSON(out, report)
	}

	for _, w := range report.Windows {
		fmt.Fprintf(out, "%-8s %-6s %5d/%-5d (%5.1f%%) resets %s\n",
			w.Category, w.Granularity, w.Used, w.Limit, w.UtilizationPct, w.NextResetAt.Local().Format(timeLayout))
	}
	fmt.Fprintf(out, "Utilization: %.1f%% (throttle delay %s)\n", report.UtilizationPct, report.ThrottleDelay)
	fmt.Fprintf(out, "Remaining today: %d\n", report.RemainingDaily)
	if report.LastUpdated != nil {
		fmt.Fprintf(out, "Last updated: %s\n", report.LastUpdated.Local().Format(timeLayout))
	}
	fmt.Fprintf(out, "\nSince %s: %d calls, %d rate limited, avg delay %.0fms, peak utilization %.1f%%\n",
		report.Recent.Since.Local().Format(timeLayout),
		report.Recent.Calls, report.Recent.RateLimited,
		report.Recent.AverageDelayMs, report.Recent.MaxUtilizationPct)
	return nil
}
