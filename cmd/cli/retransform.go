package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lifestream-ingest/internal/retransform"
)

var retransformAthleteID int64

var retransformCmd = &cobra.Command{
	Use:   "retransform",
	Short: "Re-derive canonical activities from the raw archive",
	Long: `Re-run the activity transformation over every archived raw record,
or only those of one athlete. No upstream requests are made.

Examples:
  cli retransform
  cli retransform --athlete-id 12345`,
	Args: cobra.NoArgs,
	RunE: runRetransform,
}

func init() {
	retransformCmd.Flags().Int64Var(&retransformAthleteID, "athlete-id", 0, "Only re-transform this athlete's activities")
}

func runRetransform(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var athleteID *int64
	if cmd.Flags().Changed("athlete-id") {
		athleteID = &retransformAthleteID
	}

	result, err := retransform.New(e.db).Run(ctx, athleteID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Re-transformed %d activities (%d errors)\n", result.Processed, result.Errors)
	return nil
}
