package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"lifestream-ingest/internal/bulksync"
	"lifestream-ingest/internal/config"
	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/oauth"
	"lifestream-ingest/internal/strava"
)

var rootCmd = &cobra.Command{
	Use:   "cli",
	Short: "lifestream-ingest bulk sync tools",
	Long: `Operate the bulk activity ingestion engine directly on the database.

Commands:
  user add <user>            Register a user and their upstream tokens
  bulksync resume <user>     Run a bulk sync until it completes or pauses
  bulksync status <user>     Show bulk sync progress
  bulksync reset <user>      Discard bulk sync progress
  ingest <user>              Fetch activities since the last ingest
  limits                     Show quota usage and recent rate limit telemetry
  retransform                Re-derive activities from the raw archive

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(bulkSyncCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(limitsCmd)
	rootCmd.AddCommand(retransformCmd)
}

// env holds the components a command needs, built from configuration
type env struct {
	db      *database.DB
	tracker *strava.QuotaTracker
	runner  *bulksync.Runner
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tracker := strava.NewQuotaTracker(time.Now())
	if err := db.RestoreQuotaTracker(ctx, tracker, time.Now()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restore quota windows: %w", err)
	}

	client := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, tracker)
	client.SetTelemetry(db)

	tokens := oauth.NewManager(db, client)

	return &env{
		db:      db,
		tracker: tracker,
		runner:  bulksync.NewRunner(db, client, tokens, bulksync.OptionsFromConfig(cfg.BulkSync)),
	}, nil
}

// requireUser fails for users that were never registered
func (e *env) requireUser(ctx context.Context, userID string) error {
	user, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("unknown user %q, register it with 'cli user add'", userID)
	}
	return nil
}

func (e *env) Close() error {
	return e.db.Close()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
