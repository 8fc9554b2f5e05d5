package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsInitialSchema(t *testing.T) {
	content, err := FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "-- +goose Up") {
		t.Error("migration file missing goose Up directive")
	}
	if !strings.Contains(contentStr, "-- +goose Down") {
		t.Error("migration file missing goose Down directive")
	}

	for _, table := range []string{"sync_state", "sync_processed_activities", "staged_summaries", "activities", "raw_activities", "rate_limit_log", "quota_windows"} {
		if !strings.Contains(contentStr, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("migration file does not create %s", table)
		}
	}
}

func TestEmbeddedFS_ContainsSkippedActivities(t *testing.T) {
	content, err := FS.ReadFile("002_skipped_activities_and_ingest.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	contentStr := string(content)
	for _, want := range []string{
		"-- +goose Up",
		"-- +goose Down",
		"CREATE TABLE IF NOT EXISTS sync_skipped_activities",
		"ADD COLUMN skipped_activities",
		"ADD COLUMN last_sync_at",
	} {
		if !strings.Contains(contentStr, want) {
			t.Errorf("migration file missing %q", want)
		}
	}
}
