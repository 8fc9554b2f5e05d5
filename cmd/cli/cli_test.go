package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"lifestream-ingest/internal/bulksync"
	"lifestream-ingest/internal/database"
)

func setupCLITest(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("STRAVA_CLIENT_ID", "test_client_id")
	t.Setenv("STRAVA_CLIENT_SECRET", "test_client_secret")
	t.Setenv("INTERNAL_API_KEY", "test_api_key")
	t.Setenv("DATABASE_PATH", t.TempDir()+"/test.db")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserAddThenStatus(t *testing.T) {
	setupCLITest(t)

	out, err := execute(t, "user", "add", "alice",
		"--athlete-id", "42", "--access-token", "a", "--refresh-token", "r", "--expires-at", "4102444800")
	if err != nil {
		t.Fatalf("user add failed: %v", err)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("Expected confirmation for alice, got %q", out)
	}

	out, err = execute(t, "bulksync", "status", "alice", "--json")
	if err != nil {
		t.Fatalf("bulksync status failed: %v", err)
	}

	var progress bulksync.Progress
	if err := json.Unmarshal([]byte(out), &progress); err != nil {
		t.Fatalf("Failed to decode status %q: %v", out, err)
	}
	if progress.Status != database.StatusPending {
		t.Errorf("Expected status pending, got %s", progress.Status)
	}
	if progress.RateLimits.DailyLimit != 950 {
		t.Errorf("Expected daily limit 950, got %d", progress.RateLimits.DailyLimit)
	}
}

func TestUnknownUser(t *testing.T) {
	setupCLITest(t)

	for _, args := range [][]string{
		{"bulksync", "resume", "nobody"},
		{"bulksync", "status", "nobody"},
		{"bulksync", "reset", "nobody"},
		{"ingest", "nobody"},
	} {
		_, err := execute(t, args...)
		if err == nil || !strings.Contains(err.Error(), "unknown user") {
			t.Errorf("%v: expected unknown user error, got %v", args, err)
		}
	}
}

func TestMissingConfiguration(t *testing.T) {
	setupCLITest(t)
	t.Setenv("INTERNAL_API_KEY", "")

	_, err := execute(t, "limits")
	if err == nil || !strings.Contains(err.Error(), "INTERNAL_API_KEY") {
		t.Errorf("Expected missing configuration error, got %v", err)
	}
}
