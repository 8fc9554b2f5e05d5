package bulksync

import (
	"context"
	"errors"
	"testing"
	"time"
)

// setLastSync places the user's last sync so that the overlap window starts
// right after activity n
func setLastSync(t *testing.T, env *testEnv, n int) {
	t.Helper()

	at := fakeEpoch.Add(time.Duration(n)*time.Hour + IngestOverlap)
	if err := env.db.UpdateLastSyncAt(context.Background(), testUser, at); err != nil {
		t.Fatalf("Failed to set last sync: %v", err)
	}
}

func TestIngestFirstRunTakesMostRecentPage(t *testing.T) {
	fake := newFakeStrava(250)
	env := setupRunner(t, fake, defaultOptions())
	ctx := context.Background()

	result, err := env.runner.Ingest(ctx, testUser)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if !result.Complete || result.Since != nil {
		t.Errorf("Expected complete ingest without a since bound, got %+v", result)
	}
	if result.Listed != 200 || result.Added != 200 || result.Updated != 0 {
		t.Errorf("Expected 200 listed and added, got %+v", result)
	}
	if result.RequestsUsed != 201 {
		t.Errorf("Expected 201 requests, got %d", result.RequestsUsed)
	}
	if got := fake.listCalls.Load(); got != 1 {
		t.Errorf("Expected a single list call, got %d", got)
	}

	user, err := env.db.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.LastSyncAt == nil || !user.LastSyncAt.Equal(env.clock.Now()) {
		t.Errorf("Expected last sync %v, got %v", env.clock.Now(), user.LastSyncAt)
	}
	if result.LastSyncAt == nil || !result.LastSyncAt.Equal(env.clock.Now()) {
		t.Errorf("Expected result last sync %v, got %v", env.clock.Now(), result.LastSyncAt)
	}

	count, _ := env.db.CountActivities(ctx)
	if count != 200 {
		t.Errorf("Expected 200 stored activities, got %d", count)
	}
}

func TestIngestSinceLastSyncWithOverlap(t *testing.T) {
	fake := newFakeStrava(300)
	env := setupRunner(t, fake, defaultOptions())
	ctx := context.Background()

	setLastSync(t, env, 295)
	result, err := env.runner.Ingest(ctx, testUser)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Listed != 5 || result.Added != 5 || !result.Complete {
		t.Errorf("Expected activities 296-300 added, got %+v", result)
	}
	if want := fakeEpoch.Add(295 * time.Hour); result.Since == nil || !result.Since.Equal(want) {
		t.Errorf("Expected since %v, got %v", want, result.Since)
	}

	// A wider window re-fetches what is already stored
	setLastSync(t, env, 290)
	result, err = env.runner.Ingest(ctx, testUser)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Listed != 10 || result.Added != 5 || result.Updated != 5 {
		t.Errorf("Expected 5 added and 5 updated, got %+v", result)
	}
	if result.RequestsUsed != 11 {
		t.Errorf("Expected 11 requests, got %d", result.RequestsUsed)
	}

	count, _ := env.db.CountActivities(ctx)
	if count != 10 {
		t.Errorf("Expected 10 stored activities, got %d", count)
	}
}

func TestIngestKeepsLastSyncOnFailure(t *testing.T) {
	fake := newFakeStrava(300)
	fake.setFailing(295, true)
	fake.gone[297] = true
	env := setupRunner(t, fake, defaultOptions())
	ctx := context.Background()

	setLastSync(t, env, 290)
	before, _ := env.db.GetUser(ctx, testUser)

	result, err := env.runner.Ingest(ctx, testUser)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Complete {
		t.Error("Expected incomplete ingest")
	}
	if result.Added != 8 || result.Skipped != 1 || result.Failed != 1 {
		t.Errorf("Expected 8 added, 1 skipped and 1 failed, got %+v", result)
	}

	user, _ := env.db.GetUser(ctx, testUser)
	if !user.LastSyncAt.Equal(*before.LastSyncAt) {
		t.Errorf("Expected last sync kept at %v, got %v", before.LastSyncAt, user.LastSyncAt)
	}

	fake.setFailing(295, false)

	result, err = env.runner.Ingest(ctx, testUser)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !result.Complete || result.Added != 1 || result.Updated != 8 || result.Skipped != 1 {
		t.Errorf("Expected complete ingest adding 295, got %+v", result)
	}

	user, _ = env.db.GetUser(ctx, testUser)
	if user.LastSyncAt == nil || !user.LastSyncAt.Equal(env.clock.Now()) {
		t.Errorf("Expected last sync advanced to %v, got %v", env.clock.Now(), user.LastSyncAt)
	}
}

func TestIngestStopsAtDailyLimit(t *testing.T) {
	fake := newFakeStrava(250)
	opts := defaultOptions()
	opts.DailyLimit = 5
	env := setupRunner(t, fake, opts)

	result, err := env.runner.Ingest(context.Background(), testUser)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Complete {
		t.Error("Expected incomplete ingest")
	}
	if result.RequestsUsed != 5 || result.Added != 4 {
		t.Errorf("Expected 5 requests and 4 activities, got %+v", result)
	}
	if got := fake.allCalls.Load(); got != 5 {
		t.Errorf("Expected 5 upstream calls, got %d", got)
	}

	user, _ := env.db.GetUser(context.Background(), testUser)
	if user.LastSyncAt != nil {
		t.Errorf("Expected no last sync after a partial ingest, got %v", user.LastSyncAt)
	}
}

func TestIngestUnknownUser(t *testing.T) {
	fake := newFakeStrava(10)
	env := setupRunner(t, fake, defaultOptions())

	_, err := env.runner.Ingest(context.Background(), "bob")
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("Expected ErrUnknownUser, got %v", err)
	}
	if got := fake.allCalls.Load(); got != 0 {
		t.Errorf("Expected no upstream calls, got %d", got)
	}
}
