package database

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func stageIDs(t *testing.T, db *DB, userID string, ids ...int64) {
	t.Helper()

	summaries := make([]StagedSummary, len(ids))
	for i, id := range ids {
		summaries[i] = StagedSummary{ActivityID: id, Payload: json.RawMessage(fmt.Sprintf(`{"id": %d}`, id))}
	}
	if err := db.UpsertStagedSummaries(context.Background(), userID, summaries); err != nil {
		t.Fatalf("Failed to stage summaries: %v", err)
	}
}

func TestGetOrCreateSyncState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice", 42)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	state, err := db.GetOrCreateSyncState(ctx, "alice", now)
	if err != nil {
		t.Fatalf("Failed to get or create sync state: %v", err)
	}

	if state.Phase != PhaseSummaryFetch {
		t.Errorf("Expected phase %s, got %s", PhaseSummaryFetch, state.Phase)
	}
	if state.Status != StatusPending {
		t.Errorf("Expected status %s, got %s", StatusPending, state.Status)
	}
	if state.CurrentPage != 1 {
		t.Errorf("Expected current page 1, got %d", state.CurrentPage)
	}
	if state.LastResetDate != "2024-06-01" {
		t.Errorf("Expected last reset date 2024-06-01, got %s", state.LastResetDate)
	}
	if !state.StartDate.Equal(now) {
		t.Errorf("Expected start date %v, got %v", now, state.StartDate)
	}
	if state.ErrorMessage != nil || state.CompletedAt != nil {
		t.Errorf("Expected no error or completion, got %v %v", state.ErrorMessage, state.CompletedAt)
	}

	// Second call returns the existing row unchanged
	page := 4
	if err := db.UpdateSyncState(ctx, "alice", SyncStateUpdate{CurrentPage: &page}, now); err != nil {
		t.Fatalf("Failed to update sync state: %v", err)
	}
	state, err = db.GetOrCreateSyncState(ctx, "alice", now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Failed to get sync state: %v", err)
	}
	if state.CurrentPage != 4 || state.LastResetDate != "2024-06-01" {
		t.Errorf("Expected existing state to be returned, got %+v", state)
	}
}

func TestGetSyncStateMissing(t *testing.T) {
	db := setupTestDB(t)

	state, err := db.GetSyncState(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if state != nil {
		t.Error("Expected nil state")
	}
}

func TestUpdateSyncStatePartial(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice", 42)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.GetOrCreateSyncState(ctx, "alice", now); err != nil {
		t.Fatalf("Failed to create sync state: %v", err)
	}

	phase, status, msg := PhaseDetailFetch, StatusError, "boom"
	used := 17
	err := db.UpdateSyncState(ctx, "alice", SyncStateUpdate{
		Phase:             &phase,
		Status:            &status,
		ErrorMessage:      &msg,
		RequestsUsedToday: &used,
	}, now)
	if err != nil {
		t.Fatalf("Failed to update sync state: %v", err)
	}

	state, err := db.GetSyncState(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get sync state: %v", err)
	}
	if state.Phase != PhaseDetailFetch || state.Status != StatusError || state.RequestsUsedToday != 17 {
		t.Errorf("Unexpected state after update: %+v", state)
	}
	if state.ErrorMessage == nil || *state.ErrorMessage != "boom" {
		t.Errorf("Expected error message 'boom', got %v", state.ErrorMessage)
	}
	if state.CurrentPage != 1 {
		t.Errorf("Expected untouched current page 1, got %d", state.CurrentPage)
	}

	completed := now.Add(time.Hour)
	err = db.UpdateSyncState(ctx, "alice", SyncStateUpdate{ClearError: true, CompletedAt: &completed}, now)
	if err != nil {
		t.Fatalf("Failed to clear error: %v", err)
	}
	state, _ = db.GetSyncState(ctx, "alice")
	if state.ErrorMessage != nil {
		t.Errorf("Expected error cleared, got %v", *state.ErrorMessage)
	}
	if state.CompletedAt == nil || !state.CompletedAt.Equal(completed) {
		t.Errorf("Expected completed at %v, got %v", completed, state.CompletedAt)
	}

	if err := db.UpdateSyncState(ctx, "nobody", SyncStateUpdate{Status: &status}, now); err == nil {
		t.Error("Expected error updating unknown state")
	}
}

func TestClaimSyncState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice", 42)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.GetOrCreateSyncState(ctx, "alice", now); err != nil {
		t.Fatalf("Failed to create sync state: %v", err)
	}

	claimed, err := db.ClaimSyncState(ctx, "alice", now, 10*time.Minute)
	if err != nil || !claimed {
		t.Fatalf("Expected first claim to succeed, got %v %v", claimed, err)
	}

	claimed, err = db.ClaimSyncState(ctx, "alice", now.Add(time.Minute), 10*time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed {
		t.Error("Expected second claim to be rejected while the lease is held")
	}

	// A stale lease can be taken over
	claimed, err = db.ClaimSyncState(ctx, "alice", now.Add(11*time.Minute), 10*time.Minute)
	if err != nil || !claimed {
		t.Errorf("Expected stale lease to be claimable, got %v %v", claimed, err)
	}

	// Releasing the lease makes it claimable again
	paused := StatusPaused
	if err := db.UpdateSyncState(ctx, "alice", SyncStateUpdate{Status: &paused, ClearLease: true}, now); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	claimed, err = db.ClaimSyncState(ctx, "alice", now.Add(12*time.Minute), 10*time.Minute)
	if err != nil || !claimed {
		t.Errorf("Expected released state to be claimable, got %v %v", claimed, err)
	}

	claimed, err = db.ClaimSyncState(ctx, "nobody", now, time.Minute)
	if err != nil || claimed {
		t.Errorf("Expected unknown user not to be claimed, got %v %v", claimed, err)
	}
}

func TestMarkActivitiesProcessed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice", 42)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.GetOrCreateSyncState(ctx, "alice", now); err != nil {
		t.Fatalf("Failed to create sync state: %v", err)
	}
	stageIDs(t, db, "alice", 1, 2, 3, 4, 5)

	// 99 was never staged and must not enter the processed set
	count, err := db.MarkActivitiesProcessed(ctx, "alice", []int64{1, 2, 99}, now)
	if err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected processed count 2, got %d", count)
	}

	// Marking again is idempotent
	count, err = db.MarkActivitiesProcessed(ctx, "alice", []int64{2, 4}, now)
	if err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected processed count 3, got %d", count)
	}

	state, _ := db.GetSyncState(ctx, "alice")
	if state.ProcessedActivities != 3 {
		t.Errorf("Expected processed_activities 3, got %d", state.ProcessedActivities)
	}

	processed, err := db.ListProcessedActivityIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list processed: %v", err)
	}
	if !reflect.DeepEqual(processed, []int64{1, 2, 4}) {
		t.Errorf("Expected processed [1 2 4], got %v", processed)
	}

	remaining, err := db.ListUnprocessedActivityIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list unprocessed: %v", err)
	}
	if !reflect.DeepEqual(remaining, []int64{3, 5}) {
		t.Errorf("Expected remaining [3 5], got %v", remaining)
	}
}

func TestMarkActivitiesSkipped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice", 42)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.GetOrCreateSyncState(ctx, "alice", now); err != nil {
		t.Fatalf("Failed to create sync state: %v", err)
	}
	stageIDs(t, db, "alice", 1, 2, 3, 4, 5)

	if _, err := db.MarkActivitiesProcessed(ctx, "alice", []int64{1}, now); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}

	// 1 is already processed and 99 was never staged
	count, err := db.MarkActivitiesSkipped(ctx, "alice", []SkippedActivity{
		{ActivityID: 1, Reason: SkipNotFound},
		{ActivityID: 2, Reason: SkipNotFound},
		{ActivityID: 4, Reason: SkipInvalidPayload},
		{ActivityID: 99, Reason: SkipNotFound},
	}, now)
	if err != nil {
		t.Fatalf("Failed to mark skipped: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected skipped count 2, got %d", count)
	}

	// Marking again keeps the first reason
	count, err = db.MarkActivitiesSkipped(ctx, "alice", []SkippedActivity{{ActivityID: 2, Reason: SkipInvalidPayload}}, now)
	if err != nil {
		t.Fatalf("Failed to mark skipped: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected skipped count 2, got %d", count)
	}

	state, _ := db.GetSyncState(ctx, "alice")
	if state.SkippedActivities != 2 || state.ProcessedActivities != 1 {
		t.Errorf("Expected 1 processed and 2 skipped, got %+v", state)
	}

	skipped, err := db.ListSkippedActivities(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list skipped: %v", err)
	}
	want := []SkippedActivity{{ActivityID: 2, Reason: SkipNotFound}, {ActivityID: 4, Reason: SkipInvalidPayload}}
	if !reflect.DeepEqual(skipped, want) {
		t.Errorf("Expected skipped %v, got %v", want, skipped)
	}

	remaining, err := db.ListUnprocessedActivityIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list unprocessed: %v", err)
	}
	if !reflect.DeepEqual(remaining, []int64{3, 5}) {
		t.Errorf("Expected remaining [3 5], got %v", remaining)
	}
}

func TestResetSyncState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "alice", 42)
	createTestUser(t, db, "bob", 43)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, user := range []string{"alice", "bob"} {
		if _, err := db.GetOrCreateSyncState(ctx, user, now); err != nil {
			t.Fatalf("Failed to create sync state: %v", err)
		}
	}
	stageIDs(t, db, "alice", 1, 2)
	stageIDs(t, db, "bob", 3)
	if _, err := db.MarkActivitiesProcessed(ctx, "alice", []int64{1}, now); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}
	if _, err := db.MarkActivitiesSkipped(ctx, "alice", []SkippedActivity{{ActivityID: 2, Reason: SkipNotFound}}, now); err != nil {
		t.Fatalf("Failed to mark skipped: %v", err)
	}

	if err := db.ResetSyncState(ctx, "alice"); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}

	state, err := db.GetSyncState(ctx, "alice")
	if err != nil || state != nil {
		t.Errorf("Expected alice's state gone, got %+v %v", state, err)
	}
	if count, _ := db.CountStagedSummaries(ctx, "alice"); count != 0 {
		t.Errorf("Expected alice's staged summaries gone, got %d", count)
	}
	if ids, _ := db.ListProcessedActivityIDs(ctx, "alice"); len(ids) != 0 {
		t.Errorf("Expected alice's processed set gone, got %v", ids)
	}
	if skipped, _ := db.ListSkippedActivities(ctx, "alice"); len(skipped) != 0 {
		t.Errorf("Expected alice's skipped set gone, got %v", skipped)
	}
	if count, _ := db.CountStagedSummaries(ctx, "bob"); count != 1 {
		t.Errorf("Expected bob untouched, got %d staged", count)
	}
}

func TestListResumableUsersAndCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	statuses := map[string]string{
		"pending":  StatusPending,
		"paused":   StatusPaused,
		"complete": StatusComplete,
		"error":    StatusError,
		"running":  StatusRunning,
	}
	i := int64(0)
	for user, status := range statuses {
		i++
		createTestUser(t, db, user, i)
		if _, err := db.GetOrCreateSyncState(ctx, user, now); err != nil {
			t.Fatalf("Failed to create sync state: %v", err)
		}
		s := status
		upd := SyncStateUpdate{Status: &s}
		if status == StatusRunning {
			lease := now.Add(time.Hour)
			upd.LeaseExpiresAt = &lease
		}
		if err := db.UpdateSyncState(ctx, user, upd, now); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
	}

	users, err := db.ListResumableUsers(ctx, now)
	if err != nil {
		t.Fatalf("Failed to list resumable users: %v", err)
	}
	got := map[string]bool{}
	for _, u := range users {
		got[u] = true
	}
	if len(users) != 2 || !got["pending"] || !got["paused"] {
		t.Errorf("Expected pending and paused users, got %v", users)
	}

	// Once the running lease expires that user is resumable too
	users, err = db.ListResumableUsers(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Failed to list resumable users: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("Expected 3 resumable users after lease expiry, got %v", users)
	}

	counts, err := db.CountSyncStatesByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	for _, status := range statuses {
		if counts[status] != 1 {
			t.Errorf("Expected 1 user with status %s, got %d", status, counts[status])
		}
	}
}

func TestStagedSummariesUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stageIDs(t, db, "alice", 3, 1, 2)
	// Re-staging the same page does not duplicate
	stageIDs(t, db, "alice", 1, 2)

	count, err := db.CountStagedSummaries(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 staged summaries, got %d", count)
	}

	ids, err := db.ListStagedSummaryIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v", ids)
	}

	if err := db.UpsertStagedSummaries(ctx, "alice", nil); err != nil {
		t.Errorf("Expected empty upsert to be a no-op, got %v", err)
	}
}
