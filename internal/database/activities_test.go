package database

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"lifestream-ingest/internal/transform"
)

const testActivityPayload = `{
	"id": 1001,
	"athlete": {"id": 42},
	"name": "Lunch Run",
	"type": "Run",
	"start_date_local": "2024-06-01T12:30:00Z",
	"distance": 5000,
	"moving_time": 1500,
	"average_temp": 21,
	"suffer_score": 30,
	"segment_efforts": [
		{"id": 7, "name": "Hill", "segment": {"id": 70, "name": "Hill"}, "kom_rank": 4, "pr_rank": 2, "distance": 400}
	]
}`

func mustTransform(t *testing.T, payload string) (*transform.Activity, *transform.RawRecord) {
	t.Helper()

	a, raw, err := transform.Transform(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("Failed to transform: %v", err)
	}
	return a, raw
}

func TestStoreAndGetActivity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	activity, raw := mustTransform(t, testActivityPayload)
	if err := db.StoreActivity(ctx, activity, raw); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}

	stored, err := db.GetActivity(ctx, 1001)
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected activity, got nil")
	}

	if !reflect.DeepEqual(stored, activity) {
		t.Errorf("Stored activity differs from transformed one:\n got %+v\nwant %+v", stored, activity)
	}

	storedRaw, err := db.GetRawActivity(ctx, 1001)
	if err != nil {
		t.Fatalf("Failed to get raw activity: %v", err)
	}
	if string(storedRaw) != testActivityPayload {
		t.Error("Raw payload not archived verbatim")
	}
}

func TestStoreActivityOverwrites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	activity, raw := mustTransform(t, testActivityPayload)
	if err := db.StoreActivity(ctx, activity, raw); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}

	activity.Name = "Renamed"
	if err := db.StoreActivity(ctx, activity, raw); err != nil {
		t.Fatalf("Failed to store activity again: %v", err)
	}

	count, err := db.CountActivities(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 activity, got %d", count)
	}

	stored, _ := db.GetActivity(ctx, 1001)
	if stored.Name != "Renamed" {
		t.Errorf("Expected overwritten name, got %s", stored.Name)
	}
}

func TestGetNonexistentActivity(t *testing.T) {
	db := setupTestDB(t)

	activity, err := db.GetActivity(context.Background(), 404)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if activity != nil {
		t.Error("Expected nil activity")
	}
}

func TestExistingActivityIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	activity, raw := mustTransform(t, testActivityPayload)
	if err := db.StoreActivity(ctx, activity, raw); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}

	existing, err := db.ExistingActivityIDs(ctx, []int64{1001, 1002})
	if err != nil {
		t.Fatalf("Failed to look up activities: %v", err)
	}
	if !reflect.DeepEqual(existing, map[int64]bool{1001: true}) {
		t.Errorf("Expected only 1001 to exist, got %v", existing)
	}

	existing, err = db.ExistingActivityIDs(ctx, nil)
	if err != nil || len(existing) != 0 {
		t.Errorf("Expected empty result for no ids, got %v %v", existing, err)
	}
}

func TestListRawActivities(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	payloads := []string{
		`{"id": 3, "athlete": {"id": 1}}`,
		`{"id": 1, "athlete": {"id": 1}}`,
		`{"id": 2, "athlete": {"id": 2}}`,
	}
	for _, p := range payloads {
		a, raw := mustTransform(t, p)
		if err := db.StoreActivity(ctx, a, raw); err != nil {
			t.Fatalf("Failed to store activity: %v", err)
		}
	}

	all, err := db.ListRawActivities(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(all) != 3 || all[0].ActivityID != 1 || all[2].ActivityID != 3 {
		t.Errorf("Expected 3 raw activities ordered by id, got %+v", all)
	}

	page, err := db.ListRawActivities(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("Failed to list page: %v", err)
	}
	if len(page) != 1 || page[0].ActivityID != 2 {
		t.Errorf("Expected second activity on page, got %+v", page)
	}

	athlete := int64(1)
	filtered, err := db.ListRawActivities(ctx, &athlete, 0, 0)
	if err != nil {
		t.Fatalf("Failed to list filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 activities for athlete 1, got %d", len(filtered))
	}
	for _, r := range filtered {
		if r.AthleteID != 1 {
			t.Errorf("Unexpected athlete %d in filtered list", r.AthleteID)
		}
	}
}

func TestUpsertActivityKeepsRaw(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	activity, raw := mustTransform(t, testActivityPayload)
	if err := db.StoreActivity(ctx, activity, raw); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}

	activity.KOMCount = 99
	if err := db.UpsertActivity(ctx, activity); err != nil {
		t.Fatalf("Failed to upsert activity: %v", err)
	}

	stored, _ := db.GetActivity(ctx, 1001)
	if stored.KOMCount != 99 {
		t.Errorf("Expected kom count 99, got %d", stored.KOMCount)
	}
	storedRaw, _ := db.GetRawActivity(ctx, 1001)
	if string(storedRaw) != testActivityPayload {
		t.Error("Raw payload changed by canonical upsert")
	}
}
