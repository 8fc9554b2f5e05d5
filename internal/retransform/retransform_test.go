package retransform

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"lifestream-ingest/internal/database"
	"lifestream-ingest/internal/transform"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storeActivity(t *testing.T, db *database.DB, id, athleteID int64) {
	t.Helper()

	payload := fmt.Sprintf(`{"id": %d, "athlete": {"id": %d}, "name": "Ride", "distance": 1609.34}`, id, athleteID)
	activity, raw, err := transform.Transform(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("Failed to transform: %v", err)
	}
	if err := db.StoreActivity(context.Background(), activity, raw); err != nil {
		t.Fatalf("Failed to store activity: %v", err)
	}
}

// corrupt overwrites the canonical distance so a re-transform has something to fix
func corrupt(t *testing.T, db *database.DB, id int64) {
	t.Helper()

	if _, err := db.Conn().Exec(`UPDATE activities SET distance_miles = 0 WHERE id = ?`, id); err != nil {
		t.Fatalf("Failed to corrupt activity: %v", err)
	}
}

func TestRunRederivesAllActivities(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// More than one batch
	for id := int64(1); id <= 250; id++ {
		storeActivity(t, db, id, 7)
		corrupt(t, db, id)
	}

	result, err := New(db).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 250 || result.Errors != 0 {
		t.Errorf("Expected 250 processed and 0 errors, got %+v", result)
	}

	for _, id := range []int64{1, 100, 101, 250} {
		activity, err := db.GetActivity(ctx, id)
		if err != nil || activity == nil {
			t.Fatalf("Failed to get activity %d: %v", id, err)
		}
		if activity.DistanceMiles == nil || *activity.DistanceMiles != 1.0 {
			t.Errorf("Activity %d: expected 1.0 miles, got %v", id, activity.DistanceMiles)
		}
	}
}

func TestRunFiltersByAthlete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	storeActivity(t, db, 1, 7)
	storeActivity(t, db, 2, 8)
	corrupt(t, db, 1)
	corrupt(t, db, 2)

	athleteID := int64(7)
	result, err := New(db).Run(ctx, &athleteID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("Expected 1 processed, got %d", result.Processed)
	}

	other, _ := db.GetActivity(ctx, 2)
	if *other.DistanceMiles != 0 {
		t.Errorf("Activity of another athlete was re-transformed")
	}
}

func TestRunCountsErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	storeActivity(t, db, 1, 7)
	storeActivity(t, db, 2, 7)

	// An archive row that no longer parses
	if _, err := db.Conn().Exec(`UPDATE raw_activities SET raw_json = '{"name": "broken"}' WHERE activity_id = 2`); err != nil {
		t.Fatalf("Failed to break raw payload: %v", err)
	}

	result, err := New(db).Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 1 || result.Errors != 1 {
		t.Errorf("Expected 1 processed and 1 error, got %+v", result)
	}
}

func TestRunEmptyArchive(t *testing.T) {
	result, err := New(setupTestDB(t)).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 0 || result.Errors != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}
