package strava

import (
	"context"
	"net/http"
	"net/url"
	"testing"
)

func TestListActivitiesInvalidJSON(t *testing.T) {
	client, _, _ := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "an array"}`))
	}))

	if _, err := client.ListActivities(context.Background(), "test_token", 1, 200); err == nil {
		t.Error("Expected error for a non-array listing")
	}
}

func TestListActivitiesClampsPaging(t *testing.T) {
	queries := make(chan url.Values, 1)
	client, _, _ := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		w.Write([]byte(`[]`))
	}))

	if _, err := client.ListActivities(context.Background(), "test_token", 0, 0); err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}

	q := <-queries
	if q.Get("page") != "1" {
		t.Errorf("Expected page clamped to 1, got %s", q.Get("page"))
	}
	if q.Get("per_page") != "200" {
		t.Errorf("Expected per_page clamped to 200, got %s", q.Get("per_page"))
	}
}
