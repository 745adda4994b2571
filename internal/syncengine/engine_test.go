package syncengine

import (
	"testing"
	"time"

	"github.com/chronos-sync/core/internal/store"
)

func TestProximitySort_OrdersByDistanceFromNow(t *testing.T) {
	now := time.Now()
	far := now.Add(48 * time.Hour)
	near := now.Add(1 * time.Hour)
	past := now.Add(-2 * time.Hour)

	events := []*store.Event{
		{ExternalID: "far", StartTime: &far},
		{ExternalID: "near", StartTime: &near},
		{ExternalID: "past", StartTime: &past},
	}

	sorted := proximitySort(events)

	if len(sorted) != 3 {
		t.Fatalf("proximitySort() returned %d events, want 3", len(sorted))
	}
	if sorted[0].ExternalID != "near" {
		t.Errorf("sorted[0] = %q, want near (closest to now)", sorted[0].ExternalID)
	}
}

func TestProximitySort_EventsWithNoStartTimeSortLast(t *testing.T) {
	now := time.Now()
	near := now.Add(time.Hour)

	events := []*store.Event{
		{ExternalID: "no-start", StartTime: nil},
		{ExternalID: "near", StartTime: &near},
	}

	sorted := proximitySort(events)

	if sorted[len(sorted)-1].ExternalID != "no-start" {
		t.Errorf("expected event with no start time to sort last, got order: %v", eventIDs(sorted))
	}
}

func TestProximitySort_DoesNotMutateInput(t *testing.T) {
	now := time.Now()
	far := now.Add(48 * time.Hour)
	near := now.Add(time.Hour)
	original := []*store.Event{
		{ExternalID: "far", StartTime: &far},
		{ExternalID: "near", StartTime: &near},
	}

	_ = proximitySort(original)

	if original[0].ExternalID != "far" {
		t.Error("proximitySort() mutated the input slice order")
	}
}

func eventIDs(events []*store.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ExternalID
	}
	return ids
}
