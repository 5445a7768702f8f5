package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"guidebot/internal/domain"
)

func TestStrandGetOrCreateReusesActive(t *testing.T) {
	store := &fakeStrandStore{}
	m := NewStrandManager(store, testLogger())
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !strings.HasPrefix(first.ID, "booking_") {
		t.Errorf("strand id = %q, want booking_ prefix", first.ID)
	}
	if first.ID != strings.ToLower(first.ID) {
		t.Errorf("strand id %q not lowercase", first.ID)
	}

	again, err := m.GetOrCreate(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("second GetOrCreate created a new strand: %s vs %s", again.ID, first.ID)
	}

	// A different type gets its own strand.
	cultural, err := m.GetOrCreate(ctx, "user1", domain.StrandCultural)
	if err != nil {
		t.Fatalf("GetOrCreate cultural: %v", err)
	}
	if cultural.ID == first.ID {
		t.Error("cultural request reused the booking strand")
	}
}

func TestStrandExpiredNotReused(t *testing.T) {
	store := &fakeStrandStore{}
	m := NewStrandManager(store, testLogger())
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	first.LastActivity = time.Now().Add(-domain.StrandExpiry - time.Minute)

	second, err := m.GetOrCreate(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("GetOrCreate after expiry: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expired strand reused")
	}
}

func TestStrandComplete(t *testing.T) {
	store := &fakeStrandStore{}
	m := NewStrandManager(store, testLogger())
	ctx := context.Background()

	s, err := m.Create(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Complete(ctx, s, "booking_confirmed"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.Status != domain.StrandCompleted {
		t.Errorf("status = %q, want completed", s.Status)
	}
	if s.Context["completion_outcome"] != "booking_confirmed" {
		t.Errorf("outcome = %q", s.Context["completion_outcome"])
	}

	active, err := m.ActiveStrands(ctx, "user1")
	if err != nil {
		t.Fatalf("ActiveStrands: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("completed strand still active: %d", len(active))
	}
}

func TestStrandMerge(t *testing.T) {
	store := &fakeStrandStore{}
	m := NewStrandManager(store, testLogger())
	ctx := context.Background()

	primary, err := m.Create(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("Create primary: %v", err)
	}
	secondary, err := m.Create(ctx, "user1", domain.StrandCultural)
	if err != nil {
		t.Fatalf("Create secondary: %v", err)
	}
	primary.AddMessage(domain.RoleUser, "book Somchai", "")
	secondary.AddMessage(domain.RoleUser, "what about temple dress code?", "cultural")
	secondary.SetContext("location", "Bangkok")

	if err := m.Merge(ctx, primary, secondary); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if primary.Context["location"] != "Bangkok" {
		t.Error("secondary context not folded into primary")
	}
	if len(primary.Messages) != 2 {
		t.Errorf("primary has %d messages, want 2", len(primary.Messages))
	}
	if secondary.Status != domain.StrandCompleted {
		t.Error("secondary not completed after merge")
	}
	if secondary.Context["completion_outcome"] != "merged_into_"+primary.ID {
		t.Errorf("merge outcome = %q", secondary.Context["completion_outcome"])
	}
}

func TestStrandCleanupExpired(t *testing.T) {
	store := &fakeStrandStore{}
	m := NewStrandManager(store, testLogger())
	ctx := context.Background()

	fresh, err := m.Create(ctx, "user1", domain.StrandBooking)
	if err != nil {
		t.Fatalf("Create fresh: %v", err)
	}
	stale, err := m.Create(ctx, "user1", domain.StrandCultural)
	if err != nil {
		t.Fatalf("Create stale: %v", err)
	}
	stale.LastActivity = time.Now().Add(-domain.StrandExpiry - time.Minute)

	if err := m.CleanupExpired(ctx, "user1"); err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	remaining, err := store.ListStrands(ctx, "user1")
	if err != nil {
		t.Fatalf("ListStrands: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Errorf("cleanup kept %d strands", len(remaining))
	}
}

func TestStrandTypeForIntent(t *testing.T) {
	tests := []struct {
		intent string
		want   domain.StrandType
	}{
		{"booking", domain.StrandBooking},
		{"guide_search", domain.StrandBooking},
		{"more_guides", domain.StrandBooking},
		{"cultural_question", domain.StrandCultural},
		{"guide_registration", domain.StrandRegistration},
		{"general", domain.StrandGeneral},
		{"", domain.StrandGeneral},
	}
	for _, tt := range tests {
		if got := StrandTypeForIntent(tt.intent); got != tt.want {
			t.Errorf("StrandTypeForIntent(%q) = %s, want %s", tt.intent, got, tt.want)
		}
	}
}
