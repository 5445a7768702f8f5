package usecase

import (
	"errors"
	"testing"
	"time"

	"guidebot/internal/domain"
)

func TestSessionManagerGetOrCreate(t *testing.T) {
	m := NewSessionManager()

	s1 := m.GetOrCreate("user1")
	if s1.UserID != "user1" || s1.State.Kind != domain.StateIdle {
		t.Fatalf("unexpected new session: %+v", s1)
	}

	s1.GuideOffset = 3
	s2 := m.GetOrCreate("user1")
	if s2.GuideOffset != 3 {
		t.Error("GetOrCreate did not return the existing session")
	}
}

func TestSessionManagerGet(t *testing.T) {
	m := NewSessionManager()
	if _, err := m.Get("missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrSessionNotFound", err)
	}

	m.GetOrCreate("user1")
	if _, err := m.Get("user1"); err != nil {
		t.Fatalf("Get(user1): %v", err)
	}

	m.Delete("user1")
	if _, err := m.Get("user1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Error("Delete did not remove the session")
	}
}

func TestSessionManagerReapStale(t *testing.T) {
	m := NewSessionManager()

	stale := m.GetOrCreate("stale")
	stale.LastInteraction = time.Now().Add(-10 * time.Minute)
	fresh := m.GetOrCreate("fresh")
	fresh.LastInteraction = time.Now()
	m.GetOrCreate("untouched") // zero LastInteraction never expires

	if reaped := m.ReapStale(5 * time.Minute); reaped != 1 {
		t.Fatalf("reaped %d sessions, want 1", reaped)
	}
	if _, err := m.Get("stale"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Error("stale session survived reaping")
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Error("fresh session was reaped")
	}
	if _, err := m.Get("untouched"); err != nil {
		t.Error("untouched session was reaped")
	}
}
