package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"guidebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// reasonerStub routes prompts to canned replies by substring match, so a test
// can script every reasoner pass an agent makes.
type reasonerStub struct {
	replies map[string]string // prompt substring -> reply
	err     error
	calls   []string
}

func (r *reasonerStub) Generate(_ context.Context, prompt, _ string, _ int) (string, error) {
	r.calls = append(r.calls, prompt)
	if r.err != nil {
		return "", r.err
	}
	for sub, reply := range r.replies {
		if strings.Contains(prompt, sub) {
			return reply, nil
		}
	}
	return "{}", nil
}

func (r *reasonerStub) GenerateWithImage(ctx context.Context, prompt string, _ []byte, system string, maxTokens int) (string, error) {
	return r.Generate(ctx, prompt, system, maxTokens)
}

type memGuideStore struct {
	guides map[string]*domain.Guide
}

func newMemGuideStore(guides ...*domain.Guide) *memGuideStore {
	s := &memGuideStore{guides: make(map[string]*domain.Guide)}
	for _, g := range guides {
		s.guides[g.ID] = g
	}
	return s
}

func (s *memGuideStore) Get(_ context.Context, id string) (*domain.Guide, error) {
	if g, ok := s.guides[id]; ok {
		return g, nil
	}
	return nil, domain.ErrGuideNotFound
}

func (s *memGuideStore) Create(_ context.Context, g *domain.Guide) error {
	if _, ok := s.guides[g.ID]; ok {
		return domain.ErrDuplicate
	}
	s.guides[g.ID] = g
	return nil
}

func (s *memGuideStore) Update(_ context.Context, g *domain.Guide) error {
	s.guides[g.ID] = g
	return nil
}

func (s *memGuideStore) ListByLocation(_ context.Context, location string) ([]*domain.Guide, error) {
	var out []*domain.Guide
	for _, g := range s.guides {
		if g.Status == domain.GuideStatusActive && strings.EqualFold(g.Location, location) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memGuideStore) ListActive(_ context.Context) ([]*domain.Guide, error) {
	var out []*domain.Guide
	for _, g := range s.guides {
		if g.Status == domain.GuideStatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memGuideStore) FindByPhone(_ context.Context, phone string) (*domain.Guide, error) {
	for _, g := range s.guides {
		if g.Phone == phone {
			return g, nil
		}
	}
	return nil, domain.ErrGuideNotFound
}

type memAvailStore struct {
	records  map[string]*domain.Availability // guideID|date
	bookings map[string]int
}

func availKey(guideID, date string) string { return guideID + "|" + date }

func (s *memAvailStore) GetAvailability(_ context.Context, guideID, date string) (*domain.Availability, error) {
	if a, ok := s.records[availKey(guideID, date)]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memAvailStore) PutAvailability(_ context.Context, a *domain.Availability) error {
	if s.records == nil {
		s.records = make(map[string]*domain.Availability)
	}
	s.records[availKey(a.GuideID, a.Date)] = a
	return nil
}

func (s *memAvailStore) RecordBooking(_ context.Context, guideID, date string) error {
	if s.bookings == nil {
		s.bookings = make(map[string]int)
	}
	s.bookings[availKey(guideID, date)]++
	return nil
}

type memBookingStore struct {
	bookings []*domain.Booking
	fail     bool
}

func (s *memBookingStore) CreateBooking(_ context.Context, b *domain.Booking) error {
	if s.fail {
		return errors.New("store down")
	}
	s.bookings = append(s.bookings, b)
	return nil
}

func (s *memBookingStore) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	for _, b := range s.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memBookingStore) ListBookings(_ context.Context, userID string) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

func newSession(userID string) *domain.Session {
	return &domain.Session{UserID: userID, State: domain.Idle(), LastInteraction: time.Now()}
}

func baseRequest(userID, msg string, sess *domain.Session) domain.AgentRequest {
	return domain.AgentRequest{
		UserID:  userID,
		Message: msg,
		Session: sess,
		Memory:  domain.NewUserMemory(userID),
	}
}
