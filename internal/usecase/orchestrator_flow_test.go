package usecase_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"guidebot/internal/domain"
	"guidebot/internal/usecase"
	"guidebot/internal/usecase/agents"
)

// scriptedReasoner answers by prompt substring so multi-turn flows can run
// against the real agents.
type scriptedReasoner struct {
	replies map[string]string
}

func (s *scriptedReasoner) Generate(_ context.Context, prompt, _ string, _ int) (string, error) {
	for key, reply := range s.replies {
		if strings.Contains(prompt, key) {
			return reply, nil
		}
	}
	return "{}", nil
}

func (s *scriptedReasoner) GenerateWithImage(ctx context.Context, prompt string, _ []byte, system string, maxTokens int) (string, error) {
	return s.Generate(ctx, prompt, system, maxTokens)
}

type flowGuideStore struct {
	guides []*domain.Guide
}

func (f *flowGuideStore) Get(_ context.Context, id string) (*domain.Guide, error) {
	for _, g := range f.guides {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, domain.ErrGuideNotFound
}

func (f *flowGuideStore) Create(_ context.Context, g *domain.Guide) error {
	f.guides = append(f.guides, g)
	return nil
}

func (f *flowGuideStore) Update(context.Context, *domain.Guide) error { return nil }

func (f *flowGuideStore) ListByLocation(_ context.Context, location string) ([]*domain.Guide, error) {
	var out []*domain.Guide
	for _, g := range f.guides {
		if strings.EqualFold(g.Location, location) && g.Status == domain.GuideStatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *flowGuideStore) ListActive(context.Context) ([]*domain.Guide, error) {
	var out []*domain.Guide
	for _, g := range f.guides {
		if g.Status == domain.GuideStatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *flowGuideStore) FindByPhone(_ context.Context, phone string) (*domain.Guide, error) {
	for _, g := range f.guides {
		if g.Phone == phone {
			return g, nil
		}
	}
	return nil, domain.ErrGuideNotFound
}

type flowAvailStore struct{}

func (flowAvailStore) GetAvailability(context.Context, string, string) (*domain.Availability, error) {
	return nil, domain.ErrNotFound
}
func (flowAvailStore) PutAvailability(context.Context, *domain.Availability) error { return nil }
func (flowAvailStore) RecordBooking(context.Context, string, string) error         { return nil }

type flowBookingStore struct{}

func (flowBookingStore) CreateBooking(context.Context, *domain.Booking) error { return nil }
func (flowBookingStore) GetBooking(context.Context, string) (*domain.Booking, error) {
	return nil, domain.ErrNotFound
}
func (flowBookingStore) ListBookings(context.Context, string) ([]*domain.Booking, error) {
	return nil, nil
}

type flowDedup struct{}

func (flowDedup) Register(context.Context, string, time.Duration) error { return nil }
func (flowDedup) PurgeExpired(context.Context) (int, error)             { return 0, nil }

type flowMemoryStore struct {
	records map[string]*domain.UserMemory
}

func (f *flowMemoryStore) GetMemory(_ context.Context, userID string) (*domain.UserMemory, error) {
	if m, ok := f.records[userID]; ok {
		return m, nil
	}
	return nil, domain.ErrNotFound
}

func (f *flowMemoryStore) PutMemory(_ context.Context, m *domain.UserMemory) error {
	if f.records == nil {
		f.records = make(map[string]*domain.UserMemory)
	}
	f.records[m.UserID] = m
	return nil
}

func (f *flowMemoryStore) DeleteMemory(_ context.Context, userID string) error {
	delete(f.records, userID)
	return nil
}

type flowStrandStore struct {
	strands map[string][]*domain.Strand
}

func (f *flowStrandStore) ListStrands(_ context.Context, userID string) ([]*domain.Strand, error) {
	return f.strands[userID], nil
}

func (f *flowStrandStore) PutStrand(_ context.Context, s *domain.Strand) error {
	if f.strands == nil {
		f.strands = make(map[string][]*domain.Strand)
	}
	for i, existing := range f.strands[s.UserID] {
		if existing.ID == s.ID {
			f.strands[s.UserID][i] = s
			return nil
		}
	}
	f.strands[s.UserID] = append(f.strands[s.UserID], s)
	return nil
}

func (f *flowStrandStore) DeleteStrand(_ context.Context, userID, strandID string) error {
	kept := f.strands[userID][:0]
	for _, s := range f.strands[userID] {
		if s.ID != strandID {
			kept = append(kept, s)
		}
	}
	f.strands[userID] = kept
	return nil
}

func (f *flowStrandStore) DeleteStrandsForUser(_ context.Context, userID string) error {
	delete(f.strands, userID)
	return nil
}

// newFlowOrchestrator wires the orchestrator with real agents and in-memory
// stores so cross-agent conversation flows can be exercised end to end.
func newFlowOrchestrator(t *testing.T, reasoner domain.Reasoner, guides *flowGuideStore) *usecase.Orchestrator {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	avail := flowAvailStore{}

	cultural := agents.NewCulturalAgent(reasoner, log)
	guide := agents.NewGuideAgent(reasoner, guides, avail, log)
	booking := agents.NewBookingAgent(reasoner, flowBookingStore{}, avail, log)
	registration := agents.NewRegistrationAgent(reasoner, guides, avail, log)
	tourist := agents.NewTouristAgent(reasoner, cultural, guide, booking, registration, guides, 5*time.Minute, log)

	registry := usecase.NewRegistry(log)
	for _, a := range []domain.Agent{tourist, cultural, guide, booking, registration} {
		if err := registry.Register(a); err != nil {
			t.Fatalf("register %s: %v", a.Name(), err)
		}
	}

	orch, err := usecase.NewOrchestrator(
		registry,
		usecase.NewSessionManager(),
		usecase.NewMemoryService(&flowMemoryStore{}, log),
		usecase.NewStrandManager(&flowStrandStore{}, log),
		flowDedup{},
		time.Minute,
		log,
	)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch
}

// A photo of a temple, an affirmative follow-up, and a date must flow into a
// guide search seeded from the image analysis.
func TestImageFollowUpLeadsToGuideSearch(t *testing.T) {
	reasoner := &scriptedReasoner{replies: map[string]string{
		"Classify this photo": `{"content_type":"temple","location":"Ayutthaya","detected_elements":["chedi"],"concerns":[]}`,
		"photographed a Thai temple": "Beautiful! Dress modestly and remove shoes. Want me to find a temple guide?",
		"Normalize": `{"location":"Ayutthaya","interests":["temples","culture"]}`,
	}}
	guides := &flowGuideStore{guides: []*domain.Guide{{
		ID: "g1", Name: "Somchai", Location: "Ayutthaya",
		Specialties: []string{"temples", "history"},
		Languages:   []string{"Thai", "English"},
		DailyRate:   80,
		Status:      domain.GuideStatusActive,
	}}}
	orch := newFlowOrchestrator(t, reasoner, guides)
	ctx := context.Background()

	res, err := orch.ProcessMessage(ctx, domain.InboundMessage{
		SenderID:    "user1",
		MessageType: domain.MessageTypeImage,
		Image:       []byte{0xFF, 0xD8, 0xFF},
		ChannelName: "whatsapp",
	})
	if err != nil {
		t.Fatalf("image turn: %v", err)
	}
	if !strings.Contains(res.Message, "Dress modestly") {
		t.Fatalf("image turn reply = %q", res.Message)
	}

	res, err = orch.ProcessMessage(ctx, domain.InboundMessage{
		SenderID:    "user1",
		Content:     "yes please find a guide",
		MessageType: domain.MessageTypeText,
		ChannelName: "whatsapp",
	})
	if err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}
	if !strings.Contains(res.Message, "What date") {
		t.Fatalf("follow-up must ask for the tour date, got %q", res.Message)
	}

	res, err = orch.ProcessMessage(ctx, domain.InboundMessage{
		SenderID:    "user1",
		Content:     "tomorrow",
		MessageType: domain.MessageTypeText,
		ChannelName: "whatsapp",
	})
	if err != nil {
		t.Fatalf("date turn: %v", err)
	}
	if !strings.Contains(res.Message, "Somchai") {
		t.Fatalf("search seeded from the image must surface the Ayutthaya guide, got %q", res.Message)
	}
}
