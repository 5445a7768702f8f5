package agents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"guidebot/internal/domain"
)

func TestScoreGuideWeights(t *testing.T) {
	criteria := domain.SearchCriteria{
		Location:  "Bangkok",
		Interests: []string{"temples", "food"},
	}

	exactLocation := &domain.Guide{
		Name: "Somchai", Location: "Bangkok",
		Specialties: []string{"nightlife"},
	}
	regionWithInterests := &domain.Guide{
		Name: "Nok", Location: "Nonthaburi", Region: "Bangkok",
		Specialties: []string{"temples", "food tours"},
	}
	noMatch := &domain.Guide{
		Name: "Lek", Location: "Phuket",
		Specialties: []string{"diving"},
	}

	if got := scoreGuide(exactLocation, criteria, scorePerInterest).Score; got != 100 {
		t.Errorf("exact location score = %d, want 100", got)
	}
	if got := scoreGuide(regionWithInterests, criteria, scorePerInterest).Score; got != 85 {
		t.Errorf("region + two interests score = %d, want 85", got)
	}
	if got := scoreGuide(noMatch, criteria, scorePerInterest).Score; got != 0 {
		t.Errorf("no-match score = %d, want 0", got)
	}

	// An exact-location guide with no interest overlap outranks a
	// region-coverage guide with two interest matches.
	if scoreGuide(exactLocation, criteria, scorePerInterest).Score <= scoreGuide(regionWithInterests, criteria, scorePerInterest).Score {
		t.Error("exact location must outrank region coverage plus interests")
	}
}

func TestScoreGuideFallbackWeight(t *testing.T) {
	criteria := domain.SearchCriteria{Interests: []string{"temples"}}
	g := &domain.Guide{Name: "Somchai", Specialties: []string{"temples"}}

	if got := scoreGuide(g, criteria, scorePerInterestRaw).Score; got != 25 {
		t.Errorf("fallback interest score = %d, want 25", got)
	}
}

func guideFixture(guides ...*domain.Guide) *GuideAgent {
	stub := &reasonerStub{replies: map[string]string{
		// Echo the criteria so the normalization pass is a no-op.
		"Normalize": `{"location":"Bangkok","interests":["temples"]}`,
	}}
	return NewGuideAgent(stub, newMemGuideStore(guides...), &memAvailStore{}, testLogger())
}

func activeGuide(id, name string, rate float64) *domain.Guide {
	return &domain.Guide{
		ID: id, Name: name, Location: "Bangkok",
		Specialties: []string{"temples"},
		Phone:       "+6680000" + id,
		DailyRate:   rate,
		Status:      domain.GuideStatusActive,
	}
}

func TestSearchPagination(t *testing.T) {
	var guides []*domain.Guide
	for i := 0; i < 7; i++ {
		guides = append(guides, activeGuide(fmt.Sprintf("g%d", i), fmt.Sprintf("Guide %d", i), 80))
	}
	agent := guideFixture(guides...)
	criteria := domain.SearchCriteria{Location: "Bangkok", Interests: []string{"temples"}}
	ctx := context.Background()

	page1, total, err := agent.Search(ctx, criteria, 0)
	if err != nil {
		t.Fatalf("Search offset 0: %v", err)
	}
	if total != 7 || len(page1) != 3 {
		t.Fatalf("page1 len=%d total=%d, want 3/7", len(page1), total)
	}

	page2, _, err := agent.Search(ctx, criteria, 3)
	if err != nil {
		t.Fatalf("Search offset 3: %v", err)
	}
	if len(page2) != 3 {
		t.Fatalf("page2 len=%d, want 3", len(page2))
	}

	page3, _, err := agent.Search(ctx, criteria, 6)
	if err != nil {
		t.Fatalf("Search offset 6: %v", err)
	}
	if len(page3) != 1 {
		t.Fatalf("page3 len=%d, want 1", len(page3))
	}

	past, _, err := agent.Search(ctx, criteria, 9)
	if err != nil {
		t.Fatalf("Search past end: %v", err)
	}
	if len(past) != 0 {
		t.Errorf("offset past end returned %d results", len(past))
	}

	// Pages must not overlap.
	seen := make(map[string]bool)
	for _, page := range [][]domain.GuideMatch{page1, page2, page3} {
		for _, m := range page {
			if seen[m.Guide.ID] {
				t.Errorf("guide %s appears on two pages", m.Guide.ID)
			}
			seen[m.Guide.ID] = true
		}
	}
}

func TestSearchStripsContact(t *testing.T) {
	agent := guideFixture(activeGuide("g1", "Somchai", 80))
	criteria := domain.SearchCriteria{Location: "Bangkok", Interests: []string{"temples"}}

	page, _, err := agent.Search(context.Background(), criteria, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("got %d results, want 1", len(page))
	}
	if page[0].Guide.Phone != "" {
		t.Errorf("guide phone %q leaked to caller", page[0].Guide.Phone)
	}
	if !strings.Contains(FormatGuideList(page, 1, 0), "Book through the platform") {
		t.Error("formatted results missing platform booking notice")
	}
}

func TestSearchDropsBelowThreshold(t *testing.T) {
	region := &domain.Guide{
		ID: "g1", Name: "Nok", Location: "Nonthaburi", Region: "Bangkok",
		Specialties: []string{"diving"}, Status: domain.GuideStatusActive,
	}
	agent := guideFixture(region)
	criteria := domain.SearchCriteria{Location: "Bangkok", Interests: []string{"temples"}}

	// Region-only match scores 15, below the 20 cutoff.
	page, total, err := agent.Search(context.Background(), criteria, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 0 || len(page) != 0 {
		t.Errorf("below-threshold guide returned: total=%d", total)
	}
}

func TestSearchAvailabilityFilter(t *testing.T) {
	date := futureDate(2)
	free := activeGuide("g1", "Free", 80)
	busy := activeGuide("g2", "Busy", 80)

	stub := &reasonerStub{replies: map[string]string{
		"Normalize": `{"location":"Bangkok","interests":["temples"]}`,
	}}
	avail := &memAvailStore{records: map[string]*domain.Availability{
		availKey("g2", date): {GuideID: "g2", Date: date, Bookings: 1},
	}}
	agent := NewGuideAgent(stub, newMemGuideStore(free, busy), avail, testLogger())

	criteria := domain.SearchCriteria{Location: "Bangkok", Interests: []string{"temples"}, Date: date}
	page, total, err := agent.Search(context.Background(), criteria, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || len(page) != 1 || page[0].Guide.ID != "g1" {
		t.Fatalf("expected only the free guide, got %d results", len(page))
	}
	if !page[0].Available {
		t.Error("free guide not flagged available")
	}
}

func TestSearchMorningSlotFilter(t *testing.T) {
	date := futureDate(3)
	earlyBird := activeGuide("g1", "Early", 80)
	lateRiser := activeGuide("g2", "Late", 80)

	stub := &reasonerStub{replies: map[string]string{
		"Normalize": `{"location":"Bangkok","interests":["temples"]}`,
	}}
	avail := &memAvailStore{records: map[string]*domain.Availability{
		availKey("g2", date): {GuideID: "g2", Date: date, Slots: map[domain.TimeSlot]bool{
			domain.SlotMorning:   false,
			domain.SlotAfternoon: true,
			domain.SlotEvening:   true,
		}},
	}}
	agent := NewGuideAgent(stub, newMemGuideStore(earlyBird, lateRiser), avail, testLogger())

	criteria := domain.SearchCriteria{
		Location:  "Bangkok",
		Interests: []string{"temples"},
		Date:      date,
		TimeOfDay: "morning",
	}
	page, total, err := agent.Search(context.Background(), criteria, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || len(page) != 1 || page[0].Guide.ID != "g1" {
		t.Fatalf("morning request must exclude the morning-blocked guide, got %d results", len(page))
	}

	// Same guides, afternoon request: both are free.
	criteria.TimeOfDay = "afternoon"
	_, total, err = agent.Search(context.Background(), criteria, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 {
		t.Errorf("afternoon request returned %d guides, want 2", total)
	}
}

func TestSearchAvailabilityFallbackWhenNoneFree(t *testing.T) {
	date := futureDate(2)
	busy := activeGuide("g1", "Busy", 80)

	stub := &reasonerStub{replies: map[string]string{
		"Normalize": `{"location":"Bangkok","interests":["temples"]}`,
	}}
	avail := &memAvailStore{records: map[string]*domain.Availability{
		availKey("g1", date): {GuideID: "g1", Date: date, Bookings: 2},
	}}
	agent := NewGuideAgent(stub, newMemGuideStore(busy), avail, testLogger())

	criteria := domain.SearchCriteria{Location: "Bangkok", Interests: []string{"temples"}, Date: date}
	page, _, err := agent.Search(context.Background(), criteria, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("fallback must still show top matches, got %d", len(page))
	}
	if page[0].Available {
		t.Error("fully booked guide flagged available")
	}
}
