package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"guidebot/internal/domain"
	"guidebot/internal/infra/tracer"
	"guidebot/internal/usecase"
)

// Scoring weights and limits for guide matching.
const (
	scoreExactLocation  = 100
	scoreRegionCoverage = 15
	scorePerInterest    = 35
	scorePerInterestRaw = 25 // used when the normalization pass was unavailable
	scoreThreshold      = 20
	guidePageSize       = 3
)

// platformBookingNotice replaces stripped guide contact details.
const platformBookingNotice = "📱 Book through the platform"

// correctedCriteria is the structured shape requested from the reasoner on the
// normalization pass.
type correctedCriteria struct {
	Location  string   `json:"location"`
	Interests []string `json:"interests"`
}

// GuideAgent searches guide records with a two-phase match: a reasoner pass
// normalizes noisy location/interest vocabulary, then deterministic scoring
// ranks candidates. Scoring never depends on reasoner output beyond the
// cleaned-up words.
type GuideAgent struct {
	reasoner domain.Reasoner
	guides   domain.GuideStore
	avail    domain.AvailabilityStore
	logger   *slog.Logger
}

// NewGuideAgent creates the guide search agent.
func NewGuideAgent(reasoner domain.Reasoner, guides domain.GuideStore, avail domain.AvailabilityStore, logger *slog.Logger) *GuideAgent {
	return &GuideAgent{reasoner: reasoner, guides: guides, avail: avail, logger: logger}
}

func (a *GuideAgent) Name() domain.AgentName { return domain.AgentGuide }

// Handle implements domain.Agent. Criteria and pagination offset come from
// the caller-owned session.
func (a *GuideAgent) Handle(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "GuideAgent.Handle",
		tracer.StringAttr("user_id", req.UserID))
	defer span.End()

	criteria := req.Session.State.Criteria
	offset := req.Session.GuideOffset

	matches, total, err := a.Search(ctx, criteria, offset)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if offset > 0 {
			return &domain.AgentResponse{
				Status:  "success",
				Message: "That's everyone I found for this search. Want to try a different location or interests?",
			}, nil
		}
		return &domain.AgentResponse{
			Status: "success",
			Message: fmt.Sprintf("I couldn't find guides matching %s with those interests. "+
				"Try a nearby city or broader interests?", criteria.Location),
		}, nil
	}

	return &domain.AgentResponse{
		Status:  "success",
		Guides:  matches,
		Message: FormatGuideList(matches, total, offset),
	}, nil
}

// Search runs the two-phase match and returns one page of candidates plus the
// total candidate count before pagination.
func (a *GuideAgent) Search(ctx context.Context, criteria domain.SearchCriteria, offset int) ([]domain.GuideMatch, int, error) {
	normalized, usedFallback := a.normalize(ctx, criteria)

	var (
		candidates []*domain.Guide
		err        error
	)
	if normalized.Location != "" {
		candidates, err = a.guides.ListByLocation(ctx, normalized.Location)
		if err == nil && len(candidates) == 0 {
			// Nobody based there: full scan so region-coverage guides can match.
			candidates, err = a.guides.ListActive(ctx)
		}
	} else {
		candidates, err = a.guides.ListActive(ctx)
	}
	if err != nil {
		return nil, 0, domain.WrapOp("GuideAgent.Search", err)
	}

	perInterest := scorePerInterest
	if usedFallback {
		perInterest = scorePerInterestRaw
	}

	var matches []domain.GuideMatch
	for _, g := range candidates {
		m := scoreGuide(g, normalized, perInterest)
		if m.Score < scoreThreshold {
			continue
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Guide.Name < matches[j].Guide.Name
	})

	if normalized.Date != "" {
		matches = a.filterByAvailability(ctx, matches, normalized)
	}

	total := len(matches)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + guidePageSize
	if end > total {
		end = total
	}
	page := matches[offset:end]
	for i := range page {
		stripContact(&page[i].Guide)
	}
	return page, total, nil
}

// normalize runs the typo-correction pass. On any failure the raw criteria
// are used with the lower per-interest weight.
func (a *GuideAgent) normalize(ctx context.Context, criteria domain.SearchCriteria) (domain.SearchCriteria, bool) {
	if criteria.Location == "" && len(criteria.Interests) == 0 {
		return criteria, true
	}

	prompt := fmt.Sprintf(`Normalize this tour search for Thailand. Fix typos, expand abbreviations,
use canonical city names (e.g. "bkk" -> "Bangkok", "chiangmai" -> "Chiang Mai").

Location: %q
Interests: %q

Respond with a JSON object only:
{"location": "corrected city or empty", "interests": ["corrected", "interests"]}`,
		criteria.Location, strings.Join(criteria.Interests, ", "))

	raw, err := a.reasoner.Generate(ctx, prompt, "", 300)
	if err != nil {
		a.logger.Warn("criteria normalization failed", "error", err)
		return criteria, true
	}
	var corrected correctedCriteria
	if err := usecase.ExtractJSON(raw, &corrected); err != nil {
		return criteria, true
	}

	out := criteria
	if corrected.Location != "" {
		out.Location = corrected.Location
	}
	if len(corrected.Interests) > 0 {
		out.Interests = corrected.Interests
	}
	return out, false
}

// scoreGuide applies the deterministic weights.
func scoreGuide(g *domain.Guide, criteria domain.SearchCriteria, perInterest int) domain.GuideMatch {
	m := domain.GuideMatch{Guide: *g}

	if criteria.Location != "" {
		if strings.EqualFold(g.Location, criteria.Location) {
			m.Score += scoreExactLocation
			m.Reasons = append(m.Reasons, "based in "+g.Location)
		} else if g.Region != "" && strings.EqualFold(g.Region, criteria.Location) {
			m.Score += scoreRegionCoverage
			m.Reasons = append(m.Reasons, "covers the "+g.Region+" region")
		}
	}

	matched := 0
	for _, interest := range criteria.Interests {
		for _, spec := range g.Specialties {
			if lexicalOverlap(interest, spec) {
				matched++
				m.Reasons = append(m.Reasons, "specializes in "+spec)
				break
			}
		}
	}
	m.Score += matched * perInterest
	return m
}

// lexicalOverlap reports a case-insensitive substring match in either direction.
func lexicalOverlap(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// filterByAvailability drops guides unavailable on the requested date/slot.
// If nobody is free, the original matches are returned flagged unavailable so
// the tourist still sees options.
func (a *GuideAgent) filterByAvailability(ctx context.Context, matches []domain.GuideMatch, criteria domain.SearchCriteria) []domain.GuideMatch {
	slot := ResolveSlot(criteria.TimeOfDay)

	var free []domain.GuideMatch
	for i := range matches {
		av, err := a.avail.GetAvailability(ctx, matches[i].Guide.ID, criteria.Date)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				a.logger.Warn("availability lookup failed", "guide_id", matches[i].Guide.ID, "error", err)
			}
			av = nil // no record means available all day
		}
		if av.SlotAvailable(slot) {
			matches[i].Available = true
			matches[i].Availability = "✅ Available on your dates"
			free = append(free, matches[i])
		} else {
			matches[i].Available = false
			matches[i].Availability = "📅 Fully booked on " + criteria.Date
		}
	}
	if len(free) == 0 {
		return matches
	}
	return free
}

// stripContact removes guide contact details before results leave the agent.
// Tourists must book through the platform, never directly.
func stripContact(g *domain.Guide) {
	g.Phone = ""
}

// FormatGuideList renders one page of results for the chat channel.
func FormatGuideList(matches []domain.GuideMatch, total, offset int) string {
	var b strings.Builder
	if offset == 0 {
		fmt.Fprintf(&b, "🎯 Found %d matching guides! Here are the top picks:\n\n", total)
	} else {
		b.WriteString("Here are more guides for you:\n\n")
	}
	for i, m := range matches {
		g := m.Guide
		fmt.Fprintf(&b, "%d. *%s*\n", offset+i+1, g.Name)
		fmt.Fprintf(&b, "   📍 Location: %s\n", g.Location)
		if len(g.Specialties) > 0 {
			fmt.Fprintf(&b, "   🎯 Specialties: %s\n", strings.Join(g.Specialties, ", "))
		}
		if len(g.Languages) > 0 {
			fmt.Fprintf(&b, "   🗣 Languages: %s\n", strings.Join(g.Languages, ", "))
		}
		if g.Rating > 0 {
			fmt.Fprintf(&b, "   ⭐ %.1f/5 (%d reviews)\n", g.Rating, g.TotalReviews)
		}
		fmt.Fprintf(&b, "   💰 $%.0f/day (full day tour)\n", g.DailyRate)
		if g.VideoURL != "" {
			fmt.Fprintf(&b, "   🎥 Video: %s\n", g.VideoURL)
		}
		if m.Availability != "" {
			fmt.Fprintf(&b, "   %s\n", m.Availability)
		}
		fmt.Fprintf(&b, "   %s\n\n", platformBookingNotice)
	}
	b.WriteString("💬 Reply with a guide name to book (e.g., 'Book Somchai')")
	if total > offset+len(matches) {
		b.WriteString(", or say 'more' to see more guides")
	}
	return b.String()
}
