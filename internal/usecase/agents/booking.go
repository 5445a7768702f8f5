package agents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"guidebot/internal/domain"
	"guidebot/internal/infra/tracer"
)

// Pricing unit costs per tour category. Transportation is flat per group;
// entrance fees and meals are per person.
type tourCosts struct {
	transport float64
	entrance  float64
	meals     float64
}

var (
	costsTemple  = tourCosts{transport: 15, entrance: 8, meals: 15}
	costsIsland  = tourCosts{transport: 25, entrance: 15, meals: 15}
	costsFood    = tourCosts{transport: 12, entrance: 5, meals: 18}
	costsDefault = tourCosts{transport: 18, entrance: 5, meals: 15}
)

const serviceFeeRate = 0.10
const depositRate = 0.30

// BookingAgent finalizes bookings. Availability and pricing are computed
// deterministically; the reasoner is only asked for friendly wording, and its
// output never overrides the computed outcome.
type BookingAgent struct {
	reasoner domain.Reasoner
	bookings domain.BookingStore
	avail    domain.AvailabilityStore
	logger   *slog.Logger
}

// NewBookingAgent creates the booking agent.
func NewBookingAgent(reasoner domain.Reasoner, bookings domain.BookingStore, avail domain.AvailabilityStore, logger *slog.Logger) *BookingAgent {
	return &BookingAgent{reasoner: reasoner, bookings: bookings, avail: avail, logger: logger}
}

func (a *BookingAgent) Name() domain.AgentName { return domain.AgentBooking }

// Handle implements domain.Agent. The caller must have a complete booking
// draft (guide, criteria, customer name) in the session.
func (a *BookingAgent) Handle(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "BookingAgent.Handle",
		tracer.StringAttr("user_id", req.UserID))
	defer span.End()

	draft := req.Session.State.Draft
	if draft == nil || draft.GuideID == "" {
		return &domain.AgentResponse{
			Status:  "error",
			Message: "I don't have a booking in progress. Which guide would you like to book?",
		}, nil
	}

	slot := ResolveSlot(draft.Criteria.TimeOfDay)
	available := a.slotFree(ctx, draft.GuideID, draft.Criteria.Date, slot)

	numPeople := draft.Criteria.NumPeople
	if numPeople < 1 {
		numPeople = 1
	}
	tourType := draft.Criteria.TourType
	if tourType == "" {
		tourType = strings.Join(draft.Criteria.Interests, " ")
	}
	pricing := ComputePricing(draft.DailyRate, tourType, numPeople)

	booking := &domain.Booking{
		ID:           "booking_" + strings.ToLower(ulid.Make().String()),
		UserID:       req.UserID,
		GuideID:      draft.GuideID,
		GuideName:    draft.GuideName,
		CustomerName: draft.CustomerName,
		Criteria:     draft.Criteria,
		Slot:         slot,
		Pricing:      pricing,
		CreatedAt:    time.Now(),
	}

	if available {
		booking.Status = domain.BookingConfirmed
		booking.Confirmation = NewConfirmationNumber(time.Now())
		booking.NextSteps = []string{
			fmt.Sprintf("Pay the deposit of $%.2f to secure your booking", pricing.Deposit),
			"Your guide will message you a day before the tour",
			fmt.Sprintf("Pay the balance of $%.2f on tour day", pricing.Balance),
		}
	} else {
		booking.Status = domain.BookingAlternativeNeeded
		booking.Alternatives = []string{
			"Try a different date with the same guide",
			"Pick another guide from your search results",
			"Say 'new search' to look for other guides",
		}
	}

	// Audit record regardless of outcome.
	if err := a.bookings.CreateBooking(ctx, booking); err != nil {
		return nil, domain.WrapOp("BookingAgent.Handle", err)
	}

	if !available {
		return &domain.AgentResponse{
			Status:  "success",
			Booking: booking,
			Message: formatAlternatives(booking),
		}, nil
	}

	if err := a.avail.RecordBooking(ctx, draft.GuideID, draft.Criteria.Date); err != nil {
		a.logger.Warn("failed to record booking on availability", "guide_id", draft.GuideID, "error", err)
	}

	return &domain.AgentResponse{
		Status:    "success",
		Booking:   booking,
		Message:   a.confirmationMessage(ctx, booking),
		Completed: domain.CompletionBooking,
	}, nil
}

// slotFree checks the authoritative availability record. Absent record means
// available; store errors fail open so a flaky lookup never blocks a booking.
func (a *BookingAgent) slotFree(ctx context.Context, guideID, date string, slot domain.TimeSlot) bool {
	av, err := a.avail.GetAvailability(ctx, guideID, date)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("availability lookup failed", "guide_id", guideID, "error", err)
		}
		return true
	}
	return av.SlotAvailable(slot)
}

// confirmationMessage asks the reasoner for warm wording around the computed
// facts, falling back to a canned rendering.
func (a *BookingAgent) confirmationMessage(ctx context.Context, b *domain.Booking) string {
	canned := formatConfirmation(b)

	prompt := fmt.Sprintf(`Write a short, warm WhatsApp booking confirmation for a Thailand tour.
Include these exact facts and numbers, do not change any of them:
%s`, canned)

	text, err := a.reasoner.Generate(ctx, prompt, "", 500)
	if err != nil || strings.TrimSpace(text) == "" {
		return canned
	}
	// The generated text must still carry the confirmation number.
	if !strings.Contains(text, b.Confirmation) {
		return canned
	}
	return text
}

func formatConfirmation(b *domain.Booking) string {
	var sb strings.Builder
	sb.WriteString("🎉 *Booking Confirmed!*\n\n")
	fmt.Fprintf(&sb, "📋 Confirmation: %s\n", b.Confirmation)
	fmt.Fprintf(&sb, "🧑‍🏫 Guide: %s\n", b.GuideName)
	fmt.Fprintf(&sb, "👤 Name: %s\n", b.CustomerName)
	if b.Criteria.Date != "" {
		fmt.Fprintf(&sb, "📅 Date: %s (%s)\n", b.Criteria.Date, b.Slot)
	}
	if b.Criteria.Location != "" {
		fmt.Fprintf(&sb, "📍 Location: %s\n", b.Criteria.Location)
	}
	p := b.Pricing
	sb.WriteString("\n💰 *Pricing:*\n")
	fmt.Fprintf(&sb, "• Guide fee: $%.2f\n", p.GuideFee)
	fmt.Fprintf(&sb, "• Transportation: $%.2f\n", p.Transportation)
	fmt.Fprintf(&sb, "• Entrance fees: $%.2f\n", p.EntranceFees)
	fmt.Fprintf(&sb, "• Meals: $%.2f\n", p.Meals)
	fmt.Fprintf(&sb, "• Service fee: $%.2f\n", p.ServiceFee)
	fmt.Fprintf(&sb, "• *Total: $%.2f*\n", p.Total)
	fmt.Fprintf(&sb, "• Deposit (30%%): $%.2f\n", p.Deposit)
	fmt.Fprintf(&sb, "• Balance: $%.2f\n", p.Balance)
	if len(b.NextSteps) > 0 {
		sb.WriteString("\n📝 *Next steps:*\n")
		for _, s := range b.NextSteps {
			sb.WriteString("• " + s + "\n")
		}
	}
	sb.WriteString("\n💬 Ready for another booking? Just send me your next request!")
	return sb.String()
}

func formatAlternatives(b *domain.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "😔 %s is fully booked on %s.\n\nHere's what you can do:\n", b.GuideName, b.Criteria.Date)
	for _, alt := range b.Alternatives {
		sb.WriteString("• " + alt + "\n")
	}
	return sb.String()
}

// ComputePricing produces the deterministic cost breakdown. Category unit
// costs are picked by lexical match on the tour type text; entrance fees and
// meals scale per person, transportation does not.
func ComputePricing(baseRate float64, tourType string, numPeople int) domain.Pricing {
	if numPeople < 1 {
		numPeople = 1
	}
	costs := costsForTourType(tourType)
	n := float64(numPeople)

	guideFee := baseRate
	serviceFee := roundTo2(guideFee * serviceFeeRate)
	entrance := roundTo2(costs.entrance * n)
	meals := roundTo2(costs.meals * n)
	total := roundTo2(guideFee + costs.transport + entrance + meals + serviceFee)
	deposit := roundTo2(total * depositRate)
	balance := roundTo2(total - deposit)

	return domain.Pricing{
		GuideFee:       roundTo2(guideFee),
		Transportation: roundTo2(costs.transport),
		EntranceFees:   entrance,
		Meals:          meals,
		ServiceFee:     serviceFee,
		Total:          total,
		Deposit:        deposit,
		Balance:        balance,
		Currency:       "USD",
	}
}

func costsForTourType(tourType string) tourCosts {
	t := strings.ToLower(tourType)
	switch {
	case strings.Contains(t, "temple") || strings.Contains(t, "cultural"):
		return costsTemple
	case strings.Contains(t, "island") || strings.Contains(t, "beach"):
		return costsIsland
	case strings.Contains(t, "food") || strings.Contains(t, "market"):
		return costsFood
	default:
		return costsDefault
	}
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ResolveSlot maps free-text timing to a schedule slot. Afternoon is the
// default; "anytime" also resolves to afternoon.
func ResolveSlot(timeOfDay string) domain.TimeSlot {
	t := strings.ToLower(timeOfDay)
	switch {
	case strings.Contains(t, "morning"):
		return domain.SlotMorning
	case strings.Contains(t, "evening") || strings.Contains(t, "night"):
		return domain.SlotEvening
	default:
		return domain.SlotAfternoon
	}
}

// NewConfirmationNumber generates a TGB-YYYYMMDD-XXXXXXXX confirmation number
// with a random 8-hex-digit suffix.
func NewConfirmationNumber(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		copy(buf, ulid.Make().Entropy())
	}
	return fmt.Sprintf("TGB-%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
