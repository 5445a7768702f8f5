package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"guidebot/internal/domain"
	"guidebot/internal/infra/tracer"
	"guidebot/internal/usecase"
)

// pendingRegistrationKey names the working-memory process holding an
// unconfirmed registration payload.
const pendingRegistrationKey = "pending_registration"

const defaultDailyRate = 80

// registrationInfo is the field set collected from a prospective guide.
type registrationInfo struct {
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Specialties []string `json:"specialties"`
	Languages   []string `json:"languages"`
	Location    string   `json:"location"`
	Bio         string   `json:"bio"`
	Gender      string   `json:"gender"`
}

// profileAnalysis is the advisory quality assessment shape.
type profileAnalysis struct {
	Recommendation string `json:"recommendation"`
	Score          int    `json:"score"`
	Summary        string `json:"summary"`
}

// RegistrationAgent onboards new guides: collects profile fields from free
// text, confirms before writing, and rejects duplicate phone numbers. The
// reasoner's profile assessment is advisory and never blocks a registration.
type RegistrationAgent struct {
	reasoner domain.Reasoner
	guides   domain.GuideStore
	avail    domain.AvailabilityStore
	logger   *slog.Logger
}

// NewRegistrationAgent creates the registration agent.
func NewRegistrationAgent(reasoner domain.Reasoner, guides domain.GuideStore, avail domain.AvailabilityStore, logger *slog.Logger) *RegistrationAgent {
	return &RegistrationAgent{reasoner: reasoner, guides: guides, avail: avail, logger: logger}
}

func (a *RegistrationAgent) Name() domain.AgentName { return domain.AgentRegistration }

// Handle implements domain.Agent.
func (a *RegistrationAgent) Handle(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "RegistrationAgent.Handle",
		tracer.StringAttr("user_id", req.UserID))
	defer span.End()

	msg := strings.ToLower(strings.TrimSpace(req.Message))

	// Pending payload: this turn is the confirmation decision.
	if pending, ok := req.Memory.Working[pendingRegistrationKey]; ok {
		switch {
		case isAffirmative(msg):
			return a.commit(ctx, req, infoFromWorking(pending))
		case isNegative(msg):
			req.Memory.ClearWorking(pendingRegistrationKey)
			return &domain.AgentResponse{
				Status:  "success",
				Message: "No problem, I've discarded that registration. Send me your details again whenever you're ready!",
			}, nil
		default:
			// Additional info while a payload is pending: merge and re-confirm.
			merged := a.extract(ctx, req.Message, infoFromWorking(pending))
			return a.confirmOrAskMissing(req, merged)
		}
	}

	// Registered guides can check status or mark dates unavailable. The sender
	// id is a raw phone number; stored numbers are digit-normalized.
	if existing, err := a.guides.FindByPhone(ctx, normalizePhone(req.UserID)); err == nil {
		if strings.Contains(msg, "status") {
			return a.statusReply(existing), nil
		}
		if date := extractISODate(msg); date != "" && strings.Contains(msg, "available") {
			return a.toggleAvailability(ctx, existing, msg, date)
		}
	}

	// Merge onto any partial payload from earlier turns.
	info := a.extract(ctx, req.Message, infoFromWorking(req.Memory.Working[pendingRegistrationKey+"_partial"]))
	return a.confirmOrAskMissing(req, info)
}

// confirmOrAskMissing either parks the payload and shows a summary, or asks
// for the missing fields without advancing state.
func (a *RegistrationAgent) confirmOrAskMissing(req domain.AgentRequest, info registrationInfo) (*domain.AgentResponse, error) {
	if missing := missingFields(info); len(missing) > 0 {
		req.Memory.SetWorking(pendingRegistrationKey+"_partial", workingFromInfo(info))
		return &domain.AgentResponse{
			Status: "success",
			Message: fmt.Sprintf("Great, I'd love to get you registered as a guide! I still need: %s.\n\n"+
				"You can send everything in one message.", strings.Join(missing, ", ")),
		}, nil
	}

	req.Memory.ClearWorking(pendingRegistrationKey + "_partial")
	req.Memory.SetWorking(pendingRegistrationKey, workingFromInfo(info))
	req.Session.State = domain.ConversationState{Kind: domain.StateInRegistration}

	return &domain.AgentResponse{
		Status:  "success",
		Message: formatRegistrationSummary(info),
	}, nil
}

// commit writes the guide record after explicit confirmation.
func (a *RegistrationAgent) commit(ctx context.Context, req domain.AgentRequest, info registrationInfo) (*domain.AgentResponse, error) {
	if _, err := a.guides.FindByPhone(ctx, normalizePhone(info.Phone)); err == nil {
		req.Memory.ClearWorking(pendingRegistrationKey)
		return &domain.AgentResponse{
			Status:  "error",
			Message: "That phone number is already registered with us. If that's your account, say 'status' to check it.",
		}, nil
	} else if !errors.Is(err, domain.ErrGuideNotFound) && !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WrapOp("RegistrationAgent.commit", err)
	}

	now := time.Now()
	g := &domain.Guide{
		ID:          fmt.Sprintf("guide_%s_%s", now.Format("20060102"), uuid.NewString()[:8]),
		Name:        info.Name,
		Location:    info.Location,
		Specialties: info.Specialties,
		Languages:   info.Languages,
		Bio:         info.Bio,
		Gender:      info.Gender,
		Phone:       normalizePhone(info.Phone),
		VideoURL:    videoURLForGender(info.Gender),
		DailyRate:   defaultDailyRate,
		Status:      domain.GuideStatusPendingApproval,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.guides.Create(ctx, g); err != nil {
		return nil, domain.WrapOp("RegistrationAgent.commit", err)
	}

	req.Memory.ClearWorking(pendingRegistrationKey)
	req.Session.State = domain.Idle()

	analysis := a.assessProfile(ctx, info)
	a.logger.Info("guide registered",
		"guide_id", g.ID,
		"location", g.Location,
		"profile_score", analysis.Score,
		"profile_recommendation", analysis.Recommendation,
	)

	return &domain.AgentResponse{
		Status: "success",
		Message: fmt.Sprintf("🎉 Welcome aboard, %s!\n\n"+
			"Your guide profile is registered and pending approval (id: %s).\n"+
			"We'll review it and notify you here. Your starting rate is $%d/day, adjustable after approval.\n\n"+
			"📋 Profile notes: %s",
			info.Name, g.ID, defaultDailyRate, analysis.Summary),
		Completed: domain.CompletionRegistration,
	}, nil
}

// extract pulls registration fields from free text, merging onto base so
// info can arrive across multiple messages.
func (a *RegistrationAgent) extract(ctx context.Context, message string, base registrationInfo) registrationInfo {
	prompt := fmt.Sprintf(`Extract guide registration fields from this message:
%q

Respond with a JSON object only, empty strings/arrays for anything not mentioned:
{"name":"", "phone":"", "specialties":[], "languages":[], "location":"", "bio":"", "gender":""}`, message)

	raw, err := a.reasoner.Generate(ctx, prompt, "", 400)
	if err != nil {
		a.logger.Warn("registration extraction failed", "error", err)
		return base
	}
	var got registrationInfo
	if err := usecase.ExtractJSON(raw, &got); err != nil {
		return base
	}

	if got.Name != "" {
		base.Name = got.Name
	}
	if got.Phone != "" {
		base.Phone = got.Phone
	}
	if len(got.Specialties) > 0 {
		base.Specialties = got.Specialties
	}
	if len(got.Languages) > 0 {
		base.Languages = got.Languages
	}
	if got.Location != "" {
		base.Location = got.Location
	}
	if got.Bio != "" {
		base.Bio = got.Bio
	}
	if got.Gender != "" {
		base.Gender = got.Gender
	}
	return base
}

// assessProfile asks the reasoner for an advisory quality score. Failures
// degrade to a neutral assessment.
func (a *RegistrationAgent) assessProfile(ctx context.Context, info registrationInfo) profileAnalysis {
	prompt := fmt.Sprintf(`Assess this tour guide profile for completeness and appeal:
Name: %s
Location: %s
Specialties: %s
Languages: %s
Bio: %s

Respond with a JSON object only:
{"recommendation": "approve" | "review", "score": 0-100, "summary": "one sentence"}`,
		info.Name, info.Location,
		strings.Join(info.Specialties, ", "),
		strings.Join(info.Languages, ", "),
		info.Bio)

	raw, err := a.reasoner.Generate(ctx, prompt, "", 300)
	if err != nil {
		return profileAnalysis{Recommendation: "review", Score: 50, Summary: "Profile looks good, pending manual review."}
	}
	var analysis profileAnalysis
	if err := usecase.ExtractJSON(raw, &analysis); err != nil || analysis.Score == 0 {
		return profileAnalysis{Recommendation: "review", Score: 75, Summary: "Profile looks good, pending manual review."}
	}
	return analysis
}

func (a *RegistrationAgent) statusReply(g *domain.Guide) *domain.AgentResponse {
	var status string
	switch g.Status {
	case domain.GuideStatusActive:
		status = "✅ Active — tourists can find and book you!"
	case domain.GuideStatusPendingApproval:
		status = "⏳ Pending approval — we're reviewing your profile."
	case domain.GuideStatusRejected:
		status = "❌ Not approved. Contact support for details."
	case domain.GuideStatusSuspended:
		status = "⛔ Suspended. Contact support for details."
	default:
		status = g.Status
	}
	return &domain.AgentResponse{
		Status:  "success",
		Message: fmt.Sprintf("Hi %s! Your guide profile (%s):\n%s", g.Name, g.ID, status),
	}
}

// toggleAvailability lets a registered guide block or free a date.
func (a *RegistrationAgent) toggleAvailability(ctx context.Context, g *domain.Guide, msg, date string) (*domain.AgentResponse, error) {
	free := !strings.Contains(msg, "not available") && !strings.Contains(msg, "unavailable")
	av := &domain.Availability{
		GuideID: g.ID,
		Date:    date,
		Slots: map[domain.TimeSlot]bool{
			domain.SlotMorning:   free,
			domain.SlotAfternoon: free,
			domain.SlotEvening:   free,
		},
	}
	if err := a.avail.PutAvailability(ctx, av); err != nil {
		return nil, domain.WrapOp("RegistrationAgent.toggleAvailability", err)
	}
	word := "available"
	if !free {
		word = "unavailable"
	}
	return &domain.AgentResponse{
		Status:  "success",
		Message: fmt.Sprintf("Got it, %s — I've marked you %s on %s.", g.Name, word, date),
	}, nil
}

func missingFields(info registrationInfo) []string {
	var missing []string
	if info.Name == "" {
		missing = append(missing, "your name")
	}
	if info.Phone == "" {
		missing = append(missing, "phone number")
	}
	if len(info.Specialties) == 0 {
		missing = append(missing, "tour specialties")
	}
	if len(info.Languages) == 0 {
		missing = append(missing, "languages you speak")
	}
	if info.Location == "" {
		missing = append(missing, "your city")
	}
	if info.Bio == "" {
		missing = append(missing, "a short bio")
	}
	if info.Gender == "" {
		missing = append(missing, "gender")
	}
	return missing
}

func formatRegistrationSummary(info registrationInfo) string {
	var b strings.Builder
	b.WriteString("📋 *Please confirm your guide profile:*\n\n")
	fmt.Fprintf(&b, "👤 Name: %s\n", info.Name)
	fmt.Fprintf(&b, "📱 Phone: %s\n", info.Phone)
	fmt.Fprintf(&b, "📍 Location: %s\n", info.Location)
	fmt.Fprintf(&b, "🎯 Specialties: %s\n", strings.Join(info.Specialties, ", "))
	fmt.Fprintf(&b, "🗣 Languages: %s\n", strings.Join(info.Languages, ", "))
	fmt.Fprintf(&b, "📝 Bio: %s\n", info.Bio)
	b.WriteString("\nReply *yes* to register or *no* to discard.")
	return b.String()
}

func videoURLForGender(gender string) string {
	switch strings.ToLower(gender) {
	case "female", "f":
		return "https://media.guidebot.example/intro/guide-intro-female.mp4"
	case "male", "m":
		return "https://media.guidebot.example/intro/guide-intro-male.mp4"
	default:
		return "https://media.guidebot.example/intro/guide-intro.mp4"
	}
}

// workingFromInfo converts to the JSON-safe working-memory shape.
func workingFromInfo(info registrationInfo) map[string]any {
	return map[string]any{
		"name":        info.Name,
		"phone":       info.Phone,
		"specialties": info.Specialties,
		"languages":   info.Languages,
		"location":    info.Location,
		"bio":         info.Bio,
		"gender":      info.Gender,
	}
}

// infoFromWorking reverses workingFromInfo. Slices may arrive as []any after
// a JSON round trip through the store.
func infoFromWorking(m map[string]any) registrationInfo {
	str := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	strs := func(k string) []string {
		switch v := m[k].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}
	return registrationInfo{
		Name:        str("name"),
		Phone:       str("phone"),
		Specialties: strs("specialties"),
		Languages:   strs("languages"),
		Location:    str("location"),
		Bio:         str("bio"),
		Gender:      str("gender"),
	}
}
