package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guidebot/internal/domain"
	"guidebot/internal/infra/tracer"
	"guidebot/internal/usecase"
)

const touristSystemPrompt = `You are a friendly Thailand travel assistant on WhatsApp.
You help tourists find local guides, answer cultural questions, and make bookings.
Keep replies short and warm.`

// classifiedIntent is the structured shape of the fresh-intent reasoner pass.
type classifiedIntent struct {
	Intent       string   `json:"intent"` // guide_search | cultural_question | booking_confirmation | guide_registration | more_guides | general
	Location     string   `json:"location"`
	Date         string   `json:"date"`
	TimeOfDay    string   `json:"time_of_day"` // morning | afternoon | evening
	Interests    []string `json:"interests"`
	NumPeople    int      `json:"num_people"`
	TourType     string   `json:"tour_type"`
	GuideName    string   `json:"guide_name"`
	CustomerName string   `json:"customer_name"`
}

// TouristAgent is the per-turn dispatcher: an ordered decision chain where
// the first matching rule wins. Deterministic checks (reset, image flags,
// in-flight slot states, timeouts) always run before any reasoner call, and a
// deterministic classification always beats the reasoner's.
type TouristAgent struct {
	reasoner     domain.Reasoner
	cultural     domain.Agent
	guide        domain.Agent
	booking      domain.Agent
	registration domain.Agent
	guides       domain.GuideStore
	timeout      time.Duration
	logger       *slog.Logger
}

// NewTouristAgent creates the tourist dispatcher. sessionTimeout bounds
// conversational continuity; after it elapses the context is discarded.
func NewTouristAgent(
	reasoner domain.Reasoner,
	cultural, guide, booking, registration domain.Agent,
	guides domain.GuideStore,
	sessionTimeout time.Duration,
	logger *slog.Logger,
) *TouristAgent {
	if sessionTimeout <= 0 {
		sessionTimeout = 5 * time.Minute
	}
	return &TouristAgent{
		reasoner:     reasoner,
		cultural:     cultural,
		guide:        guide,
		booking:      booking,
		registration: registration,
		guides:       guides,
		timeout:      sessionTimeout,
		logger:       logger,
	}
}

func (a *TouristAgent) Name() domain.AgentName { return domain.AgentTourist }

// Handle implements domain.Agent.
func (a *TouristAgent) Handle(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "TouristAgent.Handle",
		tracer.StringAttr("user_id", req.UserID),
		tracer.StringAttr("state", string(req.Session.State.Kind)))
	defer span.End()

	sess := req.Session
	msg := strings.TrimSpace(req.Message)

	// 1. Reset command.
	if isResetCommand(msg) {
		sess.Reset()
		return &domain.AgentResponse{
			Status:  "success",
			Message: "🔄 Starting fresh! What can I help you with? Find a guide, ask about Thai culture, or register as a guide.",
		}, nil
	}

	// 2. The current message carries an image.
	if len(req.Image) > 0 {
		return a.handleImage(ctx, req)
	}

	// 3. Follow-up right after an image analysis.
	if sess.LastInteractionType == "image_analysis" && sess.State.Kind == domain.StateImageFollowUp {
		if resp, handled, err := a.handlePostImage(ctx, req, msg); handled {
			return resp, err
		}
	}

	// 4. Mid-registration confirmation.
	if sess.State.Kind == domain.StateInRegistration && isBareDecision(msg) {
		return a.delegate(ctx, a.registration, req)
	}

	// 5. Session timeout.
	if sess.Expired(a.timeout) {
		sess.Reset()
		sess.Touch("text")
		return &domain.AgentResponse{
			Status:  "success",
			Message: "⏰ Looks like some time passed, so I've started a fresh conversation. What can I help you with?",
		}, nil
	}
	sess.Touch("text")

	// 6. Slot-filling continuations, one state at a time.
	switch sess.State.Kind {
	case domain.StateAwaitingLocation:
		return a.continueWithLocation(ctx, req, msg)
	case domain.StateAwaitingCustomerName:
		return a.continueWithCustomerName(req, msg)
	case domain.StateAwaitingConfirmation:
		return a.continueWithConfirmation(ctx, req, msg)
	case domain.StateAwaitingInterests:
		sess.State.Criteria.Interests = parseInterests(msg)
		return a.guideSearchFlow(ctx, req)
	case domain.StateAwaitingDate:
		return a.continueWithDate(ctx, req, msg)
	}

	// 7. Fresh intent classification.
	intent := a.classify(ctx, req, msg)

	// A lone "yes" with nothing to confirm is a false positive.
	if intent.Intent == "booking_confirmation" && len(sess.LastSearch) == 0 {
		if isBareDecision(msg) {
			intent.Intent = "general"
		} else {
			intent.Intent = "guide_search"
		}
	}

	// 8. Route.
	switch intent.Intent {
	case "guide_search":
		mergeCriteria(&sess.State.Criteria, intent)
		return a.guideSearchFlow(ctx, req)
	case "more_guides":
		return a.moreGuides(ctx, req)
	case "cultural_question":
		return a.delegate(ctx, a.cultural, req)
	case "booking_confirmation":
		return a.startBooking(ctx, req, intent)
	case "guide_registration":
		return a.delegate(ctx, a.registration, req)
	default:
		return a.generalReply(ctx, req)
	}
}

// handleImage delegates to the cultural agent and parks the derived search
// suggestion for the next turn. Image flags are consumed here so a stale flag
// never mis-routes later text.
func (a *TouristAgent) handleImage(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	resp, err := a.delegate(ctx, a.cultural, req)
	if err != nil {
		return nil, err
	}
	if resp.Suggestion != nil {
		req.Session.State = domain.ConversationState{
			Kind:       domain.StateImageFollowUp,
			Criteria:   req.Session.State.Criteria,
			Suggestion: resp.Suggestion,
		}
	}
	req.Session.Touch("image_analysis")
	return resp, nil
}

// handlePostImage seeds the search from the image suggestion on an
// affirmative reply, otherwise clears the flags and falls through.
func (a *TouristAgent) handlePostImage(ctx context.Context, req domain.AgentRequest, msg string) (*domain.AgentResponse, bool, error) {
	sess := req.Session
	suggestion := sess.State.Suggestion

	if suggestion != nil && isPostImageAffirmative(msg) {
		criteria := sess.State.Criteria
		if criteria.Location == "" {
			criteria.Location = suggestion.Location
		}
		if len(criteria.Interests) == 0 {
			criteria.Interests = suggestion.Interests
		}
		sess.State = domain.ConversationState{Kind: domain.StateIdle, Criteria: criteria}
		sess.Touch("text")
		resp, err := a.guideSearchFlow(ctx, req)
		return resp, true, err
	}

	sess.State = domain.ConversationState{Kind: domain.StateIdle, Criteria: sess.State.Criteria}
	return nil, false, nil
}

// guideSearchFlow asks for missing slots in fixed order (date, location,
// interests), then runs the search. Slots already supplied are never asked
// again.
func (a *TouristAgent) guideSearchFlow(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	sess := req.Session
	criteria := &sess.State.Criteria

	switch {
	case criteria.Date == "":
		sess.State.Kind = domain.StateAwaitingDate
		return &domain.AgentResponse{
			Status:  "success",
			Message: "📅 What date would you like the tour? (e.g., 'tomorrow' or '2026-09-15')",
		}, nil
	case criteria.Location == "":
		sess.State.Kind = domain.StateAwaitingLocation
		return &domain.AgentResponse{
			Status:  "success",
			Message: "📍 Which city? I cover " + strings.Join(validCities, ", ") + ".",
		}, nil
	case len(criteria.Interests) == 0:
		sess.State.Kind = domain.StateAwaitingInterests
		return &domain.AgentResponse{
			Status:  "success",
			Message: "🎯 What are you interested in? (e.g., temples, food, beaches, history)",
		}, nil
	}

	sess.State.Kind = domain.StateIdle
	sess.GuideOffset = 0
	resp, err := a.delegate(ctx, a.guide, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Guides) > 0 {
		sess.LastSearch = resp.Guides
		sess.GuideOffset = len(resp.Guides)
	}
	return resp, nil
}

// moreGuides pages through the last search.
func (a *TouristAgent) moreGuides(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	sess := req.Session
	if len(sess.LastSearch) == 0 {
		return &domain.AgentResponse{
			Status:  "success",
			Message: "I don't have a search to continue. Tell me a city and what you're interested in!",
		}, nil
	}
	resp, err := a.delegate(ctx, a.guide, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Guides) > 0 {
		sess.LastSearch = append(sess.LastSearch, resp.Guides...)
		sess.GuideOffset += len(resp.Guides)
	}
	return resp, nil
}

// startBooking resolves the referenced guide and collects the customer name
// before anything is written.
func (a *TouristAgent) startBooking(ctx context.Context, req domain.AgentRequest, intent classifiedIntent) (*domain.AgentResponse, error) {
	sess := req.Session

	guide, err := a.resolveGuide(ctx, intent.GuideName, sess.LastSearch)
	if err != nil {
		return nil, err
	}
	if guide == nil {
		name := intent.GuideName
		if name == "" {
			name = "that guide"
		}
		return &domain.AgentResponse{
			Status:  "success",
			Message: fmt.Sprintf("🤔 I couldn't find %s. Reply with one of the guide names from your search, or say 'new search'.", name),
		}, nil
	}

	criteria := sess.State.Criteria
	mergeCriteria(&criteria, intent)

	draft := &domain.BookingDraft{
		GuideID:      guide.ID,
		GuideName:    guide.Name,
		DailyRate:    guide.DailyRate,
		CustomerName: intent.CustomerName,
		Criteria:     criteria,
	}

	if draft.CustomerName == "" {
		sess.State = domain.ConversationState{Kind: domain.StateAwaitingCustomerName, Criteria: criteria, Draft: draft}
		return &domain.AgentResponse{
			Status:  "success",
			Message: fmt.Sprintf("Great choice! %s it is. 👤 What name should I put the booking under?", guide.Name),
		}, nil
	}

	sess.State = domain.ConversationState{Kind: domain.StateAwaitingConfirmation, Criteria: criteria, Draft: draft}
	return &domain.AgentResponse{
		Status:  "success",
		Message: formatBookingSummary(draft),
	}, nil
}

// resolveGuide matches a name against the last search results first, then
// falls back to a store scan. Returns nil when unresolvable.
func (a *TouristAgent) resolveGuide(ctx context.Context, name string, lastSearch []domain.GuideMatch) (*domain.Guide, error) {
	if name != "" {
		needle := strings.ToLower(name)
		for i := range lastSearch {
			if strings.Contains(strings.ToLower(lastSearch[i].Guide.Name), needle) {
				return &lastSearch[i].Guide, nil
			}
		}
		guides, err := a.guides.ListActive(ctx)
		if err != nil {
			return nil, domain.WrapOp("TouristAgent.resolveGuide", err)
		}
		for _, g := range guides {
			if strings.Contains(strings.ToLower(g.Name), needle) {
				return g, nil
			}
		}
		return nil, nil
	}
	// No name given: a bare confirmation refers to the top result.
	if len(lastSearch) > 0 {
		return &lastSearch[0].Guide, nil
	}
	return nil, nil
}

func (a *TouristAgent) continueWithLocation(ctx context.Context, req domain.AgentRequest, msg string) (*domain.AgentResponse, error) {
	city := matchCity(msg)
	if city == "" {
		city = a.correctCity(ctx, msg)
	}
	if city == "" {
		return &domain.AgentResponse{
			Status:  "success",
			Message: "🤔 I didn't recognize that city. I cover " + strings.Join(validCities, ", ") + " — which one?",
		}, nil
	}
	req.Session.State.Criteria.Location = city
	return a.guideSearchFlow(ctx, req)
}

func (a *TouristAgent) continueWithCustomerName(req domain.AgentRequest, msg string) (*domain.AgentResponse, error) {
	sess := req.Session
	if sess.State.Draft == nil {
		sess.State = domain.Idle()
		return &domain.AgentResponse{
			Status:  "success",
			Message: "Hmm, I lost track of that booking. Which guide would you like to book?",
		}, nil
	}
	sess.State.Draft.CustomerName = strings.TrimSpace(msg)
	sess.State.Kind = domain.StateAwaitingConfirmation
	return &domain.AgentResponse{
		Status:  "success",
		Message: formatBookingSummary(sess.State.Draft),
	}, nil
}

func (a *TouristAgent) continueWithConfirmation(ctx context.Context, req domain.AgentRequest, msg string) (*domain.AgentResponse, error) {
	if isAffirmative(msg) {
		return a.delegate(ctx, a.booking, req)
	}
	req.Session.Reset()
	return &domain.AgentResponse{
		Status:  "success",
		Message: "👍 No problem, I've cancelled that. Want to search for other guides?",
	}, nil
}

func (a *TouristAgent) continueWithDate(ctx context.Context, req domain.AgentRequest, msg string) (*domain.AgentResponse, error) {
	sess := req.Session

	date, err := a.parseDate(ctx, msg)
	if err != nil {
		return &domain.AgentResponse{
			Status:  "success",
			Message: "🤔 I couldn't read that date. Try something like 'tomorrow', 'next Saturday', or '2026-09-15'.",
		}, nil
	}
	if pastDate(date) {
		return &domain.AgentResponse{
			Status:  "success",
			Message: "📅 That date has already passed! When would you like to go?",
		}, nil
	}

	sess.State.Criteria.Date = date
	if cue := timeOfDayCue(msg); cue != "" {
		sess.State.Criteria.TimeOfDay = cue
	}
	if s := sess.State.Suggestion; s != nil {
		if sess.State.Criteria.Location == "" {
			sess.State.Criteria.Location = s.Location
		}
		if len(sess.State.Criteria.Interests) == 0 {
			sess.State.Criteria.Interests = s.Interests
		}
	}
	return a.guideSearchFlow(ctx, req)
}

// classify runs the reasoner intent pass. Failures degrade to general
// conversation rather than surfacing an error.
func (a *TouristAgent) classify(ctx context.Context, req domain.AgentRequest, msg string) classifiedIntent {
	var contextNote string
	if req.Strand != nil {
		if recent := req.Strand.RecentMessages(5); len(recent) > 0 {
			var lines []string
			for _, m := range recent {
				lines = append(lines, string(m.Role)+": "+m.Content)
			}
			contextNote = "Recent conversation:\n" + strings.Join(lines, "\n") + "\n"
		}
	}
	if len(req.Session.LastSearch) > 0 {
		names := make([]string, 0, len(req.Session.LastSearch))
		for _, m := range req.Session.LastSearch {
			names = append(names, m.Guide.Name)
		}
		contextNote += "The tourist recently saw these guides: " + strings.Join(names, ", ") + "\n"
	}

	prompt := fmt.Sprintf(`%sClassify this tourist message:
%q

Respond with a JSON object only:
{
  "intent": "guide_search" | "cultural_question" | "booking_confirmation" | "guide_registration" | "more_guides" | "general",
  "location": "city if mentioned",
  "date": "YYYY-MM-DD if a date is mentioned, else empty",
  "time_of_day": "morning, afternoon, or evening if mentioned, else empty",
  "interests": ["mentioned interests"],
  "num_people": 0,
  "tour_type": "if mentioned",
  "guide_name": "if the message refers to a specific guide",
  "customer_name": "if the tourist gives their own name for a booking"
}
Use "booking_confirmation" only when they pick or confirm a specific guide.
Use "guide_registration" only when the sender wants to BE a guide.
Use "more_guides" when they ask to see more results.`, contextNote, msg)

	raw, err := a.reasoner.Generate(ctx, prompt, touristSystemPrompt, 400)
	if err != nil {
		a.logger.Warn("intent classification failed", "error", err)
		return classifiedIntent{Intent: "general"}
	}
	var intent classifiedIntent
	if err := usecase.ExtractJSON(raw, &intent); err != nil {
		return classifiedIntent{Intent: "general"}
	}
	return intent
}

// correctCity asks the reasoner to map a possible typo onto a known city.
func (a *TouristAgent) correctCity(ctx context.Context, msg string) string {
	prompt := fmt.Sprintf(`A tourist wrote %q as a destination city in Thailand.
Which of these is it, accounting for typos and nicknames: %s?
Respond with a JSON object only: {"city": "exact name from the list, or empty if none match"}`,
		msg, strings.Join(validCities, ", "))

	raw, err := a.reasoner.Generate(ctx, prompt, "", 100)
	if err != nil {
		return ""
	}
	var reply struct {
		City string `json:"city"`
	}
	if err := usecase.ExtractJSON(raw, &reply); err != nil {
		return ""
	}
	return matchCity(reply.City)
}

// parseDate resolves free-text dates to YYYY-MM-DD, trying cheap lexical
// rules before the reasoner.
func (a *TouristAgent) parseDate(ctx context.Context, msg string) (string, error) {
	now := time.Now()
	m := strings.ToLower(strings.TrimSpace(msg))

	switch {
	case strings.Contains(m, "today"):
		return now.Format("2006-01-02"), nil
	case strings.Contains(m, "tomorrow"):
		return now.AddDate(0, 0, 1).Format("2006-01-02"), nil
	}
	if d := extractISODate(m); d != "" {
		if _, err := time.Parse("2006-01-02", d); err == nil {
			return d, nil
		}
	}
	if t, err := time.Parse("02/01/2006", m); err == nil {
		return t.Format("2006-01-02"), nil
	}

	prompt := fmt.Sprintf(`Today is %s. Convert this date expression to YYYY-MM-DD:
%q
Respond with a JSON object only: {"date": "YYYY-MM-DD or empty if unparseable"}`,
		now.Format("2006-01-02 (Monday)"), msg)

	raw, err := a.reasoner.Generate(ctx, prompt, "", 100)
	if err != nil {
		return "", domain.WrapOp("TouristAgent.parseDate", err)
	}
	var reply struct {
		Date string `json:"date"`
	}
	if err := usecase.ExtractJSON(raw, &reply); err != nil || reply.Date == "" {
		return "", domain.NewDomainError("TouristAgent.parseDate", domain.ErrInvalidInput, msg)
	}
	if _, err := time.Parse("2006-01-02", reply.Date); err != nil {
		return "", domain.NewDomainError("TouristAgent.parseDate", domain.ErrInvalidInput, reply.Date)
	}
	return reply.Date, nil
}

// generalReply handles chit-chat with the reasoner, falling back to a menu.
func (a *TouristAgent) generalReply(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	var prefs string
	if req.Memory != nil && len(req.Memory.LongTerm.Preferences) > 0 {
		var parts []string
		for k, v := range req.Memory.LongTerm.Preferences {
			parts = append(parts, k+"="+v)
		}
		prefs = "Known preferences: " + strings.Join(parts, ", ") + "\n"
	}

	prompt := fmt.Sprintf(`%sThe tourist says: %q
Reply briefly and warmly. If relevant, mention you can find local guides, answer cultural
questions, or analyze photos they send.`, prefs, req.Message)

	text, err := a.reasoner.Generate(ctx, prompt, touristSystemPrompt, 300)
	if err != nil || strings.TrimSpace(text) == "" {
		return &domain.AgentResponse{
			Status: "success",
			Message: "🙏 Sawasdee! I can help you:\n" +
				"• 🧑‍🏫 Find local guides — tell me a city and your interests\n" +
				"• 🛕 Answer questions about Thai culture\n" +
				"• 📷 Analyze photos of places you want to visit\n" +
				"• ✍️ Register you as a guide\n\nWhat would you like?",
		}, nil
	}
	return &domain.AgentResponse{Status: "success", Message: strings.TrimSpace(text)}, nil
}

// delegate forwards the request to another agent, recording the hop.
func (a *TouristAgent) delegate(ctx context.Context, target domain.Agent, req domain.AgentRequest) (*domain.AgentResponse, error) {
	req.From = domain.AgentTourist
	resp, err := target.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Strand != nil {
		req.Strand.AddMessage(domain.RoleAssistant, resp.Message, string(target.Name()))
	}
	return resp, nil
}

// mergeCriteria folds freshly extracted slots into accumulated criteria.
// Existing values win only when the new turn omits them.
func mergeCriteria(criteria *domain.SearchCriteria, intent classifiedIntent) {
	if intent.Location != "" {
		if city := matchCity(intent.Location); city != "" {
			criteria.Location = city
		} else {
			criteria.Location = intent.Location
		}
	}
	if intent.Date != "" && !pastDate(intent.Date) {
		criteria.Date = intent.Date
	}
	if intent.TimeOfDay != "" {
		criteria.TimeOfDay = intent.TimeOfDay
	}
	if len(intent.Interests) > 0 {
		criteria.Interests = intent.Interests
	}
	if intent.NumPeople > 0 {
		criteria.NumPeople = intent.NumPeople
	}
	if intent.TourType != "" {
		criteria.TourType = intent.TourType
	}
}

// pastDate reports whether an ISO date is strictly before today. Same-day is
// allowed.
func pastDate(date string) bool {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	today, _ := time.Parse("2006-01-02", time.Now().Format("2006-01-02"))
	return d.Before(today)
}

func formatBookingSummary(draft *domain.BookingDraft) string {
	var b strings.Builder
	b.WriteString("📋 *Please confirm your booking:*\n\n")
	fmt.Fprintf(&b, "🧑‍🏫 Guide: %s ($%.0f/day)\n", draft.GuideName, draft.DailyRate)
	if draft.CustomerName != "" {
		fmt.Fprintf(&b, "👤 Name: %s\n", draft.CustomerName)
	}
	if draft.Criteria.Date != "" {
		fmt.Fprintf(&b, "📅 Date: %s\n", draft.Criteria.Date)
	}
	if draft.Criteria.Location != "" {
		fmt.Fprintf(&b, "📍 Location: %s\n", draft.Criteria.Location)
	}
	if n := draft.Criteria.NumPeople; n > 0 {
		fmt.Fprintf(&b, "👥 People: %d\n", n)
	}
	b.WriteString("\nReply *yes* to confirm or *no* to cancel.")
	return b.String()
}
