package domain

import "time"

// StateKind identifies which conversation state a session is in.
type StateKind string

const (
	StateIdle                 StateKind = "idle"
	StateAwaitingLocation     StateKind = "awaiting_location"
	StateAwaitingDate         StateKind = "awaiting_date"
	StateAwaitingInterests    StateKind = "awaiting_interests"
	StateAwaitingCustomerName StateKind = "awaiting_customer_name"
	StateAwaitingConfirmation StateKind = "awaiting_booking_confirmation"
	StateInRegistration       StateKind = "in_registration"
	StateImageFollowUp        StateKind = "image_follow_up"
)

// SearchCriteria accumulates guide-search slots across turns.
type SearchCriteria struct {
	Location  string   `json:"location,omitempty"`
	Date      string   `json:"date,omitempty"` // YYYY-MM-DD
	Interests []string `json:"interests,omitempty"`
	NumPeople int      `json:"num_people,omitempty"`
	TourType  string   `json:"tour_type,omitempty"`
	TimeOfDay string   `json:"time_of_day,omitempty"`
}

// BookingDraft is a booking in progress, before the confirmation write.
type BookingDraft struct {
	GuideID      string         `json:"guide_id"`
	GuideName    string         `json:"guide_name"`
	DailyRate    float64        `json:"daily_rate"`
	CustomerName string         `json:"customer_name,omitempty"`
	Criteria     SearchCriteria `json:"criteria"`
}

// ImageSuggestion carries search hints derived from a prior image analysis,
// consumed on the follow-up turn.
type ImageSuggestion struct {
	Location  string   `json:"location,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// ConversationState is a tagged union: Kind selects which payload field is
// meaningful. Illegal flag combinations are unrepresentable by construction.
type ConversationState struct {
	Kind       StateKind        `json:"kind"`
	Criteria   SearchCriteria   `json:"criteria,omitempty"`
	Draft      *BookingDraft    `json:"draft,omitempty"`
	Suggestion *ImageSuggestion `json:"suggestion,omitempty"`
}

// Idle returns the zero conversation state.
func Idle() ConversationState {
	return ConversationState{Kind: StateIdle}
}

// Session is the per-user mutable context, owned by the tourist agent while
// processing one turn and persisted between turns.
type Session struct {
	UserID              string        `json:"user_id"`
	State               ConversationState `json:"state"`
	LastSearch          []GuideMatch  `json:"last_search,omitempty"`
	GuideOffset         int           `json:"guide_offset,omitempty"`
	LastInteraction     time.Time     `json:"last_interaction"`
	LastInteractionType string        `json:"last_interaction_type,omitempty"` // "text" or "image_analysis"
}

// Reset clears everything except the owning user id.
func (s *Session) Reset() {
	*s = Session{UserID: s.UserID, State: Idle()}
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	if s.LastInteraction.IsZero() {
		return false
	}
	return time.Since(s.LastInteraction) > timeout
}

// Touch records interaction time and type for the timeout check.
func (s *Session) Touch(interactionType string) {
	s.LastInteraction = time.Now()
	s.LastInteractionType = interactionType
}
