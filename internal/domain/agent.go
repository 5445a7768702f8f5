package domain

import "context"

// AgentName identifies a capability agent.
type AgentName string

const (
	AgentTourist      AgentName = "tourist"
	AgentCultural     AgentName = "cultural"
	AgentGuide        AgentName = "guide"
	AgentBooking      AgentName = "booking"
	AgentRegistration AgentName = "registration"
)

// Completion markers returned by agents so the orchestrator can auto-reset
// state after a finished flow.
const (
	CompletionBooking      = "booking_completed"
	CompletionRegistration = "registration_completed"
)

// AgentRequest is the uniform input to every capability agent.
type AgentRequest struct {
	From       AgentName   // delegating agent, empty when called by the orchestrator
	UserID     string
	Message    string
	Session    *Session    // mutable per-user context, owned by the caller
	Memory     *UserMemory // merged memory view for the turn
	Strand     *Strand     // active strand, may be nil for direct delegation
	Image      []byte      // set on the image-analysis path
	ImageQuery string      // caption or question accompanying the image
}

// AgentResponse is the uniform output of every capability agent.
type AgentResponse struct {
	Status     string
	Message    string           // user-facing text, always populated
	Guides     []GuideMatch     // guide agent results
	Booking    *Booking         // booking agent result
	Suggestion *ImageSuggestion // cultural agent image-derived search hints
	Completed  string           // CompletionBooking / CompletionRegistration, empty otherwise
}

// Agent is the single polymorphic contract for all capability agents.
type Agent interface {
	Name() AgentName
	Handle(ctx context.Context, req AgentRequest) (*AgentResponse, error)
}
