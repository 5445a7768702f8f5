package domain

import "time"

// StrandType classifies a sub-conversation.
type StrandType string

const (
	StrandBooking      StrandType = "booking"
	StrandCultural     StrandType = "cultural"
	StrandRegistration StrandType = "registration"
	StrandGeneral      StrandType = "general"
)

// Strand statuses.
const (
	StrandActive    = "active"
	StrandCompleted = "completed"
	StrandAbandoned = "abandoned"
)

// StrandExpiry is the inactivity window after which a strand lazily expires.
const StrandExpiry = 30 * time.Minute

// StrandMessage is one message recorded on a strand.
type StrandMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Strand is an independently tracked sub-conversation of a fixed type within
// a user's overall session. A user has at most one active strand per type.
type Strand struct {
	ID             string            `json:"strand_id"`
	Type           StrandType        `json:"strand_type"`
	UserID         string            `json:"user_id"`
	Status         string            `json:"status"`
	Context        map[string]string `json:"context,omitempty"`
	AgentsInvolved []string          `json:"agents_involved,omitempty"`
	Messages       []StrandMessage   `json:"messages,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivity   time.Time         `json:"last_activity"`
}

// AddMessage records a message and refreshes the activity timestamp.
func (s *Strand) AddMessage(role, content, agent string) {
	s.Messages = append(s.Messages, StrandMessage{
		Role:      role,
		Content:   content,
		Agent:     agent,
		Timestamp: time.Now(),
	})
	s.LastActivity = time.Now()
	if agent == "" {
		return
	}
	for _, a := range s.AgentsInvolved {
		if a == agent {
			return
		}
	}
	s.AgentsInvolved = append(s.AgentsInvolved, agent)
}

// SetContext updates one context key and refreshes the activity timestamp.
func (s *Strand) SetContext(key, value string) {
	if s.Context == nil {
		s.Context = make(map[string]string)
	}
	s.Context[key] = value
	s.LastActivity = time.Now()
}

// Expired reports whether the strand has been inactive past the expiry window.
func (s *Strand) Expired() bool {
	return time.Since(s.LastActivity) > StrandExpiry
}

// RecentMessages returns the last n messages in order.
func (s *Strand) RecentMessages(n int) []StrandMessage {
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
