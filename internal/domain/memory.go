package domain

import "time"

// HistoryLimit caps the long-term event history per user. Oldest entries are
// evicted first.
const HistoryLimit = 50

// MemoryEvent is one entry in a user's long-term history.
type MemoryEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Response  string    `json:"response,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ShortTermMemory holds current-conversation scratch state.
type ShortTermMemory struct {
	LastIntent  string `json:"last_intent,omitempty"`
	ActiveAgent string `json:"active_agent,omitempty"`
}

// LongTermMemory holds durable per-user knowledge.
type LongTermMemory struct {
	Preferences        map[string]string `json:"preferences,omitempty"`
	History            []MemoryEvent     `json:"history,omitempty"`
	SuccessfulBookings []string          `json:"successful_bookings,omitempty"`
	FavoriteGuides     []string          `json:"favorite_guides,omitempty"`
	TravelStyle        string            `json:"travel_style,omitempty"`
}

// UserMemory is the three-tier per-user memory record.
// Working holds named in-flight processes, e.g. a pending registration payload.
type UserMemory struct {
	UserID    string                    `json:"user_id"`
	ShortTerm ShortTermMemory           `json:"short_term"`
	Working   map[string]map[string]any `json:"working,omitempty"`
	LongTerm  LongTermMemory            `json:"long_term"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// NewUserMemory returns an empty memory record for a user.
func NewUserMemory(userID string) *UserMemory {
	return &UserMemory{
		UserID:  userID,
		Working: make(map[string]map[string]any),
		LongTerm: LongTermMemory{
			Preferences: make(map[string]string),
		},
	}
}

// AppendHistory appends an event, evicting the oldest beyond HistoryLimit.
func (m *UserMemory) AppendHistory(ev MemoryEvent) {
	m.LongTerm.History = append(m.LongTerm.History, ev)
	if n := len(m.LongTerm.History); n > HistoryLimit {
		m.LongTerm.History = m.LongTerm.History[n-HistoryLimit:]
	}
}

// Remember stores a preference, creating the map on first use.
func (m *UserMemory) Remember(key, value string) {
	if m.LongTerm.Preferences == nil {
		m.LongTerm.Preferences = make(map[string]string)
	}
	m.LongTerm.Preferences[key] = value
}

// SetWorking replaces the named in-flight process payload.
func (m *UserMemory) SetWorking(process string, data map[string]any) {
	if m.Working == nil {
		m.Working = make(map[string]map[string]any)
	}
	m.Working[process] = data
}

// ClearWorking removes one process, or all processes when process is empty.
func (m *UserMemory) ClearWorking(process string) {
	if process == "" {
		m.Working = make(map[string]map[string]any)
		return
	}
	delete(m.Working, process)
}
