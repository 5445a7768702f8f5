package domain

import "time"

// Guide statuses.
const (
	GuideStatusActive          = "active"
	GuideStatusPendingApproval = "pending_approval"
	GuideStatusRejected        = "rejected"
	GuideStatusSuspended       = "suspended"
)

// Guide is a registered tour guide record.
type Guide struct {
	ID           string    `json:"guide_id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	Region       string    `json:"region,omitempty"` // secondary coverage area
	Specialties  []string  `json:"specialties"`
	Languages    []string  `json:"languages"`
	Bio          string    `json:"bio,omitempty"`
	Gender       string    `json:"gender,omitempty"`
	Phone        string    `json:"phone,omitempty"` // never exposed to tourists
	VideoURL     string    `json:"video_url,omitempty"`
	DailyRate    float64   `json:"daily_rate"`
	Rating       float64   `json:"rating,omitempty"`
	TotalReviews int       `json:"total_reviews,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GuideMatch annotates a guide with per-search scoring. Derived, never stored.
type GuideMatch struct {
	Guide        Guide    `json:"guide"`
	Score        int      `json:"score"`
	Reasons      []string `json:"reasons,omitempty"`
	Available    bool     `json:"available"`
	Availability string   `json:"availability_status,omitempty"`
}

// TimeSlot is the unit of guide schedule granularity.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
)

// Availability is a per-guide per-date schedule record. Absence of a record
// means the guide is available all day.
type Availability struct {
	GuideID  string          `json:"guide_id"`
	Date     string          `json:"date"` // YYYY-MM-DD
	Slots    map[TimeSlot]bool `json:"slots"`
	Bookings int             `json:"bookings"` // confirmed bookings already on this date
}

// SlotAvailable reports whether the resolved slot is free and the date has no
// existing bookings.
func (a *Availability) SlotAvailable(slot TimeSlot) bool {
	if a == nil {
		return true
	}
	if a.Bookings > 0 {
		return false
	}
	free, ok := a.Slots[slot]
	return !ok || free
}
