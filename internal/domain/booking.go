package domain

import "time"

// Booking statuses.
const (
	BookingConfirmed         = "confirmed"
	BookingAlternativeNeeded = "alternative_needed"
)

// Pricing is the deterministic cost breakdown for a booking. All values are
// rounded to two decimals.
type Pricing struct {
	GuideFee       float64 `json:"guide_fee"`
	Transportation float64 `json:"transportation"`
	EntranceFees   float64 `json:"entrance_fees"`
	Meals          float64 `json:"meals"`
	ServiceFee     float64 `json:"service_fee"`
	Total          float64 `json:"total"`
	Deposit        float64 `json:"deposit"`
	Balance        float64 `json:"balance"`
	Currency       string  `json:"currency"`
}

// Booking is created only after explicit user confirmation. Immutable once
// stored except for status transitions by downstream processes.
type Booking struct {
	ID           string         `json:"booking_id"`
	Confirmation string         `json:"confirmation_number"` // TGB-YYYYMMDD-XXXXXXXX
	UserID       string         `json:"user_id"`
	GuideID      string         `json:"guide_id"`
	GuideName    string         `json:"guide_name"`
	CustomerName string         `json:"customer_name"`
	Criteria     SearchCriteria `json:"criteria"`
	Slot         TimeSlot       `json:"slot"`
	Status       string         `json:"status"`
	Pricing      Pricing        `json:"pricing"`
	Alternatives []string       `json:"alternatives,omitempty"`
	NextSteps    []string       `json:"next_steps,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
