package domain

import (
	"context"
	"time"
)

// GuideStore persists guide records.
type GuideStore interface {
	Get(ctx context.Context, id string) (*Guide, error)
	// Create is conditional: returns ErrDuplicate if the id already exists.
	Create(ctx context.Context, g *Guide) error
	Update(ctx context.Context, g *Guide) error
	// ListByLocation returns active guides for an exact location match.
	ListByLocation(ctx context.Context, location string) ([]*Guide, error)
	// ListActive returns all active guides (fallback scan path).
	ListActive(ctx context.Context) ([]*Guide, error)
	// FindByPhone returns the guide registered with the phone number, or ErrGuideNotFound.
	FindByPhone(ctx context.Context, phone string) (*Guide, error)
}

// BookingStore persists bookings. CreateBooking is keyed by the generated
// booking id, never user-supplied input.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)
	ListBookings(ctx context.Context, userID string) ([]*Booking, error)
}

// AvailabilityStore persists per-guide per-date schedule records.
type AvailabilityStore interface {
	// GetAvailability returns ErrNotFound when no record exists (meaning:
	// available all day).
	GetAvailability(ctx context.Context, guideID, date string) (*Availability, error)
	PutAvailability(ctx context.Context, a *Availability) error
	// RecordBooking increments the booked count for the date, creating the
	// record if absent.
	RecordBooking(ctx context.Context, guideID, date string) error
}

// DedupStore provides conditional create-if-absent semantics for message
// hashes. This is a load-bearing correctness mechanism: it enforces at most
// one effective processing pass per distinct (user, message, minute).
type DedupStore interface {
	// Register returns ErrDuplicate when the hash was already registered and
	// has not yet expired.
	Register(ctx context.Context, hash string, ttl time.Duration) error
	// PurgeExpired removes expired hashes and returns how many were deleted.
	PurgeExpired(ctx context.Context) (int, error)
}

// MemoryStore persists the per-user layered memory record.
type MemoryStore interface {
	// GetMemory returns ErrNotFound for users with no memory yet.
	GetMemory(ctx context.Context, userID string) (*UserMemory, error)
	PutMemory(ctx context.Context, m *UserMemory) error
	DeleteMemory(ctx context.Context, userID string) error
}

// StrandStore persists conversation strands.
type StrandStore interface {
	ListStrands(ctx context.Context, userID string) ([]*Strand, error)
	PutStrand(ctx context.Context, s *Strand) error
	DeleteStrand(ctx context.Context, userID, strandID string) error
	DeleteStrandsForUser(ctx context.Context, userID string) error
}
