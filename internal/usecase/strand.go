package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"guidebot/internal/domain"
)

// StrandManager creates, looks up, and persists conversation strands. A user
// has at most one active strand per type; expiry is a lazy check at lookup
// time, never a background sweep.
type StrandManager struct {
	store  domain.StrandStore
	logger *slog.Logger
}

// NewStrandManager creates a strand manager.
func NewStrandManager(store domain.StrandStore, logger *slog.Logger) *StrandManager {
	return &StrandManager{store: store, logger: logger}
}

// ActiveStrands returns the user's non-expired active strands.
func (m *StrandManager) ActiveStrands(ctx context.Context, userID string) ([]*domain.Strand, error) {
	all, err := m.store.ListStrands(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("Strand.ActiveStrands", err)
	}
	var active []*domain.Strand
	for _, s := range all {
		if s.Status == domain.StrandActive && !s.Expired() {
			active = append(active, s)
		}
	}
	return active, nil
}

// GetOrCreate returns the user's active strand of the given type, creating
// one when none exists.
func (m *StrandManager) GetOrCreate(ctx context.Context, userID string, t domain.StrandType) (*domain.Strand, error) {
	active, err := m.ActiveStrands(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range active {
		if s.Type == t {
			return s, nil
		}
	}
	return m.Create(ctx, userID, t)
}

// Create starts a new strand of the given type.
func (m *StrandManager) Create(ctx context.Context, userID string, t domain.StrandType) (*domain.Strand, error) {
	now := time.Now()
	s := &domain.Strand{
		ID:           fmt.Sprintf("%s_%s", t, strings.ToLower(ulid.Make().String())),
		Type:         t,
		UserID:       userID,
		Status:       domain.StrandActive,
		Context:      make(map[string]string),
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.store.PutStrand(ctx, s); err != nil {
		return nil, domain.WrapOp("Strand.Create", err)
	}
	m.logger.Debug("strand created", "user_id", userID, "strand_id", s.ID, "type", t)
	return s, nil
}

// Update persists a strand after a turn.
func (m *StrandManager) Update(ctx context.Context, s *domain.Strand) error {
	return domain.WrapOp("Strand.Update", m.store.PutStrand(ctx, s))
}

// Complete marks a strand as completed with an outcome note.
func (m *StrandManager) Complete(ctx context.Context, s *domain.Strand, outcome string) error {
	s.Status = domain.StrandCompleted
	s.SetContext("completion_outcome", outcome)
	if err := m.store.PutStrand(ctx, s); err != nil {
		return domain.WrapOp("Strand.Complete", err)
	}
	m.logger.Debug("strand completed", "strand_id", s.ID, "outcome", outcome)
	return nil
}

// Merge folds secondary into primary (e.g. a cultural inquiry that turned
// into a booking) and completes the secondary strand.
func (m *StrandManager) Merge(ctx context.Context, primary, secondary *domain.Strand) error {
	for k, v := range secondary.Context {
		primary.SetContext(k, v)
	}
	primary.Messages = append(primary.Messages, secondary.Messages...)
	for _, a := range secondary.AgentsInvolved {
		found := false
		for _, b := range primary.AgentsInvolved {
			if a == b {
				found = true
				break
			}
		}
		if !found {
			primary.AgentsInvolved = append(primary.AgentsInvolved, a)
		}
	}
	if err := m.Complete(ctx, secondary, "merged_into_"+primary.ID); err != nil {
		return err
	}
	return m.Update(ctx, primary)
}

// CleanupExpired removes the user's expired strands.
func (m *StrandManager) CleanupExpired(ctx context.Context, userID string) error {
	all, err := m.store.ListStrands(ctx, userID)
	if err != nil {
		return domain.WrapOp("Strand.CleanupExpired", err)
	}
	for _, s := range all {
		if s.Expired() {
			if err := m.store.DeleteStrand(ctx, userID, s.ID); err != nil && !errors.Is(err, domain.ErrStrandNotFound) {
				return domain.WrapOp("Strand.CleanupExpired", err)
			}
		}
	}
	return nil
}

// ClearForUser removes every strand for a user (reset path).
func (m *StrandManager) ClearForUser(ctx context.Context, userID string) error {
	return domain.WrapOp("Strand.ClearForUser", m.store.DeleteStrandsForUser(ctx, userID))
}

// StrandTypeForIntent maps a pre-classified intent to a strand type.
func StrandTypeForIntent(intent string) domain.StrandType {
	switch intent {
	case "booking", "guide_search", "guide_selection", "more_guides":
		return domain.StrandBooking
	case "cultural", "cultural_question", "temple_etiquette", "customs":
		return domain.StrandCultural
	case "registration", "guide_registration":
		return domain.StrandRegistration
	default:
		return domain.StrandGeneral
	}
}
