package usecase

import (
	"context"
	"errors"
	"log/slog"

	"guidebot/internal/domain"
)

// MemoryService provides the layered per-user memory operations on top of a
// MemoryStore. All operations are read-modify-write cycles with last-writer-
// wins semantics; a single user's messages are processed sequentially, so no
// optimistic concurrency control is needed.
type MemoryService struct {
	store  domain.MemoryStore
	logger *slog.Logger
}

// NewMemoryService creates a memory service.
func NewMemoryService(store domain.MemoryStore, logger *slog.Logger) *MemoryService {
	return &MemoryService{store: store, logger: logger}
}

// Get returns the user's memory, creating an empty record on first access.
func (s *MemoryService) Get(ctx context.Context, userID string) (*domain.UserMemory, error) {
	m, err := s.store.GetMemory(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewUserMemory(userID), nil
		}
		return nil, domain.WrapOp("Memory.Get", err)
	}
	return m, nil
}

// Update persists the user's memory record.
func (s *MemoryService) Update(ctx context.Context, m *domain.UserMemory) error {
	if err := s.store.PutMemory(ctx, m); err != nil {
		return domain.WrapOp("Memory.Update", err)
	}
	return nil
}

// RememberPreference stores one durable preference.
func (s *MemoryService) RememberPreference(ctx context.Context, userID, key, value string) error {
	m, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	m.Remember(key, value)
	return s.Update(ctx, m)
}

// AddToHistory appends an event to the bounded long-term history.
func (s *MemoryService) AddToHistory(ctx context.Context, userID string, ev domain.MemoryEvent) error {
	m, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	m.AppendHistory(ev)
	return s.Update(ctx, m)
}

// SetWorking replaces the named in-flight process payload.
func (s *MemoryService) SetWorking(ctx context.Context, userID, process string, data map[string]any) error {
	m, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	m.SetWorking(process, data)
	return s.Update(ctx, m)
}

// ClearWorking removes a completed process from working memory.
func (s *MemoryService) ClearWorking(ctx context.Context, userID, process string) error {
	m, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	m.ClearWorking(process)
	return s.Update(ctx, m)
}

// Clear wipes all memory for a user.
func (s *MemoryService) Clear(ctx context.Context, userID string) error {
	if err := s.store.DeleteMemory(ctx, userID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.WrapOp("Memory.Clear", err)
	}
	s.logger.Debug("memory cleared", "user_id", userID)
	return nil
}
