package usecase

import (
	"log/slog"
	"sync"

	"guidebot/internal/domain"
)

// Registry holds the capability agents by name. Registration happens once at
// startup; lookups are read-mostly afterwards.
type Registry struct {
	mu     sync.RWMutex
	agents map[domain.AgentName]domain.Agent
	logger *slog.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[domain.AgentName]domain.Agent),
		logger: logger,
	}
}

// Register adds an agent. Returns ErrDuplicate if the name is taken.
func (r *Registry) Register(a domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, ok := r.agents[name]; ok {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, string(name))
	}
	r.agents[name] = a
	r.logger.Debug("agent registered", "agent", name)
	return nil
}

// Get returns the named agent, or ErrNotFound.
func (r *Registry) Get(name domain.AgentName) (domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrNotFound, string(name))
	}
	return a, nil
}

// Names returns the registered agent names.
func (r *Registry) Names() []domain.AgentName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.AgentName, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	return names
}
