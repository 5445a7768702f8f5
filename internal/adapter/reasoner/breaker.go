package reasoner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"guidebot/internal/domain"
	"guidebot/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerReasoner wraps a domain.Reasoner with circuit breaker
// protection. When the wrapped reasoner fails repeatedly, the circuit opens
// and subsequent calls fail fast without reaching the backend, preventing
// retry storms.
type CircuitBreakerReasoner struct {
	inner   domain.Reasoner
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewCircuitBreakerReasoner wraps inner with a circuit breaker.
// Zero-valued settings fall back to sensible defaults.
func NewCircuitBreakerReasoner(inner domain.Reasoner, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerReasoner {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "reasoner:bedrock",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerReasoner{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Generate implements domain.Reasoner. Calls are routed through the breaker.
func (r *CircuitBreakerReasoner) Generate(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	return r.execute(func() (string, error) {
		return r.inner.Generate(ctx, prompt, system, maxTokens)
	})
}

// GenerateWithImage implements domain.Reasoner.
func (r *CircuitBreakerReasoner) GenerateWithImage(ctx context.Context, prompt string, image []byte, system string, maxTokens int) (string, error) {
	return r.execute(func() (string, error) {
		return r.inner.GenerateWithImage(ctx, prompt, image, system, maxTokens)
	})
}

func (r *CircuitBreakerReasoner) execute(fn func() (string, error)) (string, error) {
	text, err := r.breaker.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("reasoner circuit open: %w", err)
		}
		return "", err
	}
	return text, nil
}

// State returns the current circuit breaker state for monitoring.
func (r *CircuitBreakerReasoner) State() gobreaker.State {
	return r.breaker.State()
}

// Compile-time interface checks.
var (
	_ domain.Reasoner = (*BedrockReasoner)(nil)
	_ domain.Reasoner = (*CircuitBreakerReasoner)(nil)
)
