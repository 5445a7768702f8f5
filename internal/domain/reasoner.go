package domain

import "context"

// Reasoner wraps the external text/vision generation capability. Callers must
// treat the returned text as untrusted: it may or may not contain parseable
// JSON, and every caller needs a domain-appropriate fallback.
type Reasoner interface {
	Generate(ctx context.Context, prompt, system string, maxTokens int) (string, error)
	GenerateWithImage(ctx context.Context, prompt string, image []byte, system string, maxTokens int) (string, error)
}
