package modelapi

import "context"

// Provider is the completion backend contract. An empty string without an
// error means the model returned nothing usable; callers show a retry
// message and must not consume quota.
type Provider interface {
	Generate(ctx context.Context, systemPrompt string, userText string) (string, error)
}
