// Package llm wraps the hosted model APIs behind one Provider
// interface, so the analyst agent never knows which vendor answered.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/crypto"
	"github.com/tessera-trading/advisor/internal/domain"
)

// Role identifies who authored a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    Role
	Content string
}

// Provider completes a conversation with a hosted model.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai").
	Name() string
	// Complete sends the messages and returns the model's text reply.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// New builds the configured provider. The API key resolves in order:
// provider-specific key from config or environment, then the encrypted
// key file.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		key, err := resolveKey(cfg.AnthropicAPIKey, cfg)
		if err != nil {
			return nil, err
		}
		return NewAnthropic(key, cfg.Model, cfg.MaxTokens), nil
	case "openai":
		key, err := resolveKey(cfg.OpenAIAPIKey, cfg)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(key, cfg.Model, cfg.MaxTokens), nil
	case "":
		return nil, fmt.Errorf("llm: no provider configured")
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func resolveKey(raw string, cfg config.LLMConfig) (string, error) {
	key, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     raw,
		EncryptedPath: cfg.EncryptedKeyPath,
		Password:      cfg.KeyPassword,
	})
	if err != nil {
		return "", fmt.Errorf("llm: resolving %s API key: %w", cfg.Provider, err)
	}
	return key, nil
}

// rateLimitPollInterval is how often RateLimited retries a denied slot.
const rateLimitPollInterval = 250 * time.Millisecond

// RateLimited wraps a Provider with a sliding-window request cap shared
// across processes via the injected limiter.
type RateLimited struct {
	inner   Provider
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// NewRateLimited caps the wrapped provider at requestsPerMinute.
func NewRateLimited(inner Provider, limiter domain.RateLimiter, requestsPerMinute int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: limiter,
		limit:   requestsPerMinute,
		window:  time.Minute,
	}
}

func (r *RateLimited) Name() string { return r.inner.Name() }

// Complete blocks until a request slot is available, then delegates.
func (r *RateLimited) Complete(ctx context.Context, messages []Message) (string, error) {
	key := "llm:" + r.inner.Name()
	for {
		allowed, err := r.limiter.Allow(ctx, key, r.limit, r.window)
		if err != nil {
			return "", fmt.Errorf("llm: rate limit check: %w", err)
		}
		if allowed {
			break
		}

		timer := time.NewTimer(rateLimitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("llm: waiting for rate limit: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return r.inner.Complete(ctx, messages)
}

var _ Provider = (*RateLimited)(nil)

// splitSystem separates the leading system messages from the
// conversational turns, which the Anthropic API wants apart.
func splitSystem(messages []Message) (system string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
