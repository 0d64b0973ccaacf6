package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// RateLimitedProvider wraps a Provider with a token bucket so a stage loop
// cannot hammer the upstream during tight iteration. Waiting respects the
// caller's context; a cancelled wait surfaces as a rate-limit error.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider allows rps requests per second with the given burst.
func NewRateLimitedProvider(inner Provider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token, then delegates.
func (p *RateLimitedProvider) Complete(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", NewRateLimitError(p.inner.Name(), err)
	}
	return p.inner.Complete(ctx, systemPrompt, conversation)
}

// CompleteStream waits for a token, then delegates.
func (p *RateLimitedProvider) CompleteStream(ctx context.Context, systemPrompt string, conversation []types.Message) (<-chan StreamChunk, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewRateLimitError(p.inner.Name(), err)
	}
	return p.inner.CompleteStream(ctx, systemPrompt, conversation)
}

// Name returns the wrapped provider's name.
func (p *RateLimitedProvider) Name() string {
	return p.inner.Name()
}
