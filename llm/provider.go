package llm

import (
	"context"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// StreamChunk is one increment of a streaming completion. The final chunk of
// a stream may carry Err instead of Delta.
type StreamChunk struct {
	Delta string
	Err   error
}

// Provider is the model contract the engine consumes. Implementations wrap a
// concrete vendor client; the engine never issues HTTP itself.
//
// Complete failures should be typed *types.Error values (ErrProviderAuth,
// ErrProviderRateLimited, ErrProviderNetwork, ErrProviderUnavailable) so the
// stage protocol can classify them. Any other error is treated as a generic
// stage-local failure.
type Provider interface {
	// Complete runs one synchronous round-trip and returns the model text.
	Complete(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error)

	// CompleteStream is the streaming variant. The channel is closed after
	// the final chunk.
	CompleteStream(ctx context.Context, systemPrompt string, conversation []types.Message) (<-chan StreamChunk, error)

	// Name returns the provider's identifier for logging and selection.
	Name() string
}

// NewAuthError wraps an authentication/authorization failure.
func NewAuthError(provider string, cause error) *types.Error {
	return types.NewErrorf(types.ErrProviderAuth, "provider %s authentication failed", provider).WithCause(cause)
}

// NewRateLimitError wraps an upstream or local rate limit. Retryable because
// a later stage iteration may succeed.
func NewRateLimitError(provider string, cause error) *types.Error {
	return types.NewErrorf(types.ErrProviderRateLimited, "provider %s rate limited", provider).
		WithCause(cause).
		WithRetryable(true)
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(provider string, cause error) *types.Error {
	return types.NewErrorf(types.ErrProviderNetwork, "provider %s network failure", provider).
		WithCause(cause).
		WithRetryable(true)
}

// IsProviderError reports whether err carries one of the provider codes.
func IsProviderError(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrProviderAuth, types.ErrProviderRateLimited, types.ErrProviderNetwork, types.ErrProviderUnavailable:
		return true
	default:
		return false
	}
}
