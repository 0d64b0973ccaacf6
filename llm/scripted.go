package llm

import (
	"context"
	"sync"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// ScriptedProvider replays a fixed list of responses in order. Once the
// script is exhausted it keeps returning the last response, so workflows
// with more round-trips than scripted lines still terminate deterministically.
// Intended for tests and examples.
type ScriptedProvider struct {
	name      string
	responses []string

	mu    sync.Mutex
	calls int
}

// NewScriptedProvider creates a provider that replays the given responses.
func NewScriptedProvider(name string, responses ...string) *ScriptedProvider {
	return &ScriptedProvider{name: name, responses: responses}
}

// Complete returns the next scripted response.
func (p *ScriptedProvider) Complete(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.responses) == 0 {
		return "", types.NewError(types.ErrProviderUnavailable, "scripted provider has no responses")
	}
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

// CompleteStream emits the next scripted response as a single chunk.
func (p *ScriptedProvider) CompleteStream(ctx context.Context, systemPrompt string, conversation []types.Message) (<-chan StreamChunk, error) {
	text, err := p.Complete(ctx, systemPrompt, conversation)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Delta: text}
	close(ch)
	return ch, nil
}

// Name returns the provider's identifier.
func (p *ScriptedProvider) Name() string { return p.name }

// Calls returns how many completions were served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// FuncProvider adapts a function into a Provider. Useful when a test needs
// to inspect the prompt or fail on demand.
type FuncProvider struct {
	ProviderName string
	Fn           func(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error)
}

// Complete delegates to Fn.
func (p *FuncProvider) Complete(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error) {
	return p.Fn(ctx, systemPrompt, conversation)
}

// CompleteStream delegates to Fn and emits a single chunk.
func (p *FuncProvider) CompleteStream(ctx context.Context, systemPrompt string, conversation []types.Message) (<-chan StreamChunk, error) {
	text, err := p.Fn(ctx, systemPrompt, conversation)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Delta: text}
	close(ch)
	return ch, nil
}

// Name returns the provider's identifier.
func (p *FuncProvider) Name() string {
	if p.ProviderName == "" {
		return "func"
	}
	return p.ProviderName
}
