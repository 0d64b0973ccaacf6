// MockProvider 的模型提供商测试模拟实现。
//
// 支持固定响应、响应序列、流式输出与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// --- MockProvider 结构 ---

// ProviderCall 记录单次模型调用
type ProviderCall struct {
	SystemPrompt string
	Conversation []types.Message
	Response     string
	Err          error
}

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	// 响应配置
	name         string
	response     string
	responses    []string
	streamChunks []string
	err          error

	// 调用记录
	calls        []ProviderCall
	completeFunc func(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error)

	// 行为控制
	delay     time.Duration
	failAfter int // 第 N 次调用起返回 err（0 表示每次都按 err 配置）
	callCount int
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:     "mock",
		response: "Mock response",
	}
}

// WithName 设置提供商名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithResponses 设置按序消费的响应序列，耗尽后重复最后一条
func (m *MockProvider) WithResponses(responses ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置从第 n 次调用开始返回错误（需同时设置 WithError）
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompleteFunc 设置自定义 Complete 函数，覆盖其它响应配置
func (m *MockProvider) WithCompleteFunc(fn func(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// --- llm.Provider 实现 ---

// Complete 返回配置的响应或错误，并记录调用
func (m *MockProvider) Complete(ctx context.Context, systemPrompt string, conversation []types.Message) (string, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	fn := m.completeFunc
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	var err error
	if fn != nil {
		text, err = fn(ctx, systemPrompt, conversation)
	} else {
		text, err = m.nextResponse(n)
	}

	m.mu.Lock()
	m.calls = append(m.calls, ProviderCall{
		SystemPrompt: systemPrompt,
		Conversation: append([]types.Message(nil), conversation...),
		Response:     text,
		Err:          err,
	})
	m.mu.Unlock()
	return text, err
}

func (m *MockProvider) nextResponse(call int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil && (m.failAfter == 0 || call >= m.failAfter) {
		return "", m.err
	}
	if len(m.responses) > 0 {
		idx := call - 1
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		return m.responses[idx], nil
	}
	return m.response, nil
}

// CompleteStream 以配置的块流式返回；未配置块时按单块返回 Complete 的结果
func (m *MockProvider) CompleteStream(ctx context.Context, systemPrompt string, conversation []types.Message) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	chunks := append([]string(nil), m.streamChunks...)
	m.mu.Unlock()

	if len(chunks) == 0 {
		text, err := m.Complete(ctx, systemPrompt, conversation)
		if err != nil {
			return nil, err
		}
		chunks = []string{text}
	}

	ch := make(chan llm.StreamChunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- llm.StreamChunk{Delta: c}:
			case <-ctx.Done():
				ch <- llm.StreamChunk{Err: ctx.Err()}
				return
			}
		}
	}()
	return ch, nil
}

// Name 返回提供商名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// --- 调用记录访问 ---

// Calls 返回调用记录的拷贝
func (m *MockProvider) Calls() []ProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProviderCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastCall 返回最后一次调用记录，无调用时返回零值
func (m *MockProvider) LastCall() ProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ProviderCall{}
	}
	return m.calls[len(m.calls)-1]
}

// Reset 清空调用记录和计数
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
}
