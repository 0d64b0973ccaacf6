package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// ToolFunc 是内存会话中单个工具的处理函数。
type ToolFunc func(ctx context.Context, params map[string]types.Value) (string, error)

type memoryTool struct {
	desc types.ToolDescriptor
	fn   ToolFunc
	lag  time.Duration
}

// MemorySession 是可脚本化的内存工具会话。
// 测试与示例用它模拟工具服务器；支持按工具注入人为延迟。
type MemorySession struct {
	mu    sync.RWMutex
	tools map[string]*memoryTool
	calls []string
}

// NewMemorySession 创建空会话。
func NewMemorySession() *MemorySession {
	return &MemorySession{tools: make(map[string]*memoryTool)}
}

// AddTool 注册一个工具及其处理函数。
func (s *MemorySession) AddTool(desc types.ToolDescriptor, fn ToolFunc) *MemorySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[desc.Name] = &memoryTool{desc: desc, fn: fn}
	return s
}

// SetLag 为指定工具注入固定延迟，用于超时路径测试。
func (s *MemorySession) SetLag(tool string, lag time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tools[tool]; ok {
		t.lag = lag
	}
}

// Calls 返回按序记录的调用工具名。
func (s *MemorySession) Calls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// ListTools 实现 Session。
func (s *MemorySession) ListTools(_ context.Context) ([]types.ToolDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ToolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.desc)
	}
	return out, nil
}

// CallTool 实现 Session。
func (s *MemorySession) CallTool(ctx context.Context, tool string, params map[string]types.Value) (string, error) {
	s.mu.Lock()
	t, ok := s.tools[tool]
	if ok {
		s.calls = append(s.calls, tool)
	}
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("unknown tool %q", tool)
	}
	if t.lag > 0 {
		select {
		case <-time.After(t.lag):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return t.fn(ctx, params)
}
