// FakeSession 的工具会话测试模拟实现。
//
// 以固定结果表响应工具调用，支持错误注入、阻塞与调用记录。
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// SessionCall 记录单次工具调用
type SessionCall struct {
	Tool   string
	Params map[string]types.Value
}

// fakeTool 是单个工具的配置
type fakeTool struct {
	descriptor types.ToolDescriptor
	result     string
	err        error
	handler    func(ctx context.Context, params map[string]types.Value) (string, error)
}

// FakeSession 是 tools.Session 的模拟实现
type FakeSession struct {
	mu        sync.Mutex
	tools     map[string]*fakeTool
	calls     []SessionCall
	listErr   error
	blockCtx  bool // CallTool 阻塞直到 ctx 结束，用于超时路径测试
	closed    bool
	closeErr  error
}

// NewFakeSession 创建空的 FakeSession
func NewFakeSession() *FakeSession {
	return &FakeSession{tools: map[string]*fakeTool{}}
}

// WithTool 注册一个返回固定结果的工具
func (s *FakeSession) WithTool(name, result string) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = &fakeTool{
		descriptor: types.ToolDescriptor{Name: name},
		result:     result,
	}
	return s
}

// WithToolSchema 注册一个带描述与参数 schema 的工具
func (s *FakeSession) WithToolSchema(name, description string, schema json.RawMessage, result string) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = &fakeTool{
		descriptor: types.ToolDescriptor{Name: name, Description: description, Schema: schema},
		result:     result,
	}
	return s
}

// WithToolError 注册一个总是失败的工具
func (s *FakeSession) WithToolError(name string, err error) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = &fakeTool{
		descriptor: types.ToolDescriptor{Name: name},
		err:        err,
	}
	return s
}

// WithToolHandler 注册一个自定义处理函数的工具
func (s *FakeSession) WithToolHandler(name string, handler func(ctx context.Context, params map[string]types.Value) (string, error)) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = &fakeTool{
		descriptor: types.ToolDescriptor{Name: name},
		handler:    handler,
	}
	return s
}

// WithListError 使 ListTools 返回错误
func (s *FakeSession) WithListError(err error) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
	return s
}

// WithBlockingCalls 使 CallTool 阻塞到 ctx 结束
func (s *FakeSession) WithBlockingCalls() *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockCtx = true
	return s
}

// WithCloseError 使 Close 返回错误
func (s *FakeSession) WithCloseError(err error) *FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
	return s
}

// --- tools.Session 实现 ---

// ListTools 返回注册的工具描述，按名称排序
func (s *FakeSession) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]types.ToolDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, s.tools[name].descriptor)
	}
	return out, nil
}

// CallTool 返回注册的结果或错误，并记录调用
func (s *FakeSession) CallTool(ctx context.Context, tool string, params map[string]types.Value) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, SessionCall{Tool: tool, Params: params})
	ft, ok := s.tools[tool]
	block := s.blockCtx
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if !ok {
		return "", fmt.Errorf("unknown tool %q", tool)
	}
	if ft.handler != nil {
		return ft.handler(ctx, params)
	}
	if ft.err != nil {
		return "", ft.err
	}
	return ft.result, nil
}

// Close 标记会话已关闭
func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

// --- 调用记录访问 ---

// Calls 返回调用记录的拷贝
func (s *FakeSession) Calls() []SessionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionCall(nil), s.calls...)
}

// CallCount 返回调用次数
func (s *FakeSession) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Closed 返回会话是否已关闭
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
