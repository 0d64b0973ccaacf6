package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// Session 表示与单个工具服务器的已建立会话。
// 传输细节（子进程、HTTP、stdio）由实现方负责；引擎只依赖这两个方法。
type Session interface {
	// ListTools 返回该服务器当前可用的工具描述。
	ListTools(ctx context.Context) ([]types.ToolDescriptor, error)

	// CallTool 以给定参数调用一个工具并返回其文本结果。
	// 实现应尊重 ctx 的取消与截止时间。
	CallTool(ctx context.Context, tool string, params map[string]types.Value) (string, error)
}

// Manager 按服务器名管理会话集合。
// 并发安全；引擎侧只读，宿主应用负责注册与关闭。
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewManager 创建空的会话管理器。
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]Session)}
}

// Register 注册一个服务器会话，同名覆盖。
func (m *Manager) Register(server string, s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[server] = s
}

// Unregister 移除一个服务器会话。
func (m *Manager) Unregister(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, server)
}

// Session 返回指定服务器的会话。
func (m *Manager) Session(server string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[server]
	return s, ok
}

// Servers 返回已注册的服务器名，按字典序。
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalogue 聚合所有服务器的工具目录。
// 单个服务器列举失败不会中断聚合，失败的服务器被跳过。
func (m *Manager) Catalogue(ctx context.Context) []types.ToolDescriptor {
	m.mu.RLock()
	snapshot := make(map[string]Session, len(m.sessions))
	for name, s := range m.sessions {
		snapshot[name] = s
	}
	m.mu.RUnlock()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []types.ToolDescriptor
	for _, name := range names {
		descs, err := snapshot[name].ListTools(ctx)
		if err != nil {
			continue
		}
		for _, d := range descs {
			d.Server = name
			out = append(out, d)
		}
	}
	return out
}

// Call 在指定服务器上调用工具，带超时。
// 未注册的服务器返回 ErrToolSessionMissing；超时返回 ErrToolTimeout。
func (m *Manager) Call(ctx context.Context, server, tool string, params map[string]types.Value, timeout time.Duration) (string, error) {
	s, ok := m.Session(server)
	if !ok {
		return "", types.NewErrorf(types.ErrToolSessionMissing, "no session for tool server %q", server)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := s.CallTool(callCtx, tool, params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", types.NewErrorf(types.ErrToolTimeout, "tool %s.%s timed out after %s", server, tool, timeout).WithCause(err)
		}
		return "", types.NewErrorf(types.ErrToolExecution, "tool %s.%s failed", server, tool).WithCause(err)
	}
	return result, nil
}

// Close 依次关闭实现了 io.Closer 的会话并清空注册表。
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for name, s := range m.sessions {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(m.sessions, name)
	}
	return first
}
