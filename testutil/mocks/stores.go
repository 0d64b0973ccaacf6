// 运行存储与事件的测试模拟实现。
//
// RecordingEmitter 收集引擎事件；FailingHistory 与 FailingPendingStore
// 为错误路径测试注入存储故障。
package mocks

import (
	"context"
	"sync"

	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// --- RecordingEmitter ---

// RecordingEmitter 是 workflow.Emitter 的模拟实现，线程安全地收集所有事件
type RecordingEmitter struct {
	mu     sync.Mutex
	events []workflow.Event
}

// NewRecordingEmitter 创建空的事件收集器
func NewRecordingEmitter() *RecordingEmitter {
	return &RecordingEmitter{}
}

// Emit 记录一个事件
func (r *RecordingEmitter) Emit(e workflow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events 返回事件记录的拷贝
func (r *RecordingEmitter) Events() []workflow.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workflow.Event(nil), r.events...)
}

// Kinds 返回按发生顺序排列的事件类型
func (r *RecordingEmitter) Kinds() []workflow.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// CountKind 返回指定类型事件的数量
func (r *RecordingEmitter) CountKind(kind workflow.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset 清空事件记录
func (r *RecordingEmitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// --- FailingHistory ---

// FailingHistory 包装一个 HistoryStore，按配置注入错误
type FailingHistory struct {
	Inner   workflow.HistoryStore
	SaveErr error
	GetErr  error
	ListErr error
}

// NewFailingHistory 创建以内存实现为底的故障注入包装
func NewFailingHistory() *FailingHistory {
	return &FailingHistory{Inner: workflow.NewMemoryHistory(0)}
}

// Save 返回 SaveErr，未配置时透传
func (f *FailingHistory) Save(ctx context.Context, rec *workflow.RunRecord) error {
	if f.SaveErr != nil {
		return f.SaveErr
	}
	return f.Inner.Save(ctx, rec)
}

// Get 返回 GetErr，未配置时透传
func (f *FailingHistory) Get(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	return f.Inner.Get(ctx, runID)
}

// List 返回 ListErr，未配置时透传
func (f *FailingHistory) List(ctx context.Context, wf string, limit int) ([]*workflow.RunRecord, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Inner.List(ctx, wf, limit)
}

// --- FailingPendingStore ---

// FailingPendingStore 包装一个 PendingStore，按配置注入错误
type FailingPendingStore struct {
	Inner     workflow.PendingStore
	SaveErr   error
	LoadErr   error
	DeleteErr error
	ListErr   error
}

// NewFailingPendingStore 创建以内存实现为底的故障注入包装
func NewFailingPendingStore() *FailingPendingStore {
	return &FailingPendingStore{Inner: workflow.NewMemoryPendingStore()}
}

// Save 返回 SaveErr，未配置时透传
func (f *FailingPendingStore) Save(ctx context.Context, p *workflow.Pending) error {
	if f.SaveErr != nil {
		return f.SaveErr
	}
	return f.Inner.Save(ctx, p)
}

// Load 返回 LoadErr，未配置时透传
func (f *FailingPendingStore) Load(ctx context.Context, id string) (*workflow.Pending, error) {
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	return f.Inner.Load(ctx, id)
}

// Delete 返回 DeleteErr，未配置时透传
func (f *FailingPendingStore) Delete(ctx context.Context, id string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	return f.Inner.Delete(ctx, id)
}

// List 返回 ListErr，未配置时透传
func (f *FailingPendingStore) List(ctx context.Context) ([]*workflow.Pending, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Inner.List(ctx)
}
