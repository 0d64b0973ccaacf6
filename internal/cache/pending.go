package cache

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// ⏸️ 挂起运行存储
// =============================================================================

const (
	// pendingKeyPrefix 挂起记录的键前缀
	pendingKeyPrefix = "flowcraft:pending:"

	// pendingIndexKey 挂起记录 ID 的索引集合
	pendingIndexKey = "flowcraft:pending_index"
)

// PendingStore 基于 Redis 的挂起运行存储。
// 记录带 TTL 写入,进程重启后挂起的运行仍可通过令牌恢复。
type PendingStore struct {
	manager *Manager
	ttl     time.Duration
	logger  *zap.Logger
}

var _ workflow.PendingStore = (*PendingStore)(nil)

// NewPendingStore 创建挂起运行存储,ttl<=0 时使用默认保留时间
func NewPendingStore(manager *Manager, ttl time.Duration, logger *zap.Logger) *PendingStore {
	if ttl <= 0 {
		ttl = workflow.DefaultSuspendTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingStore{
		manager: manager,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "pending_store")),
	}
}

// Save 持久化挂起记录并加入索引
func (s *PendingStore) Save(ctx context.Context, p *workflow.Pending) error {
	if p == nil || p.ID == "" {
		return types.NewError(types.ErrInternal, "pending record needs an id")
	}

	if err := s.manager.SetJSON(ctx, pendingKeyPrefix+p.ID, p, s.ttl); err != nil {
		return types.NewError(types.ErrInternal, "failed to store pending run").WithCause(err)
	}

	if err := s.manager.redis.SAdd(ctx, pendingIndexKey, p.ID).Err(); err != nil {
		// 索引失衡只影响 List,记录本身已可恢复
		s.logger.Warn("failed to index pending run",
			zap.String("id", p.ID),
			zap.Error(err),
		)
	}

	return nil
}

// Load 按 ID 读取挂起记录
func (s *PendingStore) Load(ctx context.Context, id string) (*workflow.Pending, error) {
	var p workflow.Pending
	err := s.manager.GetJSON(ctx, pendingKeyPrefix+id, &p)
	if IsCacheMiss(err) {
		// 记录已过期或从未存在,顺带清理索引
		_ = s.manager.redis.SRem(ctx, pendingIndexKey, id).Err()
		return nil, types.NewErrorf(types.ErrUnknownToken, "no pending run %q", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load pending run").WithCause(err)
	}
	return &p, nil
}

// Delete 删除挂起记录及其索引项
func (s *PendingStore) Delete(ctx context.Context, id string) error {
	if err := s.manager.Delete(ctx, pendingKeyPrefix+id); err != nil {
		return types.NewError(types.ErrInternal, "failed to delete pending run").WithCause(err)
	}
	if err := s.manager.redis.SRem(ctx, pendingIndexKey, id).Err(); err != nil {
		s.logger.Warn("failed to unindex pending run",
			zap.String("id", id),
			zap.Error(err),
		)
	}
	return nil
}

// List 返回所有未过期的挂起记录,按创建时间排序
func (s *PendingStore) List(ctx context.Context) ([]*workflow.Pending, error) {
	ids, err := s.manager.redis.SMembers(ctx, pendingIndexKey).Result()
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list pending runs").WithCause(err)
	}

	out := make([]*workflow.Pending, 0, len(ids))
	for _, id := range ids {
		p, err := s.Load(ctx, id)
		if err != nil {
			if types.GetErrorCode(err) == types.ErrUnknownToken {
				// 已过期,Load 已清理索引
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
