package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/cache"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/database"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/server"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// 🗄️ 运行时存储装配
// =============================================================================

// runtimeStores 按配置装配历史与挂起态存储。
// serve 与 run 共用同一套装配逻辑，--observe 模式下两者共享实例。
type runtimeStores struct {
	history workflow.HistoryStore
	pending workflow.PendingStore

	// 具体后端句柄，按需持有以便关闭与健康检查
	db    *database.PoolManager
	mongo *database.MongoHistory
	cache *cache.Manager
}

// openStores 按 history.backend 与 suspend.store 打开对应后端。
// 任一后端打开失败即整体失败，已打开的句柄会被回收。
func openStores(cfg *config.Config, logger *zap.Logger) (*runtimeStores, error) {
	st := &runtimeStores{}

	if err := st.openHistory(cfg, logger); err != nil {
		return nil, err
	}
	if err := st.openPending(cfg, logger); err != nil {
		st.Close(context.Background(), logger)
		return nil, err
	}
	return st, nil
}

func (st *runtimeStores) openHistory(cfg *config.Config, logger *zap.Logger) error {
	switch cfg.History.Backend {
	case "database":
		pool, err := database.Open(database.Config{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN(),
			Pool: database.PoolConfig{
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			},
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		if err := database.InitSchema(pool.DB()); err != nil {
			_ = pool.Close()
			return fmt.Errorf("failed to init history schema: %w", err)
		}
		store, err := database.NewHistoryStore(pool.DB(), logger)
		if err != nil {
			_ = pool.Close()
			return err
		}
		st.db = pool
		st.history = store

	case "mongo":
		mongoCfg := database.DefaultMongoConfig()
		if cfg.History.MongoURI != "" {
			mongoCfg.URI = cfg.History.MongoURI
		}
		if cfg.History.MongoDatabase != "" {
			mongoCfg.Database = cfg.History.MongoDatabase
		}
		store, err := database.NewMongoHistory(mongoCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to open mongo history: %w", err)
		}
		st.mongo = store
		st.history = store

	default: // memory
		st.history = workflow.NewMemoryHistory(cfg.History.MaxRecords)
	}
	return nil
}

func (st *runtimeStores) openPending(cfg *config.Config, logger *zap.Logger) error {
	switch cfg.Suspend.Store {
	case "redis":
		mgr, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect suspend store: %w", err)
		}
		st.cache = mgr
		st.pending = cache.NewPendingStore(mgr, cfg.Suspend.TokenTTL, logger)

	default: // memory
		store := workflow.NewMemoryPendingStore()
		if cfg.Suspend.TokenTTL > 0 {
			store.SetTTL(cfg.Suspend.TokenTTL)
		}
		st.pending = store
	}
	return nil
}

// registerChecks 将后端连通性挂到就绪探针上
func (st *runtimeStores) registerChecks(h *server.HealthHandler) {
	if st.db != nil {
		h.RegisterCheck(server.NewPingCheck("database", st.db.Ping))
	}
	if st.cache != nil {
		h.RegisterCheck(server.NewPingCheck("redis", st.cache.Ping))
	}
}

// Close 释放所有打开的后端句柄
func (st *runtimeStores) Close(ctx context.Context, logger *zap.Logger) {
	if st.cache != nil {
		if err := st.cache.Close(); err != nil {
			logger.Error("suspend store close error", zap.Error(err))
		}
		st.cache = nil
	}
	if st.mongo != nil {
		if err := st.mongo.Close(ctx); err != nil {
			logger.Error("mongo history close error", zap.Error(err))
		}
		st.mongo = nil
	}
	if st.db != nil {
		if err := st.db.Close(); err != nil {
			logger.Error("history database close error", zap.Error(err))
		}
		st.db = nil
	}
}
