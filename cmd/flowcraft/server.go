package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/metrics"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/server"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/telemetry"
)

// =============================================================================
// 🖥️ 观测服务器
// =============================================================================

// Server 是 flowcraft 的观测服务器：健康探针、Prometheus 指标、运行历史、
// 挂起运行列表与 /ws 事件流。它只观测，不接收编排指令；工作流的执行发生在
// 嵌入引擎的宿主进程里（包括带 --observe 的 run 命令本身）。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager *server.Manager

	// 观测组件
	healthHandler *server.HealthHandler
	hub           *server.Hub

	// 指标收集器
	metricsCollector *metrics.Collector

	// 存储（自有或由 run --observe 注入共享）
	stores    *runtimeStores
	ownStores bool

	// 工作流定义
	workflowStore *config.WorkflowStore
	watcher       *config.FileWatcher

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	otel *telemetry.Providers
}

// NewServer 创建观测服务器。stores 传 nil 时按配置自行打开，
// 传入非 nil 时与调用方共享（run --observe 模式）。
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, stores ...*runtimeStores) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
	}
	if len(stores) > 0 && stores[0] != nil {
		s.stores = stores[0]
	}
	return s
}

// Hub 返回事件集线器，供执行进程把引擎事件接入 /ws。
func (s *Server) Hub() *server.Hub {
	return s.hub
}

// OnWorkflowReload 注册定义重载回调（典型接法: engine.InvalidateWorkflow）。
func (s *Server) OnWorkflowReload(fn func(name string)) {
	if s.workflowStore != nil && fn != nil {
		s.workflowStore.OnReload(fn)
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有组件
func (s *Server) Start() error {
	// 1. 指标收集器
	s.metricsCollector = metrics.NewCollector("flowcraft", s.logger)

	// 2. 事件集线器与健康探针
	s.hub = server.NewHub(s.logger)
	s.healthHandler = server.NewHealthHandler(Version, s.logger)

	// 3. 存储后端
	if s.stores == nil {
		st, err := openStores(s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open stores: %w", err)
		}
		s.stores = st
		s.ownStores = true
	}
	s.stores.registerChecks(s.healthHandler)

	// 4. 工作流定义目录
	if err := s.initWorkflows(); err != nil {
		return fmt.Errorf("failed to init workflow store: %w", err)
	}

	// 5. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("Observability server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("history_backend", s.cfg.History.Backend),
		zap.String("suspend_store", s.cfg.Suspend.Store),
		zap.Bool("workflow_watch", s.watcher != nil),
	)

	return nil
}

// initWorkflows 加载定义目录，并按配置挂接文件监听
func (s *Server) initWorkflows() error {
	s.workflowStore = config.NewWorkflowStore(config.WithStoreLogger(s.logger))

	dir := s.cfg.Workflows.Dir
	if dir == "" {
		return nil
	}
	if err := s.workflowStore.LoadDir(dir); err != nil {
		return err
	}
	s.logger.Info("workflow definitions loaded",
		zap.String("dir", dir),
		zap.Strings("workflows", s.workflowStore.Names()),
	)

	if !s.cfg.Workflows.Watch {
		return nil
	}

	watcher, err := config.NewFileWatcher([]string{dir},
		config.WithDebounceDelay(s.cfg.Workflows.DebounceDelay),
		config.WithWatcherLogger(s.logger),
	)
	if err != nil {
		return err
	}
	watcher.OnChange(s.workflowStore.HandleFileEvent)
	if err := watcher.Start(context.Background()); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := server.NewMux(server.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}, s.healthHandler, s.hub)

	// 观测端点：运行历史与挂起中的运行
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/pending", s.handlePending)
	mux.HandleFunc("/workflows", s.handleWorkflows)

	// 中间件链
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		BearerAuth(s.cfg.Server.AuthSecret, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		MaxConns:        s.cfg.Server.MaxConns,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	return s.httpManager.Start()
}

// =============================================================================
// 📜 观测端点
// =============================================================================

// handleRuns 返回最近的运行历史。?workflow= 过滤，?limit= 截断（默认 20）。
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	records, err := s.stores.history.List(ctx, r.URL.Query().Get("workflow"), limit)
	if err != nil {
		s.logger.Error("run history query failed", zap.Error(err))
		http.Error(w, `{"error":"history unavailable"}`, http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, map[string]any{"runs": records, "count": len(records)})
}

// pendingSummary 是挂起运行的对外视图，不暴露内部状态快照。
type pendingSummary struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	Node      string    `json:"node"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// handlePending 列出等待人工输入的运行。
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	pendings, err := s.stores.pending.List(ctx)
	if err != nil {
		s.logger.Error("pending query failed", zap.Error(err))
		http.Error(w, `{"error":"pending store unavailable"}`, http.StatusInternalServerError)
		return
	}

	out := make([]pendingSummary, 0, len(pendings))
	for _, p := range pendings {
		out = append(out, pendingSummary{
			ID:        p.ID,
			Workflow:  p.Workflow,
			Node:      p.NodeName,
			Prompt:    p.Prompt,
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSONResponse(w, map[string]any{"pending": out, "count": len(out)})
}

// handleWorkflows 列出已加载的工作流定义名称。
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, map[string]any{"workflows": s.workflowStore.Names()})
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 停止定义监听
	if s.watcher != nil {
		s.watcher.Stop()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 断开事件订阅者
	if s.hub != nil {
		s.hub.Close()
	}

	// 4. 释放自有存储（共享存储由 run 命令负责关闭）
	if s.ownStores && s.stores != nil {
		s.stores.Close(ctx, s.logger)
	}

	// 5. 关闭遥测
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
