// 定义文件变更监听器。
//
// 轮询文件修改时间，跨平台无额外依赖；支持监听单个文件或整个目录
// （目录模式下发现新建的 *.yaml / *.yml 定义文件）。事件经防抖后
// 分发给回调，典型接法是 WorkflowStore.HandleFileEvent。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 是文件变更类型。
type FileOp int

const (
	// FileOpCreate 表示文件新建
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件被修改
	FileOpWrite
	// FileOpRemove 表示文件被删除
	FileOpRemove
)

// String 返回变更类型的可读名称。
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 是一次文件变更事件。
type FileEvent struct {
	// 变更的文件路径
	Path string
	// 变更类型
	Op FileOp
	// 事件时间
	Timestamp time.Time
}

// FileWatcher 轮询监听文件与目录变更。
type FileWatcher struct {
	mu sync.RWMutex

	files []string
	dirs  []string

	pollInterval  time.Duration
	debounceDelay time.Duration

	running  bool
	stopChan chan struct{}

	callbacks []func(FileEvent)
	lastMod   map[string]time.Time

	logger *zap.Logger
}

// WatcherOption 配置 FileWatcher。
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔。
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置事件防抖延迟。
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger 设置日志器。
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger.With(zap.String("component", "file_watcher"))
		}
	}
}

// NewFileWatcher 创建监听器。路径可以是文件或目录；
// 目录按工作流定义文件规则（*.yaml / *.yml）扫描。
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		lastMod:       make(map[string]time.Time),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			w.dirs = append(w.dirs, path)
		case err == nil:
			w.files = append(w.files, path)
		case os.IsNotExist(err):
			w.logger.Warn("watched path does not exist yet", zap.String("path", path))
			w.files = append(w.files, path)
		default:
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
	}
	return w, nil
}

// OnChange 注册变更回调。
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动监听。重复启动返回错误。
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	// 记录初始修改时间，启动后的首轮轮询不应报告存量文件
	for _, path := range w.candidatePaths() {
		if info, err := os.Stat(path); err == nil {
			w.lastMod[path] = info.ModTime()
		}
	}
	w.mu.Unlock()

	go w.run(ctx)

	w.logger.Info("file watcher started",
		zap.Strings("files", w.files),
		zap.Strings("dirs", w.dirs),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听，幂等。
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("file watcher stopped")
}

// IsRunning 返回监听器是否在运行。
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// run 是轮询主循环: 收集变更，防抖窗口静默后统一分发。
func (w *FileWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	pending := make(map[string]FileEvent)
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case <-ticker.C:
			for _, event := range w.poll() {
				pending[event.Path] = event
			}
			if len(pending) > 0 && flush == nil {
				flush = time.After(w.debounceDelay)
			}

		case <-flush:
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
			flush = nil
		}
	}
}

// poll 对比修改时间并产出变更事件。
func (w *FileWatcher) poll() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	seen := make(map[string]struct{})
	var events []FileEvent

	for _, path := range w.candidatePaths() {
		seen[path] = struct{}{}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		last, tracked := w.lastMod[path]
		switch {
		case !tracked:
			w.lastMod[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case info.ModTime().After(last):
			w.lastMod[path] = info.ModTime()
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}

	// 之前跟踪但这次不存在的文件按删除处理
	for path := range w.lastMod {
		if _, ok := seen[path]; !ok {
			delete(w.lastMod, path)
			events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		}
	}
	return events
}

// candidatePaths 展开显式文件与目录内的定义文件，调用方需持有 w.mu。
func (w *FileWatcher) candidatePaths() []string {
	paths := make([]string, 0, len(w.files))
	for _, f := range w.files {
		if _, err := os.Stat(f); err == nil {
			paths = append(paths, f)
		}
	}
	for _, dir := range w.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !isWorkflowFile(entry.Name()) {
				continue
			}
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths
}

// dispatch 将待处理事件分发给所有回调。
func (w *FileWatcher) dispatch(pending map[string]FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, event := range pending {
		w.logger.Debug("dispatching file event",
			zap.String("path", event.Path),
			zap.String("op", event.Op.String()))
		for _, cb := range callbacks {
			cb(event)
		}
	}
}
