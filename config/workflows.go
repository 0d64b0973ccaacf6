// 工作流定义的 YAML 存储。
//
// 每个 YAML 文件描述一个命名工作流: 名称、描述与有序的 stage 列表。
// Store 负责加载、校验、按名查询，并可挂接文件监听器实现变更重载。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// StageDef 是 YAML 中单个 stage 的定义。
type StageDef struct {
	// Stage 名称，工作流内唯一
	Name string `yaml:"name"`
	// 执行该 stage 的 agent 角色
	Role string `yaml:"role"`
	// Stage 描述，进入提示词
	Description string `yaml:"description"`
	// 角色系统提示词覆盖（可选）
	SystemPrompt string `yaml:"system_prompt"`
	// 模型覆盖（可选，默认走角色/全局模型）
	Model string `yaml:"model"`
	// 该 stage 可用的工具服务器
	ToolServers []string `yaml:"tool_servers"`
	// 最少工具操作数（0 为不要求）
	MinToolOps int `yaml:"min_tool_ops"`
	// 失败时是否跳过继续
	Skippable bool `yaml:"skippable"`
	// 对话轮数上限覆盖（0 为用引擎默认值）
	MaxIterations int `yaml:"max_iterations"`
}

// WorkflowDef 是 YAML 中单个工作流的定义。
type WorkflowDef struct {
	// 工作流名称
	Name string `yaml:"name"`
	// 描述
	Description string `yaml:"description"`
	// 有序 stage 列表，空列表是合法的空工作流
	Stages []StageDef `yaml:"stages"`
}

// Validate 校验定义的结构完整性。
func (d *WorkflowDef) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("workflow name is required")
	}
	seen := make(map[string]struct{}, len(d.Stages))
	for i, s := range d.Stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("workflow %q: stage %d has empty name", d.Name, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("workflow %q: duplicate stage name %q", d.Name, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.MinToolOps < 0 {
			return fmt.Errorf("workflow %q: stage %q: min_tool_ops must not be negative", d.Name, s.Name)
		}
		if s.MaxIterations < 0 {
			return fmt.Errorf("workflow %q: stage %q: max_iterations must not be negative", d.Name, s.Name)
		}
	}
	return nil
}

// StageNames 返回按定义顺序的 stage 名称。
func (d *WorkflowDef) StageNames() []string {
	names := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		names[i] = s.Name
	}
	return names
}

// LoadWorkflowFile 解析并校验单个工作流定义文件。
func LoadWorkflowFile(path string) (*WorkflowDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	var def WorkflowDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow file %s: %w", path, err)
	}
	return &def, nil
}

// WorkflowStore 按名字保存工作流定义。
// 并发安全；重载回调在持锁之外调用。
type WorkflowStore struct {
	mu     sync.RWMutex
	defs   map[string]*WorkflowDef
	byPath map[string]string

	onReload []func(name string)
	logger   *zap.Logger
}

// StoreOption 配置 WorkflowStore。
type StoreOption func(*WorkflowStore)

// WithStoreLogger 设置存储的日志器。
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *WorkflowStore) {
		if logger != nil {
			s.logger = logger.With(zap.String("component", "workflow_store"))
		}
	}
}

// NewWorkflowStore 创建空的定义存储。
func NewWorkflowStore(opts ...StoreOption) *WorkflowStore {
	s := &WorkflowStore{
		defs:   make(map[string]*WorkflowDef),
		byPath: make(map[string]string),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add 直接注册一个定义，同名覆盖。
func (s *WorkflowStore) Add(def *WorkflowDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.defs[def.Name] = def
	s.mu.Unlock()
	return nil
}

// Get 按名字返回定义。
func (s *WorkflowStore) Get(name string) (*WorkflowDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	return def, ok
}

// Names 返回已注册的工作流名称，按字典序。
func (s *WorkflowStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir 加载目录下所有 *.yaml / *.yml 定义文件。
// 任何一个文件解析失败都会中止并返回错误。
func (s *WorkflowStore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadWorkflowFile(path)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.defs[def.Name] = def
		s.byPath[path] = def.Name
		s.mu.Unlock()

		s.logger.Info("workflow definition loaded",
			zap.String("workflow", def.Name),
			zap.Int("stages", len(def.Stages)),
			zap.String("path", path))
	}
	return nil
}

// OnReload 注册定义重载回调（例如编译缓存失效）。
func (s *WorkflowStore) OnReload(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// HandleFileEvent 处理定义文件变更，供文件监听器回调。
// 写入与创建触发重载，删除时移除对应定义。
func (s *WorkflowStore) HandleFileEvent(event FileEvent) {
	switch event.Op {
	case FileOpRemove:
		s.mu.Lock()
		name, tracked := s.byPath[event.Path]
		if tracked {
			delete(s.defs, name)
			delete(s.byPath, event.Path)
		}
		callbacks := s.reloadCallbacks()
		s.mu.Unlock()

		if tracked {
			s.logger.Info("workflow definition removed",
				zap.String("workflow", name),
				zap.String("path", event.Path))
			for _, cb := range callbacks {
				cb(name)
			}
		}

	case FileOpCreate, FileOpWrite:
		def, err := LoadWorkflowFile(event.Path)
		if err != nil {
			s.logger.Warn("workflow reload failed, keeping previous definition",
				zap.String("path", event.Path),
				zap.Error(err))
			return
		}
		s.mu.Lock()
		s.defs[def.Name] = def
		s.byPath[event.Path] = def.Name
		callbacks := s.reloadCallbacks()
		s.mu.Unlock()

		s.logger.Info("workflow definition reloaded",
			zap.String("workflow", def.Name),
			zap.Int("stages", len(def.Stages)))
		for _, cb := range callbacks {
			cb(def.Name)
		}
	}
}

// reloadCallbacks 返回回调快照，调用方需持有 s.mu。
func (s *WorkflowStore) reloadCallbacks() []func(string) {
	out := make([]func(string), len(s.onReload))
	copy(out, s.onReload)
	return out
}

// WatchedPaths 返回当前跟踪的定义文件路径，按字典序。
func (s *WorkflowStore) WatchedPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.byPath))
	for path := range s.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func isWorkflowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
