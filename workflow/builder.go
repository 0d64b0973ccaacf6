package workflow

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// StageConfig declares one stage of a workflow configuration. A stage either
// runs a role agent or wraps a registered subgraph; Subgraph wins when both
// are set.
type StageConfig struct {
	Name          string
	Role          string
	Description   string
	SystemPrompt  string
	Model         string
	Subgraph      string
	ToolServers   []string
	MinToolOps    int
	Skippable     bool
	MaxIterations int
}

func (c StageConfig) toOptions() StageOptions {
	return StageOptions{
		Name:          strings.TrimSpace(c.Name),
		Role:          c.Role,
		Description:   c.Description,
		SystemPrompt:  c.SystemPrompt,
		Model:         c.Model,
		ToolServers:   append([]string(nil), c.ToolServers...),
		MinToolOps:    c.MinToolOps,
		Skippable:     c.Skippable,
		MaxIterations: c.MaxIterations,
	}
}

// WorkflowConfig is the declarative shape a graph is compiled from.
type WorkflowConfig struct {
	Name        string
	Description string
	Stages      []StageConfig
}

// Builder compiles workflow configurations into graphs and caches the result
// per workflow name. Compilation of the same name is deduplicated, so
// concurrent runs of one workflow share a single compile.
type Builder struct {
	runner   *StageRunner
	registry *Registry
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Graph
	group singleflight.Group
}

// NewBuilder creates a builder. The registry may be nil when no workflow
// references subgraphs.
func NewBuilder(runner *StageRunner, registry *Registry, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		runner:   runner,
		registry: registry,
		logger:   logger.With(zap.String("component", "graph_builder")),
		cache:    map[string]*Graph{},
	}
}

// Build returns the compiled graph for the configuration, compiling it on
// first use and serving the cache afterwards.
func (b *Builder) Build(cfg WorkflowConfig) (*Graph, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, types.NewError(types.ErrGraphCompilation, "workflow name must not be empty")
	}

	b.mu.RLock()
	if g, ok := b.cache[name]; ok {
		b.mu.RUnlock()
		return g, nil
	}
	b.mu.RUnlock()

	v, err, _ := b.group.Do(name, func() (any, error) {
		b.mu.RLock()
		if g, ok := b.cache[name]; ok {
			b.mu.RUnlock()
			return g, nil
		}
		b.mu.RUnlock()

		g, err := b.compile(cfg)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cache[name] = g
		b.mu.Unlock()

		b.logger.Info("workflow compiled",
			zap.String("workflow", name),
			zap.Int("stages", len(cfg.Stages)),
		)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

// Invalidate drops the cached graph for a workflow, forcing a recompile on
// the next Build. Used when workflow definitions are reloaded from disk.
func (b *Builder) Invalidate(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, name)
}

// InvalidateAll clears the whole compile cache.
func (b *Builder) InvalidateAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = map[string]*Graph{}
}

// Cached returns the names of cached graphs, for diagnostics.
func (b *Builder) Cached() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.cache))
	for name := range b.cache {
		out = append(out, name)
	}
	return out
}

// compile lowers the stage list into the node graph: START, the stage chain
// in declared order, then the terminal pair. An empty stage list still
// produces the START -> workflow_end -> END chain.
func (b *Builder) compile(cfg WorkflowConfig) (*Graph, error) {
	nodes := map[string]Node{
		StartNodeName: NewStartNode(b.logger),
		EndNodeName:   NewEndNode(b.logger),
	}
	edges := map[string][]string{}

	prev := StartNodeName
	seen := map[string]bool{}
	for _, sc := range cfg.Stages {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"workflow %s: stage name must not be empty", cfg.Name)
		}
		if name == StartNodeName || name == EndNodeName || name == TerminalName {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"workflow %s: stage name %q is reserved", cfg.Name, name)
		}
		if seen[name] {
			return nil, types.NewErrorf(types.ErrGraphCompilation,
				"workflow %s: duplicate stage %q", cfg.Name, name)
		}
		seen[name] = true

		var node Node
		if sc.Subgraph != "" {
			if b.registry == nil {
				return nil, types.NewErrorf(types.ErrUnknownSubgraph,
					"unknown subgraph %q: no registry configured", sc.Subgraph)
			}
			sub, err := b.registry.Get(sc.Subgraph)
			if err != nil {
				return nil, err
			}
			node = NewSubgraphNode(name, sub, b.logger)
		} else {
			node = NewAgentNode(sc.toOptions(), b.runner, b.logger)
		}

		nodes[name] = node
		edges[prev] = []string{name}
		prev = name
	}

	edges[prev] = []string{EndNodeName}
	edges[EndNodeName] = []string{TerminalName}

	return &Graph{
		name:  strings.TrimSpace(cfg.Name),
		entry: StartNodeName,
		nodes: nodes,
		edges: edges,
	}, nil
}
