// =============================================================================
// Package quick — One-Call Workflow Execution
// =============================================================================
// Provides a convenience entry point for running workflow definitions with
// minimal boilerplate. Delegates to workflow.NewEngine internally.
//
// The package lives under quick/ (not root) so the root facade can re-export
// it without an import cycle.
//
// Usage:
//
//	import "github.com/VitalyOstanin/flowcraft-sub000/quick"
//
//	out, err := quick.Run(ctx, "review.yaml", "review the parser changes",
//		quick.WithProvider(myProvider))
//	out, err := quick.Run(ctx, "review.yaml", "dry run",
//		quick.WithScript("analysis done", "STAGE COMPLETE"))
//
// =============================================================================
package quick

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/tools"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// Option configures the engine created by NewEngine and Run.
type Option func(*options)

type options struct {
	provider   llm.Provider
	script     []string
	logger     *zap.Logger
	emitter    workflow.Emitter
	history    workflow.HistoryStore
	pending    workflow.PendingStore
	tools      *tools.Manager
	models     config.ModelConfig
	engineOpts []workflow.Option
}

// WithProvider sets a pre-built model provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithScript uses a scripted provider that replays the given responses in
// order. Handy for demos, dry runs of workflow definitions and tests.
func WithScript(responses ...string) Option {
	return func(o *options) { o.script = responses }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEmitter streams run lifecycle events to the given sink.
func WithEmitter(em workflow.Emitter) Option {
	return func(o *options) { o.emitter = em }
}

// WithHistory sets the run history store. Defaults to in-memory.
func WithHistory(h workflow.HistoryStore) Option {
	return func(o *options) { o.history = h }
}

// WithPendingStore sets the suspended-run store. Defaults to in-memory.
func WithPendingStore(p workflow.PendingStore) Option {
	return func(o *options) { o.pending = p }
}

// WithTools makes the sessions registered in the manager available to
// stages that declare tool servers.
func WithTools(m *tools.Manager) Option {
	return func(o *options) { o.tools = m }
}

// WithModels applies model selection config: per-role overrides fill stages
// that do not pin a model, and the default model feeds the selector.
func WithModels(m config.ModelConfig) Option {
	return func(o *options) { o.models = m }
}

// WithEngineOptions passes raw engine options through for anything the
// shortcuts above do not cover.
func WithEngineOptions(opts ...workflow.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WorkflowFromDef converts a stored workflow definition into the engine's
// compile shape. Stages without an explicit model get the role's model from
// the model config, so role-based selection is resolved before compilation.
func WorkflowFromDef(def *config.WorkflowDef, models config.ModelConfig) workflow.WorkflowConfig {
	cfg := workflow.WorkflowConfig{
		Name:        def.Name,
		Description: def.Description,
		Stages:      make([]workflow.StageConfig, len(def.Stages)),
	}
	for i, s := range def.Stages {
		model := s.Model
		if model == "" {
			model = models.ModelFor(s.Role)
		}
		cfg.Stages[i] = workflow.StageConfig{
			Name:          s.Name,
			Role:          s.Role,
			Description:   s.Description,
			SystemPrompt:  s.SystemPrompt,
			Model:         model,
			ToolServers:   append([]string(nil), s.ToolServers...),
			MinToolOps:    s.MinToolOps,
			Skippable:     s.Skippable,
			MaxIterations: s.MaxIterations,
		}
	}
	return cfg
}

// NewEngine builds a workflow engine from the options. Use this instead of
// Run when the workflow may suspend for human input: resuming needs the
// engine (and its pending store) to outlive the first call.
func NewEngine(opts ...Option) (*workflow.Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	provider := o.provider
	if provider == nil {
		if len(o.script) == 0 {
			return nil, fmt.Errorf("a provider is required: use WithProvider or WithScript")
		}
		provider = llm.NewScriptedProvider("scripted", o.script...)
	}

	engineOpts := []workflow.Option{}
	if o.logger != nil {
		engineOpts = append(engineOpts, workflow.WithLogger(o.logger))
	}
	if o.emitter != nil {
		engineOpts = append(engineOpts, workflow.WithEmitter(o.emitter))
	}
	if o.history != nil {
		engineOpts = append(engineOpts, workflow.WithHistory(o.history))
	}
	if o.pending != nil {
		engineOpts = append(engineOpts, workflow.WithPendingStore(o.pending))
	}
	if o.tools != nil {
		engineOpts = append(engineOpts, workflow.WithToolManager(o.tools))
	}
	if o.models.Default != "" {
		engineOpts = append(engineOpts, workflow.WithModelSelector(workflow.ModelSelector{
			Default: o.models.Default,
		}))
	}
	engineOpts = append(engineOpts, o.engineOpts...)

	return workflow.NewEngine(provider, engineOpts...), nil
}

// Run loads a workflow definition file and executes it for the task in one
// call. The outcome is either final or a suspension; a suspended run can only
// be resumed through a long-lived engine, so callers expecting suspensions
// should use NewEngine directly.
func Run(ctx context.Context, workflowFile, task string, opts ...Option) (*workflow.Outcome, error) {
	def, err := config.LoadWorkflowFile(workflowFile)
	if err != nil {
		return nil, err
	}
	return RunDef(ctx, def, task, opts...)
}

// RunDef executes an already-loaded workflow definition for the task.
func RunDef(ctx context.Context, def *config.WorkflowDef, task string, opts ...Option) (*workflow.Outcome, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	engine, err := NewEngine(opts...)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, WorkflowFromDef(def, o.models), task)
}
