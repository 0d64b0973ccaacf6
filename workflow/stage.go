package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// StageStatus is the per-stage protocol state.
type StageStatus string

const (
	StageStarted       StageStatus = "started"
	StageAwaitingModel StageStatus = "awaiting_model"
	StageAwaitingTools StageStatus = "awaiting_tools"
	StageAwaitingHuman StageStatus = "awaiting_human"
	StageCompleted     StageStatus = "completed"
	StageFailed        StageStatus = "failed"
)

// StageOptions configures one stage of a workflow.
type StageOptions struct {
	Name          string
	Role          string
	Description   string
	SystemPrompt  string
	Model         string
	ToolServers   []string
	MinToolOps    int
	Skippable     bool
	MaxIterations int
}

// StageRunner drives the per-stage protocol: model round-trips, directive
// scanning, the tool loop and human-input suspension. One runner is shared by
// every agent node of a graph; all mutable state lives in the State it is
// given.
type StageRunner struct {
	Providers  *Providers
	Selector   ModelSelector
	Prompts    *PromptBuilder
	Classifier ResponseClassifier
	Tools      *ToolLoop
	Logger     *zap.Logger
	Metrics    Metrics
	Emitter    Emitter
}

// NewStageRunner creates a runner with default collaborators around the
// given provider registry.
func NewStageRunner(providers *Providers) *StageRunner {
	return &StageRunner{
		Providers:  providers,
		Prompts:    NewPromptBuilder(nil),
		Classifier: NewKeywordClassifier(),
		Tools:      NewToolLoop(nil),
		Logger:     zap.NewNop(),
		Metrics:    NopMetrics{},
	}
}

// Run executes the stage protocol on st until the stage completes, fails or
// suspends for human input. st must be the node's working clone; it is
// mutated in place and returned.
//
// A non-nil error is a stage-local failure: the caller decides whether to
// record it or skip the stage. Suspension is not an error; it leaves
// human_input_required set on the returned state.
func (r *StageRunner) Run(ctx context.Context, st *State, opts StageOptions) (*State, error) {
	start := time.Now()

	// A stage that already completed is never re-run; this makes re-entering
	// a partially executed subgraph after a suspension idempotent.
	if containsString(st.Context.CompletedStages, opts.Name) {
		return st, nil
	}

	continuing := st.Context.CurrentStage == opts.Name &&
		st.StageIteration > 0 && len(st.StageConversation) > 0
	if !continuing {
		st.ClearStageScratch()
		st.Context.CurrentStage = opts.Name
		r.emit(Event{
			Kind:      EventStageStarted,
			RunID:     st.RunID,
			Workflow:  st.WorkflowName,
			Stage:     opts.Name,
			Timestamp: time.Now(),
		})
	}

	agent := st.EnsureAgent(opts.Role, opts.Model, opts.SystemPrompt)
	if !containsString(agent.Stages, opts.Name) {
		agent.Stages = append(agent.Stages, opts.Name)
	}

	model := r.Selector.ModelFor(agent)
	provider, err := r.Providers.Resolve(model)
	if err != nil {
		return st, r.fail(st, opts, start, err)
	}

	limit := opts.MaxIterations
	if limit <= 0 {
		limit = st.StageLimit()
	}

	logger := r.Logger.With(
		zap.String("stage", opts.Name),
		zap.String("agent", agent.Name),
		zap.String("model", model),
	)

	for {
		if st.StageIteration >= limit {
			ferr := types.NewErrorf(types.ErrIterationLimit,
				"iteration limit exceeded (%d)", limit)
			return st, r.fail(st, opts, start, ferr)
		}
		st.StageIteration++

		catalogue := r.catalogue(ctx, opts)
		system := r.Prompts.System(opts, catalogue)
		convo := r.Prompts.Conversation(st, opts)

		modelStart := time.Now()
		response, err := provider.Complete(ctx, system, convo)
		r.metrics().ModelRoundTrip(st.WorkflowName, opts.Name, model, time.Since(modelStart))
		if err != nil {
			return st, r.fail(st, opts, start, err)
		}

		finalText := response
		if len(opts.ToolServers) > 0 {
			acc, lerr := r.toolLoop().Run(ctx, provider, system, convo, response, opts.MinToolOps)
			if lerr != nil {
				return st, r.fail(st, opts, start, lerr)
			}
			if len(acc.Records()) > 0 {
				logger.Debug("tool loop finished",
					zap.Int("operations", len(acc.Records())),
					zap.Int("failures", acc.FailureCount()),
				)
			}
			for _, rec := range acc.Records() {
				ev := Event{
					Kind:      EventToolCalled,
					RunID:     st.RunID,
					Workflow:  st.WorkflowName,
					Stage:     opts.Name,
					Message:   rec.Name,
					Timestamp: time.Now(),
				}
				if rec.IsError() {
					ev.Error = rec.Error
				}
				r.emit(ev)
			}
			finalText = acc.Format()
		}

		st.AppendStageMessage(types.RoleModel, finalText)

		directives := r.Classifier.Directives(finalText)
		if directives.NeedsHuman() {
			st.RequireHumanInput(directives.Prompt())
			st.AwaitingConfirmation = true
			logger.Info("stage awaiting human input",
				zap.Int("iteration", st.StageIteration),
				zap.String("prompt", st.HumanInputPrompt),
			)
			r.emit(Event{
				Kind:      EventHumanRequested,
				RunID:     st.RunID,
				Workflow:  st.WorkflowName,
				Stage:     opts.Name,
				Message:   st.HumanInputPrompt,
				Timestamp: time.Now(),
			})
			return st, nil
		}

		if directives.Complete || r.Classifier.ShouldFinalize(finalText) {
			r.complete(st, opts, agent, model, finalText)
			r.metrics().StageFinished(st.WorkflowName, opts.Name, StageCompleted, time.Since(start))
			logger.Info("stage completed", zap.Int("iterations", st.StageIteration))
			r.emit(Event{
				Kind:      EventStageCompleted,
				RunID:     st.RunID,
				Workflow:  st.WorkflowName,
				Stage:     opts.Name,
				Timestamp: time.Now(),
			})
			return st, nil
		}

		logger.Debug("stage looping", zap.Int("iteration", st.StageIteration))
	}
}

// complete finalizes the stage: record the output, log the completion and
// reset the scratchpad. StageIteration is read before the reset.
func (r *StageRunner) complete(st *State, opts StageOptions, agent *AgentRecord, model, finalText string) {
	output := types.Map(map[string]types.Value{
		"agent":      types.String(agent.Name),
		"role":       types.String(opts.Role),
		"stage":      types.String(opts.Name),
		"status":     types.String(string(StageCompleted)),
		"output":     types.String(finalText),
		"model":      types.String(model),
		"iterations": types.Int(st.StageIteration),
	})
	st.AddStageOutput(opts.Name, output)
	st.AppendMessage(types.NewSystemMessage(fmt.Sprintf("Stage %s completed", opts.Name)).WithName(agent.Name))
	st.ClearStageScratch()
}

// fail normalizes a stage-local error, clears the scratchpad and reports it.
func (r *StageRunner) fail(st *State, opts StageOptions, start time.Time, err error) error {
	st.ClearStageScratch()
	r.metrics().StageFinished(st.WorkflowName, opts.Name, StageFailed, time.Since(start))
	r.emit(Event{
		Kind:      EventStageFailed,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Stage:     opts.Name,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})

	if te, ok := err.(*types.Error); ok {
		return te.WithStage(opts.Name)
	}
	return types.NewErrorf(types.ErrStageFailure, "stage %s failed", opts.Name).
		WithCause(err).
		WithStage(opts.Name)
}

func (r *StageRunner) catalogue(ctx context.Context, opts StageOptions) []types.ToolDescriptor {
	loop := r.toolLoop()
	if len(opts.ToolServers) == 0 || loop.Manager == nil {
		return nil
	}
	return filterCatalogue(loop.Manager.Catalogue(ctx), opts.ToolServers)
}

func (r *StageRunner) toolLoop() *ToolLoop {
	if r.Tools != nil {
		return r.Tools
	}
	return NewToolLoop(nil)
}

func (r *StageRunner) metrics() Metrics {
	if r.Metrics != nil {
		return r.Metrics
	}
	return NopMetrics{}
}

func (r *StageRunner) emit(e Event) {
	if r.Emitter != nil {
		r.Emitter.Emit(e)
	}
}
