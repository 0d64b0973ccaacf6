package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/tools"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// DefaultMaxRunIterations bounds the top-level graph walk as a defense
// against graphs that never signal finished.
const DefaultMaxRunIterations = 50

// cancellationWords abort a suspended run instead of answering it.
var cancellationWords = []string{"quit", "exit"}

// Result is the terminal outcome of a run. A cancelled run is distinct from
// a failed one; a partially successful run carries both stage lists so the
// caller can decide how to react.
type Result struct {
	RunID           string                 `json:"run_id"`
	Workflow        string                 `json:"workflow"`
	Success         bool                   `json:"success"`
	Cancelled       bool                   `json:"cancelled"`
	CompletedStages []string               `json:"completed_stages"`
	FailedStages    []string               `json:"failed_stages"`
	Errors          []string               `json:"errors,omitempty"`
	Outputs         map[string]types.Value `json:"outputs,omitempty"`
	Duration        time.Duration          `json:"duration"`
}

// Suspension is the handle of a run paused for human input. Feed the token
// and an answer to Resume to continue it.
type Suspension struct {
	Token    string `json:"token"`
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Prompt   string `json:"prompt"`
}

/// Outcome is what Run and Resume return: either a final result or a
// suspension, never both.
type Outcome struct {
	Result     *Result     `json:"result,omitempty"`
	Suspension *Suspension `json:"suspension,omitempty"`
}

// Suspended reports whether the run paused for human input.
func (o *Outcome) Suspended() bool { return o.Suspension != nil }

// Engine drives compiled workflow graphs node by node, suspending for human
// input and resuming on demand. One engine serves any number of concurrent
// runs; each run owns its state exclusively.
type Engine struct {
	providers  *Providers
	runner     *StageRunner
	registry   *Registry
	builder    *Builder
	classifier ResponseClassifier
	logger     *zap.Logger
	metrics    Metrics
	emitter    Emitter
	history    HistoryStore
	pending    PendingStore
	tokens     *TokenCodec

	maxRunIterations   int
	maxStageIterations int
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEmitter sets the lifecycle event sink.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithHistory sets the run history store.
func WithHistory(h HistoryStore) Option {
	return func(e *Engine) {
		if h != nil {
			e.history = h
		}
	}
}

// WithPendingStore sets the suspended-run store.
func WithPendingStore(p PendingStore) Option {
	return func(e *Engine) {
		if p != nil {
			e.pending = p
		}
	}
}

// WithTokenCodec sets the resume token codec.
func WithTokenCodec(c *TokenCodec) Option {
	return func(e *Engine) {
		if c != nil {
			e.tokens = c
		}
	}
}

// WithClassifier replaces the response and answer classifier.
func WithClassifier(c ResponseClassifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithRegistry sets the subgraph registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithToolManager connects the tool-session manager.
func WithToolManager(m *tools.Manager) Option {
	return func(e *Engine) { e.runner.Tools.Manager = m }
}

// WithContinuationPolicy replaces the tool-loop continuation policy.
func WithContinuationPolicy(p ContinuationPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.runner.Tools.Policy = p
		}
	}
}

// WithToolTimeout sets the per-call tool execution timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.runner.Tools.CallTimeout = d
		}
	}
}

// WithMaxToolRounds caps the tool-loop continuation rounds per stage
// iteration.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.runner.Tools.MaxRounds = n
		}
	}
}

// WithModelSelector sets the role-based model selection rules.
func WithModelSelector(s ModelSelector) Option {
	return func(e *Engine) { e.runner.Selector = s }
}

// WithRoleCatalogue replaces the role prompt catalogue.
func WithRoleCatalogue(rc *RoleCatalogue) Option {
	return func(e *Engine) {
		if rc != nil {
			e.runner.Prompts.Roles = rc
		}
	}
}

// WithTokenCounter sets the token counter used for prompt budgeting.
func WithTokenCounter(c llm.TokenCounter) Option {
	return func(e *Engine) { e.runner.Prompts.Counter = c }
}

// WithPromptTokenBudget bounds the replayed stage conversation; zero means
// unlimited.
func WithPromptTokenBudget(n int) Option {
	return func(e *Engine) { e.runner.Prompts.Budget = n }
}

// WithMaxRunIterations bounds the top-level walk.
func WithMaxRunIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRunIterations = n
		}
	}
}

// WithMaxStageIterations sets the default per-stage round-trip bound.
func WithMaxStageIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxStageIterations = n
		}
	}
}

// NewEngine creates an engine around a fallback model provider. Register
// additional per-model providers through Providers().
func NewEngine(provider llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		providers:          NewProviders(provider),
		classifier:         NewKeywordClassifier(),
		logger:             zap.NewNop(),
		metrics:            NopMetrics{},
		history:            NewMemoryHistory(0),
		pending:            NewMemoryPendingStore(),
		tokens:             NewTokenCodec("", 0),
		maxRunIterations:   DefaultMaxRunIterations,
		maxStageIterations: DefaultMaxStageIterations,
	}
	e.runner = NewStageRunner(e.providers)

	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = NewRegistry(e.logger)
	}

	e.runner.Classifier = e.classifier
	e.runner.Logger = e.logger.With(zap.String("component", "stage_runner"))
	e.runner.Metrics = e.metrics
	e.runner.Emitter = e.emitter
	e.runner.Tools.Logger = e.logger.With(zap.String("component", "tool_loop"))
	e.runner.Tools.Metrics = e.metrics

	e.builder = NewBuilder(e.runner, e.registry, e.logger)
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// Providers returns the model provider registry.
func (e *Engine) Providers() *Providers { return e.providers }

// Registry returns the subgraph registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Builder returns the graph compiler and cache.
func (e *Engine) Builder() *Builder { return e.builder }

// Runner returns the stage runner for advanced tuning.
func (e *Engine) Runner() *StageRunner { return e.runner }

// History returns the run history store.
func (e *Engine) History() HistoryStore { return e.history }

// Pending returns the suspended-run store.
func (e *Engine) Pending() PendingStore { return e.pending }

// InvalidateWorkflow drops the compiled graph for a workflow so the next
// run recompiles it. Wire this to definition reloads.
func (e *Engine) InvalidateWorkflow(name string) {
	e.builder.Invalidate(name)
}

// Run compiles the configuration and executes it for the given task.
// Compilation failures abort before any stage executes. The outcome is
// either final or a suspension waiting on Resume.
func (e *Engine) Run(ctx context.Context, cfg WorkflowConfig, task string) (*Outcome, error) {
	graph, err := e.builder.Build(cfg)
	if err != nil {
		e.logger.Error("workflow compilation failed",
			zap.String("workflow", cfg.Name),
			zap.Error(err),
		)
		return nil, err
	}

	st := NewState(graph.Name(), task)
	st.RunID = uuid.NewString()
	st.MaxStageIterations = e.maxStageIterations

	e.metrics.RunStarted(st.WorkflowName)
	e.emit(Event{
		Kind:      EventRunStarted,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Message:   task,
		Timestamp: time.Now(),
	})
	e.saveHistory(ctx, st, RunStatusRunning, nil)
	e.logger.Info("workflow run started",
		zap.String("run_id", st.RunID),
		zap.String("workflow", st.WorkflowName),
		zap.String("task", task),
	)

	return e.walk(ctx, graph, cfg, st, graph.Entry())
}

// Resume feeds a human answer into a suspended run. Cancellation words and
// a second consecutive empty answer abort the run with a cancelled result.
func (e *Engine) Resume(ctx context.Context, token, answer string) (*Outcome, error) {
	id, err := e.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	p, err := e.pending.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	st := p.State.Clone()
	trimmed := strings.TrimSpace(answer)

	if containsString(cancellationWords, strings.ToLower(trimmed)) {
		_ = e.pending.Delete(ctx, id)
		return e.cancelRun(ctx, st, "run cancelled by user"), nil
	}
	if trimmed == "" {
		p.EmptyAnswers++
		if p.EmptyAnswers >= 2 {
			_ = e.pending.Delete(ctx, id)
			return e.cancelRun(ctx, st, "run cancelled after repeated empty input"), nil
		}
		if err := e.pending.Save(ctx, p); err != nil {
			return nil, err
		}
		return &Outcome{Suspension: &Suspension{
			Token:    token,
			RunID:    st.RunID,
			Workflow: st.WorkflowName,
			Prompt:   "Empty answer received, send empty again to cancel. " + p.Prompt,
		}}, nil
	}

	graph, err := e.builder.Build(p.Config)
	if err != nil {
		return nil, err
	}

	e.emit(Event{
		Kind:      EventRunResumed,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Node:      p.NodeName,
		Timestamp: time.Now(),
	})
	e.logger.Info("workflow run resumed",
		zap.String("run_id", st.RunID),
		zap.String("workflow", st.WorkflowName),
		zap.String("node", p.NodeName),
	)

	if st.AwaitingConfirmation {
		intent := e.classifier.ClassifyAnswer(trimmed)
		st.AppendStageMessage(types.RoleUser, intent.Summary())
		if intent.Days > 0 {
			st.AddUserInput("days", types.Int(intent.Days))
		}
		if intent.DateRange != "" {
			st.AddUserInput("date_range", types.String(intent.DateRange))
		}
		st.HumanInputRequired = false
		st.HumanInputPrompt = ""
		st.AwaitingConfirmation = false
		_ = e.pending.Delete(ctx, id)

		// Re-execute the suspended stage node: the stage protocol picks the
		// conversation up at the folded answer.
		return e.walk(ctx, graph, p.Config, st, p.NodeName)
	}

	node, ok := graph.Node(p.NodeName)
	if !ok {
		return nil, types.NewErrorf(types.ErrInternal,
			"graph %s has no node %q to resume", graph.Name(), p.NodeName)
	}

	key := DefaultHumanInputKey
	switch n := node.(type) {
	case *HumanInputNode:
		key = n.InputKey()
	case *SubgraphNode:
		// The suspension came from inside the subgraph; the state's current
		// node is the inner human node that asked.
		if inner, found := n.Subgraph().nodes[st.CurrentNode]; found {
			if hin, isHuman := inner.(*HumanInputNode); isHuman {
				key = hin.InputKey()
			}
		}
	}
	st.AddUserInput(key, types.String(trimmed))
	st.AppendMessage(types.NewUserMessage(trimmed))
	_ = e.pending.Delete(ctx, id)

	if _, isSub := node.(*SubgraphNode); isSub {
		// Re-run the wrapper; completed inner stages and the answered human
		// node pass straight through.
		return e.walk(ctx, graph, p.Config, st, p.NodeName)
	}

	succ, ok := graph.Successor(p.NodeName)
	if !ok {
		return nil, types.NewErrorf(types.ErrInternal,
			"graph %s node %q has no successor to resume into", graph.Name(), p.NodeName)
	}
	return e.walk(ctx, graph, p.Config, st, succ)
}

// walk executes the graph from the given node until it finishes, suspends
// or exhausts the iteration bound.
func (e *Engine) walk(ctx context.Context, graph *Graph, cfg WorkflowConfig, st *State, current string) (*Outcome, error) {
	iterations := 0
	for {
		if err := ctx.Err(); err != nil {
			aerr := types.NewError(types.ErrRunCancelled, "run aborted by context").WithCause(err)
			e.failRun(context.WithoutCancel(ctx), st, aerr)
			return nil, aerr
		}
		if iterations >= e.maxRunIterations {
			return e.forceBoundResult(ctx, st), nil
		}
		iterations++

		node, ok := graph.Node(current)
		if !ok {
			err := types.NewErrorf(types.ErrInternal,
				"graph %s has no node %q", graph.Name(), current)
			e.failRun(ctx, st, err)
			return nil, err
		}

		e.emit(Event{
			Kind:      EventNodeEntered,
			RunID:     st.RunID,
			Workflow:  st.WorkflowName,
			Node:      current,
			Timestamp: time.Now(),
		})

		next, err := node.Execute(ctx, st)
		if err != nil {
			// Structural failure of the walk itself, not a stage-local one.
			e.logger.Error("graph execution aborted",
				zap.String("run_id", st.RunID),
				zap.String("node", current),
				zap.Error(err),
			)
			e.failRun(ctx, st, err)
			return nil, err
		}
		st = next

		if st.Finished {
			return e.finishRun(ctx, st), nil
		}
		if st.HumanInputRequired {
			return e.suspendRun(ctx, cfg, st, current)
		}

		if st.NextNode != "" {
			current = st.NextNode
			st.NextNode = ""
			continue
		}
		succ, ok := graph.Successor(current)
		if !ok || succ == TerminalName {
			err := types.NewErrorf(types.ErrInternal,
				"graph %s walk stuck at %q without finishing", graph.Name(), current)
			e.failRun(ctx, st, err)
			return nil, err
		}
		current = succ
	}
}

func (e *Engine) suspendRun(ctx context.Context, cfg WorkflowConfig, st *State, current string) (*Outcome, error) {
	p := &Pending{
		ID:        uuid.NewString(),
		Workflow:  st.WorkflowName,
		Config:    cfg,
		NodeName:  current,
		Prompt:    st.HumanInputPrompt,
		State:     st.Clone(),
		CreatedAt: time.Now(),
	}
	if err := e.pending.Save(ctx, p); err != nil {
		werr := types.NewError(types.ErrInternal, "failed to persist suspended run").WithCause(err)
		e.failRun(ctx, st, werr)
		return nil, werr
	}
	token, err := e.tokens.Issue(p.ID, st.WorkflowName)
	if err != nil {
		e.failRun(ctx, st, err)
		return nil, err
	}

	e.metrics.RunSuspended(st.WorkflowName)
	e.saveHistory(ctx, st, RunStatusSuspended, nil)
	e.emit(Event{
		Kind:      EventRunSuspended,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Node:      current,
		Message:   st.HumanInputPrompt,
		Timestamp: time.Now(),
	})
	e.logger.Info("workflow run suspended",
		zap.String("run_id", st.RunID),
		zap.String("workflow", st.WorkflowName),
		zap.String("node", current),
		zap.String("prompt", st.HumanInputPrompt),
	)

	return &Outcome{Suspension: &Suspension{
		Token:    token,
		RunID:    st.RunID,
		Workflow: st.WorkflowName,
		Prompt:   st.HumanInputPrompt,
	}}, nil
}

func (e *Engine) finishRun(ctx context.Context, st *State) *Outcome {
	res := resultFromState(st)
	status := RunStatusCompleted
	if !res.Success {
		status = RunStatusFailed
	}
	e.saveHistory(ctx, st, status, res)
	e.metrics.RunFinished(st.WorkflowName, res.Success, res.Duration)
	e.emit(Event{
		Kind:      EventRunFinished,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Timestamp: time.Now(),
	})
	e.logger.Info("workflow run finished",
		zap.String("run_id", st.RunID),
		zap.String("workflow", st.WorkflowName),
		zap.Bool("success", res.Success),
		zap.Duration("duration", res.Duration),
	)
	return &Outcome{Result: res}
}

func (e *Engine) cancelRun(ctx context.Context, st *State, reason string) *Outcome {
	res := resultFromState(st)
	res.Success = false
	res.Cancelled = true
	res.Errors = append(res.Errors, reason)

	e.saveHistory(ctx, st, RunStatusCancelled, res)
	e.metrics.RunFinished(st.WorkflowName, false, res.Duration)
	e.emit(Event{
		Kind:      EventRunCancelled,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Message:   reason,
		Timestamp: time.Now(),
	})
	e.logger.Info("workflow run cancelled",
		zap.String("run_id", st.RunID),
		zap.String("workflow", st.WorkflowName),
		zap.String("reason", reason),
	)
	return &Outcome{Result: res}
}

func (e *Engine) forceBoundResult(ctx context.Context, st *State) *Outcome {
	reason := fmt.Sprintf("run iteration limit exceeded (%d)", e.maxRunIterations)
	res := resultFromState(st)
	res.Success = false
	res.Errors = append(res.Errors, reason)

	e.saveHistory(ctx, st, RunStatusFailed, res)
	e.metrics.RunFinished(st.WorkflowName, false, res.Duration)
	e.emit(Event{
		Kind:      EventRunFinished,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Error:     reason,
		Timestamp: time.Now(),
	})
	e.logger.Warn("workflow run hit iteration bound",
		zap.String("run_id", st.RunID),
		zap.String("workflow", st.WorkflowName),
		zap.Int("limit", e.maxRunIterations),
	)
	return &Outcome{Result: res}
}

func (e *Engine) failRun(ctx context.Context, st *State, err error) {
	st.Errors = append(st.Errors, err.Error())
	res := resultFromState(st)
	res.Success = false
	e.saveHistory(ctx, st, RunStatusFailed, res)
	e.metrics.RunFinished(st.WorkflowName, false, res.Duration)
	e.emit(Event{
		Kind:      EventRunFinished,
		RunID:     st.RunID,
		Workflow:  st.WorkflowName,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

// resultFromState summarizes the state: the end node's result when present,
// otherwise the raw context bookkeeping.
func resultFromState(st *State) *Result {
	res := &Result{
		RunID:    st.RunID,
		Workflow: st.WorkflowName,
		Errors:   append([]string(nil), st.Errors...),
		Duration: time.Since(st.StartedAt),
	}
	if st.Result != nil {
		res.Success = st.Result.Success
		res.CompletedStages = append([]string(nil), st.Result.CompletedStages...)
		res.FailedStages = append([]string(nil), st.Result.FailedStages...)
		res.Outputs = copyValueMap(st.Result.StageOutputs)
		return res
	}
	res.CompletedStages = append([]string(nil), st.Context.CompletedStages...)
	res.FailedStages = append([]string(nil), st.Context.FailedStages...)
	res.Outputs = copyValueMap(st.Context.StageOutputs)
	return res
}

func (e *Engine) saveHistory(ctx context.Context, st *State, status RunStatus, res *Result) {
	if e.history == nil {
		return
	}
	rec := &RunRecord{
		RunID:           st.RunID,
		Workflow:        st.WorkflowName,
		Task:            st.Context.TaskDescription,
		Status:          status,
		CompletedStages: append([]string(nil), st.Context.CompletedStages...),
		FailedStages:    append([]string(nil), st.Context.FailedStages...),
		Errors:          append([]string(nil), st.Errors...),
		StartedAt:       st.StartedAt,
	}
	if res != nil {
		rec.Success = res.Success
		rec.Cancelled = res.Cancelled
		rec.CompletedStages = append([]string(nil), res.CompletedStages...)
		rec.FailedStages = append([]string(nil), res.FailedStages...)
		rec.Errors = append([]string(nil), res.Errors...)
		rec.FinishedAt = time.Now()
		rec.Duration = res.Duration
	}
	if err := e.history.Save(ctx, rec); err != nil {
		e.logger.Warn("failed to save run history",
			zap.String("run_id", st.RunID),
			zap.Error(err),
		)
	}
}

func (e *Engine) emit(ev Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}
