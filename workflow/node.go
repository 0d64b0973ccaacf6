package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// Reserved node names. Every compiled graph enters at StartNodeName and
// finishes at EndNodeName; TerminalName is the edge label after the end node,
// not a node itself.
const (
	StartNodeName = "start"
	EndNodeName   = "workflow_end"
	TerminalName  = "end"
)

// DefaultHumanInputKey is where a plain human-input answer lands in
// context.user_inputs when the node declares no key of its own.
const DefaultHumanInputKey = "human_response"

// Node is one executable unit of a compiled graph. Execute never mutates its
// input state: it clones, works on the clone and returns it.
type Node interface {
	Name() string
	Execute(ctx context.Context, state *State) (*State, error)
}

// StartNode stamps the run entry.
type StartNode struct {
	logger *zap.Logger
}

// NewStartNode creates the entry node.
func NewStartNode(logger *zap.Logger) *StartNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StartNode{logger: logger}
}

// Name returns the reserved entry name.
func (n *StartNode) Name() string { return StartNodeName }

// Execute acknowledges the run start.
func (n *StartNode) Execute(ctx context.Context, state *State) (*State, error) {
	st := state.Clone()
	st.CurrentNode = StartNodeName
	st.AppendMessage(types.NewSystemMessage(
		fmt.Sprintf("Workflow %s started", st.WorkflowName)).WithName(StartNodeName))
	n.logger.Info("workflow started",
		zap.String("workflow", st.WorkflowName),
		zap.String("task", st.Context.TaskDescription),
	)
	return st, nil
}

// EndNode computes the terminal result and marks the run finished. It is the
// only writer of State.Result.
type EndNode struct {
	logger *zap.Logger
}

// NewEndNode creates the terminal node.
func NewEndNode(logger *zap.Logger) *EndNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndNode{logger: logger}
}

// Name returns the reserved terminal name.
func (n *EndNode) Name() string { return EndNodeName }

// Execute summarizes the run. Success means no stage failed.
func (n *EndNode) Execute(ctx context.Context, state *State) (*State, error) {
	st := state.Clone()
	st.CurrentNode = EndNodeName
	st.Result = &RunResult{
		Success:         len(st.Context.FailedStages) == 0,
		CompletedStages: append([]string(nil), st.Context.CompletedStages...),
		FailedStages:    append([]string(nil), st.Context.FailedStages...),
		StageOutputs:    copyValueMap(st.Context.StageOutputs),
	}
	st.Finished = true
	st.AppendMessage(types.NewSystemMessage("Workflow finished").WithName(EndNodeName))
	n.logger.Info("workflow finished",
		zap.String("workflow", st.WorkflowName),
		zap.Bool("success", st.Result.Success),
		zap.Int("completed", len(st.Result.CompletedStages)),
		zap.Int("failed", len(st.Result.FailedStages)),
	)
	return st, nil
}

// AgentNode runs one stage through the stage protocol. Failures of skippable
// stages are swallowed; others are recorded and the walk continues.
type AgentNode struct {
	name   string
	opts   StageOptions
	runner *StageRunner
	logger *zap.Logger
}

// NewAgentNode creates a stage node.
func NewAgentNode(opts StageOptions, runner *StageRunner, logger *zap.Logger) *AgentNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentNode{name: opts.Name, opts: opts, runner: runner, logger: logger}
}

// Name returns the stage name.
func (n *AgentNode) Name() string { return n.name }

// Options returns the stage configuration.
func (n *AgentNode) Options() StageOptions { return n.opts }

// Execute runs the stage protocol on a clone of the input state.
func (n *AgentNode) Execute(ctx context.Context, state *State) (*State, error) {
	st := state.Clone()
	st.CurrentNode = n.name

	result, err := n.runner.Run(ctx, st, n.opts)
	if err == nil {
		return result, nil
	}

	if n.opts.Skippable {
		n.logger.Warn("skippable stage failed, continuing",
			zap.String("stage", n.name),
			zap.Error(err),
		)
		skipped := state.Clone()
		skipped.CurrentNode = n.name
		skipped.ClearStageScratch()
		return skipped, nil
	}

	n.logger.Error("stage failed",
		zap.String("stage", n.name),
		zap.Error(err),
	)
	result.MarkStageFailed(n.name, failureMessage(err))
	return result, nil
}

// HumanInputNode suspends the run for one free-form user answer. The walk
// does not advance past it until the answer arrives.
type HumanInputNode struct {
	name     string
	prompt   string
	inputKey string
	logger   *zap.Logger
}

// NewHumanInputNode creates a human-input node. An empty inputKey falls back
// to DefaultHumanInputKey.
func NewHumanInputNode(name, prompt, inputKey string, logger *zap.Logger) *HumanInputNode {
	if inputKey == "" {
		inputKey = DefaultHumanInputKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HumanInputNode{name: name, prompt: prompt, inputKey: inputKey, logger: logger}
}

// Name returns the node name.
func (n *HumanInputNode) Name() string { return n.name }

// InputKey returns the user_inputs key the answer is stored under.
func (n *HumanInputNode) InputKey() string { return n.inputKey }

// Execute flags the run as waiting for input. An already answered node
// passes through, so re-entering a subgraph after a resume does not suspend
// again. Multiple human nodes inside one subgraph need distinct input keys.
func (n *HumanInputNode) Execute(ctx context.Context, state *State) (*State, error) {
	st := state.Clone()
	st.CurrentNode = n.name
	if _, answered := st.Context.UserInputs[n.inputKey]; answered {
		n.logger.Debug("human input already satisfied",
			zap.String("node", n.name),
			zap.String("input_key", n.inputKey),
		)
		return st, nil
	}
	st.RequireHumanInput(n.prompt)
	n.logger.Info("human input requested",
		zap.String("node", n.name),
		zap.String("prompt", n.prompt),
	)
	return st, nil
}

// Predicate examines the state and picks the conditional branch.
type Predicate func(*State) (bool, error)

// ConditionalNode routes the walk to one of two targets. A predicate error
// is recorded as a stage failure and the walk falls through to the node's
// static successor.
type ConditionalNode struct {
	name        string
	predicate   Predicate
	trueTarget  string
	falseTarget string
	logger      *zap.Logger
}

// NewConditionalNode creates a conditional routing node.
func NewConditionalNode(name string, predicate Predicate, trueTarget, falseTarget string, logger *zap.Logger) *ConditionalNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConditionalNode{
		name:        name,
		predicate:   predicate,
		trueTarget:  trueTarget,
		falseTarget: falseTarget,
		logger:      logger,
	}
}

// Name returns the node name.
func (n *ConditionalNode) Name() string { return n.name }

// Targets returns the true and false branch targets.
func (n *ConditionalNode) Targets() (string, string) { return n.trueTarget, n.falseTarget }

// Execute evaluates the predicate and sets next_node accordingly.
func (n *ConditionalNode) Execute(ctx context.Context, state *State) (*State, error) {
	st := state.Clone()
	st.CurrentNode = n.name

	ok, err := n.predicate(st)
	if err != nil {
		n.logger.Warn("conditional predicate failed",
			zap.String("node", n.name),
			zap.Error(err),
		)
		st.MarkStageFailed(n.name, err.Error())
		return st, nil
	}

	if ok {
		st.NextNode = n.trueTarget
	} else {
		st.NextNode = n.falseTarget
	}
	n.logger.Debug("conditional routed",
		zap.String("node", n.name),
		zap.Bool("condition", ok),
		zap.String("next", st.NextNode),
	)
	return st, nil
}

func failureMessage(err error) string {
	if te, ok := err.(*types.Error); ok {
		return te.Message
	}
	return err.Error()
}
