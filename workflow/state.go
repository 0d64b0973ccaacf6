package workflow

import (
	"fmt"
	"time"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// DefaultMaxStageIterations bounds model round-trips within a single stage.
const DefaultMaxStageIterations = 5

// Context carries the task-level bookkeeping every stage reads and extends.
type Context struct {
	TaskDescription string                 `json:"task_description"`
	CurrentStage    string                 `json:"current_stage,omitempty"`
	CompletedStages []string               `json:"completed_stages"`
	FailedStages    []string               `json:"failed_stages"`
	StageOutputs    map[string]types.Value `json:"stage_outputs"`
	UserInputs      map[string]types.Value `json:"user_inputs"`
	Metadata        map[string]types.Value `json:"metadata"`
}

// AgentRecord is one lazily-created role agent. Agents are created the first
// time a stage needs their role and reused by every later stage with the same
// role. The instance name encodes the creation order: "<role>_<index>".
type AgentRecord struct {
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Stages       []string  `json:"stages,omitempty"`
}

// StageMessage is one entry of the in-stage conversation scratchpad.
type StageMessage struct {
	Role      types.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

// RunResult is the terminal summary written exclusively by the end node.
// Success is true iff no stage failed.
type RunResult struct {
	Success         bool                   `json:"success"`
	CompletedStages []string               `json:"completed_stages"`
	FailedStages    []string               `json:"failed_stages"`
	StageOutputs    map[string]types.Value `json:"stage_outputs"`
}

// State is the full workflow execution state threaded through the node graph.
// Nodes never mutate their input: each node clones the state it receives and
// returns the clone, so a suspended run can be snapshotted at any node
// boundary and resumed later.
type State struct {
	RunID        string                  `json:"run_id"`
	WorkflowName string                  `json:"workflow_name"`
	StartedAt    time.Time               `json:"started_at"`
	Messages     []types.Message         `json:"messages"`
	Context      Context                 `json:"context"`
	Agents       map[string]*AgentRecord `json:"agents"`

	CurrentNode string     `json:"current_node,omitempty"`
	NextNode    string     `json:"next_node,omitempty"`
	Finished    bool       `json:"finished"`
	Result      *RunResult `json:"result,omitempty"`
	Errors      []string   `json:"errors"`

	HumanInputRequired   bool   `json:"human_input_required"`
	HumanInputPrompt     string `json:"human_input_prompt,omitempty"`
	AwaitingConfirmation bool   `json:"awaiting_confirmation"`

	StageIteration     int            `json:"stage_iteration"`
	StageConversation  []StageMessage `json:"stage_conversation,omitempty"`
	MaxStageIterations int            `json:"max_stage_iterations"`
}

// NewState creates the initial state for one workflow run.
func NewState(workflowName, taskDescription string) *State {
	return &State{
		WorkflowName: workflowName,
		StartedAt:    time.Now(),
		Messages:     []types.Message{types.NewUserMessage(taskDescription)},
		Context: Context{
			TaskDescription: taskDescription,
			CompletedStages: []string{},
			FailedStages:    []string{},
			StageOutputs:    map[string]types.Value{},
			UserInputs:      map[string]types.Value{},
			Metadata: map[string]types.Value{
				"workflow_name": types.String(workflowName),
			},
		},
		Agents:             map[string]*AgentRecord{},
		CurrentNode:        StartNodeName,
		Errors:             []string{},
		MaxStageIterations: DefaultMaxStageIterations,
	}
}

// Clone returns a deep copy. types.Value is immutable, so container copies
// are sufficient.
func (s *State) Clone() *State {
	out := *s

	out.Messages = append([]types.Message(nil), s.Messages...)
	out.Errors = append([]string(nil), s.Errors...)
	out.StageConversation = append([]StageMessage(nil), s.StageConversation...)

	out.Context.CompletedStages = append([]string(nil), s.Context.CompletedStages...)
	out.Context.FailedStages = append([]string(nil), s.Context.FailedStages...)
	out.Context.StageOutputs = copyValueMap(s.Context.StageOutputs)
	out.Context.UserInputs = copyValueMap(s.Context.UserInputs)
	out.Context.Metadata = copyValueMap(s.Context.Metadata)

	out.Agents = make(map[string]*AgentRecord, len(s.Agents))
	for role, rec := range s.Agents {
		cp := *rec
		cp.Stages = append([]string(nil), rec.Stages...)
		out.Agents[role] = &cp
	}

	if s.Result != nil {
		res := *s.Result
		res.CompletedStages = append([]string(nil), s.Result.CompletedStages...)
		res.FailedStages = append([]string(nil), s.Result.FailedStages...)
		res.StageOutputs = copyValueMap(s.Result.StageOutputs)
		out.Result = &res
	}

	return &out
}

// EnsureAgent returns the agent for role, creating it on first use. The
// instance name is fixed at creation from the number of agents that already
// exist, so the first agent of a run is always "<role>_0".
func (s *State) EnsureAgent(role, model, systemPrompt string) *AgentRecord {
	if rec, ok := s.Agents[role]; ok {
		return rec
	}
	rec := &AgentRecord{
		Name:         fmt.Sprintf("%s_%d", role, len(s.Agents)),
		Role:         role,
		Model:        model,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now(),
	}
	s.Agents[role] = rec
	return rec
}

// AppendMessage appends to the run-level message log.
func (s *State) AppendMessage(msg types.Message) {
	s.Messages = append(s.Messages, msg)
}

// AddStageOutput records a completed stage and its output.
func (s *State) AddStageOutput(stage string, output types.Value) {
	if s.Context.StageOutputs == nil {
		s.Context.StageOutputs = map[string]types.Value{}
	}
	s.Context.StageOutputs[stage] = output
	if !containsString(s.Context.CompletedStages, stage) {
		s.Context.CompletedStages = append(s.Context.CompletedStages, stage)
	}
}

// MarkStageFailed records a failed stage and its error.
func (s *State) MarkStageFailed(stage, message string) {
	if !containsString(s.Context.FailedStages, stage) {
		s.Context.FailedStages = append(s.Context.FailedStages, stage)
	}
	s.Errors = append(s.Errors, fmt.Sprintf("Stage %s: %s", stage, message))
}

// RequireHumanInput suspends the run until a user answer arrives.
func (s *State) RequireHumanInput(prompt string) {
	s.HumanInputRequired = true
	s.HumanInputPrompt = prompt
}

// AddUserInput stores a user-supplied value and clears the human-input flags.
func (s *State) AddUserInput(key string, value types.Value) {
	if s.Context.UserInputs == nil {
		s.Context.UserInputs = map[string]types.Value{}
	}
	s.Context.UserInputs[key] = value
	s.HumanInputRequired = false
	s.HumanInputPrompt = ""
}

// AppendStageMessage appends to the in-stage conversation scratchpad.
func (s *State) AppendStageMessage(role types.Role, content string) {
	s.StageConversation = append(s.StageConversation, StageMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// ClearStageScratch resets the per-stage iteration counter and conversation.
// Called when a stage completes or fails so the next stage starts clean.
func (s *State) ClearStageScratch() {
	s.StageIteration = 0
	s.StageConversation = nil
}

// StageLimit returns the effective per-stage iteration bound.
func (s *State) StageLimit() int {
	if s.MaxStageIterations > 0 {
		return s.MaxStageIterations
	}
	return DefaultMaxStageIterations
}

func copyValueMap(in map[string]types.Value) map[string]types.Value {
	out := make(map[string]types.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
