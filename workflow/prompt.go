package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// PromptBuilder assembles the system prompt and conversation for one stage
// round-trip. A token budget, when set, bounds how much of the in-stage
// conversation is replayed: oldest entries are dropped first.
type PromptBuilder struct {
	Roles   *RoleCatalogue
	Counter llm.TokenCounter
	Budget  int
}

// NewPromptBuilder creates a builder over the given role catalogue.
func NewPromptBuilder(roles *RoleCatalogue) *PromptBuilder {
	if roles == nil {
		roles = NewRoleCatalogue()
	}
	return &PromptBuilder{Roles: roles}
}

// System composes the stage system prompt: role prompt, stage description,
// tool catalogue and the directive protocol contract.
func (b *PromptBuilder) System(opts StageOptions, catalogue []types.ToolDescriptor) string {
	var sb strings.Builder

	base := opts.SystemPrompt
	if base == "" {
		base = b.Roles.Prompt(opts.Role)
	}
	sb.WriteString(base)

	if opts.Description != "" {
		fmt.Fprintf(&sb, "\n\nCurrent stage: %s - %s", opts.Name, opts.Description)
	} else {
		fmt.Fprintf(&sb, "\n\nCurrent stage: %s", opts.Name)
	}

	if len(opts.ToolServers) > 0 {
		visible := filterCatalogue(catalogue, opts.ToolServers)
		if len(visible) > 0 {
			sb.WriteString("\n\nAvailable tools:")
			for _, d := range visible {
				if d.Description != "" {
					fmt.Fprintf(&sb, "\n- %s: %s", d.QualifiedName(), d.Description)
				} else {
					fmt.Fprintf(&sb, "\n- %s", d.QualifiedName())
				}
			}
			sb.WriteString("\n\nTo call tools, reply with a single JSON object:\n")
			sb.WriteString(`{"tool_calls": [{"name": "<server>.<tool>", "parameters": {}}]}`)
		}
	}

	sb.WriteString("\n\nProtocol: when you need the user to verify collected data, write ")
	sb.WriteString(DirectiveConfirmData)
	sb.WriteString(": <question>. When an action needs explicit permission, write ")
	sb.WriteString(DirectiveRequestApproval)
	sb.WriteString(": <question>. When the stage is fully done, write ")
	sb.WriteString(DirectiveStageComplete)
	sb.WriteString(".")

	return sb.String()
}

// Conversation composes the messages for the round-trip: the task context
// followed by the replayed in-stage conversation.
func (b *PromptBuilder) Conversation(st *State, opts StageOptions) []types.Message {
	msgs := []types.Message{types.NewUserMessage(b.taskContext(st, opts))}
	msgs = append(msgs, b.replayStageConversation(st)...)
	return msgs
}

func (b *PromptBuilder) taskContext(st *State, opts StageOptions) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", st.Context.TaskDescription)
	fmt.Fprintf(&sb, "Current stage: %s", opts.Name)
	if opts.Description != "" {
		fmt.Fprintf(&sb, " (%s)", opts.Description)
	}
	sb.WriteString("\n")

	if len(st.Context.CompletedStages) > 0 {
		fmt.Fprintf(&sb, "Completed stages: %s\n", strings.Join(st.Context.CompletedStages, ", "))
	}
	if len(st.Context.FailedStages) > 0 {
		fmt.Fprintf(&sb, "Failed stages: %s\n", strings.Join(st.Context.FailedStages, ", "))
	}

	if len(st.Context.StageOutputs) > 0 {
		sb.WriteString("Stage outputs:\n")
		for _, stage := range st.Context.CompletedStages {
			if out, ok := st.Context.StageOutputs[stage]; ok {
				fmt.Fprintf(&sb, "- %s: %s\n", stage, truncate(out.Text(), 300))
			}
		}
	}

	if len(st.Context.UserInputs) > 0 {
		sb.WriteString("User inputs:\n")
		for _, key := range sortedKeys(st.Context.UserInputs) {
			fmt.Fprintf(&sb, "- %s: %s\n", key, truncate(st.Context.UserInputs[key].Text(), 200))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// replayStageConversation maps the scratchpad into provider messages,
// dropping oldest entries when a token budget is configured.
func (b *PromptBuilder) replayStageConversation(st *State) []types.Message {
	entries := st.StageConversation
	if len(entries) == 0 {
		return nil
	}

	if b.Budget > 0 {
		total := 0
		start := len(entries)
		for i := len(entries) - 1; i >= 0; i-- {
			total += b.countTokens(entries[i].Content)
			if total > b.Budget && start < len(entries) {
				break
			}
			start = i
		}
		entries = entries[start:]
	}

	msgs := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, types.NewMessage(e.Role, e.Content))
	}
	return msgs
}

func (b *PromptBuilder) countTokens(text string) int {
	if b.Counter != nil {
		if n, err := b.Counter.Count(text); err == nil {
			return n
		}
	}
	return llm.EstimateTokens(text)
}

func filterCatalogue(catalogue []types.ToolDescriptor, servers []string) []types.ToolDescriptor {
	var out []types.ToolDescriptor
	for _, d := range catalogue {
		if containsString(servers, d.Server) {
			out = append(out, d)
		}
	}
	return out
}

func sortedKeys(m map[string]types.Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
