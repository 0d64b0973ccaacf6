package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// builtinRolePrompts seeds the catalogue with the stock agent roles.
var builtinRolePrompts = map[string]string{
	"architect": "You are a software architect agent. Design the structure for the current stage: " +
		"components, interfaces and data flow. State trade-offs explicitly and keep the design minimal.",
	"developer": "You are a senior developer agent. Produce a concrete, complete solution for the " +
		"current stage. Prefer working detail over generalities and call out assumptions you make.",
	"planner": "You are a planning agent. Break the task into ordered, verifiable steps for the " +
		"current stage, collect any missing facts first and present the plan compactly.",
	"analyst": "You are an analyst agent. Gather and verify the facts the current stage needs, " +
		"compare options with explicit criteria and summarize findings with their sources.",
	"tester": "You are a testing agent. Probe the work of earlier stages for gaps, edge cases and " +
		"contradictions. Report each finding with a concrete reproduction or counterexample.",
	"reviewer": "You are a review agent. Critically assess the output of earlier stages against the " +
		"task description and list required corrections in priority order.",
	"devops": "You are a devops agent. Handle deployment, environment and operational concerns for " +
		"the current stage, favouring reproducible, scriptable steps.",
	"security_expert": "You are a security expert agent. Review the current stage for unsafe " +
		"handling of data, secrets and external input, and propose the smallest effective fix.",
	"technical_writer": "You are a technical writer agent. Turn the material of earlier stages " +
		"into clear, structured prose for the intended reader, preserving every technical fact.",
}

// RoleCatalogue maps agent roles to base system prompts. Unknown roles get a
// generic prompt built from the role name, so a workflow may invent roles
// without registering them first.
type RoleCatalogue struct {
	mu      sync.RWMutex
	prompts map[string]string
}

// NewRoleCatalogue returns a catalogue seeded with the builtin roles.
func NewRoleCatalogue() *RoleCatalogue {
	prompts := make(map[string]string, len(builtinRolePrompts))
	for role, prompt := range builtinRolePrompts {
		prompts[role] = prompt
	}
	return &RoleCatalogue{prompts: prompts}
}

// Register adds or replaces the prompt for a role.
func (c *RoleCatalogue) Register(role, prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[role] = prompt
}

// Prompt returns the system prompt for a role.
func (c *RoleCatalogue) Prompt(role string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.prompts[role]; ok {
		return p
	}
	return fmt.Sprintf("You are the %s agent of a multi-stage workflow. Complete the current stage "+
		"carefully and state your conclusions explicitly.", role)
}

// Roles returns the registered role names in sorted order.
func (c *RoleCatalogue) Roles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.prompts))
	for role := range c.prompts {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// ModelSelector picks the model for an agent: the agent's own preference
// wins, then roles listed as expensive get the expensive model, everything
// else gets the default.
type ModelSelector struct {
	Default        string
	Expensive      string
	ExpensiveRoles []string
}

// ModelFor returns the model name for the agent.
func (s ModelSelector) ModelFor(agent *AgentRecord) string {
	if agent != nil && agent.Model != "" {
		return agent.Model
	}
	if agent != nil && s.Expensive != "" && containsString(s.ExpensiveRoles, agent.Role) {
		return s.Expensive
	}
	return s.Default
}

// Providers resolves model names to providers. A fallback provider serves
// every model without an explicit registration, which is the common
// single-provider setup.
type Providers struct {
	mu       sync.RWMutex
	byModel  map[string]llm.Provider
	fallback llm.Provider
}

// NewProviders creates a registry with the given fallback provider.
func NewProviders(fallback llm.Provider) *Providers {
	return &Providers{
		byModel:  make(map[string]llm.Provider),
		fallback: fallback,
	}
}

// Register binds a model name to a provider.
func (p *Providers) Register(model string, provider llm.Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byModel[model] = provider
}

// Resolve returns the provider for a model name.
func (p *Providers) Resolve(model string) (llm.Provider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if provider, ok := p.byModel[model]; ok {
		return provider, nil
	}
	if p.fallback != nil {
		return p.fallback, nil
	}
	return nil, types.NewErrorf(types.ErrProviderUnavailable, "no provider registered for model %q", model)
}

// Models returns the explicitly registered model names in sorted order.
func (p *Providers) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byModel))
	for model := range p.byModel {
		out = append(out, model)
	}
	sort.Strings(out)
	return out
}
