package workflow

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// SubgraphFactory builds a subgraph instance on demand. Factories let hosts
// register fragments whose construction needs runtime collaborators without
// paying for instantiation until a workflow references them.
type SubgraphFactory func() (*Subgraph, error)

// SubgraphQuery filters the registry. Filters are AND-ed together; within
// one filter, any listed value may match.
type SubgraphQuery struct {
	Inputs   []string
	Outputs  []string
	Keywords []string
}

// Registry holds registered subgraphs and factories by unique name. It is
// read-heavy: the run loop resolves names concurrently with administrative
// registrations from the hosting application.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Subgraph
	factories map[string]SubgraphFactory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		instances: map[string]*Subgraph{},
		factories: map[string]SubgraphFactory{},
		logger:    logger.With(zap.String("component", "subgraph_registry")),
	}
}

// Register adds a subgraph instance under its name.
func (r *Registry) Register(sub *Subgraph) error {
	if sub == nil {
		return types.NewError(types.ErrGraphCompilation, "cannot register nil subgraph")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(sub.name) {
		return types.NewErrorf(types.ErrGraphCompilation, "subgraph %q already registered", sub.name)
	}
	r.instances[sub.name] = sub
	r.logger.Info("subgraph registered", zap.String("name", sub.name))
	return nil
}

// RegisterFactory adds a lazily-built subgraph under the given name.
func (r *Registry) RegisterFactory(name string, factory SubgraphFactory) error {
	if factory == nil {
		return types.NewError(types.ErrGraphCompilation, "cannot register nil subgraph factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(name) {
		return types.NewErrorf(types.ErrGraphCompilation, "subgraph %q already registered", name)
	}
	r.factories[name] = factory
	r.logger.Info("subgraph factory registered", zap.String("name", name))
	return nil
}

func (r *Registry) taken(name string) bool {
	if _, ok := r.instances[name]; ok {
		return true
	}
	_, ok := r.factories[name]
	return ok
}

// Get resolves a subgraph by name, building and caching a factory product on
// first use.
func (r *Registry) Get(name string) (*Subgraph, error) {
	r.mu.RLock()
	if sub, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return sub, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownSubgraph, "unknown subgraph %q", name)
	}

	sub, err := factory()
	if err != nil {
		return nil, types.NewErrorf(types.ErrGraphCompilation,
			"subgraph factory %q failed", name).WithCause(err)
	}
	if sub == nil {
		return nil, types.NewErrorf(types.ErrGraphCompilation,
			"subgraph factory %q returned nil", name)
	}

	r.mu.Lock()
	r.instances[name] = sub
	r.mu.Unlock()
	return sub, nil
}

// List returns all registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instances)+len(r.factories))
	for name := range r.instances {
		out = append(out, name)
	}
	for name := range r.factories {
		if _, ok := r.instances[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Search returns the subgraphs matching the query, sorted by name. Factory
// entries are instantiated to inspect their declared inputs and outputs;
// a failing factory is skipped.
func (r *Registry) Search(query SubgraphQuery) []*Subgraph {
	var out []*Subgraph
	for _, name := range r.List() {
		sub, err := r.Get(name)
		if err != nil {
			r.logger.Warn("skipping unresolvable subgraph in search",
				zap.String("name", name),
				zap.Error(err),
			)
			continue
		}
		if matchesQuery(sub, query) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func matchesQuery(sub *Subgraph, q SubgraphQuery) bool {
	if len(q.Inputs) > 0 && !anyOverlap(sub.inputs, q.Inputs) {
		return false
	}
	if len(q.Outputs) > 0 && !anyOverlap(sub.outputs, q.Outputs) {
		return false
	}
	if len(q.Keywords) > 0 {
		text := strings.ToLower(sub.name + " " + sub.description)
		found := false
		for _, kw := range q.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func anyOverlap(have, want []string) bool {
	for _, w := range want {
		if containsString(have, w) {
			return true
		}
	}
	return false
}

// ValidateChain reports whether the named subgraphs can run in order, each
// one's inputs satisfied by outputs of subgraphs earlier in the chain.
// Unknown names yield false rather than an error so callers can offer
// alternatives.
func (r *Registry) ValidateChain(names []string) bool {
	return r.ValidateChainWith(nil, names)
}

// ValidateChainWith is ValidateChain with a set of externally provided keys
// counted as already available before the first subgraph runs.
func (r *Registry) ValidateChainWith(initial []string, names []string) bool {
	available := map[string]bool{}
	for _, key := range initial {
		available[key] = true
	}

	for _, name := range names {
		sub, err := r.Get(name)
		if err != nil {
			return false
		}
		for _, in := range sub.inputs {
			if !available[in] {
				return false
			}
		}
		for _, out := range sub.outputs {
			available[out] = true
		}
	}
	return true
}
