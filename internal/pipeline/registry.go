package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds stage implementations keyed by name, remembering the order
// they were registered in for deterministic tie-breaking.
type Registry struct {
	mu     sync.RWMutex
	stages map[StageName]Stage
	index  map[StageName]int
	order  []StageName
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[StageName]Stage),
		index:  make(map[StageName]int),
	}
}

// Register adds stage to the registry. Names must be known and unique.
// Dependencies are checked at resolve time so stages can register in any order.
func (r *Registry) Register(stage Stage) error {
	if stage == nil {
		return configError("register", "nil stage")
	}
	name := stage.Name()
	if !name.Valid() {
		return configError("register", fmt.Sprintf("unknown stage name %q", name), name)
	}
	for _, dep := range stage.DependsOn() {
		if !dep.Valid() {
			return configError("register", fmt.Sprintf("stage %s depends on unknown name %q", name, dep), name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stages[name]; exists {
		return configError("register", "duplicate stage name", name)
	}
	r.stages[name] = stage
	r.index[name] = len(r.order)
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers stages and panics on error. Intended for wiring the
// builtin catalogue at startup.
func (r *Registry) MustRegister(stages ...Stage) {
	for _, stage := range stages {
		if err := r.Register(stage); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the stage registered under name.
func (r *Registry) Lookup(name StageName) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Names returns registered stage names in registration order.
func (r *Registry) Names() []StageName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageName, len(r.order))
	copy(out, r.order)
	return out
}

// ResolveOrder returns the requested stages plus their transitive
// dependencies as a linear extension of the dependency order. Among stages
// that are ready at the same time the earliest registered wins, so the same
// input always yields the same order. An empty request resolves every
// registered stage.
func (r *Registry) ResolveOrder(requested []StageName) ([]Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(requested) == 0 {
		requested = r.order
	}

	included := make(map[StageName]bool)
	var visit func(name StageName, from StageName) error
	visit = func(name StageName, from StageName) error {
		if included[name] {
			return nil
		}
		stage, ok := r.stages[name]
		if !ok {
			if from == "" {
				return configError("resolve", "requested stage is not registered", name)
			}
			return configError("resolve", fmt.Sprintf("stage %s depends on unregistered stage %s", from, name), from, name)
		}
		included[name] = true
		for _, dep := range stage.DependsOn() {
			if err := visit(dep, name); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range requested {
		if err := visit(name, ""); err != nil {
			return nil, err
		}
	}

	indegree := make(map[StageName]int, len(included))
	dependents := make(map[StageName][]StageName, len(included))
	for name := range included {
		seen := make(map[StageName]bool)
		for _, dep := range r.stages[name].DependsOn() {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []StageName
	for name := range included {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	ordered := make([]Stage, 0, len(included))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return r.index[ready[i]] < r.index[ready[j]] })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, r.stages[next])
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(included) {
		var cyclic []StageName
		for name := range included {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Slice(cyclic, func(i, j int) bool { return r.index[cyclic[i]] < r.index[cyclic[j]] })
		return nil, configError("resolve", "dependency cycle", cyclic...)
	}
	return ordered, nil
}

// Validate resolves the full registered graph, surfacing cycles and
// dangling references without running anything.
func (r *Registry) Validate() error {
	_, err := r.ResolveOrder(nil)
	return err
}
