package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages a named collection of agents that can be looked up
// at runtime. It is safe for concurrent use.
type Registry struct {
	agents map[string]Agent
	mu     sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent to the registry under its own name. If an
// agent with the same name already exists it will be replaced.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Get retrieves an agent by name. It returns an error when the name is
// not registered.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: not registered", name)
	}
	return a, nil
}

// List returns the names of all registered agents in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
