// Package risk implements the deterministic gate that every proposed
// signal must pass before delivery. The gate is the only component that
// can approve or reject a signal; agents may resubmit with adjusted
// parameters but never override a verdict. No rule performs I/O: the
// engine's caller supplies a snapshot of everything the rules read, so
// identical inputs always produce identical results.
package risk

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tessera-trading/advisor/internal/domain"
)

// Input is the complete snapshot a rule evaluates against. ApprovedToday
// is the count of signal.approved events already recorded on the
// evaluation day; the caller derives it from the event log so the rules
// themselves stay pure.
type Input struct {
	Signal        domain.Signal
	Portfolio     domain.PortfolioSummary
	ApprovedToday int
}

// Rule is one gate check. Evaluate must be deterministic and must not
// block or perform I/O.
type Rule interface {
	Name() string
	Evaluate(in Input) domain.RuleEvaluation
}

// Registry manages a named collection of rules and preserves their
// registration order, which is also the evaluation order. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
	order []string
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register adds a rule to the registry. If a rule with the same name
// already exists it is replaced in place, keeping its original position.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := rule.Name()
	if _, exists := r.rules[name]; !exists {
		r.order = append(r.order, name)
	}
	r.rules[name] = rule
}

// Get retrieves a rule by name. It returns an error when the name is
// not registered.
func (r *Registry) Get(name string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("risk: rule %q: not registered", name)
	}
	return rule, nil
}

// All returns the rules in registration order.
func (r *Registry) All() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.rules[name])
	}
	return out
}

// List returns the names of all registered rules in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for n := range r.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
