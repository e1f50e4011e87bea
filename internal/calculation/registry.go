package calculation

import (
	"sort"
	"sync"

	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// MergePolicy states whether a strategy's results can be rebuilt from chunk partials.
type MergePolicy int

const (
	// FullPass strategies need the whole dataset at once (percentiles, group splits, correlations).
	FullPass MergePolicy = iota
	// Mergeable strategies combine chunk partials by addition, count-weighted means,
	// pooled moments and merged sorted sequences.
	Mergeable
)

func (p MergePolicy) String() string {
	if p == Mergeable {
		return "mergeable"
	}
	return "full_pass"
}

// Registration is one entry of the registry.
type Registration struct {
	Name     string
	Strategy Strategy
	Policy   MergePolicy
}

// Registry maps strategy names to implementations. Registration is explicit so the
// active metric set is always enumerable.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]Registration{}}
}

// NewDefaultRegistry registers every built-in strategy with its merge classification.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	defaults := []Registration{
		{Name: StrategyBasic, Strategy: BasicStatistics{}, Policy: Mergeable},
		{Name: StrategyPercentiles, Strategy: Percentile{}, Policy: FullPass},
		{Name: StrategyDifficulty, Strategy: Difficulty{}, Policy: Mergeable},
		{Name: StrategyDiscrimination, Strategy: Discrimination{}, Policy: FullPass},
		{Name: StrategyGradeDistribution, Strategy: GradeDistribution{}, Policy: Mergeable},
		{Name: StrategyDimensions, Strategy: DimensionAggregator{}, Policy: FullPass},
		{Name: StrategyFrequency, Strategy: FrequencyAnalysis{}, Policy: FullPass},
	}
	for _, d := range defaults {
		if err := r.Register(d.Name, d.Strategy, d.Policy); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a strategy. A Mergeable policy is rejected unless the strategy can
// produce chunk partials, so merge incompatibilities surface at startup.
func (r *Registry) Register(name string, s Strategy, policy MergePolicy) error {
	if name == "" || s == nil {
		return appErrors.Clone(appErrors.ErrValidation, "strategy name and implementation are required")
	}
	if policy == Mergeable {
		if _, ok := s.(Accumulator); !ok {
			return appErrors.Clonef(appErrors.ErrMergeIncompatible, "strategy %s cannot be registered as mergeable without chunk partials", name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return appErrors.Clonef(appErrors.ErrValidation, "strategy %s already registered", name)
	}
	r.entries[name] = Registration{Name: name, Strategy: s, Policy: policy}
	return nil
}

// Unregister removes a strategy and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

// Lookup returns the registration of name.
func (r *Registry) Lookup(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return Registration{}, appErrors.Clonef(appErrors.ErrUnknownStrategy, "strategy %q is not registered", name)
	}
	return reg, nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return reg.Strategy, nil
}

// Names lists the registered strategies in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
