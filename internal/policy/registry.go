package policy

import (
	"fmt"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// Registry holds the monitoring targets in evaluation order.
// A process belongs to the first target that accepts it.
type Registry struct {
	targets []domain.MonitorTarget
	index   map[string]int
}

// NewRegistry creates a registry with the default presets.
func NewRegistry() *Registry {
	r, _ := NewRegistryWithTargets(DefaultTargets()...)
	return r
}

// NewRegistryWithTargets creates a registry with custom targets.
func NewRegistryWithTargets(targets ...domain.MonitorTarget) (*Registry, error) {
	r := &Registry{
		index: make(map[string]int, len(targets)),
	}
	for _, t := range targets {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a target. Names must be unique.
func (r *Registry) Register(t domain.MonitorTarget) error {
	if t.Name == "" {
		return fmt.Errorf("target name must not be empty")
	}
	if _, dup := r.index[t.Name]; dup {
		return fmt.Errorf("duplicate target %q", t.Name)
	}
	r.index[t.Name] = len(r.targets)
	r.targets = append(r.targets, t)
	return nil
}

// Get returns a target by name.
func (r *Registry) Get(name string) (domain.MonitorTarget, bool) {
	i, ok := r.index[name]
	if !ok {
		return domain.MonitorTarget{}, false
	}
	return r.targets[i], true
}

// GetAll returns all targets in registry order.
func (r *Registry) GetAll() []domain.MonitorTarget {
	out := make([]domain.MonitorTarget, len(r.targets))
	copy(out, r.targets)
	return out
}

// List returns target names in registry order.
func (r *Registry) List() []string {
	names := make([]string, len(r.targets))
	for i, t := range r.targets {
		names[i] = t.Name
	}
	return names
}

// Len returns the number of targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// Classify implements domain.Classifier with first-match-wins.
func (r *Registry) Classify(p domain.ProcessInfo) (string, bool) {
	for _, t := range r.targets {
		if t.Accepts(p) {
			return t.Name, true
		}
	}
	return "", false
}

// Ensure Registry implements domain.Classifier.
var _ domain.Classifier = (*Registry)(nil)
