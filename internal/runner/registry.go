// Package runner executes DAG steps in dependency order, at most once per
// version of their inputs.
package runner

import (
	"context"
	"sort"
	"sync"

	"etl-catalog/internal/dataset"
	"etl-catalog/internal/domain"
	"etl-catalog/internal/pathfinder"
)

// StepFunc builds the output dataset of one step. It must return the
// dataset unsaved; the runner stamps and saves it.
type StepFunc func(ctx context.Context, pf *pathfinder.PathFinder) (*dataset.Dataset, error)

// Step is a registered step implementation. Bumping Revision marks every
// previous build of the step as stale.
type Step struct {
	Run      StepFunc
	Revision string
}

// Registry maps step URIs to their implementations.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register adds a step implementation under uri.
func (r *Registry) Register(uri string, s Step) error {
	u, err := domain.ParseURI(uri)
	if err != nil {
		return err
	}
	if u.IsSnapshot() {
		return domain.ErrValidation("cannot register snapshot %s as a step", uri)
	}
	if s.Run == nil {
		return domain.ErrValidation("step %s has no run function", uri)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.steps[uri]; dup {
		return domain.ErrConflict("step %s is already registered", uri)
	}
	r.steps[uri] = s
	return nil
}

// MustRegister is Register for package-level step tables; it panics on error.
func (r *Registry) MustRegister(uri string, s Step) {
	if err := r.Register(uri, s); err != nil {
		panic(err)
	}
}

// Lookup returns the implementation of uri.
func (r *Registry) Lookup(uri string) (Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[uri]
	return s, ok
}

// URIs returns every registered step, sorted.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.steps))
	for uri := range r.steps {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}
