// Package dag loads the static step graph and orders it for execution.
package dag

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"etl-catalog/internal/domain"
)

// File is the YAML form of a DAG file.
type File struct {
	Include []string            `yaml:"include,omitempty"`
	Steps   map[string][]string `yaml:"steps"`
}

// Graph maps each step URI to the URIs it depends on. Dependencies are
// other steps or snapshots; snapshots are leaves and never steps.
type Graph struct {
	deps   map[string][]string
	source map[string]string // step -> declaring file
}

// New builds a graph from an in-memory step map.
func New(steps map[string][]string) *Graph {
	g := &Graph{deps: make(map[string][]string, len(steps)), source: make(map[string]string, len(steps))}
	for uri, deps := range steps {
		g.deps[uri] = slices.Clone(deps)
	}
	return g
}

// Load reads a DAG file and every file it includes. Include paths are
// relative to the including file. A step declared twice is an error.
func Load(path string) (*Graph, error) {
	g := &Graph{deps: make(map[string][]string), source: make(map[string]string)}
	if err := g.load(path, map[string]bool{}, map[string]bool{}); err != nil {
		return nil, err
	}
	return g, nil
}

// load reads one file. visiting holds the current include chain; loaded
// holds every file already read, so a file included twice is read once.
func (g *Graph) load(path string, visiting, loaded map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if visiting[abs] {
		return domain.ErrValidation("dag include cycle through %s", path)
	}
	if loaded[abs] {
		return nil
	}
	visiting[abs] = true
	defer delete(visiting, abs)
	loaded[abs] = true

	data, err := os.ReadFile(path) //nolint:gosec // dag paths come from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrNotFound("dag file %s does not exist", path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for _, uri := range sortedKeys(f.Steps) {
		if prev, dup := g.source[uri]; dup {
			return domain.ErrConflict("step %s is declared in both %s and %s", uri, prev, path)
		}
		g.deps[uri] = slices.Clone(f.Steps[uri])
		g.source[uri] = path
	}
	for _, inc := range f.Include {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := g.load(inc, visiting, loaded); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns every step URI in sorted order.
func (g *Graph) Steps() []string { return sortedKeys(g.deps) }

// Has reports whether uri is a declared step.
func (g *Graph) Has(uri string) bool {
	_, ok := g.deps[uri]
	return ok
}

// Dependencies returns the declared dependencies of uri in file order.
func (g *Graph) Dependencies(uri string) []string { return slices.Clone(g.deps[uri]) }

// Dependents returns the steps that directly depend on uri, sorted.
func (g *Graph) Dependents(uri string) []string {
	var out []string
	for step, deps := range g.deps {
		if slices.Contains(deps, uri) {
			out = append(out, step)
		}
	}
	sort.Strings(out)
	return out
}

// Source returns the file a step was declared in, or "" for in-memory graphs.
func (g *Graph) Source(uri string) string { return g.source[uri] }

// Validate checks every step and edge and returns all problems found:
// malformed URIs, snapshot URIs used as steps, self dependencies,
// dependencies on undeclared steps, steps sharing an output path, and
// cycles.
func (g *Graph) Validate() []error {
	var errs []error
	outputs := make(map[string]string)
	for _, step := range g.Steps() {
		u, err := domain.ParseURI(step)
		switch {
		case err != nil:
			errs = append(errs, err)
		case u.IsSnapshot():
			errs = append(errs, domain.ErrValidation("step %s: snapshots cannot be steps", step))
		default:
			if other, dup := outputs[u.Path()]; dup {
				errs = append(errs, domain.ErrConflict("steps %s and %s write the same output %s", other, step, u.Path()))
			} else {
				outputs[u.Path()] = step
			}
		}
		for _, dep := range g.deps[step] {
			d, err := domain.ParseURI(dep)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("step %s: %w", step, err))
			case dep == step:
				errs = append(errs, domain.ErrValidation("step %s depends on itself", step))
			case !d.IsSnapshot() && !g.Has(dep):
				errs = append(errs, domain.ErrValidation("step %s depends on undeclared step %s", step, dep))
			}
		}
	}
	if _, err := g.Tiers(g.Steps()); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Tiers orders steps with Kahn's algorithm. Steps in one tier depend only
// on steps of earlier tiers and can run concurrently. Only edges between
// the given steps count.
func (g *Graph) Tiers(steps []string) ([][]string, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	in := make(map[string]bool, len(steps))
	for _, s := range steps {
		in[s] = true
	}

	inDegree := make(map[string]int, len(in))
	dependents := make(map[string][]string)
	for s := range in {
		inDegree[s] = 0
	}
	for s := range in {
		for _, dep := range g.deps[s] {
			if !in[dep] || dep == s {
				continue
			}
			dependents[dep] = append(dependents[dep], s)
			inDegree[s]++
		}
	}

	var queue []string
	for s, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, s)
		}
	}

	var tiers [][]string
	processed := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		tiers = append(tiers, queue)
		processed += len(queue)

		var next []string
		for _, s := range queue {
			for _, d := range dependents[s] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		queue = next
	}

	if processed != len(in) {
		var stuck []string
		for s, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, s)
			}
		}
		sort.Strings(stuck)
		return nil, domain.ErrValidation("cycle detected among steps: %s", strings.Join(stuck, ", "))
	}
	return tiers, nil
}

// Upstream returns steps together with every step they transitively depend
// on, sorted. Snapshots are not included.
func (g *Graph) Upstream(steps ...string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(s string) {
		if seen[s] || !g.Has(s) {
			return
		}
		seen[s] = true
		for _, dep := range g.deps[s] {
			walk(dep)
		}
	}
	for _, s := range steps {
		walk(s)
	}
	return sortedKeys(seen)
}

// Downstream returns steps together with every step that transitively
// depends on them, sorted.
func (g *Graph) Downstream(steps ...string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(s string) {
		if seen[s] {
			return
		}
		seen[s] = true
		for _, d := range g.Dependents(s) {
			walk(d)
		}
	}
	for _, s := range steps {
		if g.Has(s) {
			walk(s)
		}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
