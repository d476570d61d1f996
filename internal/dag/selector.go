package dag

import (
	"sort"
	"strings"

	"etl-catalog/internal/domain"
)

// Select returns the steps matched by a selector, sorted.
// Supported syntax:
//   - "" or "*"          all steps
//   - "channel:garden"   all steps of a channel
//   - "namespace:who"    all steps of a namespace
//   - "<pattern>"        steps whose URI equals or contains pattern
//   - "<pattern>+"       matches and everything downstream of them
//   - "+<pattern>"       matches and everything upstream of them
//   - "+<pattern>+"      both directions
func (g *Graph) Select(selector string) ([]string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == "*" {
		return g.Steps(), nil
	}

	if c, ok := strings.CutPrefix(selector, "channel:"); ok {
		return g.filter(func(u domain.URI) bool { return string(u.Channel) == c }), nil
	}
	if ns, ok := strings.CutPrefix(selector, "namespace:"); ok {
		return g.filter(func(u domain.URI) bool { return u.Namespace == ns }), nil
	}

	upstream := strings.HasPrefix(selector, "+")
	downstream := strings.HasSuffix(selector, "+")
	pattern := strings.Trim(selector, "+")
	if pattern == "" {
		return nil, domain.ErrValidation("empty step selector %q", selector)
	}

	matches := g.match(pattern)
	if len(matches) == 0 {
		return nil, domain.ErrNotFound("no step matches %q", pattern)
	}

	selected := make(map[string]bool)
	for _, m := range matches {
		selected[m] = true
	}
	if upstream {
		for _, s := range g.Upstream(matches...) {
			selected[s] = true
		}
	}
	if downstream {
		for _, s := range g.Downstream(matches...) {
			selected[s] = true
		}
	}
	return sortedKeys(selected), nil
}

// match returns the exact URI when declared, otherwise every step whose URI
// contains pattern.
func (g *Graph) match(pattern string) []string {
	if g.Has(pattern) {
		return []string{pattern}
	}
	var out []string
	for _, s := range g.Steps() {
		if strings.Contains(s, pattern) {
			out = append(out, s)
		}
	}
	return out
}

func (g *Graph) filter(keep func(domain.URI) bool) []string {
	var out []string
	for _, s := range g.Steps() {
		u, err := domain.ParseURI(s)
		if err == nil && keep(u) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
