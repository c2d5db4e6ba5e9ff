package transcriber

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownBackend is returned when a selector names no configured target.
var ErrUnknownBackend = errors.New("unknown backend")

// Registry maps backend selectors ("whisper", "malaysia-whisper", ...) to targets.
type Registry struct {
	targets  map[string]Target
	fallback string
}

// NewRegistry builds a registry; fallback is used for an empty selector.
func NewRegistry(targets map[string]Target, fallback string) *Registry {
	r := &Registry{targets: make(map[string]Target, len(targets)), fallback: normalizeSelector(fallback)}
	for name, t := range targets {
		key := normalizeSelector(name)
		if t.Name == "" {
			t.Name = key
		}
		if t.Kind == "" {
			t.Kind = KindOpenAI
		}
		r.targets[key] = t
	}
	return r
}

// Resolve returns the target for selector. Selectors are matched
// case-insensitively with spaces and underscores treated as dashes, so
// "Malaysia Whisper" finds "malaysia-whisper".
func (r *Registry) Resolve(selector string) (Target, error) {
	key := normalizeSelector(selector)
	if key == "" {
		key = r.fallback
	}
	t, ok := r.targets[key]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownBackend, selector, strings.Join(r.Names(), ", "))
	}
	return t, nil
}

// Names lists the configured selectors in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeSelector(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(s)
}
