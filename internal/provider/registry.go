package provider

import (
	"fmt"
	"sort"
)

// Registry maps provider names to their plugins. Payment providers register
// under their fixed names (stripe, opencollective, gocardless); chain
// scanners register under the chain name they serve (gnosis, polygon, ...).
// The set is closed at construction time; there is no dynamic loading.
type Registry struct {
	plugins map[string]any
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]any)}
}

// Register adds a plugin under name. The plugin must implement Indexer or
// Scanner; registering a duplicate name or an unusable plugin is a
// programming error and panics at startup.
func (r *Registry) Register(name string, plugin any) {
	if _, dup := r.plugins[name]; dup {
		panic(fmt.Sprintf("provider: duplicate registration for %q", name))
	}
	switch plugin.(type) {
	case Indexer, Scanner:
	default:
		panic(fmt.Sprintf("provider: %q implements neither Indexer nor Scanner", name))
	}
	r.plugins[name] = plugin
}

// Lookup returns the plugin registered under name.
func (r *Registry) Lookup(name string) (any, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every plugin that owns background resources. The first
// error is returned; remaining plugins are still closed.
func (r *Registry) Close() error {
	var first error
	for name, p := range r.plugins {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = fmt.Errorf("closing provider %q: %w", name, err)
			}
		}
	}
	return first
}
