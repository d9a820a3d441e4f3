package authorization

import "fmt"

// Registry maps an authentication method name (as carried in a truth's
// method_name field) to the plugin instance serving it. One instance
// per method, shared across all requests.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds a Registry from a name -> Plugin map.
func NewRegistry(plugins map[string]Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for name, p := range plugins {
		r.plugins[name] = p
	}
	return r
}

// Lookup returns the plugin registered for name, or an error if the
// method is unknown.
func (r *Registry) Lookup(name string) (Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("authorization: unknown method %q", name)
	}
	return p, nil
}

// Methods returns the registered method names.
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}
