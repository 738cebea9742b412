package provider

import "sync"

// Factory constructs an adapter for one provider.
type Factory func() (Adapter, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register installs a factory for the given provider identifier.
// Idempotent: re-registering overwrites the previous factory and is never
// an error, so packages can register lazily on first use.
func Register(name string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

// Lookup returns the factory for name. The second result is false for
// unregistered providers; lookup never panics or errors.
func Lookup(name string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[name]
	return f, ok
}

// Open resolves name and instantiates its adapter.
func Open(name string) (Adapter, error) {
	f, ok := Lookup(name)
	if !ok {
		return nil, ErrNotRegistered
	}
	return f()
}

// Registered returns the identifiers with installed factories.
func Registered() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	return names
}
