package engine

import (
	"fmt"
	"slices"
	"sync"
)

// A Factory creates an adapter for an engine configuration.
type Factory func(cfg Config) (Adapter, error)

// ScriptFactory turns a script constructor into a Factory.
func ScriptFactory(newScript func(cfg Config) Script) Factory {
	return func(cfg Config) (Adapter, error) {
		return NewScriptAdapter(newScript(cfg)), nil
	}
}

// A Catalog maps engine types to factories.
type Catalog struct {
	lock      sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory for an engine type.
func (c *Catalog) Register(engineType string, f Factory) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, exists := c.factories[engineType]; exists {
		panic("engine type " + engineType + " already registered")
	}

	c.factories[engineType] = f
}

// Types returns the registered engine types in sorted order.
func (c *Catalog) Types() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	types := make([]string, 0, len(c.factories))
	for t := range c.factories {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Build creates the adapter of an engine configuration.
func (c *Catalog) Build(cfg Config) (Adapter, error) {
	c.lock.RLock()
	f, ok := c.factories[cfg.Type]
	c.lock.RUnlock()

	if !ok {
		return nil, fmt.Errorf("engine %q: unknown engine type %q",
			cfg.Name, cfg.Type)
	}

	return f(cfg)
}
