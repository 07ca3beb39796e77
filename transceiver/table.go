package transceiver

import (
	"fmt"
	"sync"
)

// A Table collects the declared functions in declaration order.
type Table struct {
	lock      sync.RWMutex
	functions []*Function
	byName    map[string]*Function
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byName: make(map[string]*Function)}
}

// Register adds a function. Names must be unique.
func (t *Table) Register(f *Function) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, exists := t.byName[f.name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFunction, f.name)
	}

	t.functions = append(t.functions, f)
	t.byName[f.name] = f

	return nil
}

// Get returns a function by name.
func (t *Table) Get(name string) (*Function, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	f, ok := t.byName[name]

	return f, ok
}

// Functions returns the functions in declaration order.
func (t *Table) Functions() []*Function {
	t.lock.RLock()
	defer t.lock.RUnlock()

	functions := make([]*Function, len(t.functions))
	copy(functions, t.functions)

	return functions
}

// Len returns the number of functions.
func (t *Table) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.functions)
}

// CheckEngines verifies that every engine named by a declaration exists.
func (t *Table) CheckEngines(exists func(name string) bool) error {
	for _, f := range t.Functions() {
		if !exists(f.target) {
			return fmt.Errorf("%w: function %q targets unknown engine %q",
				ErrInvalidDeclaration, f.name, f.target)
		}

		for _, s := range f.sources {
			engine := s.Engine()
			if engine != "" && !exists(engine) {
				return fmt.Errorf(
					"%w: function %q source %q reads unknown engine %q",
					ErrInvalidDeclaration, f.name, s.Keyword, engine)
			}
		}
	}

	return nil
}
