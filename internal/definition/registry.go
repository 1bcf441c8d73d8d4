package definition

import (
	"fmt"
	"sync"
)

// Registry holds loaded definitions, keyed by class and identifier.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Definition
	order []*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]*Definition),
	}
}

// Register adds def. It returns ErrDuplicateIdentifier if the identifier is
// already taken within the definition's class; the existing entry is kept.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := def.Key()
	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, key)
	}
	r.byKey[key] = def
	r.order = append(r.order, def)
	return nil
}

// Lookup returns the definition registered under name in class.
func (r *Registry) Lookup(class Class, name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byKey[Key(class, name)]
	return def, ok
}

// All returns every definition in registration order.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Definition, len(r.order))
	copy(result, r.order)
	return result
}

// Commands returns the command definitions in registration order.
func (r *Registry) Commands() []*Definition {
	return r.filter(ClassCommand)
}

// Components returns the component definitions in registration order.
func (r *Registry) Components() []*Definition {
	return r.filter(ClassComponent)
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) filter(class Class) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Definition
	for _, def := range r.order {
		if def.Class() == class {
			result = append(result, def)
		}
	}
	return result
}
