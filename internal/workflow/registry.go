package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the compiled lifecycle of every document type.
type Registry struct {
	mu       sync.RWMutex
	machines map[DocType]*Machine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{machines: make(map[DocType]*Machine)}
}

// Register compiles and stores def.
func (r *Registry) Register(def Definition) error {
	m, err := Compile(def)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.machines[def.DocType]; exists {
		return fmt.Errorf("%w: %s already registered", ErrInvalidDefinition, def.DocType)
	}
	r.machines[def.DocType] = m
	return nil
}

// MustRegister panics when def is invalid. Used for static definitions.
func (r *Registry) MustRegister(defs ...Definition) *Registry {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Machine returns the compiled lifecycle for docType.
func (r *Registry) Machine(docType DocType) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[docType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocType, docType)
	}
	return m, nil
}

// DocTypes lists registered document types, sorted.
func (r *Registry) DocTypes() []DocType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]DocType, 0, len(r.machines))
	for t := range r.machines {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
