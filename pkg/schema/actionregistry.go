package schema

import (
	"fmt"
	"sync"

	xerrors "RigForge/internal/errors"
)

// Registry holds validated action definitions keyed by identifier. It is
// populated during startup, frozen, and strictly read-only afterwards, so
// lookups during execution need no coordination beyond the registry pointer.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	order  []string
	frozen bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Add registers a definition. The first registration of an identifier wins;
// a later one is rejected so built-in actions cannot be shadowed by accident.
func (r *Registry) Add(def *Definition) error {
	if def == nil || def.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "definition cannot be nil or unnamed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return xerrors.New(xerrors.CodeConflict, "action registry is frozen")
	}
	if _, exists := r.defs[def.ID]; exists {
		return xerrors.New(CodeDuplicateAction,
			fmt.Sprintf("action %q is already registered", def.ID),
			xerrors.WithMetadata("action", def.ID))
	}
	r.defs[def.ID] = def
	r.order = append(r.order, def.ID)
	return nil
}

// Freeze seals the registry against further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the registry has been sealed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("action %q is not registered", id))
	}
	return def, nil
}

// IDs returns the registered identifiers in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
