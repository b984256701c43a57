package schema

import (
	"fmt"
	"sync"

	xerrors "RigForge/internal/errors"
)

// TypeRegistry maps attribute type names to their handlers. Registration is
// purely additive and expected to happen at process start; there is no
// removal API.
type TypeRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewTypeRegistry returns an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{handlers: make(map[string]Handler)}
}

// DefaultTypes returns a registry pre-populated with the built-in attribute
// types: bool, int, float, string, option and nodelist.
func DefaultTypes() *TypeRegistry {
	r := NewTypeRegistry()
	for _, h := range []Handler{
		boolType{},
		intType{},
		floatType{},
		stringType{},
		optionType{},
		nodeListType{},
	} {
		if err := r.Register(h); err != nil {
			// Built-in names are unique; a collision here is a programming error.
			panic(err)
		}
	}
	return r
}

// Register adds a handler under its type name. Registering the same name
// twice is rejected so a custom type cannot shadow a built-in one.
func (r *TypeRegistry) Register(h Handler) error {
	if h == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "type handler cannot be nil")
	}
	name := h.Name()
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "type handler name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("attribute type %q already registered", name))
	}
	r.handlers[name] = h
	return nil
}

// Resolve returns the handler registered for the given type name.
func (r *TypeRegistry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, xerrors.New(CodeUnknownAttributeType,
			fmt.Sprintf("attribute type %q is not registered", name),
			xerrors.WithMetadata("type", name))
	}
	return h, nil
}

// Names returns the registered type names in no particular order.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
