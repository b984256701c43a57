package schema

import (
	"context"
	"fmt"
	"sort"

	xerrors "RigForge/internal/errors"
)

// NodeResolver resolves node selectors against the caller's scene state.
// Selectors and the returned node references are opaque host identifiers.
type NodeResolver interface {
	ResolveNodes(ctx context.Context, selectors []string) ([]string, error)
}

// ParameterSet is a fully validated set of values for one action invocation:
// the definition's defaults merged with caller overrides, every declared
// attribute covered, every value canonical and within constraints. It is
// immutable once constructed.
type ParameterSet struct {
	def    *Definition
	values map[string]any
}

// NewParameterSet merges overrides into def's defaults and validates the
// result. Node lists are resolved through resolver; attributes marked
// required must resolve to at least one node. The overrides map is not
// retained or mutated.
func NewParameterSet(ctx context.Context, def *Definition, overrides map[string]any, types *TypeRegistry, resolver NodeResolver) (*ParameterSet, error) {
	if def == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "definition cannot be nil")
	}
	if types == nil {
		types = DefaultTypes()
	}

	values := def.Defaults()

	// Apply overrides in a stable order so the first reported failure is
	// deterministic.
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr, ok := def.Attribute(name)
		if !ok {
			return nil, xerrors.New(CodeUnknownAttribute,
				fmt.Sprintf("action %q declares no attribute %q", def.ID, name),
				xerrors.WithMetadata("action", def.ID),
				xerrors.WithMetadata("attribute", name))
		}
		handler, err := types.Resolve(attr.Type)
		if err != nil {
			return nil, err
		}
		coerced, err := handler.Coerce(overrides[name], attr)
		if err != nil {
			return nil, err
		}
		if err := handler.Validate(coerced, attr); err != nil {
			return nil, err
		}
		values[name] = coerced
	}

	// Node lists are resolved last: the required-non-empty policy depends on
	// caller-supplied scene state, not on the schema alone.
	for i := range def.Attributes {
		attr := &def.Attributes[i]
		if attr.Type != TypeNodeList {
			continue
		}
		selectors, _ := values[attr.Name].([]string)
		nodes := selectors
		if resolver != nil && len(selectors) > 0 {
			resolved, err := resolver.ResolveNodes(ctx, selectors)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeHostFailure, err,
					fmt.Sprintf("resolve nodes for attribute %q", attr.Name),
					xerrors.WithMetadata("attribute", attr.Name))
			}
			nodes = resolved
		}
		if attr.Required && len(nodes) == 0 {
			return nil, xerrors.New(CodeEmptyRequiredList,
				fmt.Sprintf("attribute %q requires at least one node", attr.Name),
				xerrors.WithMetadata("action", def.ID),
				xerrors.WithMetadata("attribute", attr.Name))
		}
		values[attr.Name] = nodes
	}

	return &ParameterSet{def: def, values: values}, nil
}

// ActionID returns the identifier of the action this set was built for.
func (p *ParameterSet) ActionID() string { return p.def.ID }

// Definition returns the schema the set was validated against.
func (p *ParameterSet) Definition() *Definition { return p.def }

// Values returns a copy of every attribute value keyed by name.
func (p *ParameterSet) Values() map[string]any {
	out := make(map[string]any, len(p.values))
	for name, value := range p.values {
		out[name] = cloneValue(value)
	}
	return out
}

// Bool returns a bool attribute value.
func (p *ParameterSet) Bool(name string) bool {
	v, _ := p.values[name].(bool)
	return v
}

// Int returns an int attribute value.
func (p *ParameterSet) Int(name string) int {
	v, _ := p.values[name].(int)
	return v
}

// Float returns a float attribute value.
func (p *ParameterSet) Float(name string) float64 {
	v, _ := p.values[name].(float64)
	return v
}

// String returns a string attribute value.
func (p *ParameterSet) String(name string) string {
	v, _ := p.values[name].(string)
	return v
}

// Option returns the selected index of an option attribute.
func (p *ParameterSet) Option(name string) int {
	v, _ := p.values[name].(int)
	return v
}

// OptionLabel returns the label selected by an option attribute.
func (p *ParameterSet) OptionLabel(name string) string {
	attr, ok := p.def.Attribute(name)
	if !ok {
		return ""
	}
	return attr.OptionLabel(p.Option(name))
}

// Nodes returns a copy of a nodelist attribute's resolved references.
func (p *ParameterSet) Nodes(name string) []string {
	v, _ := p.values[name].([]string)
	return append([]string(nil), v...)
}
