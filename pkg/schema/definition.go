package schema

// Attribute is one declared parameter of an action: its type, default value
// and constraints. Instances are built by the Loader and never mutated
// afterwards.
type Attribute struct {
	// Name is unique within the owning action.
	Name string
	// Description is the artist-facing help text.
	Description string
	// Type names the handler in the type registry.
	Type string
	// Default is the canonical default value produced by the type handler.
	Default any
	// Min and Max bound numeric types when present.
	Min *float64
	Max *float64
	// Options is the ordered choice list for option-typed attributes.
	Options []string
	// Advanced hides the attribute behind the advanced toggle in the UI layer.
	Advanced bool
	// Required marks a nodelist attribute that must resolve to at least one
	// node at invocation time.
	Required bool
}

// HasBounds reports whether the attribute declares at least one bound.
func (a *Attribute) HasBounds() bool {
	return a.Min != nil || a.Max != nil
}

// OptionLabel returns the label for an option index, or "" when out of range.
func (a *Attribute) OptionLabel(index int) string {
	if index < 0 || index >= len(a.Options) {
		return ""
	}
	return a.Options[index]
}

// Definition is the validated schema for one action. Definitions are
// constructed once at load time and immutable thereafter.
type Definition struct {
	// ID is the action identifier, unique across the action registry.
	ID string
	// DisplayName is the human-readable action name.
	DisplayName string
	// Description documents what the action does.
	Description string
	// Color is an RGB triple in [0,1] used by the UI layer.
	Color [3]float64
	// Category groups actions in menus.
	Category string
	// Attributes holds the declared parameters in definition order.
	Attributes []Attribute

	index map[string]int
}

// Attribute returns the declared attribute with the given name.
func (d *Definition) Attribute(name string) (*Attribute, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return &d.Attributes[i], true
}

// Defaults returns a fresh name-to-default-value mapping covering every
// declared attribute.
func (d *Definition) Defaults() map[string]any {
	values := make(map[string]any, len(d.Attributes))
	for i := range d.Attributes {
		attr := &d.Attributes[i]
		values[attr.Name] = cloneValue(attr.Default)
	}
	return values
}

func (d *Definition) buildIndex() {
	d.index = make(map[string]int, len(d.Attributes))
	for i := range d.Attributes {
		d.index[d.Attributes[i].Name] = i
	}
}

// cloneValue copies slice-valued attribute values so callers can never alias
// definition or parameter-set internals.
func cloneValue(v any) any {
	if nodes, ok := v.([]string); ok {
		return append([]string(nil), nodes...)
	}
	return v
}
