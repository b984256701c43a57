package schema

import (
	"fmt"
	"math"

	xerrors "RigForge/internal/errors"
)

func typeMismatch(attr *Attribute, raw any, want string) error {
	return xerrors.New(CodeInvalidValue,
		fmt.Sprintf("attribute %q expects %s, got %T", attr.Name, want, raw),
		xerrors.WithMetadata("attribute", attr.Name))
}

func outOfBounds(attr *Attribute, value float64) error {
	return xerrors.New(CodeInvalidValue,
		fmt.Sprintf("attribute %q value %v is outside its declared bounds", attr.Name, value),
		xerrors.WithMetadata("attribute", attr.Name))
}

func checkBounds(attr *Attribute, value float64) error {
	if attr.Min != nil && value < *attr.Min {
		return outOfBounds(attr, value)
	}
	if attr.Max != nil && value > *attr.Max {
		return outOfBounds(attr, value)
	}
	return nil
}

// boolType is a two-state attribute.
type boolType struct{}

func (boolType) Name() string          { return TypeBool }
func (boolType) SupportsBounds() bool  { return false }
func (boolType) SupportsOptions() bool { return false }
func (boolType) Zero(*Attribute) any   { return false }

func (boolType) Coerce(raw any, attr *Attribute) (any, error) {
	if v, ok := raw.(bool); ok {
		return v, nil
	}
	return nil, typeMismatch(attr, raw, "bool")
}

func (boolType) Validate(value any, attr *Attribute) error {
	if _, ok := value.(bool); !ok {
		return typeMismatch(attr, value, "bool")
	}
	return nil
}

// intType is a whole number with optional min/max bounds.
type intType struct{}

func (intType) Name() string          { return TypeInt }
func (intType) SupportsBounds() bool  { return true }
func (intType) SupportsOptions() bool { return false }
func (intType) Zero(*Attribute) any   { return 0 }

func (intType) Coerce(raw any, attr *Attribute) (any, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, typeMismatch(attr, raw, "int")
		}
		return int(v), nil
	default:
		return nil, typeMismatch(attr, raw, "int")
	}
}

func (intType) Validate(value any, attr *Attribute) error {
	v, ok := value.(int)
	if !ok {
		return typeMismatch(attr, value, "int")
	}
	return checkBounds(attr, float64(v))
}

// floatType is a real number with optional min/max bounds.
type floatType struct{}

func (floatType) Name() string          { return TypeFloat }
func (floatType) SupportsBounds() bool  { return true }
func (floatType) SupportsOptions() bool { return false }
func (floatType) Zero(*Attribute) any   { return 0.0 }

func (floatType) Coerce(raw any, attr *Attribute) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return nil, typeMismatch(attr, raw, "float")
	}
}

func (floatType) Validate(value any, attr *Attribute) error {
	v, ok := value.(float64)
	if !ok {
		return typeMismatch(attr, value, "float")
	}
	return checkBounds(attr, v)
}

// stringType is free text.
type stringType struct{}

func (stringType) Name() string          { return TypeString }
func (stringType) SupportsBounds() bool  { return false }
func (stringType) SupportsOptions() bool { return false }
func (stringType) Zero(*Attribute) any   { return "" }

func (stringType) Coerce(raw any, attr *Attribute) (any, error) {
	if v, ok := raw.(string); ok {
		return v, nil
	}
	return nil, typeMismatch(attr, raw, "string")
}

func (stringType) Validate(value any, attr *Attribute) error {
	if _, ok := value.(string); !ok {
		return typeMismatch(attr, value, "string")
	}
	return nil
}

// optionType is an integer index into the attribute's ordered options list.
// A string raw value naming one of the options is resolved to its index.
type optionType struct{}

func (optionType) Name() string          { return TypeOption }
func (optionType) SupportsBounds() bool  { return false }
func (optionType) SupportsOptions() bool { return true }
func (optionType) Zero(*Attribute) any   { return 0 }

func (optionType) Coerce(raw any, attr *Attribute) (any, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, typeMismatch(attr, raw, "option index")
		}
		return int(v), nil
	case string:
		for i, label := range attr.Options {
			if label == v {
				return i, nil
			}
		}
		return nil, xerrors.New(CodeInvalidValue,
			fmt.Sprintf("attribute %q has no option %q", attr.Name, v),
			xerrors.WithMetadata("attribute", attr.Name))
	default:
		return nil, typeMismatch(attr, raw, "option index")
	}
}

func (optionType) Validate(value any, attr *Attribute) error {
	v, ok := value.(int)
	if !ok {
		return typeMismatch(attr, value, "option index")
	}
	if v < 0 || v >= len(attr.Options) {
		return xerrors.New(CodeInvalidValue,
			fmt.Sprintf("attribute %q option index %d is out of range [0,%d)", attr.Name, v, len(attr.Options)),
			xerrors.WithMetadata("attribute", attr.Name))
	}
	return nil
}

// nodeListType is an ordered list of scene node references. References are
// opaque strings supplied by the host application and never interpreted here.
type nodeListType struct{}

func (nodeListType) Name() string          { return TypeNodeList }
func (nodeListType) SupportsBounds() bool  { return false }
func (nodeListType) SupportsOptions() bool { return false }
func (nodeListType) Zero(*Attribute) any   { return []string(nil) }

func (nodeListType) Coerce(raw any, attr *Attribute) (any, error) {
	switch v := raw.(type) {
	case nil:
		return []string(nil), nil
	case []string:
		return append([]string(nil), v...), nil
	case string:
		return []string{v}, nil
	case []any:
		nodes := make([]string, 0, len(v))
		for _, item := range v {
			node, ok := item.(string)
			if !ok {
				return nil, typeMismatch(attr, item, "node reference")
			}
			nodes = append(nodes, node)
		}
		return nodes, nil
	default:
		return nil, typeMismatch(attr, raw, "node list")
	}
}

func (nodeListType) Validate(value any, attr *Attribute) error {
	if _, ok := value.([]string); !ok {
		return typeMismatch(attr, value, "node list")
	}
	return nil
}
