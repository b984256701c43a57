package schema

import (
	xerrors "RigForge/internal/errors"
)

// Built-in attribute type names.
const (
	TypeBool     = "bool"
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeOption   = "option"
	TypeNodeList = "nodelist"
)

// Handler implements the behaviour of one attribute type. Implementations
// must be stateless; a single handler instance serves every attribute that
// declares its type.
type Handler interface {
	// Name returns the type name used in definition files.
	Name() string
	// Coerce converts a raw value into the canonical representation for
	// this type, or fails when the value cannot be interpreted as it.
	Coerce(raw any, attr *Attribute) (any, error)
	// Validate checks a coerced value against the attribute constraints
	// (bounds, option range). It assumes the value is canonical.
	Validate(value any, attr *Attribute) error
	// Zero returns the value used when a definition declares no default.
	Zero(attr *Attribute) any
	// SupportsBounds reports whether min/max constraints apply to this type.
	SupportsBounds() bool
	// SupportsOptions reports whether an options list applies to this type.
	SupportsOptions() bool
}

// Error codes raised by the schema system. Schema-time codes abort loading
// of a single definition; invocation-time codes abort a single parameter
// set construction.
const (
	CodeMissingField         xerrors.Code = "MISSING_FIELD"
	CodeUnknownAttributeType xerrors.Code = "UNKNOWN_ATTRIBUTE_TYPE"
	CodeDuplicateAttribute   xerrors.Code = "DUPLICATE_ATTRIBUTE"
	CodeDuplicateAction      xerrors.Code = "DUPLICATE_ACTION"
	CodeUnknownAttribute     xerrors.Code = "UNKNOWN_ATTRIBUTE"
	CodeInvalidValue         xerrors.Code = "INVALID_VALUE"
	CodeEmptyRequiredList    xerrors.Code = "EMPTY_REQUIRED_LIST"
)

var (
	// ErrMissingField reports a definition lacking a mandatory field.
	ErrMissingField = xerrors.New(CodeMissingField, "definition field missing")
	// ErrUnknownAttributeType reports an attribute declaring an unregistered type.
	ErrUnknownAttributeType = xerrors.New(CodeUnknownAttributeType, "unknown attribute type")
	// ErrDuplicateAttribute reports two attributes sharing a name within one action.
	ErrDuplicateAttribute = xerrors.New(CodeDuplicateAttribute, "duplicate attribute name")
	// ErrDuplicateAction reports a second definition claiming an already registered id.
	ErrDuplicateAction = xerrors.New(CodeDuplicateAction, "duplicate action id")
	// ErrUnknownAttribute reports an override naming an undeclared attribute.
	ErrUnknownAttribute = xerrors.New(CodeUnknownAttribute, "unknown attribute")
	// ErrInvalidValue reports a value violating its attribute type or constraints.
	ErrInvalidValue = xerrors.New(CodeInvalidValue, "invalid attribute value")
	// ErrEmptyRequiredList reports a required node list resolving to no nodes.
	ErrEmptyRequiredList = xerrors.New(CodeEmptyRequiredList, "required node list is empty")
)

func init() {
	for code, message := range map[xerrors.Code]string{
		CodeMissingField:         "definition field missing",
		CodeUnknownAttributeType: "unknown attribute type",
		CodeDuplicateAttribute:   "duplicate attribute name",
		CodeDuplicateAction:      "duplicate action id",
		CodeUnknownAttribute:     "unknown attribute",
		CodeInvalidValue:         "invalid attribute value",
		CodeEmptyRequiredList:    "required node list is empty",
	} {
		xerrors.Register(code, xerrors.Attributes{
			Message:   message,
			Severity:  xerrors.SeverityInfo,
			Retryable: false,
			Alert:     false,
		})
	}
}
