package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "RigForge/internal/errors"
)

// rawAttribute mirrors one attribute entry of a definition file.
type rawAttribute struct {
	Name     string   `yaml:"name"`
	Desc     string   `yaml:"desc"`
	Type     string   `yaml:"type"`
	Value    any      `yaml:"value"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Options  []string `yaml:"options"`
	Advanced bool     `yaml:"advanced"`
	Required bool     `yaml:"required"`
}

// rawDefinition mirrors the body of one action entry. Attrs is a pointer so
// an absent key can be told apart from an empty list.
type rawDefinition struct {
	DisplayName string          `yaml:"displayName"`
	Description string          `yaml:"description"`
	Color       []float64       `yaml:"color"`
	Category    string          `yaml:"category"`
	Attrs       *[]rawAttribute `yaml:"attrs"`
}

// Loader parses raw action definitions and resolves their attributes against
// a type registry. A failed definition is rejected atomically; no partial
// Definition is ever returned, and one rejected definition never takes the
// rest of its document down with it.
type Loader struct {
	types *TypeRegistry
}

// NewLoader returns a loader resolving attribute types via the given registry.
func NewLoader(types *TypeRegistry) *Loader {
	if types == nil {
		types = DefaultTypes()
	}
	return &Loader{types: types}
}

// Parse decodes one definition document. The document maps action ids to
// definition bodies; ids are returned in document order. Definitions that
// fail validation are dropped individually; the survivors are returned
// alongside the joined rejection errors.
func (l *Loader) Parse(data []byte) ([]*Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "definition document is not valid YAML")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "definition document must be a mapping of action ids")
	}

	defs := make([]*Definition, 0, len(root.Content)/2)
	var errs []error
	for i := 0; i+1 < len(root.Content); i += 2 {
		id := strings.TrimSpace(root.Content[i].Value)
		if id == "" {
			errs = append(errs, xerrors.New(CodeMissingField, "action id cannot be empty"))
			continue
		}
		var raw rawDefinition
		if err := root.Content[i+1].Decode(&raw); err != nil {
			errs = append(errs, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("action %q has a malformed definition body", id),
				xerrors.WithMetadata("action", id)))
			continue
		}
		def, err := l.build(id, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, errors.Join(errs...)
}

// LoadFile parses the definitions contained in one file.
func (l *Loader) LoadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("read definition file %s", path))
	}
	return l.Parse(data)
}

// LoadDir parses every .yaml/.yml file directly under dir, in lexical order.
// Files or definitions that fail are skipped and reported through the joined
// error; the slice is non-nil whenever the directory itself was readable.
func (l *Loader) LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("read definition directory %s", dir))
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	defs := make([]*Definition, 0)
	var errs []error
	for _, name := range names {
		fileDefs, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		defs = append(defs, fileDefs...)
	}
	return defs, errors.Join(errs...)
}

func missingField(actionID, field string) error {
	return xerrors.New(CodeMissingField,
		fmt.Sprintf("action %q is missing required field %q", actionID, field),
		xerrors.WithMetadata("action", actionID),
		xerrors.WithMetadata("field", field))
}

func (l *Loader) build(id string, raw rawDefinition) (*Definition, error) {
	if strings.TrimSpace(raw.DisplayName) == "" {
		return nil, missingField(id, "displayName")
	}
	if strings.TrimSpace(raw.Category) == "" {
		return nil, missingField(id, "category")
	}
	if raw.Attrs == nil {
		return nil, missingField(id, "attrs")
	}

	color, err := parseColor(id, raw.Color)
	if err != nil {
		return nil, err
	}

	def := &Definition{
		ID:          id,
		DisplayName: raw.DisplayName,
		Description: raw.Description,
		Color:       color,
		Category:    raw.Category,
		Attributes:  make([]Attribute, 0, len(*raw.Attrs)),
	}

	seen := make(map[string]struct{}, len(*raw.Attrs))
	for _, rawAttr := range *raw.Attrs {
		attr, err := l.buildAttribute(id, rawAttr)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[attr.Name]; dup {
			return nil, xerrors.New(CodeDuplicateAttribute,
				fmt.Sprintf("action %q declares attribute %q more than once", id, attr.Name),
				xerrors.WithMetadata("action", id),
				xerrors.WithMetadata("attribute", attr.Name))
		}
		seen[attr.Name] = struct{}{}
		def.Attributes = append(def.Attributes, attr)
	}
	def.buildIndex()
	return def, nil
}

func (l *Loader) buildAttribute(actionID string, raw rawAttribute) (Attribute, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return Attribute{}, missingField(actionID, "attrs[].name")
	}

	handler, err := l.types.Resolve(raw.Type)
	if err != nil {
		return Attribute{}, xerrors.New(CodeUnknownAttributeType,
			fmt.Sprintf("action %q attribute %q declares unknown type %q", actionID, raw.Name, raw.Type),
			xerrors.WithMetadata("action", actionID),
			xerrors.WithMetadata("attribute", raw.Name))
	}

	attr := Attribute{
		Name:        raw.Name,
		Description: raw.Desc,
		Type:        raw.Type,
		Min:         raw.Min,
		Max:         raw.Max,
		Options:     append([]string(nil), raw.Options...),
		Advanced:    raw.Advanced,
		Required:    raw.Required,
	}

	if !handler.SupportsBounds() && (raw.Min != nil || raw.Max != nil) {
		return Attribute{}, xerrors.New(CodeInvalidValue,
			fmt.Sprintf("action %q attribute %q: type %q does not support min/max", actionID, raw.Name, raw.Type),
			xerrors.WithMetadata("action", actionID),
			xerrors.WithMetadata("attribute", raw.Name))
	}
	if !handler.SupportsOptions() && len(raw.Options) > 0 {
		return Attribute{}, xerrors.New(CodeInvalidValue,
			fmt.Sprintf("action %q attribute %q: type %q does not support options", actionID, raw.Name, raw.Type),
			xerrors.WithMetadata("action", actionID),
			xerrors.WithMetadata("attribute", raw.Name))
	}
	if handler.SupportsOptions() && len(attr.Options) == 0 {
		return Attribute{}, xerrors.New(CodeMissingField,
			fmt.Sprintf("action %q attribute %q requires a non-empty options list", actionID, raw.Name),
			xerrors.WithMetadata("action", actionID),
			xerrors.WithMetadata("attribute", raw.Name))
	}
	if attr.Min != nil && attr.Max != nil && *attr.Min > *attr.Max {
		return Attribute{}, xerrors.New(CodeInvalidValue,
			fmt.Sprintf("action %q attribute %q declares min > max", actionID, raw.Name),
			xerrors.WithMetadata("action", actionID),
			xerrors.WithMetadata("attribute", raw.Name))
	}

	if raw.Value == nil {
		attr.Default = handler.Zero(&attr)
	} else {
		coerced, err := handler.Coerce(raw.Value, &attr)
		if err != nil {
			return Attribute{}, err
		}
		attr.Default = coerced
	}
	if err := handler.Validate(attr.Default, &attr); err != nil {
		return Attribute{}, err
	}
	return attr, nil
}

func parseColor(actionID string, raw []float64) ([3]float64, error) {
	var color [3]float64
	if raw == nil {
		return color, nil
	}
	if len(raw) != 3 {
		return color, xerrors.New(CodeInvalidValue,
			fmt.Sprintf("action %q color must have exactly 3 components", actionID),
			xerrors.WithMetadata("action", actionID),
			xerrors.WithMetadata("field", "color"))
	}
	for i, c := range raw {
		if c < 0 || c > 1 {
			return color, xerrors.New(CodeInvalidValue,
				fmt.Sprintf("action %q color component %d is outside [0,1]", actionID, i),
				xerrors.WithMetadata("action", actionID),
				xerrors.WithMetadata("field", "color"))
		}
		color[i] = c
	}
	return color, nil
}
