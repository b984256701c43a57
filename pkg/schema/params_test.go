package schema

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	xerrors "RigForge/internal/errors"
)

// sceneResolver resolves selectors against a fixed selector-to-node mapping,
// standing in for the host application.
type sceneResolver struct {
	scene map[string][]string
	calls int
}

func (r *sceneResolver) ResolveNodes(_ context.Context, selectors []string) ([]string, error) {
	r.calls++
	var nodes []string
	for _, sel := range selectors {
		if resolved, ok := r.scene[sel]; ok {
			nodes = append(nodes, resolved...)
			continue
		}
		nodes = append(nodes, sel)
	}
	return nodes, nil
}

func testResolver() *sceneResolver {
	return &sceneResolver{scene: map[string][]string{
		"body_geo": {"|rig|geo|body_geo"},
		"joints*":  {"|rig|joints|root", "|rig|joints|spine"},
	}}
}

func TestParameterSetDefaultsOnly(t *testing.T) {
	def := loadBindSkin(t)
	resolver := testResolver()

	overrides := map[string]any{"meshes": []string{"body_geo"}}
	ps, err := NewParameterSet(context.Background(), def, overrides, DefaultTypes(), resolver)
	if err != nil {
		t.Fatalf("build parameter set: %v", err)
	}

	// Every attribute not overridden retains its schema default.
	if ps.Int("maxInfluences") != 4 {
		t.Fatalf("maxInfluences: got %d want 4", ps.Int("maxInfluences"))
	}
	if ps.Float("dropoffRate") != 4.0 {
		t.Fatalf("dropoffRate: got %v want 4.0", ps.Float("dropoffRate"))
	}
	if ps.Option("bindMethod") != 0 || ps.OptionLabel("bindMethod") != "Closest Distance" {
		t.Fatalf("bindMethod: got %d (%q)", ps.Option("bindMethod"), ps.OptionLabel("bindMethod"))
	}
	if !ps.Bool("maintainMaxInfluence") {
		t.Fatal("maintainMaxInfluence should default to true")
	}
	if got := ps.Nodes("meshes"); len(got) != 1 || got[0] != "|rig|geo|body_geo" {
		t.Fatalf("meshes not resolved: %v", got)
	}
	if got := ps.Nodes("joints"); len(got) != 0 {
		t.Fatalf("joints should be empty: %v", got)
	}

	// A set covers all declared attributes, never leaving one undefined.
	values := ps.Values()
	if len(values) != len(def.Attributes) {
		t.Fatalf("expected %d values, got %d", len(def.Attributes), len(values))
	}
}

func TestParameterSetEmptyOverridesMatchDefaults(t *testing.T) {
	doc := "tag:\n  displayName: Tag Nodes\n  category: Utility\n  attrs:\n" +
		"    - name: label\n      type: string\n      value: exported\n" +
		"    - name: strength\n      type: float\n      value: 0.5\n      min: 0.0\n      max: 1.0\n"
	defs, err := NewLoader(DefaultTypes()).Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := defs[0]

	ps, err := NewParameterSet(context.Background(), def, nil, DefaultTypes(), nil)
	if err != nil {
		t.Fatalf("build parameter set: %v", err)
	}
	if !reflect.DeepEqual(ps.Values(), def.Defaults()) {
		t.Fatalf("values diverge from defaults:\n%v\n%v", ps.Values(), def.Defaults())
	}
}

func TestParameterSetRoundTripStable(t *testing.T) {
	def := loadBindSkin(t)
	resolver := testResolver()

	overrides := map[string]any{
		"meshes":        []string{"body_geo"},
		"joints":        []string{"joints*"},
		"maxInfluences": 5,
		"skinMethod":    "Dual Quaternion",
	}
	first, err := NewParameterSet(context.Background(), def, overrides, DefaultTypes(), resolver)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := NewParameterSet(context.Background(), def, first.Values(), DefaultTypes(), resolver)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reflect.DeepEqual(first.Values(), second.Values()) {
		t.Fatalf("re-validation changed values:\n%v\n%v", first.Values(), second.Values())
	}
	if second.Option("skinMethod") != 1 {
		t.Fatalf("skinMethod label did not resolve to index: %d", second.Option("skinMethod"))
	}
}

func TestParameterSetRejectsUnknownAttribute(t *testing.T) {
	def := loadBindSkin(t)
	_, err := NewParameterSet(context.Background(), def, map[string]any{
		"meshes":     []string{"body_geo"},
		"smoothness": 3,
	}, DefaultTypes(), testResolver())
	if err == nil {
		t.Fatal("expected failure")
	}
	if code := xerrors.CodeOf(err); code != CodeUnknownAttribute {
		t.Fatalf("unexpected code: %s (%v)", code, err)
	}
}

func TestParameterSetBoundsEnforced(t *testing.T) {
	def := loadBindSkin(t)
	resolver := testResolver()

	if _, err := NewParameterSet(context.Background(), def, map[string]any{
		"meshes":        []string{"body_geo"},
		"maxInfluences": 50,
	}, DefaultTypes(), resolver); xerrors.CodeOf(err) != CodeInvalidValue {
		t.Fatalf("maxInfluences=50 should be rejected, got %v", err)
	}

	ps, err := NewParameterSet(context.Background(), def, map[string]any{
		"meshes":        []string{"body_geo"},
		"maxInfluences": 5,
	}, DefaultTypes(), resolver)
	if err != nil {
		t.Fatalf("maxInfluences=5 should pass: %v", err)
	}
	if ps.Int("maxInfluences") != 5 {
		t.Fatalf("override not applied: %d", ps.Int("maxInfluences"))
	}
}

func TestParameterSetRequiredNodeList(t *testing.T) {
	def := loadBindSkin(t)

	_, err := NewParameterSet(context.Background(), def, map[string]any{
		"meshes": []string{},
	}, DefaultTypes(), testResolver())
	if code := xerrors.CodeOf(err); code != CodeEmptyRequiredList {
		t.Fatalf("empty meshes should fail with EMPTY_REQUIRED_LIST, got %s (%v)", code, err)
	}

	// The optional joints list can stay empty without failing validation.
	ps, err := NewParameterSet(context.Background(), def, map[string]any{
		"meshes": []string{"body_geo"},
		"joints": []string{},
	}, DefaultTypes(), testResolver())
	if err != nil {
		t.Fatalf("empty joints should be allowed: %v", err)
	}
	if len(ps.Nodes("joints")) != 0 {
		t.Fatalf("joints should be empty: %v", ps.Nodes("joints"))
	}
}

func TestParameterSetResolverFailure(t *testing.T) {
	def := loadBindSkin(t)
	failing := resolverFunc(func(context.Context, []string) ([]string, error) {
		return nil, fmt.Errorf("connection refused")
	})
	_, err := NewParameterSet(context.Background(), def, map[string]any{
		"meshes": []string{"body_geo"},
	}, DefaultTypes(), failing)
	if code := xerrors.CodeOf(err); code != xerrors.CodeHostFailure {
		t.Fatalf("unexpected code: %s (%v)", code, err)
	}
}

type resolverFunc func(ctx context.Context, selectors []string) ([]string, error)

func (f resolverFunc) ResolveNodes(ctx context.Context, selectors []string) ([]string, error) {
	return f(ctx, selectors)
}
