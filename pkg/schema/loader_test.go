package schema

import (
	"errors"
	"testing"

	xerrors "RigForge/internal/errors"
)

const bindSkinYAML = `
bindSkin:
  displayName: Bind Skin
  description: Smooth binds one or more meshes to a set of joints.
  color: [1.0, 0.85, 0.0]
  category: Deformers
  attrs:
    - name: meshes
      desc: The meshes to bind
      type: nodelist
      required: true
    - name: joints
      desc: The joints to bind the meshes to
      type: nodelist
    - name: bindMethod
      desc: How initial weights are computed
      type: option
      value: 0
      options: [Closest Distance, Closest in Hierarchy, Heat Map, Geodesic Voxel]
    - name: skinMethod
      desc: How weights are applied at deformation time
      type: option
      value: 0
      options: [Classic Linear, Dual Quaternion, Weighted Blend]
    - name: normalizeWeights
      desc: Weight normalization mode
      type: option
      value: 1
      options: [None, Interactive, Post]
    - name: weightDistribution
      desc: How weights redistribute when normalizing
      type: option
      value: 0
      options: [Distance, Neighbors]
      advanced: true
    - name: maxInfluences
      desc: Maximum number of joints influencing a vertex
      type: int
      value: 4
      min: 1
      max: 30
    - name: maintainMaxInfluence
      desc: Prune weights so no vertex exceeds maxInfluences
      type: bool
      value: true
    - name: dropoffRate
      desc: Rate at which influence falls off with distance
      type: float
      value: 4.0
      min: 0.1
      max: 10.0
    - name: removeUnusedInfluences
      desc: Strip joints that receive no weights after binding
      type: bool
      value: true
      advanced: true
`

func loadBindSkin(t *testing.T) *Definition {
	t.Helper()
	defs, err := NewLoader(DefaultTypes()).Parse([]byte(bindSkinYAML))
	if err != nil {
		t.Fatalf("parse bind skin definition: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	return defs[0]
}

func TestLoaderBindSkinDefinition(t *testing.T) {
	def := loadBindSkin(t)

	if def.ID != "bindSkin" {
		t.Fatalf("unexpected id: %q", def.ID)
	}
	if def.DisplayName != "Bind Skin" || def.Category != "Deformers" {
		t.Fatalf("unexpected header: %q / %q", def.DisplayName, def.Category)
	}
	if def.Color != [3]float64{1.0, 0.85, 0.0} {
		t.Fatalf("unexpected color: %v", def.Color)
	}
	if len(def.Attributes) != 10 {
		t.Fatalf("expected 10 attributes, got %d", len(def.Attributes))
	}

	bindMethod, ok := def.Attribute("bindMethod")
	if !ok {
		t.Fatal("bindMethod not declared")
	}
	if got := bindMethod.Default.(int); got != 0 {
		t.Fatalf("bindMethod default: got %d want 0", got)
	}
	if label := bindMethod.OptionLabel(0); label != "Closest Distance" {
		t.Fatalf("bindMethod option 0: got %q", label)
	}

	maxInfluences, _ := def.Attribute("maxInfluences")
	if maxInfluences.Default.(int) != 4 {
		t.Fatalf("maxInfluences default: got %v want 4", maxInfluences.Default)
	}
	if *maxInfluences.Min != 1 || *maxInfluences.Max != 30 {
		t.Fatalf("maxInfluences bounds: got [%v,%v]", *maxInfluences.Min, *maxInfluences.Max)
	}

	dropoff, _ := def.Attribute("dropoffRate")
	if dropoff.Default.(float64) != 4.0 {
		t.Fatalf("dropoffRate default: got %v want 4.0", dropoff.Default)
	}
	if *dropoff.Min != 0.1 || *dropoff.Max != 10.0 {
		t.Fatalf("dropoffRate bounds: got [%v,%v]", *dropoff.Min, *dropoff.Max)
	}

	meshes, _ := def.Attribute("meshes")
	if !meshes.Required {
		t.Fatal("meshes should be required")
	}
	joints, _ := def.Attribute("joints")
	if joints.Required {
		t.Fatal("joints should not be required by default")
	}
	if dist, _ := def.Attribute("weightDistribution"); !dist.Advanced {
		t.Fatal("weightDistribution should be marked advanced")
	}
}

func TestLoaderAttributeOrderPreserved(t *testing.T) {
	def := loadBindSkin(t)
	want := []string{
		"meshes", "joints", "bindMethod", "skinMethod", "normalizeWeights",
		"weightDistribution", "maxInfluences", "maintainMaxInfluence",
		"dropoffRate", "removeUnusedInfluences",
	}
	for i, name := range want {
		if def.Attributes[i].Name != name {
			t.Fatalf("attribute %d: got %q want %q", i, def.Attributes[i].Name, name)
		}
	}
}

func TestLoaderRejectsMalformedDefinitions(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		code xerrors.Code
	}{
		{
			name: "missing displayName",
			doc:  "a:\n  category: Rigging\n  attrs: []\n",
			code: CodeMissingField,
		},
		{
			name: "missing category",
			doc:  "a:\n  displayName: A\n  attrs: []\n",
			code: CodeMissingField,
		},
		{
			name: "missing attrs",
			doc:  "a:\n  displayName: A\n  category: Rigging\n",
			code: CodeMissingField,
		},
		{
			name: "unknown attribute type",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: matrix\n",
			code: CodeUnknownAttributeType,
		},
		{
			name: "duplicate attribute",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: bool\n    - name: x\n      type: int\n",
			code: CodeDuplicateAttribute,
		},
		{
			name: "option without options",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: option\n      value: 0\n",
			code: CodeMissingField,
		},
		{
			name: "option default out of range",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: option\n      value: 3\n      options: [u, v]\n",
			code: CodeInvalidValue,
		},
		{
			name: "numeric default below min",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: int\n      value: 0\n      min: 1\n      max: 5\n",
			code: CodeInvalidValue,
		},
		{
			name: "min greater than max",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: float\n      value: 2.0\n      min: 5.0\n      max: 1.0\n",
			code: CodeInvalidValue,
		},
		{
			name: "bounds on non-numeric type",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: string\n      min: 1\n",
			code: CodeInvalidValue,
		},
		{
			name: "non-numeric default for int",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  attrs:\n    - name: x\n      type: int\n      value: four\n",
			code: CodeInvalidValue,
		},
		{
			name: "color with wrong arity",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  color: [1.0, 0.5]\n  attrs: []\n",
			code: CodeInvalidValue,
		},
		{
			name: "color component out of range",
			doc:  "a:\n  displayName: A\n  category: Rigging\n  color: [1.0, 0.5, 1.5]\n  attrs: []\n",
			code: CodeInvalidValue,
		},
	}

	loader := NewLoader(DefaultTypes())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected parse to fail")
			}
			if got := xerrors.CodeOf(err); got != tc.code {
				t.Fatalf("unexpected code: got %s want %s (%v)", got, tc.code, err)
			}
		})
	}
}

func TestLoaderEmptyAttrsAllowed(t *testing.T) {
	defs, err := NewLoader(DefaultTypes()).Parse([]byte("noop:\n  displayName: No-Op\n  category: Utility\n  attrs: []\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(defs) != 1 || len(defs[0].Attributes) != 0 {
		t.Fatalf("unexpected defs: %+v", defs)
	}
}

func TestLoaderSentinelMatching(t *testing.T) {
	_, err := NewLoader(DefaultTypes()).Parse([]byte("a:\n  category: Rigging\n  attrs: []\n"))
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestLoaderDropsOnlyFailedDefinitions(t *testing.T) {
	doc := "good:\n" +
		"  displayName: Good\n" +
		"  category: Utility\n" +
		"  attrs: []\n" +
		"bad:\n" +
		"  displayName: Bad\n" +
		"  category: Utility\n" +
		"  attrs:\n" +
		"    - name: x\n" +
		"      type: matrix\n" +
		"also_good:\n" +
		"  displayName: Also Good\n" +
		"  category: Utility\n" +
		"  attrs: []\n"

	defs, err := NewLoader(DefaultTypes()).Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected the bad definition to be reported")
	}
	if got := xerrors.CodeOf(err); got != CodeUnknownAttributeType {
		t.Fatalf("unexpected code: %s (%v)", got, err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 surviving definitions, got %d", len(defs))
	}
	if defs[0].ID != "good" || defs[1].ID != "also_good" {
		t.Fatalf("unexpected survivors: %s, %s", defs[0].ID, defs[1].ID)
	}
}
