package schema

import (
	"testing"

	xerrors "RigForge/internal/errors"
)

func minimalDefinition(t *testing.T, id string) *Definition {
	t.Helper()
	doc := id + ":\n  displayName: " + id + "\n  category: Utility\n  attrs:\n" +
		"    - name: label\n      type: string\n"
	defs, err := NewLoader(DefaultTypes()).Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse %s: %v", id, err)
	}
	return defs[0]
}

func TestRegistryDuplicateActionKeepsFirst(t *testing.T) {
	reg := NewRegistry()
	first := minimalDefinition(t, "tag")
	first.Description = "first registration"
	if err := reg.Add(first); err != nil {
		t.Fatalf("first add: %v", err)
	}

	dup := minimalDefinition(t, "tag")
	dup.Description = "second registration"
	err := reg.Add(dup)
	if code := xerrors.CodeOf(err); code != CodeDuplicateAction {
		t.Fatalf("unexpected code: %s (%v)", code, err)
	}

	got, err := reg.Get("tag")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "first registration" {
		t.Fatalf("duplicate replaced the original: %q", got.Description)
	}
}

func TestRegistryOrderAndLookup(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"bind_skin", "add_influence", "mirror_weights"} {
		if err := reg.Add(minimalDefinition(t, id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	ids := reg.IDs()
	want := []string{"bind_skin", "add_influence", "mirror_weights"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("registration order lost: %v", ids)
		}
	}
	if _, err := reg.Get("orient_joints"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("missing id should report NOT_FOUND, got %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("len: got %d", reg.Len())
	}
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add(minimalDefinition(t, "tag")); err != nil {
		t.Fatalf("add: %v", err)
	}
	reg.Freeze()
	if !reg.Frozen() {
		t.Fatal("registry should report frozen")
	}
	err := reg.Add(minimalDefinition(t, "late"))
	if code := xerrors.CodeOf(err); code != xerrors.CodeConflict {
		t.Fatalf("frozen registry accepted a definition: %s (%v)", code, err)
	}
}
