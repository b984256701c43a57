package rigging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"RigForge/internal/host"
	"RigForge/pkg/schema"
)

const tagScript = `
execute := func(host, params) {
	nodes := host.resolve(params.nodes)
	return {
		affected_nodes: nodes,
		observations: "tagged " + params.label,
		label: params.label
	}
}
`

const tagYAML = `tag:
  displayName: Tag Nodes
  category: Utility
  attrs:
    - name: nodes
      type: nodelist
      required: true
    - name: label
      type: string
      value: exported
`

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tag.tengo")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestScriptedExecutor(t *testing.T) {
	session := host.NewSimulatedSession("|rig|geo|body_geo")

	defs, err := schema.NewLoader(schema.DefaultTypes()).Parse([]byte(tagYAML))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	params, err := schema.NewParameterSet(context.Background(), defs[0], map[string]any{
		"nodes": []string{"body_geo"},
		"label": "hero",
	}, schema.DefaultTypes(), session)
	if err != nil {
		t.Fatalf("build params: %v", err)
	}

	executor, err := NewScriptedExecutor("tag", writeScript(t, tagScript))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	result, err := executor.Execute(context.Background(), params, session)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.AffectedNodes) != 1 || result.AffectedNodes[0] != "|rig|geo|body_geo" {
		t.Fatalf("unexpected nodes: %v", result.AffectedNodes)
	}
	if result.Observations != "tagged hero" {
		t.Fatalf("unexpected observations: %q", result.Observations)
	}
	if result.Output["label"] != "hero" {
		t.Fatalf("unexpected output: %v", result.Output)
	}
}

func TestScriptedExecutorCompileError(t *testing.T) {
	if _, err := NewScriptedExecutor("tag", writeScript(t, "execute := func(")); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestScriptedExecutorRuntimeError(t *testing.T) {
	session := host.NewSimulatedSession("|rig|geo|body_geo")
	defs, err := schema.NewLoader(schema.DefaultTypes()).Parse([]byte(tagYAML))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	params, err := schema.NewParameterSet(context.Background(), defs[0], map[string]any{
		"nodes": []string{"body_geo"},
	}, schema.DefaultTypes(), session)
	if err != nil {
		t.Fatalf("build params: %v", err)
	}

	failing := `
execute := func(host, params) {
	host.resolve("missing_geo")
	return {}
}
`
	executor, err := NewScriptedExecutor("tag", writeScript(t, failing))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	if _, err := executor.Execute(context.Background(), params, session); err == nil {
		t.Fatal("expected runtime error")
	}
}
