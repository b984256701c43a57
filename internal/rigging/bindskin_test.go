package rigging

import (
	"context"
	"testing"

	"RigForge/internal/host"
	"RigForge/pkg/schema"
)

const bindSkinYAML = `bind_skin:
  displayName: Bind Skin
  description: Bind geometry to a joint hierarchy with a skin cluster.
  category: Skinning
  attrs:
    - name: meshes
      desc: Geometry to bind.
      type: nodelist
      required: true
    - name: joints
      desc: Influence joints. Empty means use the selected hierarchy.
      type: nodelist
    - name: bindMethod
      type: option
      options: [Closest Distance, Closest in Hierarchy, Heat Map, Geodesic Voxel]
      value: 0
    - name: skinMethod
      type: option
      options: [Classic Linear, Dual Quaternion, Weighted Blend]
      value: 0
    - name: normalizeWeights
      type: option
      options: [None, Interactive, Post]
      value: 1
    - name: weightDistribution
      type: option
      options: [Distance, Neighbors]
      advanced: true
    - name: maxInfluences
      type: int
      value: 4
      min: 1
      max: 30
    - name: maintainMaxInfluence
      type: bool
      value: true
    - name: dropoffRate
      type: float
      value: 4.0
      min: 0.1
      max: 10.0
    - name: removeUnusedInfluences
      type: bool
      value: true
      advanced: true
`

func bindSkinParams(t *testing.T, session *host.SimulatedSession, overrides map[string]any) *schema.ParameterSet {
	t.Helper()
	defs, err := schema.NewLoader(schema.DefaultTypes()).Parse([]byte(bindSkinYAML))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	params, err := schema.NewParameterSet(context.Background(), defs[0], overrides, schema.DefaultTypes(), session)
	if err != nil {
		t.Fatalf("build params: %v", err)
	}
	return params
}

func TestBindSkinExecutor(t *testing.T) {
	session := host.NewSimulatedSession(
		"|rig|geo|body_geo",
		"|rig|joints|root",
		"|rig|joints|spine",
	)
	params := bindSkinParams(t, session, map[string]any{
		"meshes":     []string{"body_geo"},
		"joints":     []string{"|rig|joints|*"},
		"skinMethod": "Dual Quaternion",
	})

	executor := NewBindSkinExecutor()
	if executor.ActionID() != "bind_skin" {
		t.Fatalf("unexpected action id: %s", executor.ActionID())
	}

	result, err := executor.Execute(context.Background(), params, session)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output["skin_cluster"] != "skinCluster1" {
		t.Fatalf("unexpected output: %v", result.Output)
	}
	if result.Output["skin_method"] != "Dual Quaternion" {
		t.Fatalf("unexpected skin method label: %v", result.Output["skin_method"])
	}
	if len(result.AffectedNodes) != 4 {
		t.Fatalf("unexpected affected nodes: %v", result.AffectedNodes)
	}
}

func TestBindSkinExecutorHostFailure(t *testing.T) {
	session := host.NewSimulatedSession("|rig|geo|body_geo", "|rig|joints|root")
	params := bindSkinParams(t, session, map[string]any{
		"meshes": []string{"body_geo"},
		"joints": []string{"root"},
	})

	// Simulate the mesh disappearing between validation and execution.
	broken := host.NewSimulatedSession("|rig|joints|root")
	if _, err := NewBindSkinExecutor().Execute(context.Background(), params, broken); err == nil {
		t.Fatal("expected host failure")
	}
}
