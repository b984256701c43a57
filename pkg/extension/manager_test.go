package extension

import (
	"context"
	"errors"
	"testing"
)

type stubExtension struct {
	info      Info
	started   int
	stopped   int
	resources map[string]any
	startErr  error
}

func (s *stubExtension) Info() Info                     { return s.info }
func (s *stubExtension) Configure(map[string]any) error { return nil }
func (s *stubExtension) Init(*ExecutionContext) error   { return nil }

func (s *stubExtension) Start(ctx *ExecutionContext) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started++
	s.resources = ctx.Resources
	return nil
}

func (s *stubExtension) Stop(*ExecutionContext) error {
	s.stopped++
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	manager, err := NewManager(ManagerConfig{}, WithResource(ResourceExecutors, "registry"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ext := &stubExtension{info: Info{Name: "stub", Category: TypeExecutor}}
	if err := manager.Register("stub", ext, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := manager.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if ext.started != 1 {
		t.Fatalf("expected one start, got %d", ext.started)
	}
	if ext.resources[ResourceExecutors] != "registry" {
		t.Fatalf("expected executors resource, got %v", ext.resources)
	}
	if state, _ := manager.State("stub"); state != StateStarted {
		t.Fatalf("unexpected state: %s", state)
	}

	if err := manager.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if ext.stopped != 1 {
		t.Fatalf("expected one stop, got %d", ext.stopped)
	}
}

func TestManagerRejectsUnpolicedCapabilities(t *testing.T) {
	manager, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ext := &stubExtension{info: Info{Name: "scene", Category: TypeExecutor, Capabilities: []Capability{CapabilityScene}}}
	if err := manager.Register("scene", ext, nil, IsolationPolicy{}); err == nil {
		t.Fatal("expected policy error for capability without policy")
	}
}

func TestManagerDeniesCapability(t *testing.T) {
	manager, err := NewManager(ManagerConfig{
		Defaults: IsolationPolicy{DeniedCapabilities: []Capability{CapabilityNetwork}},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ext := &stubExtension{info: Info{Name: "net", Category: TypeNotifier, Capabilities: []Capability{CapabilityNetwork}}}
	err = manager.Register("net", ext, nil, IsolationPolicy{})
	if err == nil {
		t.Fatal("expected denied capability error")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestManagerHidesSceneResource(t *testing.T) {
	manager, err := NewManager(ManagerConfig{},
		WithResource(ResourceExecutors, "registry"),
		WithResource(ResourceHostSession, "session"),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ext := &stubExtension{info: Info{Name: "fs", Category: TypeExecutor, Capabilities: []Capability{CapabilityFilesystem}}}
	policy := IsolationPolicy{AllowedCapabilities: []Capability{CapabilityFilesystem}}
	if err := manager.Register("fs", ext, nil, policy); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := manager.Start(context.Background(), "fs"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := ext.resources[ResourceHostSession]; ok {
		t.Fatal("host session should be hidden without the scene capability")
	}
	if ext.resources[ResourceExecutors] != "registry" {
		t.Fatal("executors resource should remain visible")
	}
}
