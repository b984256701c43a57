package extension

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Manager keeps track of registered extensions and orchestrates their
// lifecycle.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
}

type instance struct {
	mu        sync.Mutex
	Extension Extension
	Info      Info
	State     State
	Config    map[string]any
	Policy    IsolationPolicy
	Source    string
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    GoPluginLoader{},
		isolation: NewIsolationStrategy(nil),
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers an extension instance directly with the manager.
func (m *Manager) Register(id string, e Extension, cfg map[string]any, policy IsolationPolicy) error {
	if id == "" {
		return errors.New("extension id cannot be empty")
	}
	if e == nil {
		return errors.New("extension implementation cannot be nil")
	}
	info := e.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("extension id mismatch: %s != %s", info.ID, id)
	}
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := e.Configure(cfg); err != nil {
		return fmt.Errorf("configure extension %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("extension %s already registered", id)
	}
	m.registry[id] = &instance{Extension: e, Info: mergeInfo(info, id), State: StateRegistered, Config: cfg, Policy: policy, Source: "manual"}
	return nil
}

// Load loads an extension implementation from disk and registers it with the
// manager.
func (m *Manager) Load(id string, path string, cfg map[string]any, policy IsolationPolicy) error {
	if path == "" {
		return errors.New("extension path cannot be empty")
	}
	e, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load extension from %s: %w", path, err)
	}
	return m.Register(id, e, cfg, policy)
}

// Start initialises and starts an extension by id.
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.sharedResources(inst.Policy)}
	if inst.State == StateRegistered {
		if err := inst.Extension.Init(execCtx.Clone()); err != nil {
			return fmt.Errorf("initialise extension %s: %w", id, err)
		}
		inst.State = StateInitialised
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	if err := inst.Extension.Start(execCtx.Clone()); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("start extension %s: %w", id, err)
	}
	inst.State = StateStarted
	return nil
}

// Stop halts an extension if it is running.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.sharedResources(inst.Policy)}
	if err := inst.Extension.Stop(execCtx.Clone()); err != nil {
		return fmt.Errorf("stop extension %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateStopped
	return nil
}

// StartAll starts all registered extensions.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all active extensions.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// State returns the lifecycle state of an extension.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("extension %s not registered", id)
	}
	return inst, nil
}

// sharedResources withholds the host session from extensions that were not
// granted the scene capability.
func (m *Manager) sharedResources(policy IsolationPolicy) map[string]any {
	if len(policy.DeniedCapabilities) == 0 && len(policy.AllowedCapabilities) == 0 {
		return m.resources
	}
	allowedScene := len(policy.AllowedCapabilities) == 0
	for _, cap := range policy.AllowedCapabilities {
		if cap == CapabilityScene {
			allowedScene = true
		}
	}
	for _, cap := range policy.DeniedCapabilities {
		if cap == CapabilityScene {
			allowedScene = false
		}
	}
	if allowedScene {
		return m.resources
	}
	filtered := make(map[string]any, len(m.resources))
	for key, value := range m.resources {
		if key == ResourceHostSession {
			continue
		}
		filtered[key] = value
	}
	return filtered
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	for id, extCfg := range cfg.Extensions {
		if !extCfg.Enabled {
			continue
		}
		path := extCfg.Path
		if !filepath.IsAbs(path) && cfg.ExtensionDir != "" {
			path = filepath.Join(cfg.ExtensionDir, path)
		}
		policy := MergePolicies(cfg.Defaults, extCfg.Policy)
		if err := m.Load(id, path, cloneConfig(extCfg.Config), policy); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
