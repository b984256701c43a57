package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rigforge.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Storage.Retries != 3 {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Worker != 4 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Host.Driver != "simulated" || cfg.Host.TimeoutSeconds != 30 {
		t.Fatalf("unexpected host defaults: %+v", cfg.Host)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected auth default: %q", cfg.Auth.Mode)
	}
	if cfg.Library.Dir != filepath.Join(dir, "actions") {
		t.Fatalf("unexpected library dir: %q", cfg.Library.Dir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rigforge.json")
	raw := `{
		"library": {"dir": "defs", "watch": true},
		"presets": {"path": "presets.yaml"},
		"scripts": [{"action_id": "tag_nodes", "path": "scripts/tag.tengo"}],
		"host": {"driver": "mayaport", "address": "127.0.0.1:7001"}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Library.Dir != filepath.Join(dir, "defs") || !cfg.Library.Watch {
		t.Fatalf("unexpected library config: %+v", cfg.Library)
	}
	if cfg.Presets.Path != filepath.Join(dir, "presets.yaml") {
		t.Fatalf("unexpected presets path: %q", cfg.Presets.Path)
	}
	if len(cfg.Scripts) != 1 || cfg.Scripts[0].Path != filepath.Join(dir, "scripts", "tag.tengo") {
		t.Fatalf("unexpected scripts: %+v", cfg.Scripts)
	}
	if cfg.Host.Driver != "mayaport" || cfg.Host.Address != "127.0.0.1:7001" {
		t.Fatalf("unexpected host config: %+v", cfg.Host)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
