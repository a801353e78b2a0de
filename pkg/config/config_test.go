package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.WindowCapacity != 10 {
		t.Fatalf("expected default window capacity 10, got %d", cfg.Session.WindowCapacity)
	}
	if cfg.Session.TimeoutSeconds != 300 {
		t.Fatalf("expected default session timeout 300s, got %d", cfg.Session.TimeoutSeconds)
	}
	if cfg.Tasks.TimeoutSeconds != 30 {
		t.Fatalf("expected default task timeout 30s, got %d", cfg.Tasks.TimeoutSeconds)
	}
	if cfg.Tasks.MaxMemoryMB != 512 {
		t.Fatalf("expected default task memory ceiling 512MB, got %d", cfg.Tasks.MaxMemoryMB)
	}
	if cfg.Tasks.MaxCPUPercent != 50 {
		t.Fatalf("expected default task cpu ceiling 50%%, got %d", cfg.Tasks.MaxCPUPercent)
	}
	if cfg.Provider.FallbackReply == "" {
		t.Fatalf("a fallback reply must always be configured")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing config file should not fail: %v", err)
	}
	if cfg.Session.WindowCapacity != 10 {
		t.Fatalf("expected defaults, got window capacity %d", cfg.Session.WindowCapacity)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"workspace": "/tmp/charlie-test", "session": {"window_capacity": 20}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.WindowCapacity != 20 {
		t.Fatalf("expected file override 20, got %d", cfg.Session.WindowCapacity)
	}
	if cfg.Workspace != "/tmp/charlie-test" {
		t.Fatalf("expected workspace from file, got %s", cfg.Workspace)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"session": {"window_capacity": 20}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHARLIE_SESSION_WINDOW_CAPACITY", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.WindowCapacity != 7 {
		t.Fatalf("environment must win over the file, got %d", cfg.Session.WindowCapacity)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for malformed config")
	}
}

func TestWorkspacePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = "/srv/charlie"

	if got := cfg.StatePath("memory.db"); got != "/srv/charlie/state/memory.db" {
		t.Fatalf("unexpected state path %s", got)
	}
	if got := cfg.SandboxRoot(); got != "/srv/charlie/sandbox" {
		t.Fatalf("unexpected sandbox root %s", got)
	}
	if got := cfg.FilesRoot(); got != "/srv/charlie/files" {
		t.Fatalf("unexpected files root %s", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := expandHome("~/workdir")
	if err != nil {
		t.Fatalf("expand home: %v", err)
	}
	if got != filepath.Join(home, "workdir") {
		t.Fatalf("unexpected expansion %s", got)
	}
	if got, _ := expandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute paths must pass through, got %s", got)
	}
}
