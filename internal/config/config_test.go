package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config for missing file, got %+v", cfg)
	}
}

func TestLoadParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
codex_bin = "/usr/local/bin/codex"
room = "dev"
poll_ms = 750
idle_ms = 30000
permission_mode = "plan"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}
	if cfg.CodexBin != "/usr/local/bin/codex" {
		t.Errorf("CodexBin = %q", cfg.CodexBin)
	}
	if cfg.Room != "dev" {
		t.Errorf("Room = %q", cfg.Room)
	}
	if cfg.PollMs != 750 || cfg.IdleMs != 30000 {
		t.Errorf("PollMs = %d, IdleMs = %d", cfg.PollMs, cfg.IdleMs)
	}
	if cfg.PermissionMode != "plan" {
		t.Errorf("PermissionMode = %q", cfg.PermissionMode)
	}
}

func TestLoadPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("room = \"ops\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room != "ops" {
		t.Errorf("Room = %q", cfg.Room)
	}
	if cfg.CodexBin != "" || cfg.PollMs != 0 {
		t.Errorf("unset fields should be zero: %+v", cfg)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("room = [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &Config{CodexBin: "codex", Room: "main", PollMs: 1000}

	if err := Save(dir, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || *got != *want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
