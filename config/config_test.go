package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	spaceerrors "github.com/wippyai/wasm-space/errors"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Defaults invalid: %v", err)
	}
	if err := Validate(InMemory()); err != nil {
		t.Fatalf("InMemory invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad encoding", func(c *Config) { c.Log.Encoding = "xml" }},
		{"bad store", func(c *Config) { c.Store.Backend = "s3" }},
		{"sqlite without dir", func(c *Config) { c.State.Dir = ""; c.State.Journal = false; c.FileSystem.Backend = "memory" }},
		{"dir volumes without dir", func(c *Config) { c.State.Dir = ""; c.State.Journal = false; c.Store.Backend = "memory" }},
		{"journal without dir", func(c *Config) { *c = InMemory(); c.State.Journal = true }},
		{"zero shards", func(c *Config) { c.Registry.Shards = 0 }},
		{"no memory", func(c *Config) { c.Guest.MemoryPages = 0 }},
		{"negative timeout", func(c *Config) { c.Guest.CallTimeout = -time.Second }},
		{"bad exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if !errors.Is(err, &spaceerrors.Error{Kind: spaceerrors.KindInvalidInput, Phase: spaceerrors.PhaseConfig}) {
				t.Fatalf("Validate err = %v, want invalid_input", err)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: debug
store:
  backend: memory
  cache_ttl: 30s
guest:
  call_timeout: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WASMSPACE_REGISTRY_SHARDS", "8")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Store.Backend != "memory" || cfg.Store.CacheTTL != 30*time.Second {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Guest.CallTimeout != 2*time.Second {
		t.Errorf("guest.call_timeout = %v", cfg.Guest.CallTimeout)
	}
	if cfg.Registry.Shards != 8 {
		t.Errorf("registry.shards = %d, want env override 8", cfg.Registry.Shards)
	}
	if cfg.Guest.MemoryPages != Defaults().Guest.MemoryPages {
		t.Errorf("guest.memory_pages = %d, want default", cfg.Guest.MemoryPages)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != Defaults() {
		t.Errorf("round trip = %+v, want %+v", cfg, Defaults())
	}
}

func TestPaths(t *testing.T) {
	cfg := Defaults()
	cfg.State.Dir = "/var/lib/space"
	if cfg.StorePath() != "/var/lib/space/state.db" {
		t.Errorf("StorePath = %q", cfg.StorePath())
	}
	if cfg.VolumeRoot() != "/var/lib/space/volumes" {
		t.Errorf("VolumeRoot = %q", cfg.VolumeRoot())
	}
}
