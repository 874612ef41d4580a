package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.MaxToolCalls != 10 {
		t.Errorf("MaxToolCalls = %d, want 10", cfg.LLM.MaxToolCalls)
	}
	if cfg.LLM.MaxContextTokens != 50000 {
		t.Errorf("MaxContextTokens = %d, want 50000", cfg.LLM.MaxContextTokens)
	}
	if cfg.Ingest.ChunkSize != 2000 || cfg.Ingest.ChunkOverlap != 400 {
		t.Errorf("chunking = %d/%d, want 2000/400", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.SweepInterval() != 2*time.Minute {
		t.Errorf("SweepInterval() = %v, want 2m", cfg.SweepInterval())
	}
	if cfg.StaleAfter() != time.Minute {
		t.Errorf("StaleAfter() = %v, want 1m", cfg.StaleAfter())
	}
	if cfg.Sweeper.BatchSize != 200 {
		t.Errorf("Sweeper.BatchSize = %d, want 200", cfg.Sweeper.BatchSize)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9090

[postgres]
host = "db.internal"
db = "chat"

[llm]
max_tool_calls = 4
library_fallback = false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POSTGRES_DB", "override")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("APP_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Port != 9090 {
		t.Errorf("App.Port = %d, want 9090", cfg.App.Port)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q", cfg.Postgres.Host)
	}
	if cfg.Postgres.DB != "override" {
		t.Errorf("Postgres.DB = %q, want override", cfg.Postgres.DB)
	}
	if cfg.LLM.MaxToolCalls != 4 {
		t.Errorf("MaxToolCalls = %d, want 4", cfg.LLM.MaxToolCalls)
	}
	if cfg.LLM.LibraryFallback {
		t.Error("LibraryFallback = true, want false")
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if got, want := cfg.HTTPAddr(), "0.0.0.0:9090"; got != want {
		t.Errorf("HTTPAddr() = %q, want %q", got, want)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[app\nport="), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want decode error")
	}
}
