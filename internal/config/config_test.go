package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 9090
log_level = "debug"
data_dir = "` + dir + `"

[llm]
api_base = "https://llm.example.com"
model = "test-model"
key_ref = "env:TEST_KEY"
timeout = 45
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("LLM.Model: got %q, want %q", cfg.LLM.Model, "test-model")
	}
	if cfg.LLM.Timeout != 45 {
		t.Errorf("LLM.Timeout: got %d, want 45", cfg.LLM.Timeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 8080
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("PDFXTRACT_SERVER_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Port with env override: got %d, want 8888", cfg.Server.Port)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestLoad_ValidationFailure_BadLogLevel(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
port = 8080
log_level = "verbose"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.LLM.APIBase != DefaultLLMAPIBase {
		t.Errorf("LLM.APIBase: got %q, want %q", cfg.LLM.APIBase, DefaultLLMAPIBase)
	}
	if cfg.Pipeline.FailClosedOnUnparseableLLM != false {
		t.Error("FailClosedOnUnparseableLLM: got true, want false (spec-compatible default)")
	}
	if !cfg.Pattern.AllowSubstringAnchors {
		t.Error("AllowSubstringAnchors: got false, want true (spec-compatible default)")
	}
}

func TestDefaultConfig_ThresholdsMatchPackageConstants(t *testing.T) {
	// Running with no config file at all must reproduce the fixed
	// behaviour the respective packages use before config was wired in.
	cfg := DefaultConfig()

	if cfg.Cache.L1Max <= 0 {
		t.Error("Cache.L1Max must default to a positive capacity")
	}
	if cfg.Template.MinSaveConfidence <= 0 || cfg.Template.MinSaveConfidence > 1 {
		t.Errorf("Template.MinSaveConfidence out of range: %f", cfg.Template.MinSaveConfidence)
	}
	if cfg.Template.MatureThreshold < 1 {
		t.Errorf("Template.MatureThreshold must be at least 1, got %d", cfg.Template.MatureThreshold)
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	// Reset to ensure clean state.
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
port = 9999
log_level = "warn"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.Port != 9999 {
		t.Errorf("Port after import: got %d, want 9999", cfg.Server.Port)
	}

	// Reset to default to not affect other tests.
	set(DefaultConfig())
}

func TestCacheAndTemplateDBPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/pdfxtract-data"

	if got, want := cfg.CacheDBPath(), filepath.Join("/tmp/pdfxtract-data", "cache.db"); got != want {
		t.Errorf("CacheDBPath: got %q, want %q", got, want)
	}
	if got, want := cfg.TemplateDBPath(), filepath.Join("/tmp/pdfxtract-data", "templates.db"); got != want {
		t.Errorf("TemplateDBPath: got %q, want %q", got, want)
	}
}
