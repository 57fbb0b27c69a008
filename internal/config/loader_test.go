package config

import (
	"os"
	"path/filepath"
	"testing"

	"loom/internal/mcp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	def := DefaultConfig()
	if cfg.Model.Name != def.Model.Name {
		t.Errorf("model = %q, want default %q", cfg.Model.Name, def.Model.Name)
	}
	if cfg.Context.TargetRatio != def.Context.TargetRatio {
		t.Errorf("target ratio = %v", cfg.Context.TargetRatio)
	}
	if cfg.API.OllamaBaseURL != def.API.OllamaBaseURL {
		t.Errorf("ollama url = %q", cfg.API.OllamaBaseURL)
	}
}

func TestLoadFromMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  name: test-model
  temperature: 0.2
context:
  trim_mode: drop
mcp:
  servers:
    - name: github
      transport: http
      url: http://localhost:9000/mcp
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Model.Name != "test-model" || cfg.Model.Temperature != 0.2 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Context.TrimMode != "drop" {
		t.Errorf("trim mode = %q", cfg.Context.TrimMode)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.MaxCount != DefaultConfig().Session.MaxCount {
		t.Errorf("session max count = %d", cfg.Session.MaxCount)
	}
	if len(cfg.MCP.Servers) != 1 {
		t.Fatalf("servers = %+v", cfg.MCP.Servers)
	}
	srv := cfg.MCP.Servers[0]
	if srv.Name != "github" || srv.Transport != mcp.TransportHTTP || srv.URL != "http://localhost:9000/mcp" {
		t.Errorf("server = %+v", srv)
	}
}

func TestLoadFromExpandsEnvReferences(t *testing.T) {
	t.Setenv("LOOM_TEST_SECRET", "sk-test-123")
	path := writeConfig(t, `
api:
  anthropic_key: ${LOOM_TEST_SECRET}
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.API.AnthropicKey != "sk-test-123" {
		t.Errorf("key = %q", cfg.API.AnthropicKey)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_MODEL", "env-model")
	t.Setenv("OLLAMA_HOST", "http://10.0.0.5:11434")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Model.Name != "env-model" {
		t.Errorf("model = %q", cfg.Model.Name)
	}
	if cfg.API.OllamaBaseURL != "http://10.0.0.5:11434" {
		t.Errorf("ollama url = %q", cfg.API.OllamaBaseURL)
	}
}

func TestLoadFromFileKeyWinsOverEnvKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	path := writeConfig(t, `
api:
  anthropic_key: from-file
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.API.AnthropicKey != "from-file" {
		t.Errorf("key = %q, file value should win", cfg.API.AnthropicKey)
	}
}

func TestLoadFromRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "model: [unclosed")
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("malformed YAML must fail")
	}
}
