// Package config loads and watches the application configuration.
package config

import (
	"time"

	"loom/internal/mcp"
)

// Config is the main application configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Model    ModelConfig    `yaml:"model"`
	Context  ContextConfig  `yaml:"context"`
	Tools    ToolsConfig    `yaml:"tools"`
	Approval ApprovalConfig `yaml:"approval"`
	Session  SessionConfig  `yaml:"session"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig holds provider credentials and endpoints. Values may reference
// environment variables with ${VAR} syntax; they are expanded on load.
type APIConfig struct {
	AnthropicKey string `yaml:"anthropic_key,omitempty"`
	AnthropicURL string `yaml:"anthropic_url,omitempty"`
	GeminiKey    string `yaml:"gemini_key,omitempty"`

	// OllamaBaseURL points at a local or remote Ollama server
	// (default http://localhost:11434).
	OllamaBaseURL string `yaml:"ollama_base_url,omitempty"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig tunes request-level retries inside the provider clients.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// ModelConfig selects and tunes the model.
type ModelConfig struct {
	Name            string  `yaml:"name"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

// ContextConfig tunes the context budget.
type ContextConfig struct {
	// MaxTokens overrides the model's context window; 0 uses the catalog
	// value.
	MaxTokens int `yaml:"max_tokens"`

	// TargetRatio is the budget utilization target (default 0.8).
	TargetRatio float64 `yaml:"target_ratio"`

	// TrimMode is "drop" or "summarize".
	TrimMode string `yaml:"trim_mode"`
}

// ToolsConfig tunes the built-in tools.
type ToolsConfig struct {
	// WorkDir anchors relative paths; empty means the process working
	// directory.
	WorkDir string `yaml:"work_dir,omitempty"`
}

// ApprovalConfig tunes the tool approval gate.
type ApprovalConfig struct {
	// AutoApprove skips all prompts. Meant for scripted runs.
	AutoApprove bool `yaml:"auto_approve"`
}

// SessionConfig tunes session persistence.
type SessionConfig struct {
	Enabled  bool `yaml:"enabled"`
	AutoLoad bool `yaml:"auto_load"`

	MaxAge   time.Duration `yaml:"max_age"`
	MaxCount int           `yaml:"max_count"`
}

// MCPConfig lists remote tool providers.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers,omitempty"`
}

// LoggingConfig tunes file logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File enables logging to loom.log in the config directory.
	File bool `yaml:"file"`
}
