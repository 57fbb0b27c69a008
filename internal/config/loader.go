package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file, falling back to defaults when it does
// not exist, then applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads configuration from an explicit path. Used by tests and the
// --config flag.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	loadFromEnv(cfg)
	return cfg, nil
}

// Path returns the config file location, honoring XDG_CONFIG_HOME.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Dir returns the configuration directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "loom")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "loom")
}

// loadFromFile merges a YAML file into cfg. ${VAR} references are expanded
// before parsing so secrets can live in the environment.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv applies environment-variable overrides on top of the file.
func loadFromEnv(cfg *Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.API.AnthropicKey == "" {
		cfg.API.AnthropicKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.API.GeminiKey == "" {
		cfg.API.GeminiKey = key
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" {
		cfg.API.OllamaBaseURL = url
	}
	if model := os.Getenv("LOOM_MODEL"); model != "" {
		cfg.Model.Name = model
	}
}

// Save writes the configuration atomically, with owner-only permissions
// since it may hold API keys.
func (c *Config) Save() error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
