package config

import "time"

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			OllamaBaseURL: "http://localhost:11434",
			Retry: RetryConfig{
				MaxRetries:  3,
				RetryDelay:  1 * time.Second,
				MaxDelay:    30 * time.Second,
				HTTPTimeout: 120 * time.Second,
			},
		},
		Model: ModelConfig{
			Name:            "claude-sonnet-4-5",
			Temperature:     0.7,
			MaxOutputTokens: 8192,
		},
		Context: ContextConfig{
			TargetRatio: 0.8,
			TrimMode:    "summarize",
		},
		Session: SessionConfig{
			Enabled:  true,
			AutoLoad: false,
			MaxAge:   30 * 24 * time.Hour,
			MaxCount: 50,
		},
		Logging: LoggingConfig{
			Level: "warn",
			File:  true,
		},
	}
}
