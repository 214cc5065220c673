package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all CanvasMate configuration
type Config struct {
	// Server settings (API surface)
	Server ServerConfig `json:"server"`

	// Canvas LMS connection
	Canvas CanvasConfig `json:"canvas"`

	// Reasoning backend settings
	Model ModelConfig `json:"model"`

	// Agent loop settings
	Agent AgentConfig `json:"agent"`

	// Usage ledger settings
	Ledger LedgerConfig `json:"ledger"`

	// Scheduled digest settings
	Digest DigestConfig `json:"digest"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

// CanvasConfig holds the Canvas REST API connection settings.
// The access token is never read from the config file; it comes from the
// CANVAS_TOKEN environment variable (a .env file is honoured).
type CanvasConfig struct {
	BaseURL   string `json:"baseUrl"`
	TimeoutMs int    `json:"timeoutMs"`
	Token     string `json:"-"`
}

// ModelConfig describes the reasoning backend (any OpenAI-compatible API).
type ModelConfig struct {
	BaseURL     string             `json:"baseUrl,omitempty"`
	ID          string             `json:"id"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"maxTokens"`
	Pricing     map[string]Pricing `json:"pricing,omitempty"`
	APIKey      string             `json:"-"`
}

// Pricing is the per-1K-token rate for one model ID.
type Pricing struct {
	InputPer1K  float64 `json:"inputPer1k"`
	OutputPer1K float64 `json:"outputPer1k"`
}

type AgentConfig struct {
	MaxIterations    int    `json:"maxIterations"`
	MaxParallel      int    `json:"maxParallel"`
	RetryLimit       int    `json:"retryLimit"`
	ToolTimeoutMs    int    `json:"toolTimeoutMs"`
	RequestTimeoutMs int    `json:"requestTimeoutMs"`
	SystemPrompt     string `json:"systemPrompt,omitempty"`
}

type LedgerConfig struct {
	Path string `json:"path"`
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // standard cron expression
	Days     int    `json:"days"`    // look-ahead window for upcoming work
	Output   string `json:"output"`  // file the digest is appended to
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8320,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Canvas: CanvasConfig{
			TimeoutMs: 30_000,
		},
		Model: ModelConfig{
			ID:          "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxIterations:    10,
			MaxParallel:      5,
			RetryLimit:       2,
			ToolTimeoutMs:    30_000,
			RequestTimeoutMs: 120_000,
		},
		Ledger: LedgerConfig{
			Path: "token_usage.jsonl",
		},
		Digest: DigestConfig{
			Schedule: "0 8 * * *",
			Days:     7,
			Output:   "digest.log",
		},
	}
}

// Load reads a config file, applies defaults and pulls secrets from the
// environment. A .env file in the working directory is loaded first when
// present, matching how deployments keep CANVAS_TOKEN out of the config.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit env vars win either way.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// applyEnv pulls secrets and overrides from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("CANVAS_URL"); v != "" {
		c.Canvas.BaseURL = v
	}
	c.Canvas.Token = os.Getenv("CANVAS_TOKEN")
	c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("OPENAI_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("MODEL_ID"); v != "" {
		c.Model.ID = v
	}
}

// Validate checks settings that would otherwise fail deep inside a query.
func (c *Config) Validate() error {
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas.baseUrl is required (or set CANVAS_URL)")
	}
	if c.Model.ID == "" {
		return fmt.Errorf("model.id is required")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.maxIterations must be at least 1")
	}
	if c.Agent.MaxParallel < 1 {
		return fmt.Errorf("agent.maxParallel must be at least 1")
	}
	return nil
}

// Save writes the config back to disk (used by init).
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
