package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"vaultagent/internal/fsutil"
)

type Config struct {
	Vault    VaultConfig    `json:"vault"`
	Agent    AgentConfig    `json:"agent"`
	Feedback FeedbackConfig `json:"feedback"`
	Model    ModelConfig    `json:"model"`
	Audit    AuditConfig    `json:"audit"`
	Debug    bool           `json:"debug,omitempty"`
}

type VaultConfig struct {
	Root string `json:"root"`
}

type AgentConfig struct {
	// MaxIterations bounds continuation rounds per run.
	MaxIterations int `json:"max_iterations"`
	// ToolCallLimit bounds tool executions per run. Zero means unlimited.
	ToolCallLimit int `json:"tool_call_limit,omitempty"`
	// MaxCallsPerReply bounds commands extracted from one model reply.
	MaxCallsPerReply int `json:"max_calls_per_reply,omitempty"`
	// HistoryFile is the sqlite run-history path, relative to the config dir
	// when not absolute. Empty disables run history.
	HistoryFile string `json:"history_file,omitempty"`
}

type FeedbackConfig struct {
	// TimeoutMS is how long a pending human-input request stays answerable.
	TimeoutMS int `json:"timeout_ms"`
}

type ModelConfig struct {
	BaseURL     string  `json:"base_url"`
	APIKeyEnv   string  `json:"api_key_env,omitempty"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type AuditConfig struct {
	// File is the JSONL trail path. Empty disables the trail.
	File string `json:"file,omitempty"`
}

const (
	DefaultMaxIterations     = 10
	DefaultMaxCallsPerReply  = 6
	DefaultFeedbackTimeoutMS = 300_000
)

func Default() Config {
	return Config{
		Vault: VaultConfig{
			Root: "./vault",
		},
		Agent: AgentConfig{
			MaxIterations:    DefaultMaxIterations,
			MaxCallsPerReply: DefaultMaxCallsPerReply,
			HistoryFile:      "runs.db",
		},
		Feedback: FeedbackConfig{
			TimeoutMS: DefaultFeedbackTimeoutMS,
		},
		Model: ModelConfig{
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Name:        "gpt-4o-mini",
			Temperature: 0.2,
		},
		Audit: AuditConfig{
			File: "audit.jsonl",
		},
	}
}

func (c *Config) ApplyDefaults() {
	d := Default()
	if strings.TrimSpace(c.Vault.Root) == "" {
		c.Vault.Root = d.Vault.Root
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = d.Agent.MaxIterations
	}
	if c.Agent.MaxCallsPerReply == 0 {
		c.Agent.MaxCallsPerReply = d.Agent.MaxCallsPerReply
	}
	if c.Feedback.TimeoutMS == 0 {
		c.Feedback.TimeoutMS = d.Feedback.TimeoutMS
	}
	if strings.TrimSpace(c.Model.BaseURL) == "" {
		c.Model.BaseURL = d.Model.BaseURL
	}
	if strings.TrimSpace(c.Model.APIKeyEnv) == "" {
		c.Model.APIKeyEnv = d.Model.APIKeyEnv
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		c.Model.Name = d.Model.Name
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Vault.Root) == "" {
		return errors.New("vault.root cannot be empty")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be >= 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.ToolCallLimit < 0 {
		return fmt.Errorf("agent.tool_call_limit cannot be negative, got %d", c.Agent.ToolCallLimit)
	}
	if c.Agent.MaxCallsPerReply < 1 {
		return fmt.Errorf("agent.max_calls_per_reply must be >= 1, got %d", c.Agent.MaxCallsPerReply)
	}
	if c.Feedback.TimeoutMS < 1 {
		return fmt.Errorf("feedback.timeout_ms must be >= 1, got %d", c.Feedback.TimeoutMS)
	}

	base := strings.TrimSpace(c.Model.BaseURL)
	if base == "" {
		return errors.New("model.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("model.base_url must be an absolute URL: %q", c.Model.BaseURL)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New("model.name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature out of range: %v", c.Model.Temperature)
	}
	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens cannot be negative, got %d", c.Model.MaxTokens)
	}
	return nil
}

func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	return Load(path)
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config atomically, keeping the previous version as a
// .bak sibling.
func Save(path string, cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	buf = append(buf, '\n')

	if old, err := os.ReadFile(path); err == nil {
		if err := fsutil.WriteAtomic(path+".bak", old, 0o600); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}
	return fsutil.WriteAtomic(path, buf, 0o600)
}

// ResolveRelative anchors a possibly relative file path at the directory
// holding the config file.
func ResolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
