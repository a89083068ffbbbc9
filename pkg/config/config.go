// Package config loads the bot configuration from a JSON file with
// environment-variable overrides. All values are read-only once loaded.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type TelegramConfig struct {
	Token     string   `json:"token" env:"FORGEBOT_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"FORGEBOT_TELEGRAM_ALLOW_FROM"`
}

type LLMConfig struct {
	APIKey    string `json:"api_key" env:"FORGEBOT_LLM_API_KEY"`
	Model     string `json:"model" env:"FORGEBOT_LLM_MODEL"`
	BaseURL   string `json:"base_url" env:"FORGEBOT_LLM_BASE_URL"`
	MaxTokens int    `json:"max_tokens" env:"FORGEBOT_LLM_MAX_TOKENS"`
}

type SecurityConfig struct {
	// ApprovedRoot is the outer directory boundary for every agent action.
	ApprovedRoot          string   `json:"approved_root" env:"FORGEBOT_APPROVED_ROOT"`
	AllowedTools          []string `json:"allowed_tools" env:"FORGEBOT_ALLOWED_TOOLS"`
	DisallowedTools       []string `json:"disallowed_tools" env:"FORGEBOT_DISALLOWED_TOOLS"`
	DisableToolValidation bool     `json:"disable_tool_validation" env:"FORGEBOT_DISABLE_TOOL_VALIDATION"`
	AgenticMode           bool     `json:"agentic_mode" env:"FORGEBOT_AGENTIC_MODE"`
}

type WorktreeConfig struct {
	// BaseDir defaults to <approved_root>/.worktrees when empty.
	BaseDir      string `json:"base_dir" env:"FORGEBOT_WORKTREE_BASE_DIR"`
	BranchPrefix string `json:"branch_prefix" env:"FORGEBOT_WORKTREE_BRANCH_PREFIX"`
	// MaxPerUser caps how many worktrees one user's sessions may hold.
	// Zero disables the cap.
	MaxPerUser int `json:"max_per_user" env:"FORGEBOT_WORKTREE_MAX_PER_USER"`
}

type AgentConfig struct {
	MaxToolIterations int `json:"max_tool_iterations" env:"FORGEBOT_AGENT_MAX_TOOL_ITERATIONS"`
	ExecTimeout       int `json:"exec_timeout" env:"FORGEBOT_AGENT_EXEC_TIMEOUT"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"FORGEBOT_LOG_LEVEL"`
	File  string `json:"file" env:"FORGEBOT_LOG_FILE"`
}

type Config struct {
	Telegram  TelegramConfig `json:"telegram"`
	LLM       LLMConfig      `json:"llm"`
	Security  SecurityConfig `json:"security"`
	Worktree  WorktreeConfig `json:"worktree"`
	Agent     AgentConfig    `json:"agent"`
	Logging   LoggingConfig  `json:"logging"`
	SessionDB string         `json:"session_db" env:"FORGEBOT_SESSION_DB"`
}

// Load reads path (when it exists), applies env overrides, fills defaults,
// and validates. A missing file with complete env configuration is fine.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-sonnet-4-5"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 8192
	}
	if c.Worktree.BranchPrefix == "" {
		c.Worktree.BranchPrefix = "forgebot"
	}
	if c.Agent.MaxToolIterations == 0 {
		c.Agent.MaxToolIterations = 20
	}
	if c.Agent.ExecTimeout == 0 {
		c.Agent.ExecTimeout = 60
	}
	if c.SessionDB == "" && c.Security.ApprovedRoot != "" {
		c.SessionDB = filepath.Join(c.Security.ApprovedRoot, ".forgebot", "sessions.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Security.ApprovedRoot == "" {
		return fmt.Errorf("security.approved_root is required")
	}
	if !filepath.IsAbs(c.Security.ApprovedRoot) {
		return fmt.Errorf("security.approved_root must be absolute, got %q", c.Security.ApprovedRoot)
	}
	if c.Worktree.BaseDir != "" && !filepath.IsAbs(c.Worktree.BaseDir) {
		return fmt.Errorf("worktree.base_dir must be absolute, got %q", c.Worktree.BaseDir)
	}
	return nil
}

// WorktreeBaseDir resolves the worktree base directory, defaulting to
// .worktrees under the approved root.
func (c *Config) WorktreeBaseDir() string {
	if c.Worktree.BaseDir != "" {
		return c.Worktree.BaseDir
	}
	return filepath.Join(c.Security.ApprovedRoot, ".worktrees")
}
