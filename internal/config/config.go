// Package config loads daemon configuration from a YAML file with defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon settings.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	DBPath           string        `yaml:"db_path"`
	CallbackBaseURL  string        `yaml:"callback_base_url"`
	AgentBin         string        `yaml:"agent_bin"`
	BranchPrefix     string        `yaml:"branch_prefix"`
	DefaultPrincipal string        `yaml:"default_principal"`
	GitHubAPIBase    string        `yaml:"github_api_base"`
	PlanModel        string        `yaml:"plan_model"`
	RewriteModel     string        `yaml:"rewrite_model"`
	PlanContextLimit int           `yaml:"plan_context_limit"`
	WorkerDeadline   time.Duration `yaml:"worker_deadline"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		ListenAddr:       "127.0.0.1:7466",
		DBPath:           filepath.Join(homeDir, ".gitpilot", "gitpilot.db"),
		CallbackBaseURL:  "http://127.0.0.1:7466",
		AgentBin:         "", // empty means the running executable
		BranchPrefix:     "gitpilot",
		DefaultPrincipal: "local",
		GitHubAPIBase:    "https://api.github.com",
		PlanModel:        "gpt-4o-mini",
		RewriteModel:     "gpt-4o-mini",
		PlanContextLimit: 8000,
		WorkerDeadline:   30 * time.Minute,
		SweepInterval:    time.Minute,
	}
}

// Load reads the config file at path, merged over defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
