package agent

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Config is the worker's environment contract, handed off by the dispatcher.
// The payload is fully self-contained; the worker shares nothing with the
// daemon but the callback surface.
type Config struct {
	TaskID       string
	RepoURL      string
	Branch       string
	Prompt       string
	TargetFile   string
	GitHubToken  string
	BackendURL   string
	Mode         string
	RepoFullName string
	WorkBranch   string // push mode only
	BranchPrefix string
	RewriteModel string
}

// FromEnv reads the worker configuration from environment variables.
// Instruction and target file arrive base64-encoded to survive environment
// escaping.
func FromEnv() (*Config, error) {
	cfg := &Config{
		TaskID:       os.Getenv("TASK_ID"),
		RepoURL:      os.Getenv("REPO_URL"),
		Branch:       getenvDefault("BRANCH", "main"),
		GitHubToken:  strings.TrimSpace(os.Getenv("GITHUB_TOKEN")),
		BackendURL:   strings.TrimRight(os.Getenv("BACKEND_URL"), "/"),
		Mode:         getenvDefault("MODE", "execute"),
		RepoFullName: strings.TrimSpace(os.Getenv("REPO_FULL_NAME")),
		WorkBranch:   os.Getenv("WORK_BRANCH"),
		BranchPrefix: getenvDefault("BRANCH_PREFIX", "gitpilot"),
		RewriteModel: getenvDefault("REWRITE_MODEL", "gpt-4o-mini"),
	}

	prompt, err := getenvB64("TASK_PROMPT_B64")
	if err != nil {
		return nil, err
	}
	cfg.Prompt = strings.TrimSpace(prompt)

	target, err := getenvB64("TARGET_FILE_B64")
	if err != nil {
		return nil, err
	}
	cfg.TargetFile = strings.TrimSpace(target)

	if cfg.TaskID == "" {
		return nil, fmt.Errorf("TASK_ID not set")
	}
	if cfg.RepoURL == "" {
		return nil, fmt.Errorf("REPO_URL not set")
	}
	if cfg.GitHubToken == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN not set (needed to push branch)")
	}
	if cfg.RepoFullName == "" || !strings.Contains(cfg.RepoFullName, "/") {
		return nil, fmt.Errorf("REPO_FULL_NAME not set or invalid")
	}

	switch cfg.Mode {
	case ModeExecute:
		if cfg.TargetFile == "" {
			return nil, fmt.Errorf("TARGET_FILE not set (must be assigned before start)")
		}
		if cfg.Prompt == "" {
			return nil, fmt.Errorf("TASK_PROMPT not set")
		}
	case ModePush:
		if cfg.WorkBranch == "" {
			return nil, fmt.Errorf("WORK_BRANCH not set (required in push mode)")
		}
	default:
		return nil, fmt.Errorf("unknown MODE %q", cfg.Mode)
	}

	return cfg, nil
}

func getenvDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getenvB64(name string) (string, error) {
	val := os.Getenv(name)
	if val == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(decoded), nil
}
