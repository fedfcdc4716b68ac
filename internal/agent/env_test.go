package agent

import (
	"encoding/base64"
	"strings"
	"testing"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TASK_ID", "task-1")
	t.Setenv("REPO_URL", "https://github.com/octocat/hello.git")
	t.Setenv("BRANCH", "main")
	t.Setenv("GITHUB_TOKEN", "test-token")
	t.Setenv("BACKEND_URL", "http://127.0.0.1:7466/")
	t.Setenv("REPO_FULL_NAME", "octocat/hello")
	t.Setenv("TASK_PROMPT_B64", base64.StdEncoding.EncodeToString([]byte("add a docstring")))
	t.Setenv("TARGET_FILE_B64", base64.StdEncoding.EncodeToString([]byte("src/app.py")))
	t.Setenv("MODE", "execute")
	t.Setenv("WORK_BRANCH", "")
}

func TestFromEnvExecute(t *testing.T) {
	setBaseEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Prompt != "add a docstring" {
		t.Errorf("Prompt not decoded: %q", cfg.Prompt)
	}
	if cfg.TargetFile != "src/app.py" {
		t.Errorf("Target file not decoded: %q", cfg.TargetFile)
	}
	if cfg.BackendURL != "http://127.0.0.1:7466" {
		t.Errorf("Backend URL must be trimmed: %q", cfg.BackendURL)
	}
	if cfg.Mode != ModeExecute {
		t.Errorf("Expected execute mode, got %q", cfg.Mode)
	}
}

func TestFromEnvExecuteRequiresTarget(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TARGET_FILE_B64", "")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "TARGET_FILE") {
		t.Errorf("Expected target file error, got %v", err)
	}
}

func TestFromEnvPushRequiresWorkBranch(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MODE", "push")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "WORK_BRANCH") {
		t.Errorf("Expected work branch error, got %v", err)
	}

	t.Setenv("WORK_BRANCH", "gitpilot/task-1")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Mode != ModePush {
		t.Errorf("Expected push mode, got %q", cfg.Mode)
	}
}

func TestFromEnvUnknownMode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MODE", "replay")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "MODE") {
		t.Errorf("Expected unknown mode error, got %v", err)
	}
}

func TestFromEnvBadBase64(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TASK_PROMPT_B64", "not valid base64!!!")

	_, err := FromEnv()
	if err == nil {
		t.Error("Expected base64 decode error")
	}
}

func TestFromEnvRequiresToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GITHUB_TOKEN", "  ")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "GITHUB_TOKEN") {
		t.Errorf("Expected token error, got %v", err)
	}
}
