package dispatch

import (
	"testing"

	"github.com/fentz26/gitpilot/internal/models"
)

func TestDispatchMissingBinary(t *testing.T) {
	l := &Launcher{
		AgentBin:        "/no/such/binary",
		CallbackBaseURL: "http://127.0.0.1:7466",
		BranchPrefix:    "gitpilot",
		RewriteModel:    "gpt-4o-mini",
	}

	task := &models.Task{
		ID:           "task-1",
		RepoFullName: "octocat/hello",
		Branch:       "main",
		Prompt:       "edit",
		TargetFile:   "src/app.py",
	}

	if err := l.Dispatch(task, "token", ModeExecute); err == nil {
		t.Error("Dispatch with a missing binary must fail")
	}
}
