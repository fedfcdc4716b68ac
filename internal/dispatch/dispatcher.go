// Package dispatch launches isolated worker processes for tasks. Dispatch is
// fire-and-forget: the request path never waits on a worker, and all outcome
// reporting travels back through the callback HTTP surface.
package dispatch

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"

	"github.com/fentz26/gitpilot/internal/models"
	"github.com/rs/zerolog/log"
)

// Mode selects what the worker does.
type Mode string

const (
	// ModeExecute clones, edits and commits the change locally.
	ModeExecute Mode = "execute"
	// ModePush reconstructs the work branch from the stored diff and pushes it.
	ModePush Mode = "push"
)

// Launcher starts worker processes with a fully self-contained environment.
type Launcher struct {
	// AgentBin is the executable to launch. Empty means the running binary.
	AgentBin string
	// CallbackBaseURL is where the worker reports progress and results.
	CallbackBaseURL string
	// BranchPrefix names the work branch namespace (<prefix>/task-<id>).
	BranchPrefix string
	// RewriteModel is passed through to the worker's model client.
	RewriteModel string
}

// Dispatch launches one worker for the task and returns as soon as the
// process has started. The worker's exit code is not observed here; it is
// reaped in the background so failures surface only via the fail callback.
func (l *Launcher) Dispatch(task *models.Task, accessToken string, mode Mode) error {
	bin := l.AgentBin
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve agent binary: %w", err)
		}
		bin = exe
	}

	repoURL := fmt.Sprintf("https://github.com/%s.git", task.RepoFullName)
	promptB64 := base64.StdEncoding.EncodeToString([]byte(task.Prompt))
	targetB64 := base64.StdEncoding.EncodeToString([]byte(task.TargetFile))

	cmd := exec.Command(bin, "agent")
	cmd.Env = append(os.Environ(),
		"TASK_ID="+task.ID,
		"REPO_URL="+repoURL,
		"BRANCH="+task.Branch,
		"TASK_PROMPT_B64="+promptB64,
		"TARGET_FILE_B64="+targetB64,
		"GITHUB_TOKEN="+accessToken,
		"BACKEND_URL="+l.CallbackBaseURL,
		"MODE="+string(mode),
		"REPO_FULL_NAME="+task.RepoFullName,
		"WORK_BRANCH="+task.WorkBranch,
		"BRANCH_PREFIX="+l.BranchPrefix,
		"REWRITE_MODEL="+l.RewriteModel,
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	log.Info().
		Str("task_id", task.ID).
		Str("mode", string(mode)).
		Int("pid", cmd.Process.Pid).
		Msg("dispatched worker")

	// Reap the process without blocking the caller. The exit code is
	// intentionally ignored; outcomes arrive via callbacks.
	go func() { _ = cmd.Wait() }()

	return nil
}
