// Package agent is the worker execution agent. It runs single-threaded
// inside an isolated process: clone, edit one file through the rewrite
// function, verify, commit, and report everything back through the callback
// surface. The host process exits non-zero on any fatal step.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/gitpilot/internal/llm"
)

// Execution modes, matching the dispatcher's MODE contract.
const (
	ModeExecute = "execute"
	ModePush    = "push"
)

// Agent performs one task invocation start to finish.
type Agent struct {
	cfg      *Config
	report   *Reporter
	rewriter llm.Rewriter
}

// New creates an agent for one invocation.
func New(cfg *Config, report *Reporter, rewriter llm.Rewriter) *Agent {
	return &Agent{cfg: cfg, report: report, rewriter: rewriter}
}

// Run executes the configured mode. Every error is caught here exactly once:
// the fail callback is attempted, then the error is returned for the host
// process to exit non-zero.
func (a *Agent) Run(ctx context.Context) error {
	var err error
	switch a.cfg.Mode {
	case ModePush:
		err = a.runPush(ctx)
	default:
		err = a.runExecute(ctx)
	}

	if err != nil {
		a.report.Log("[ERROR] " + err.Error())
		if ferr := a.report.Fail(err.Error()); ferr != nil {
			a.report.Log("failed to deliver failure marker: " + ferr.Error())
		}
		return err
	}
	return nil
}

// runExecute clones the repository, rewrites the target file, validates it,
// commits the change on a new work branch and advances the task to
// READY_FOR_REVIEW. A no-op edit short-circuits to COMPLETED.
func (a *Agent) runExecute(ctx context.Context) error {
	workspace, err := os.MkdirTemp("", "gitpilot-task-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)
	repoDir := filepath.Join(workspace, "repo")

	// 1) Clone and checkout
	a.report.Logf("Cloning repo: %s", a.cfg.RepoURL)
	git, err := gitClone(a.cfg.RepoURL, repoDir)
	if err != nil {
		return err
	}
	a.report.Log("Clone completed.")

	a.report.Logf("Checking out branch: %s", a.cfg.Branch)
	if err := git.checkout(a.cfg.Branch); err != nil {
		return err
	}

	// 2) Resolve the target file
	relPath, err := resolveTargetFile(repoDir, a.cfg.TargetFile)
	if err != nil {
		return err
	}
	a.report.Logf("Target file resolved: %s", relPath)

	// 3) Rewrite via the model
	original, err := os.ReadFile(filepath.Join(repoDir, relPath))
	if err != nil {
		return fmt.Errorf("read %s: %w", relPath, err)
	}

	a.report.Log("Calling model to rewrite file...")
	updated, err := a.rewriter.Rewrite(ctx, a.cfg.Prompt, relPath, string(original))
	if err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}
	if strings.TrimSpace(updated) == "" {
		return fmt.Errorf("rewrite returned empty content")
	}
	if strings.TrimSpace(updated) == strings.TrimSpace(string(original)) {
		// A no-op edit is valid; the working tree check below decides.
		a.report.Log("Rewrite output identical to original. Continuing.")
	}

	// 4) Write back and check syntax of just the changed file
	if err := os.WriteFile(filepath.Join(repoDir, relPath), []byte(updated), 0644); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}

	a.report.Log("Running syntax check on changed file...")
	checked, err := syntaxCheck(repoDir, relPath)
	if err != nil {
		return fmt.Errorf("syntax check: %w", err)
	}
	if checked {
		a.report.Log("Syntax check passed.")
	} else {
		a.report.Log("No syntax check available for this file type. Skipping.")
	}

	// 5) Best-effort dependency install and tests
	projectChecks(repoDir, a.report)

	// 6) Capture and report the diff, even when empty
	a.report.Log("Capturing git diff...")
	diff, err := git.diff()
	if err != nil {
		return err
	}
	a.report.Diff(diff)

	// 7) Branch and stage; report the branch name before committing so the
	// controller records it even if a later step fails.
	if err := git.configIdentity(); err != nil {
		return err
	}

	workBranch := fmt.Sprintf("%s/task-%s", a.cfg.BranchPrefix, a.cfg.TaskID)
	a.report.Logf("Creating work branch: %s", workBranch)
	if err := git.checkoutNew(workBranch); err != nil {
		return err
	}
	if err := git.add(relPath); err != nil {
		return err
	}
	a.report.WorkBranch(workBranch)

	// 8) No-change short circuit: complete without committing
	status, err := git.statusPorcelain()
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		a.report.Log("No changes detected after edit. Skipping commit.")
		a.report.Diff("")
		return a.report.Complete()
	}

	// 9) Commit and hand the task back for review
	message := fmt.Sprintf("gitpilot: task %s", a.cfg.TaskID)
	a.report.Logf("Committing changes: %s", message)
	if err := git.commit(message); err != nil {
		return err
	}

	a.report.Log("Edit committed. Ready for review.")
	return a.report.Status("READY_FOR_REVIEW")
}

// runPush reconstructs the committed change from the stored diff and pushes
// the work branch. The execute-mode workspace is gone by now, so the diff on
// the task record is the sole handoff artifact.
func (a *Agent) runPush(_ context.Context) error {
	workspace, err := os.MkdirTemp("", "gitpilot-push-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)
	repoDir := filepath.Join(workspace, "repo")

	a.report.Logf("Cloning repo for push: %s", a.cfg.RepoURL)
	git, err := gitClone(a.cfg.RepoURL, repoDir)
	if err != nil {
		return err
	}
	if err := git.checkout(a.cfg.Branch); err != nil {
		return err
	}

	a.report.Log("Fetching stored diff...")
	diff, err := a.report.FetchDiff()
	if err != nil {
		return err
	}
	if strings.TrimSpace(diff) == "" {
		return fmt.Errorf("stored diff is empty; nothing to push")
	}

	a.report.Logf("Recreating work branch: %s", a.cfg.WorkBranch)
	if err := git.checkoutNew(a.cfg.WorkBranch); err != nil {
		return err
	}
	if err := git.apply(diff); err != nil {
		return err
	}

	if err := git.configIdentity(); err != nil {
		return err
	}
	if err := git.addAll(); err != nil {
		return err
	}

	status, err := git.statusPorcelain()
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("applied diff produced no changes")
	}

	message := fmt.Sprintf("gitpilot: task %s", a.cfg.TaskID)
	if err := git.commit(message); err != nil {
		return err
	}

	a.report.Log("Setting authenticated remote URL for push...")
	if err := git.setRemoteURL(authenticatedRemoteURL(a.cfg.RepoFullName, a.cfg.GitHubToken)); err != nil {
		return err
	}

	a.report.Logf("Pushing branch: %s", a.cfg.WorkBranch)
	if err := git.pushUpstream(a.cfg.WorkBranch); err != nil {
		return err
	}
	a.report.Log("Push completed.")

	return a.report.Status("PUSHED")
}

// resolveTargetFile resolves the user-supplied path against the checkout
// root. Accepts Windows separators and tolerates one "main/" prefix alias.
func resolveTargetFile(repoDir, targetFile string) (string, error) {
	if targetFile == "" {
		return "", fmt.Errorf("target file not set")
	}

	normalized := strings.TrimLeft(strings.ReplaceAll(targetFile, "\\", "/"), "/")
	candidates := []string{normalized}
	if rest, ok := strings.CutPrefix(normalized, "main/"); ok {
		candidates = append(candidates, rest)
	}

	for _, rel := range candidates {
		full := filepath.Join(repoDir, filepath.FromSlash(rel))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return rel, nil
		}
	}
	return "", fmt.Errorf("target file not found in repo: %s", targetFile)
}
