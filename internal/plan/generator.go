// Package plan builds a bounded-size context for a task and asks the model
// for a reviewable step-by-step plan.
package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/gitpilot/internal/github"
	"github.com/fentz26/gitpilot/internal/llm"
	"github.com/fentz26/gitpilot/internal/models"
)

// DefaultContextLimit caps how many characters of the target file are sent.
const DefaultContextLimit = 8000

// FileFetcher fetches file content from the remote repository. Satisfied by
// *github.Client.
type FileFetcher interface {
	GetFile(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// Generator produces plans for tasks.
type Generator struct {
	planner      llm.Planner
	contextLimit int
}

// NewGenerator creates a plan generator. A non-positive limit uses the default.
func NewGenerator(planner llm.Planner, contextLimit int) *Generator {
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	return &Generator{planner: planner, contextLimit: contextLimit}
}

// Generate invokes the plan function with the task's instruction, repository
// identifiers and the target file's current content (truncated to the
// configured ceiling). It returns the plan text and the generator identifier.
// Nothing is stored here; on error the task must be left untouched.
func (g *Generator) Generate(ctx context.Context, task *models.Task, files FileFetcher) (text, origin string, err error) {
	if task.TargetFile == "" {
		return "", "", fmt.Errorf("target file not set")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", task.RepoFullName)
	fmt.Fprintf(&b, "Base branch: %s\n", task.Branch)
	fmt.Fprintf(&b, "Target file: %s\n\n", task.TargetFile)
	fmt.Fprintf(&b, "Instruction:\n%s\n", task.Prompt)

	ref := task.BaseCommitSHA
	if ref == "" {
		ref = task.Branch
	}

	content, err := files.GetFile(ctx, task.Owner(), task.Repo(), task.TargetFile, ref)
	switch {
	case err == nil:
		if len(content) > g.contextLimit {
			content = content[:g.contextLimit]
		}
		fmt.Fprintf(&b, "\nCurrent file content (may be truncated):\n%s\n", content)
	case errors.Is(err, github.ErrNotFound):
		// Plan without file context; the worker will fail later if the
		// file truly does not exist.
		fmt.Fprintf(&b, "\n(The target file could not be fetched for context.)\n")
	default:
		return "", "", fmt.Errorf("fetch target file: %w", err)
	}

	text, err = g.planner.Plan(ctx, b.String())
	if err != nil {
		return "", "", fmt.Errorf("generate plan: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("plan function returned empty text")
	}
	return text, g.planner.Model(), nil
}
