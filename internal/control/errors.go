package control

import (
	"errors"
	"fmt"

	"github.com/fentz26/gitpilot/internal/models"
)

// Sentinel errors for lifecycle operations.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrNoCredential       = errors.New("no access credential stored for principal")
	ErrInvalidRepo        = errors.New("repo_full_name must be 'owner/repo'")
	ErrTargetFileRequired = errors.New("target file not set")
	ErrWorkBranchRequired = errors.New("work branch not set")
	ErrTerminalState      = errors.New("task is in a terminal state")
)

// StateError is a precondition violation: the requested trigger is not legal
// from the task's current status. It names current vs required so the caller
// can re-read and recover.
type StateError struct {
	Trigger  Trigger
	Current  models.TaskStatus
	Required []models.TaskStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s task in status %s (requires %s)",
		e.Trigger, e.Current, statusNames(e.Required))
}

// NothingToPublishError indicates the work branch is not ahead of the base
// branch, naming both tips for diagnosability.
type NothingToPublishError struct {
	BaseBranch string
	BaseSHA    string
	WorkBranch string
	WorkSHA    string
}

func (e *NothingToPublishError) Error() string {
	return fmt.Sprintf("work branch %s (%s) is not ahead of %s (%s); nothing to publish",
		e.WorkBranch, e.WorkSHA, e.BaseBranch, e.BaseSHA)
}
