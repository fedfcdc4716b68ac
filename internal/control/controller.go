// Package control implements the task lifecycle controller and its HTTP
// surface. The controller is the only component allowed to change a task's
// status; workers and clients go through it.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/gitpilot/internal/dispatch"
	"github.com/fentz26/gitpilot/internal/github"
	"github.com/fentz26/gitpilot/internal/models"
	"github.com/fentz26/gitpilot/internal/plan"
	"github.com/fentz26/gitpilot/internal/store"
	"github.com/rs/zerolog/log"
)

// Gateway is the remote repository API surface the controller depends on.
// Satisfied by *github.Client.
type Gateway interface {
	GetBranch(ctx context.Context, owner, repo, name string) (*github.Branch, error)
	GetFile(ctx context.Context, owner, repo, path, ref string) (string, error)
	Compare(ctx context.Context, owner, repo, base, head string) (*github.Comparison, error)
	CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*github.PullRequest, error)
	ListRepos(ctx context.Context) ([]github.Repo, error)
	ListBranches(ctx context.Context, owner, repo string) ([]string, error)
}

// Dispatcher launches isolated workers. Satisfied by *dispatch.Launcher.
type Dispatcher interface {
	Dispatch(task *models.Task, accessToken string, mode dispatch.Mode) error
}

// GatewayFactory builds a Gateway bound to one access token.
type GatewayFactory func(token string) Gateway

// Controller validates transition legality, mutates the task record and
// triggers worker dispatch. It performs no repository I/O for the edit itself.
type Controller struct {
	store    *store.Store
	gateway  GatewayFactory
	launcher Dispatcher
	plans    *plan.Generator
}

// NewController wires the controller's collaborators.
func NewController(s *store.Store, gw GatewayFactory, launcher Dispatcher, plans *plan.Generator) *Controller {
	return &Controller{store: s, gateway: gw, launcher: launcher, plans: plans}
}

// transition moves the task to the target status with a compare-and-swap on
// its current status, so two concurrent triggers cannot both succeed. The
// audit record is written after the swap.
func (c *Controller) transition(task *models.Task, to models.TaskStatus, trigger Trigger, detail string) error {
	from := task.Status
	if err := c.store.UpdateStatusCAS(task.ID, from, to); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, rerr := c.store.GetTask(task.ID)
			if rerr == nil && current != nil {
				return &StateError{Trigger: trigger, Current: current.Status, Required: []models.TaskStatus{from}}
			}
		}
		return err
	}
	task.Status = to

	if _, err := c.store.RecordTransition(task.ID, from, to, string(trigger), detail); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to record transition")
	}
	return nil
}

// ownedTask loads a task and checks the principal owns it. Missing and
// foreign tasks are indistinguishable to the caller.
func (c *Controller) ownedTask(id, principal string) (*models.Task, error) {
	task, err := c.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil || task.Principal != principal {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (c *Controller) credentialFor(principal string) (*models.Credential, error) {
	cred, err := c.store.GetCredential(principal)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNoCredential
	}
	return cred, nil
}

// Submit validates the target against the remote and creates the task in
// QUEUED with the base commit captured for reproducibility. Gateway errors
// prevent the task from being created at all.
func (c *Controller) Submit(ctx context.Context, principal, repoFullName, branch, prompt string) (*models.Task, error) {
	if !strings.Contains(repoFullName, "/") {
		return nil, ErrInvalidRepo
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}

	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}

	ref := models.Task{RepoFullName: repoFullName}
	remote, err := c.gateway(cred.AccessToken).GetBranch(ctx, ref.Owner(), ref.Repo(), branch)
	if err != nil {
		return nil, fmt.Errorf("validate base branch: %w", err)
	}

	task, err := c.store.CreateTask(principal, repoFullName, branch, remote.Commit.SHA, prompt)
	if err != nil {
		return nil, err
	}

	if _, err := c.store.RecordTransition(task.ID, "", models.TaskStatusQueued, string(TriggerSubmit), ""); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to record transition")
	}
	return task, nil
}

// GetTask returns a task owned by the principal.
func (c *Controller) GetTask(id, principal string) (*models.Task, error) {
	return c.ownedTask(id, principal)
}

// ListTasks returns the principal's tasks, optionally filtered by status.
func (c *Controller) ListTasks(principal, status string) ([]models.Task, error) {
	tasks, err := c.store.ListTasks(status)
	if err != nil {
		return nil, err
	}
	owned := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Principal == principal {
			owned = append(owned, t)
		}
	}
	return owned, nil
}

// SetTarget assigns the file the worker will edit. Legal until the plan has
// been approved.
func (c *Controller) SetTarget(id, principal, targetFile string) (*models.Task, error) {
	task, err := c.ownedTask(id, principal)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(TriggerSetTarget, task.Status); err != nil {
		return nil, err
	}
	if strings.TrimSpace(targetFile) == "" {
		return nil, fmt.Errorf("target_file must not be empty")
	}
	if err := c.store.SetTargetFile(id, targetFile); err != nil {
		return nil, err
	}
	task.TargetFile = targetFile
	return task, nil
}

// GeneratePlan invokes the plan function and gates the lifecycle at
// PLAN_READY. On failure no partial plan is stored and the status is
// untouched. With force, an existing plan may be regenerated from any
// non-terminal pre-push state, dropping a previous approval.
func (c *Controller) GeneratePlan(ctx context.Context, id, principal string, force bool) (*models.Task, error) {
	task, err := c.ownedTask(id, principal)
	if err != nil {
		return nil, err
	}

	if force {
		if task.Status.Terminal() {
			return nil, fmt.Errorf("%w: %s", ErrTerminalState, task.Status)
		}
	} else if err := checkTrigger(TriggerGeneratePlan, task.Status); err != nil {
		return nil, err
	}
	if task.TargetFile == "" {
		return nil, ErrTargetFileRequired
	}

	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}

	text, origin, err := c.plans.Generate(ctx, task, c.gateway(cred.AccessToken))
	if err != nil {
		return nil, err
	}

	if err := c.store.SetPlan(id, text, origin); err != nil {
		return nil, err
	}
	task.PlanText = text
	task.PlanOrigin = origin

	if task.Status != models.TaskStatusPlanReady {
		if err := c.transition(task, models.TaskStatusPlanReady, TriggerGeneratePlan, origin); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// ApprovePlan advances PLAN_READY to APPROVED. Repeating the call is rejected
// as a precondition violation, not silently accepted.
func (c *Controller) ApprovePlan(id, principal string) (*models.Task, error) {
	task, err := c.ownedTask(id, principal)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(TriggerApprovePlan, task.Status); err != nil {
		return nil, err
	}
	if err := c.transition(task, models.TaskStatusApproved, TriggerApprovePlan, ""); err != nil {
		return nil, err
	}
	return task, nil
}

// Start moves APPROVED to RUNNING and dispatches a worker in execute mode.
// The status is swapped before dispatch so a second start cannot race a
// second worker onto the same task.
func (c *Controller) Start(id, principal string) (*models.Task, error) {
	task, err := c.ownedTask(id, principal)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(TriggerStart, task.Status); err != nil {
		return nil, err
	}
	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}

	if err := c.transition(task, models.TaskStatusRunning, TriggerStart, ""); err != nil {
		return nil, err
	}

	if err := c.launcher.Dispatch(task, cred.AccessToken, dispatch.ModeExecute); err != nil {
		ferr := c.Fail(task.ID, "dispatch worker: "+err.Error())
		if ferr != nil {
			log.Error().Err(ferr).Str("task_id", task.ID).Msg("failed to mark task failed after dispatch error")
		}
		return nil, fmt.Errorf("dispatch worker: %w", err)
	}
	return task, nil
}

// Push moves READY_FOR_REVIEW to PUSHING and dispatches a worker in push
// mode. Requires the work branch recorded by the execute-mode worker.
func (c *Controller) Push(id, principal string) (*models.Task, error) {
	task, err := c.ownedTask(id, principal)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(TriggerPush, task.Status); err != nil {
		return nil, err
	}
	if task.WorkBranch == "" {
		return nil, ErrWorkBranchRequired
	}
	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}

	if err := c.transition(task, models.TaskStatusPushing, TriggerPush, ""); err != nil {
		return nil, err
	}

	if err := c.launcher.Dispatch(task, cred.AccessToken, dispatch.ModePush); err != nil {
		ferr := c.Fail(task.ID, "dispatch worker: "+err.Error())
		if ferr != nil {
			log.Error().Err(ferr).Str("task_id", task.ID).Msg("failed to mark task failed after dispatch error")
		}
		return nil, fmt.Errorf("dispatch worker: %w", err)
	}
	return task, nil
}

// Publish opens the pull request for a PUSHED task. When the work branch is
// not ahead of the base branch the call fails naming both tips and the task
// stays PUSHED. The PR reference is recorded exactly once.
func (c *Controller) Publish(ctx context.Context, id, principal, title, body string) (*models.Task, error) {
	task, err := c.ownedTask(id, principal)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(TriggerPublish, task.Status); err != nil {
		return nil, err
	}
	if task.WorkBranch == "" {
		return nil, ErrWorkBranchRequired
	}
	if !strings.Contains(task.RepoFullName, "/") {
		return nil, ErrInvalidRepo
	}

	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}
	gw := c.gateway(cred.AccessToken)

	cmp, err := gw.Compare(ctx, task.Owner(), task.Repo(), task.Branch, task.WorkBranch)
	if err != nil {
		return nil, fmt.Errorf("compare branches: %w", err)
	}
	if cmp.AheadBy == 0 {
		return nil, c.nothingToPublish(ctx, gw, task)
	}

	if title == "" {
		title = fmt.Sprintf("gitpilot: task %s", task.ID)
	}
	if body == "" {
		body = task.Prompt
	}

	pr, err := gw.CreatePullRequest(ctx, task.Owner(), task.Repo(), task.WorkBranch, task.Branch, title, body)
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	if err := c.store.SetPullRequest(task.ID, pr.HTMLURL, pr.Number); err != nil {
		return nil, err
	}
	task.PRURL = pr.HTMLURL
	task.PRNumber = pr.Number

	if err := c.transition(task, models.TaskStatusPRCreated, TriggerPublish, pr.HTMLURL); err != nil {
		return nil, err
	}
	_ = c.store.AppendLog(task.ID, "Pull request created: "+pr.HTMLURL)
	return task, nil
}

// nothingToPublish builds the diagnosable zero-commits-ahead error, naming
// both branch tip hashes when they can be fetched.
func (c *Controller) nothingToPublish(ctx context.Context, gw Gateway, task *models.Task) error {
	e := &NothingToPublishError{BaseBranch: task.Branch, WorkBranch: task.WorkBranch}
	if b, err := gw.GetBranch(ctx, task.Owner(), task.Repo(), task.Branch); err == nil {
		e.BaseSHA = b.Commit.SHA
	}
	if b, err := gw.GetBranch(ctx, task.Owner(), task.Repo(), task.WorkBranch); err == nil {
		e.WorkSHA = b.Commit.SHA
	}
	return e
}

// --- Worker callback operations ---

// AppendLog appends a progress line to the task log. Log writes never gate on
// lifecycle state.
func (c *Controller) AppendLog(id, message string) error {
	task, err := c.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	return c.store.AppendLog(id, message)
}

// SetWorkBranch records the work branch name reported by the worker. At most
// one work branch per task; once set it is never renamed.
func (c *Controller) SetWorkBranch(id, workBranch string) error {
	task, err := c.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if strings.TrimSpace(workBranch) == "" {
		return fmt.Errorf("work_branch must not be empty")
	}
	return c.store.SetWorkBranch(id, workBranch)
}

// SetDiff replaces the stored diff text (last-write-wins).
func (c *Controller) SetDiff(id, diff string) error {
	task, err := c.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	return c.store.SetDiff(id, diff)
}

// DiffText returns the stored diff. Unscoped like the other worker callback
// operations: the push-mode worker reconstructs the commit from this diff and
// carries no principal.
func (c *Controller) DiffText(id string) (string, error) {
	task, err := c.store.GetTask(id)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", ErrTaskNotFound
	}
	return task.DiffText, nil
}

// ReportStatus handles the worker's two-phase progress reports: RUNNING work
// advances to READY_FOR_REVIEW and PUSHING work to PUSHED. Any other target
// is rejected.
func (c *Controller) ReportStatus(id string, to models.TaskStatus) error {
	task, err := c.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}

	from, ok := reportTargets[to]
	if !ok {
		return fmt.Errorf("status %s cannot be reported by a worker", to)
	}
	if task.Status != from {
		return &StateError{Trigger: TriggerReport, Current: task.Status, Required: []models.TaskStatus{from}}
	}
	return c.transition(task, to, TriggerReport, "")
}

// Complete marks the task COMPLETED. This is the worker's direct terminal
// signal, used by the no-change short circuit and the legacy one-shot flow;
// it is legal from any non-terminal state.
func (c *Controller) Complete(id string) error {
	task, err := c.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return &StateError{Trigger: TriggerComplete, Current: task.Status, Required: nonTerminal}
	}
	return c.transition(task, models.TaskStatusCompleted, TriggerComplete, "")
}

// Fail marks the task FAILED with the reason appended to the log. Legal from
// any non-terminal state; terminal tasks are left untouched.
func (c *Controller) Fail(id, reason string) error {
	task, err := c.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return &StateError{Trigger: TriggerFail, Current: task.Status, Required: nonTerminal}
	}

	if err := c.transition(task, models.TaskStatusFailed, TriggerFail, reason); err != nil {
		return err
	}
	if reason != "" {
		_ = c.store.AppendLog(id, "[FAIL] "+reason)
	}
	return nil
}

// --- Credential and repository browsing operations ---

// PutCredential stores an access token for a principal, overwriting any
// previous one.
func (c *Controller) PutCredential(principal, accessToken, tokenType, scope string) error {
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("access_token must not be empty")
	}
	return c.store.PutCredential(principal, accessToken, tokenType, scope)
}

// ListRepos lists repositories visible to the principal's credential.
func (c *Controller) ListRepos(ctx context.Context, principal string) ([]github.Repo, error) {
	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}
	return c.gateway(cred.AccessToken).ListRepos(ctx)
}

// ListBranches lists branch names of a repository.
func (c *Controller) ListBranches(ctx context.Context, principal, owner, repo string) ([]string, error) {
	cred, err := c.credentialFor(principal)
	if err != nil {
		return nil, err
	}
	return c.gateway(cred.AccessToken).ListBranches(ctx, owner, repo)
}

// Transitions returns the audit history for a task.
func (c *Controller) Transitions(id, principal string) ([]models.Transition, error) {
	if _, err := c.ownedTask(id, principal); err != nil {
		return nil, err
	}
	return c.store.ListTransitions(id)
}
