// Package models defines the core domain types for gitpilot.
package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued         TaskStatus = "QUEUED"
	TaskStatusPlanReady      TaskStatus = "PLAN_READY"
	TaskStatusApproved       TaskStatus = "APPROVED"
	TaskStatusRunning        TaskStatus = "RUNNING"
	TaskStatusReadyForReview TaskStatus = "READY_FOR_REVIEW"
	TaskStatusPushing        TaskStatus = "PUSHING"
	TaskStatusPushed         TaskStatus = "PUSHED"
	TaskStatusPRCreated      TaskStatus = "PR_CREATED"
	TaskStatusCompleted      TaskStatus = "COMPLETED"
	TaskStatusFailed         TaskStatus = "FAILED"
)

// Terminal reports whether no further transitions are legal from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusPRCreated, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the defined statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusPlanReady, TaskStatusApproved,
		TaskStatusRunning, TaskStatusReadyForReview, TaskStatusPushing,
		TaskStatusPushed, TaskStatusPRCreated, TaskStatusCompleted,
		TaskStatusFailed:
		return true
	}
	return false
}

// Task represents one user-requested single-file edit workflow.
type Task struct {
	ID            string     `json:"id"`
	Principal     string     `json:"principal"`
	RepoFullName  string     `json:"repo_full_name"` // "owner/repo"
	Branch        string     `json:"branch"`
	BaseCommitSHA string     `json:"base_commit_sha"` // captured at creation, immutable
	Prompt        string     `json:"prompt"`
	TargetFile    string     `json:"target_file,omitempty"`
	PlanText      string     `json:"plan_text,omitempty"`
	PlanOrigin    string     `json:"plan_origin,omitempty"`
	LogText       string     `json:"log_text,omitempty"`
	DiffText      string     `json:"diff_text,omitempty"`
	WorkBranch    string     `json:"work_branch,omitempty"`
	PRURL         string     `json:"pr_url,omitempty"`
	PRNumber      int        `json:"pr_number,omitempty"`
	Status        TaskStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Owner returns the repository owner half of RepoFullName.
func (t *Task) Owner() string {
	return splitRepo(t.RepoFullName, 0)
}

// Repo returns the repository name half of RepoFullName.
func (t *Task) Repo() string {
	return splitRepo(t.RepoFullName, 1)
}

func splitRepo(full string, idx int) string {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			if idx == 0 {
				return full[:i]
			}
			return full[i+1:]
		}
	}
	return ""
}

// Credential is a GitHub access token bound to a principal.
// Exactly one active credential per principal; later tokens overwrite.
type Credential struct {
	Principal   string    `json:"principal"`
	AccessToken string    `json:"-"`
	TokenType   string    `json:"token_type,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transition is an audit record of one status change.
type Transition struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	From      TaskStatus `json:"from"`
	To        TaskStatus `json:"to"`
	Trigger   string     `json:"trigger"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
