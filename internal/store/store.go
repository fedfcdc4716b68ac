// Package store provides SQLite-backed persistence for gitpilot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/gitpilot/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrStatusConflict indicates a compare-and-swap status update found a
// different current status than expected.
var ErrStatusConflict = errors.New("task status changed concurrently")

// ErrWorkBranchSet indicates the work branch was already set to a different name.
var ErrWorkBranchSet = errors.New("work branch already set")

// ErrPullRequestSet indicates the pull request reference was already recorded.
var ErrPullRequestSet = errors.New("pull request already recorded")

// Store provides access to the gitpilot SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		principal TEXT NOT NULL,
		repo_full_name TEXT NOT NULL,
		branch TEXT NOT NULL,
		base_commit_sha TEXT,
		prompt TEXT NOT NULL,
		target_file TEXT,
		plan_text TEXT,
		plan_origin TEXT,
		log_text TEXT,
		diff_text TEXT,
		work_branch TEXT,
		pr_url TEXT,
		pr_number INTEGER,
		status TEXT NOT NULL DEFAULT 'QUEUED',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		principal TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		token_type TEXT,
		scope TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		trigger_name TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_principal ON tasks(principal);
	CREATE INDEX IF NOT EXISTS idx_transitions_task_id ON transitions(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateTask inserts a new task in QUEUED state.
func (s *Store) CreateTask(principal, repoFullName, branch, baseCommitSHA, prompt string) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New().String(),
		Principal:     principal,
		RepoFullName:  repoFullName,
		Branch:        branch,
		BaseCommitSHA: baseCommitSHA,
		Prompt:        prompt,
		Status:        models.TaskStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, principal, repo_full_name, branch, base_commit_sha, prompt, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Principal, task.RepoFullName, task.Branch, task.BaseCommitSHA, task.Prompt, task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

const taskColumns = `id, principal, repo_full_name, branch, base_commit_sha, prompt, target_file,
	plan_text, plan_origin, log_text, diff_text, work_branch, pr_url, pr_number, status, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	task := &models.Task{}
	var baseSHA, targetFile, planText, planOrigin, logText, diffText, workBranch, prURL sql.NullString
	var prNumber sql.NullInt64

	err := row.Scan(&task.ID, &task.Principal, &task.RepoFullName, &task.Branch, &baseSHA, &task.Prompt,
		&targetFile, &planText, &planOrigin, &logText, &diffText, &workBranch, &prURL, &prNumber,
		&task.Status, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}

	task.BaseCommitSHA = baseSHA.String
	task.TargetFile = targetFile.String
	task.PlanText = planText.String
	task.PlanOrigin = planOrigin.String
	task.LogText = logText.String
	task.DiffText = diffText.String
	task.WorkBranch = workBranch.String
	task.PRURL = prURL.String
	task.PRNumber = int(prNumber.Int64)
	return task, nil
}

// GetTask retrieves a task by ID. Returns nil, nil when absent.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks, optionally filtered by status.
func (s *Store) ListTasks(status string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ListStale returns tasks in any of the given statuses whose last update is
// older than the cutoff. Used by the reconciliation sweeper.
func (s *Store) ListStale(statuses []models.TaskStatus, olderThan time.Time) ([]models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE updated_at < ? AND status IN (`
	args := []interface{}{olderThan.UTC()}
	for i, st := range statuses {
		if i > 0 {
			query += `, `
		}
		query += `?`
		args = append(args, st)
	}
	query += `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateStatusCAS atomically moves a task from one status to another.
// Returns ErrStatusConflict if the task is not currently in the expected
// status, so concurrent transitions cannot both succeed.
func (s *Store) UpdateStatusCAS(id string, from, to models.TaskStatus) error {
	result, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AppendLog appends a line to the task's log text.
func (s *Store) AppendLog(id, message string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET log_text = COALESCE(log_text, '') || ? || char(10), updated_at = ? WHERE id = ?`,
		message, time.Now().UTC(), id,
	)
	return err
}

// SetDiff replaces the stored diff text (last-write-wins).
func (s *Store) SetDiff(id, diff string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET diff_text = ?, updated_at = ? WHERE id = ?`,
		diff, time.Now().UTC(), id,
	)
	return err
}

// SetTargetFile sets the file the task will edit.
func (s *Store) SetTargetFile(id, targetFile string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET target_file = ?, updated_at = ? WHERE id = ?`,
		targetFile, time.Now().UTC(), id,
	)
	return err
}

// SetPlan stores the generated plan text and its origin tag.
func (s *Store) SetPlan(id, planText, planOrigin string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET plan_text = ?, plan_origin = ?, updated_at = ? WHERE id = ?`,
		planText, planOrigin, time.Now().UTC(), id,
	)
	return err
}

// SetWorkBranch records the work branch name. The branch is set once;
// re-setting the same name is a no-op, a different name returns
// ErrWorkBranchSet.
func (s *Store) SetWorkBranch(id, workBranch string) error {
	result, err := s.db.Exec(
		`UPDATE tasks SET work_branch = ?, updated_at = ?
		 WHERE id = ? AND (work_branch IS NULL OR work_branch = '' OR work_branch = ?)`,
		workBranch, time.Now().UTC(), id, workBranch,
	)
	if err != nil {
		return fmt.Errorf("set work branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrWorkBranchSet
	}
	return nil
}

// SetPullRequest records the PR reference exactly once.
func (s *Store) SetPullRequest(id, prURL string, prNumber int) error {
	result, err := s.db.Exec(
		`UPDATE tasks SET pr_url = ?, pr_number = ?, updated_at = ?
		 WHERE id = ? AND (pr_url IS NULL OR pr_url = '')`,
		prURL, prNumber, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set pull request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPullRequestSet
	}
	return nil
}

// --- Credential Operations ---

// PutCredential stores a token for a principal, overwriting any existing one.
func (s *Store) PutCredential(principal, accessToken, tokenType, scope string) error {
	_, err := s.db.Exec(
		`INSERT INTO credentials (principal, access_token, token_type, scope, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(principal) DO UPDATE SET access_token = excluded.access_token,
		 token_type = excluded.token_type, scope = excluded.scope, updated_at = excluded.updated_at`,
		principal, accessToken, tokenType, scope, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential returns the credential for a principal, or nil, nil when absent.
func (s *Store) GetCredential(principal string) (*models.Credential, error) {
	cred := &models.Credential{}
	var tokenType, scope sql.NullString

	err := s.db.QueryRow(
		`SELECT principal, access_token, token_type, scope, updated_at FROM credentials WHERE principal = ?`,
		principal,
	).Scan(&cred.Principal, &cred.AccessToken, &tokenType, &scope, &cred.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	cred.TokenType = tokenType.String
	cred.Scope = scope.String
	return cred, nil
}

// --- Transition Audit ---

// RecordTransition writes an audit record for one status change.
func (s *Store) RecordTransition(taskID string, from, to models.TaskStatus, trigger, detail string) (*models.Transition, error) {
	tr := &models.Transition{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Trigger:   trigger,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO transitions (id, task_id, from_status, to_status, trigger_name, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.TaskID, tr.From, tr.To, tr.Trigger, tr.Detail, tr.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transition: %w", err)
	}
	return tr, nil
}

// ListTransitions returns the transition history for a task, oldest first.
func (s *Store) ListTransitions(taskID string) ([]models.Transition, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, from_status, to_status, trigger_name, detail, created_at
		 FROM transitions WHERE task_id = ? ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var trs []models.Transition
	for rows.Next() {
		var tr models.Transition
		var detail sql.NullString
		if err := rows.Scan(&tr.ID, &tr.TaskID, &tr.From, &tr.To, &tr.Trigger, &detail, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.Detail = detail.String
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}
