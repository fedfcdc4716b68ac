package sweep

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fentz26/gitpilot/internal/control"
	"github.com/fentz26/gitpilot/internal/dispatch"
	"github.com/fentz26/gitpilot/internal/github"
	"github.com/fentz26/gitpilot/internal/models"
	"github.com/fentz26/gitpilot/internal/plan"
	"github.com/fentz26/gitpilot/internal/store"
)

type noopGateway struct{}

func (noopGateway) GetBranch(ctx context.Context, owner, repo, name string) (*github.Branch, error) {
	b := &github.Branch{Name: name}
	b.Commit.SHA = "abc123"
	return b, nil
}
func (noopGateway) GetFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	return "", github.ErrNotFound
}
func (noopGateway) Compare(ctx context.Context, owner, repo, base, head string) (*github.Comparison, error) {
	return &github.Comparison{}, nil
}
func (noopGateway) CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*github.PullRequest, error) {
	return &github.PullRequest{}, nil
}
func (noopGateway) ListRepos(ctx context.Context) ([]github.Repo, error) { return nil, nil }
func (noopGateway) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	return nil, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(task *models.Task, accessToken string, mode dispatch.Mode) error {
	return nil
}

type noopPlanner struct{}

func (noopPlanner) Plan(ctx context.Context, prompt string) (string, error) { return "plan", nil }
func (noopPlanner) Model() string                                           { return "noop" }

func TestSweepFailsStaleRunningTasks(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	controller := control.NewController(s,
		func(token string) control.Gateway { return noopGateway{} },
		noopDispatcher{}, plan.NewGenerator(noopPlanner{}, 0))

	running, _ := s.CreateTask("local", "octocat/hello", "main", "abc123", "edit")
	if err := s.UpdateStatusCAS(running.ID, models.TaskStatusQueued, models.TaskStatusRunning); err != nil {
		t.Fatalf("UpdateStatusCAS failed: %v", err)
	}
	queued, _ := s.CreateTask("local", "octocat/hello", "main", "abc123", "edit")

	// Zero deadline: anything RUNNING counts as stale immediately.
	sw := New(s, controller, time.Minute, 0, zerolog.Nop())
	sw.Sweep()

	got, _ := s.GetTask(running.ID)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("Expected stale RUNNING task to be FAILED, got %s", got.Status)
	}
	if got.LogText == "" {
		t.Error("Expected a failure reason in the log")
	}

	got, _ = s.GetTask(queued.ID)
	if got.Status != models.TaskStatusQueued {
		t.Errorf("QUEUED task must be untouched, got %s", got.Status)
	}
}

func TestSweepSkipsFreshTasks(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	controller := control.NewController(s,
		func(token string) control.Gateway { return noopGateway{} },
		noopDispatcher{}, plan.NewGenerator(noopPlanner{}, 0))

	running, _ := s.CreateTask("local", "octocat/hello", "main", "abc123", "edit")
	if err := s.UpdateStatusCAS(running.ID, models.TaskStatusQueued, models.TaskStatusRunning); err != nil {
		t.Fatalf("UpdateStatusCAS failed: %v", err)
	}

	sw := New(s, controller, time.Minute, time.Hour, zerolog.Nop())
	sw.Sweep()

	got, _ := s.GetTask(running.ID)
	if got.Status != models.TaskStatusRunning {
		t.Errorf("Fresh RUNNING task must be untouched, got %s", got.Status)
	}
}
