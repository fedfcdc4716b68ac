package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fentz26/gitpilot/internal/models"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()

	e := newTestEnv(t)
	srv := NewServer(e.controller, e.store, "127.0.0.1:0", "local")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return e, ts
}

func doJSON(t *testing.T, method, url string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("Failed to encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Error("Expected ok=true")
	}
	if body["db"] != "ok" {
		t.Errorf("Expected db=ok, got %v", body["db"])
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	e, ts := newTestServer(t)
	e.store.Close()

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
	if body["ok"] != false {
		t.Error("Expected ok=false when DB is down")
	}
}

func TestCreateAndGetTask(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]string{
		"repo_full_name": "octocat/hello",
		"branch":         "main",
		"prompt":         "add a docstring",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}

	id := body["id"].(string)
	if body["status"] != "QUEUED" {
		t.Errorf("Expected QUEUED, got %v", body["status"])
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/tasks/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if body["repo_full_name"] != "octocat/hello" {
		t.Errorf("Unexpected repo: %v", body["repo_full_name"])
	}
}

func TestGetUnknownTask(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/tasks/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestIllegalTransitionReturns409(t *testing.T) {
	_, ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]string{
		"repo_full_name": "octocat/hello",
		"branch":         "main",
		"prompt":         "edit",
	})
	id := body["id"].(string)

	resp, errBody := doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.StatusCode)
	}
	if errBody["error"] == nil {
		t.Error("Expected error message naming the precondition")
	}
}

func TestNoCredentialReturns401(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/tasks", bytes.NewBufferString(
		`{"repo_full_name":"octocat/hello","branch":"main","prompt":"edit"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal", "stranger")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestWorkerCallbackRoutes(t *testing.T) {
	e, ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]string{
		"repo_full_name": "octocat/hello",
		"branch":         "main",
		"prompt":         "edit",
	})
	id := body["id"].(string)

	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/target", map[string]string{"target_file": "src/app.py"})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/plan", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/approve", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/start", nil)

	// Worker reports
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/logs", map[string]string{"message": "Cloning repo"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("logs: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/work-branch", map[string]string{"work_branch": "gitpilot/task-" + id})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("work-branch: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/diff", map[string]string{"diff": "diff --git a b"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("diff: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/status", map[string]string{"status": "READY_FOR_REVIEW"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}

	// The stored diff is retrievable for the push-mode worker
	resp, diffBody := doJSON(t, http.MethodGet, ts.URL+"/tasks/"+id+"/diff", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get diff: expected 200, got %d", resp.StatusCode)
	}
	if diffBody["diff"] != "diff --git a b" {
		t.Errorf("Unexpected stored diff: %v", diffBody["diff"])
	}

	got, _ := e.controller.GetTask(id, "local")
	if got.Status != models.TaskStatusReadyForReview {
		t.Errorf("Expected READY_FOR_REVIEW, got %s", got.Status)
	}
}

func TestDiffReadUnscopedForWorkers(t *testing.T) {
	e, ts := newTestServer(t)

	// A task owned by a non-default principal.
	if err := e.controller.PutCredential("alice", "alice-token", "bearer", "repo"); err != nil {
		t.Fatalf("PutCredential failed: %v", err)
	}
	task, err := e.controller.Submit(context.Background(), "alice", "octocat/hello", "main", "edit")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The worker stores the diff via the unscoped POST callback...
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/tasks/"+task.ID+"/diff", map[string]string{"diff": "diff --git a b"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("diff post: expected 200, got %d", resp.StatusCode)
	}

	// ...and must be able to read it back without any principal header, as
	// the push-mode worker does.
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/tasks/"+task.ID+"/diff", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("diff get: expected 200, got %d", resp.StatusCode)
	}
	if body["diff"] != "diff --git a b" {
		t.Errorf("Unexpected diff: %v", body["diff"])
	}
}

func TestPublishRoute(t *testing.T) {
	e, ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]string{
		"repo_full_name": "octocat/hello",
		"branch":         "main",
		"prompt":         "edit",
	})
	id := body["id"].(string)

	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/target", map[string]string{"target_file": "src/app.py"})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/plan", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/approve", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/start", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/work-branch", map[string]string{"work_branch": "gitpilot/task-" + id})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/status", map[string]string{"status": "READY_FOR_REVIEW"})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/push", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/status", map[string]string{"status": "PUSHED"})

	resp, prBody := doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/publish", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d (%v)", resp.StatusCode, prBody)
	}
	if prBody["pr_url"] != "https://github.com/octocat/hello/pull/7" {
		t.Errorf("Unexpected PR URL: %v", prBody["pr_url"])
	}

	got, _ := e.controller.GetTask(id, "local")
	if got.Status != models.TaskStatusPRCreated {
		t.Errorf("Expected PR_CREATED, got %s", got.Status)
	}
}

func TestPublishNotAheadReturns409(t *testing.T) {
	e, ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]string{
		"repo_full_name": "octocat/hello",
		"branch":         "main",
		"prompt":         "edit",
	})
	id := body["id"].(string)

	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/target", map[string]string{"target_file": "src/app.py"})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/plan", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/approve", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/start", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/work-branch", map[string]string{"work_branch": "gitpilot/task-" + id})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/status", map[string]string{"status": "READY_FOR_REVIEW"})
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/push", nil)
	doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/status", map[string]string{"status": "PUSHED"})

	e.gateway.aheadBy = 0
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/tasks/"+id+"/publish", map[string]string{})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 when not ahead, got %d", resp.StatusCode)
	}
}

func TestGithubBrowsingRoutes(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/github/repos")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repos: expected 200, got %d", resp.StatusCode)
	}

	var repos []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		t.Fatalf("Failed to decode repos: %v", err)
	}
	if len(repos) != 1 || repos[0]["full_name"] != "octocat/hello" {
		t.Errorf("Unexpected repos: %v", repos)
	}

	resp2, err := http.Get(ts.URL + "/github/repos/octocat/hello/branches")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("branches: expected 200, got %d", resp2.StatusCode)
	}
}

func TestAuthTokenRoute(t *testing.T) {
	e, ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/token", map[string]string{
		"access_token": "new-token",
		"token_type":   "bearer",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	cred, err := e.store.GetCredential("local")
	if err != nil || cred == nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.AccessToken != "new-token" {
		t.Errorf("Expected stored token, got %s", cred.AccessToken)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/token", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Empty token: expected 400, got %d", resp.StatusCode)
	}
}

func TestTransitionsRoute(t *testing.T) {
	_, ts := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]string{
		"repo_full_name": "octocat/hello",
		"branch":         "main",
		"prompt":         "edit",
	})
	id := body["id"].(string)

	resp, err := http.Get(fmt.Sprintf("%s/tasks/%s/transitions", ts.URL, id))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var trs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&trs); err != nil {
		t.Fatalf("Failed to decode transitions: %v", err)
	}
	if len(trs) != 1 || trs[0]["to"] != "QUEUED" {
		t.Errorf("Unexpected transitions: %v", trs)
	}
}
