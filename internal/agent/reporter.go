package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reporter posts progress and results back to the controller's callback
// surface. Non-terminal reports are best effort and swallow transport errors;
// the terminal complete/fail markers are retried once because losing them
// strands the task.
type Reporter struct {
	baseURL string
	taskID  string
	http    *http.Client
}

// NewReporter creates a reporter for one task. An empty base URL disables
// all reporting (useful for local runs).
func NewReporter(baseURL, taskID string) *Reporter {
	return &Reporter{
		baseURL: baseURL,
		taskID:  taskID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Reporter) post(path string, payload interface{}) error {
	if r.baseURL == "" {
		return nil
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/tasks/%s%s", r.baseURL, r.taskID, path)
	resp, err := r.http.Post(url, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("callback %s failed (%d): %s", path, resp.StatusCode, string(data))
	}
	return nil
}

// postRetry retries a terminal callback once after a short pause.
func (r *Reporter) postRetry(path string, payload interface{}) error {
	err := r.post(path, payload)
	if err == nil {
		return nil
	}
	time.Sleep(2 * time.Second)
	return r.post(path, payload)
}

// Log appends a progress line. Never fails the caller's flow.
func (r *Reporter) Log(message string) {
	_ = r.post("/logs", map[string]string{"message": message})
}

// Logf appends a formatted progress line.
func (r *Reporter) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}

// WorkBranch records the work branch name. Best effort.
func (r *Reporter) WorkBranch(branch string) {
	_ = r.post("/work-branch", map[string]string{"work_branch": branch})
}

// Diff replaces the stored diff text. Best effort.
func (r *Reporter) Diff(diff string) {
	_ = r.post("/diff", map[string]string{"diff": diff})
}

// Status reports a two-phase lifecycle advance (READY_FOR_REVIEW or PUSHED).
func (r *Reporter) Status(status string) error {
	return r.postRetry("/status", map[string]string{"status": status})
}

// Complete posts the terminal success marker.
func (r *Reporter) Complete() error {
	return r.postRetry("/complete", nil)
}

// Fail posts the terminal failure marker with the reason.
func (r *Reporter) Fail(reason string) error {
	return r.postRetry("/fail", map[string]string{"reason": reason})
}

// FetchDiff retrieves the stored diff from the record store (push mode).
func (r *Reporter) FetchDiff() (string, error) {
	if r.baseURL == "" {
		return "", fmt.Errorf("no backend configured")
	}

	url := fmt.Sprintf("%s/tasks/%s/diff", r.baseURL, r.taskID)
	resp, err := r.http.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch diff: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read diff response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch diff failed (%d): %s", resp.StatusCode, string(data))
	}

	var parsed struct {
		Diff string `json:"diff"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode diff response: %w", err)
	}
	return parsed.Diff, nil
}
