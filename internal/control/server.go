package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/gitpilot/internal/github"
	"github.com/fentz26/gitpilot/internal/models"
	"github.com/fentz26/gitpilot/internal/store"
	"github.com/rs/zerolog/log"
)

// Server provides the HTTP API: the client-facing task routes and the
// callback surface the worker reports through.
type Server struct {
	controller       *Controller
	store            *store.Store
	addr             string
	defaultPrincipal string
	server           *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(controller *Controller, s *store.Store, addr, defaultPrincipal string) *Server {
	return &Server{
		controller:       controller,
		store:            s,
		addr:             addr,
		defaultPrincipal: defaultPrincipal,
	}
}

// Handler builds the route mux. Exposed separately so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/github/repos", s.handleListRepos)
	mux.HandleFunc("/github/repos/", s.handleListBranches)
	mux.HandleFunc("/auth/token", s.handlePutToken)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("starting gitpilot daemon")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// principal resolves the acting principal for a request. Single-tenant
// deployments fall back to the configured default; it is always threaded
// explicitly from here on.
func (s *Server) principal(r *http.Request) string {
	if p := r.Header.Get("X-Principal"); p != "" {
		return p
	}
	return s.defaultPrincipal
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps controller errors onto HTTP statuses. Precondition
// violations become 409 so callers know to re-read task status.
func writeError(w http.ResponseWriter, err error) {
	var stateErr *StateError
	var apiErr *github.APIError
	var notAhead *NothingToPublishError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &stateErr):
		status = http.StatusConflict
	case errors.As(err, &notAhead):
		status = http.StatusConflict
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, github.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNoCredential):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRepo), errors.Is(err, ErrTargetFileRequired),
		errors.Is(err, ErrWorkBranchRequired), errors.Is(err, ErrTerminalState),
		errors.Is(err, store.ErrWorkBranchSet), errors.Is(err, store.ErrPullRequestSet):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true // empty body is fine for trigger-style routes
		}
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// --- Task routes ---

type createTaskRequest struct {
	RepoFullName string `json:"repo_full_name"`
	Branch       string `json:"branch"`
	Prompt       string `json:"prompt"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createTaskRequest
		if !decode(w, r, &req) {
			return
		}
		task, err := s.controller.Submit(r.Context(), s.principal(r), req.RepoFullName, req.Branch, req.Prompt)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)

	case http.MethodGet:
		tasks, err := s.controller.ListTasks(s.principal(r), r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, r, taskID)
	case action == "target" && r.Method == http.MethodPost:
		s.setTarget(w, r, taskID)
	case action == "plan" && r.Method == http.MethodPost:
		s.generatePlan(w, r, taskID)
	case action == "plan" && r.Method == http.MethodGet:
		s.getPlan(w, r, taskID)
	case action == "approve" && r.Method == http.MethodPost:
		s.approvePlan(w, r, taskID)
	case action == "start" && r.Method == http.MethodPost:
		s.startTask(w, r, taskID)
	case action == "push" && r.Method == http.MethodPost:
		s.pushTask(w, r, taskID)
	case action == "publish" && r.Method == http.MethodPost:
		s.publishTask(w, r, taskID)
	case action == "logs" && r.Method == http.MethodPost:
		s.appendLog(w, r, taskID)
	case action == "logs" && r.Method == http.MethodGet:
		s.getLogs(w, r, taskID)
	case action == "diff" && r.Method == http.MethodPost:
		s.setDiff(w, r, taskID)
	case action == "diff" && r.Method == http.MethodGet:
		s.getDiff(w, r, taskID)
	case action == "work-branch" && r.Method == http.MethodPost:
		s.setWorkBranch(w, r, taskID)
	case action == "status" && r.Method == http.MethodPost:
		s.reportStatus(w, r, taskID)
	case action == "complete" && r.Method == http.MethodPost:
		s.completeTask(w, r, taskID)
	case action == "fail" && r.Method == http.MethodPost:
		s.failTask(w, r, taskID)
	case action == "transitions" && r.Method == http.MethodGet:
		s.getTransitions(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.controller.GetTask(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type setTargetRequest struct {
	TargetFile string `json:"target_file"`
}

func (s *Server) setTarget(w http.ResponseWriter, r *http.Request, taskID string) {
	var req setTargetRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.controller.SetTarget(taskID, s.principal(r), req.TargetFile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": task.ID, "target_file": task.TargetFile})
}

type generatePlanRequest struct {
	Force bool `json:"force"`
}

func (s *Server) generatePlan(w http.ResponseWriter, r *http.Request, taskID string) {
	var req generatePlanRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.controller.GeneratePlan(r.Context(), taskID, s.principal(r), req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id":     task.ID,
		"status":      string(task.Status),
		"plan_text":   task.PlanText,
		"plan_origin": task.PlanOrigin,
	})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.controller.GetTask(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id":     task.ID,
		"plan_text":   task.PlanText,
		"plan_origin": task.PlanOrigin,
	})
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.controller.ApprovePlan(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.controller.Start(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) pushTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.controller.Push(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type publishRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) publishTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req publishRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.controller.Publish(r.Context(), taskID, s.principal(r), req.Title, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type appendLogRequest struct {
	Message string `json:"message"`
}

func (s *Server) appendLog(w http.ResponseWriter, r *http.Request, taskID string) {
	var req appendLogRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.controller.AppendLog(taskID, req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.controller.GetTask(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": task.ID, "logs": task.LogText})
}

type setDiffRequest struct {
	Diff string `json:"diff"`
}

func (s *Server) setDiff(w http.ResponseWriter, r *http.Request, taskID string) {
	var req setDiffRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.controller.SetDiff(taskID, req.Diff); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// getDiff serves both clients and the push-mode worker; the worker carries no
// principal, so this read is unscoped like the POST callbacks.
func (s *Server) getDiff(w http.ResponseWriter, r *http.Request, taskID string) {
	diff, err := s.controller.DiffText(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "diff": diff})
}

type workBranchRequest struct {
	WorkBranch string `json:"work_branch"`
}

func (s *Server) setWorkBranch(w http.ResponseWriter, r *http.Request, taskID string) {
	var req workBranchRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.controller.SetWorkBranch(taskID, req.WorkBranch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"work_branch": req.WorkBranch})
}

type reportStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) reportStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	var req reportStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.controller.ReportStatus(taskID, models.TaskStatus(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.controller.Complete(taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.TaskStatusCompleted)})
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) failTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req failRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.controller.Fail(taskID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.TaskStatusFailed)})
}

func (s *Server) getTransitions(w http.ResponseWriter, r *http.Request, taskID string) {
	trs, err := s.controller.Transitions(taskID, s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if trs == nil {
		trs = []models.Transition{}
	}
	writeJSON(w, http.StatusOK, trs)
}

// --- GitHub browsing routes ---

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	repos, err := s.controller.ListRepos(r.Context(), s.principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if repos == nil {
		repos = []github.Repo{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// handleListBranches handles GET /github/repos/{owner}/{repo}/branches.
func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/github/repos/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[2] != "branches" || parts[0] == "" || parts[1] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	branches, err := s.controller.ListBranches(r.Context(), s.principal(r), parts[0], parts[1])
	if err != nil {
		writeError(w, err)
		return
	}
	if branches == nil {
		branches = []string{}
	}
	writeJSON(w, http.StatusOK, branches)
}

// --- Credential route ---

type putTokenRequest struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

func (s *Server) handlePutToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req putTokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		http.Error(w, "access_token required", http.StatusBadRequest)
		return
	}
	if err := s.controller.PutCredential(s.principal(r), req.AccessToken, req.TokenType, req.Scope); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Health ---

// HealthResponse is the health check payload.
type HealthResponse struct {
	OK   bool   `json:"ok"`
	DB   string `json:"db"`
	Time string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{OK: true, DB: "ok", Time: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}
