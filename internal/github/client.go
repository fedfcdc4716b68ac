// Package github wraps the GitHub REST API calls gitpilot needs: branch
// lookup, file content, commit comparison and pull request creation.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// ErrNotFound indicates the requested branch, file or repository does not exist.
var ErrNotFound = errors.New("not found")

// APIError carries the upstream status and verbatim response body so remote
// failures stay diagnosable without pattern-matching payload shapes.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error (%d): %s", e.Status, e.Body)
}

// Client is a stateless GitHub API client bound to one access token.
type Client struct {
	token string
	base  string
	http  *http.Client
}

// NewClient creates a client for the given token against the public API.
func NewClient(token string) *Client {
	return NewClientWithBase(token, DefaultBaseURL)
}

// NewClientWithBase creates a client against a custom API base URL.
func NewClientWithBase(token, base string) *Client {
	return &Client{
		token: token,
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Branch is a remote branch with its tip commit.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// GetBranch returns one branch with its commit SHA.
func (c *Client) GetBranch(ctx context.Context, owner, repo, name string) (*Branch, error) {
	var branch Branch
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, url.PathEscape(name))
	if err := c.do(ctx, http.MethodGet, path, nil, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// ListBranches returns the branch names of a repository.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	var branches []Branch
	path := fmt.Sprintf("/repos/%s/%s/branches?per_page=100", owner, repo)
	if err := c.do(ctx, http.MethodGet, path, nil, &branches); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names, nil
}

// Repo is a remote repository summary.
type Repo struct {
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

// ListRepos returns the repositories visible to the token.
func (c *Client) ListRepos(ctx context.Context) ([]Repo, error) {
	var repos []Repo
	if err := c.do(ctx, http.MethodGet, "/user/repos?per_page=100", nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// GetFile fetches a file's content at a ref, decoding base64 payloads.
func (c *Client) GetFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	var contents contentsResponse
	reqPath := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, path, url.QueryEscape(ref))
	if err := c.do(ctx, http.MethodGet, reqPath, nil, &contents); err != nil {
		return "", err
	}

	if contents.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(contents.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode file content: %w", err)
		}
		return string(decoded), nil
	}
	return contents.Content, nil
}

// Comparison is the result of comparing two refs.
type Comparison struct {
	Status  string `json:"status"` // "ahead", "behind", "identical", "diverged"
	AheadBy int    `json:"ahead_by"`
}

// Compare reports how head relates to base.
func (c *Client) Compare(ctx context.Context, owner, repo, base, head string) (*Comparison, error) {
	var cmp Comparison
	path := fmt.Sprintf("/repos/%s/%s/compare/%s...%s", owner, repo, url.PathEscape(base), url.PathEscape(head))
	if err := c.do(ctx, http.MethodGet, path, nil, &cmp); err != nil {
		return nil, err
	}
	return &cmp, nil
}

// PullRequest is the created PR reference.
type PullRequest struct {
	HTMLURL string `json:"html_url"`
	Number  int    `json:"number"`
}

// CreatePullRequest opens a PR from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequest, error) {
	payload := map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	}

	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	if err := c.do(ctx, http.MethodPost, path, payload, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}
