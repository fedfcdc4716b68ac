package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.openai.com/v1"

// OpenAIClient implements Rewriter and Planner over the chat completions API.
type OpenAIClient struct {
	apiKey string
	base   string
	model  string
	http   *http.Client
}

// NewOpenAIClient creates a client using OPENAI_API_KEY from the environment.
func NewOpenAIClient(model string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		base:   defaultAPIBase,
		model:  model,
		http:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("model api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Rewrite asks the model for the full updated content of one file.
func (c *OpenAIClient) Rewrite(ctx context.Context, instruction, path, content string) (string, error) {
	system := fmt.Sprintf(`You are an expert software engineer.

Rewrite ONLY the file content for: %s

Rules:
- Output ONLY the updated full file content. No markdown fences. No explanations.
- Keep behavior the same unless the instruction asks otherwise.
- Make minimal, safe changes.
- Ensure the file remains syntactically valid.`, path)

	user := fmt.Sprintf("TASK INSTRUCTION:\n%s\n\nCURRENT FILE CONTENT:\n%s", instruction, content)
	return c.complete(ctx, system, user)
}

// Plan asks the model for a step-by-step execution plan.
func (c *OpenAIClient) Plan(ctx context.Context, prompt string) (string, error) {
	system := `You are a senior software engineer reviewing an automated code-edit task.
Produce a concise, numbered, step-by-step plan of the intended change.
Do not include code, only the steps a reviewer should approve.`
	return c.complete(ctx, system, prompt)
}
