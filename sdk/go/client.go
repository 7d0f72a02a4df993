package reviewlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Reviewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"created_by"`
	AssigneeID  string  `json:"assignee_id"`
	Deadline    *string `json:"deadline,omitempty"`
	SubmittedAt *string `json:"submitted_at,omitempty"`
	ProofRef    *string `json:"proof_ref,omitempty"`
}

// Evaluation represents a review verdict on a task.
type Evaluation struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	EvaluatorID string `json:"evaluator_id"`
	Status      string `json:"status"`
	Comments    string `json:"comments,omitempty"`
	EvaluatedAt string `json:"evaluated_at"`
}

// HistoryEntry represents an audit-trail entry.
type HistoryEntry struct {
	ID          int64   `json:"id"`
	TaskID      *string `json:"task_id,omitempty"`
	Action      string  `json:"action"`
	Comments    *string `json:"comments,omitempty"`
	PerformedBy string  `json:"performed_by"`
	TS          string  `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title, assigneeID string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"assignee_id": assigneeID,
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition requests a task status change.
func (c *Client) Transition(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// RecordProof records a proof reference ahead of submission.
func (c *Client) RecordProof(ctx context.Context, taskID, proofRef string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/proof", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"proof_ref": proofRef}, &resp)
	return resp, err
}

// SetEvaluation creates or updates the evaluation for a task.
func (c *Client) SetEvaluation(ctx context.Context, taskID, status, comments string) (Evaluation, error) {
	body := map[string]any{
		"status":   status,
		"comments": comments,
	}
	var resp Evaluation
	endpoint := fmt.Sprintf("v0/tasks/%s/evaluation", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// GetEvaluation fetches the evaluation for a task.
func (c *Client) GetEvaluation(ctx context.Context, taskID string) (Evaluation, error) {
	var resp Evaluation
	endpoint := fmt.Sprintf("v0/tasks/%s/evaluation", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingEvaluations lists submitted tasks awaiting review, oldest first.
func (c *Client) PendingEvaluations(ctx context.Context, evaluatorID string) ([]Task, error) {
	endpoint := "v0/evaluations/pending"
	if evaluatorID != "" {
		endpoint += "?evaluator_id=" + url.QueryEscape(evaluatorID)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TaskHistory returns a task's audit entries in append order.
func (c *Client) TaskHistory(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("v0/tasks/%s/history", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns recent audit entries, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	endpoint := "v0/history"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
