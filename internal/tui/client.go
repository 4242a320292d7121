package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// APIError is a failed API response.
type APIError struct {
	Status int
	Kind   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Msg)
}

// Client wraps HTTP calls to the onejob API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTasks fetches both the active and the done list.
func (c *Client) ListTasks(ctx context.Context) (*controlplane.TaskLists, error) {
	var lists controlplane.TaskLists
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &lists); err != nil {
		return nil, err
	}
	return &lists, nil
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListSubStacks fetches a task's substacks with their items.
func (c *Client) ListSubStacks(ctx context.Context, taskID string) ([]models.SubStack, error) {
	var stacks []models.SubStack
	if err := c.do(ctx, http.MethodGet, "/tasks/"+taskID+"/substacks", nil, &stacks); err != nil {
		return nil, err
	}
	return stacks, nil
}

// CreateTask creates a new task at the top of the stack.
func (c *Client) CreateTask(ctx context.Context, title, description string) (*models.Task, error) {
	var task models.Task
	body := controlplane.CreateTaskInput{Title: title, Description: description, Source: "tui"}
	if err := c.do(ctx, http.MethodPost, "/tasks", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CompleteTask marks an active task done.
func (c *Client) CompleteTask(ctx context.Context, id string) (*models.Task, error) {
	return c.transition(ctx, id, "complete")
}

// DeferTask moves an active task to the bottom.
func (c *Client) DeferTask(ctx context.Context, id string) (*models.Task, error) {
	return c.transition(ctx, id, "defer")
}

// ReactivateTask puts a done task back on top.
func (c *Client) ReactivateTask(ctx context.Context, id string) (*models.Task, error) {
	return c.transition(ctx, id, "reactivate")
}

func (c *Client) transition(ctx context.Context, id, op string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+id+"/"+op, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ToggleItem flips a substack item's completed flag.
func (c *Client) ToggleItem(ctx context.Context, itemID string) (*models.SubStackItem, error) {
	var item models.SubStackItem
	if err := c.do(ctx, http.MethodPost, "/items/"+itemID+"/toggle", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// CheckHealth checks if the daemon is healthy.
func (c *Client) CheckHealth(ctx context.Context) (*controlplane.HealthResponse, error) {
	var health controlplane.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Msg: string(bytes.TrimSpace(data))}
		var e controlplane.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Kind, apiErr.Msg = e.Kind, e.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
