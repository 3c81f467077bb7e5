// Package client provides a REST client for the ReviewRadar server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/service"
)

// Client talks to a ReviewRadar server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses REVIEWRADAR_SERVER_URL env var or defaults to the
// server's default port on localhost.
// Timeout can be configured via REVIEWRADAR_CLIENT_TIMEOUT env var (default 10m for batch operations).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("REVIEWRADAR_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:" + config.DefaultPort
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 10 * time.Minute
	if t := os.Getenv("REVIEWRADAR_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Job mirrors the server's job representation.
type Job struct {
	JobID       string                      `json:"job_id"`
	Status      service.JobStatus           `json:"status"`
	Items       []string                    `json:"items"`
	CreatedAt   time.Time                   `json:"created_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Runs        map[string]*service.ItemRun `json:"runs,omitempty"`
	Summary     *report.Summary             `json:"summary,omitempty"`
}

// ServerStatus holds the server's runtime statistics.
type ServerStatus struct {
	Version    string          `json:"version"`
	ActiveJobs int             `json:"active_jobs"`
	Metrics    json.RawMessage `json:"metrics"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error: status %d", e.StatusCode)
}

func apiError(status int, body []byte) *APIError {
	var resp errorResponse
	if json.Unmarshal(body, &resp) == nil && resp.Error != "" {
		return &APIError{StatusCode: status, Message: resp.Error}
	}
	return &APIError{StatusCode: status}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	slog.Debug("api request", "method", method, "path", path)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, data)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// CreateJob submits a batch of item identifiers and returns the accepted job.
func (c *Client) CreateJob(ctx context.Context, items []string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/jobs", map[string]any{"items": items}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs known to the server, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var result struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// CancelJob requests cooperative cancellation of a running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// DeleteJob removes a job and releases its retained reports and events.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil)
}

// GetReport fetches the stored report for one item of a terminal job.
// Format is "json" or "txt"; empty means json.
func (c *Client) GetReport(ctx context.Context, jobID, itemID, format string) ([]byte, error) {
	q := url.Values{"item": {itemID}}
	if format != "" {
		q.Set("format", format)
	}
	path := "/jobs/" + url.PathEscape(jobID) + "/report?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, data)
	}
	return data, nil
}

// GetStatus returns the server's runtime statistics.
func (c *Client) GetStatus(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SubscribeEvents opens a websocket to the job's event stream and invokes
// onEvent for every event, backlog replay included. It returns nil when the
// server closes the stream after the job reaches a terminal status.
// Return an error from onEvent to abort the subscription.
func (c *Client) SubscribeEvents(ctx context.Context, jobID string, onEvent func(events.Event) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/jobs/" + url.PathEscape(jobID) + "/events"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("job %s not found", jobID)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context is cancelled so the blocked
	// read below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}
