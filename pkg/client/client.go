package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/baylabs/bay/pkg/bayerr"
)

// Client is a thin REST client over the Bay API, used by the CLI and by
// integration tests.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the Bay API at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any, headers map[string]string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code         string `json:"code"`
				Message      string `json:"message"`
				RetryAfterMS int    `json:"retry_after_ms"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			e := bayerr.New(bayerr.Code(envelope.Error.Code), envelope.Error.Message)
			if envelope.Error.RetryAfterMS > 0 {
				e = e.WithRetryAfter(envelope.Error.RetryAfterMS)
			}
			return e
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Sandbox is the wire shape of a sandbox resource.
type Sandbox struct {
	ID            string     `json:"id"`
	ProfileID     string     `json:"profile_id"`
	CargoID       string     `json:"cargo_id"`
	Status        string     `json:"status"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IdleExpiresAt *time.Time `json:"idle_expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreateSandboxRequest holds optional sandbox creation parameters.
type CreateSandboxRequest struct {
	ProfileID      string `json:"profile_id,omitempty"`
	TTLSeconds     *int64 `json:"ttl_seconds,omitempty"`
	CargoID        string `json:"cargo_id,omitempty"`
	IdempotencyKey string `json:"-"`
}

// CreateSandbox provisions a sandbox record. Containers start lazily on
// first capability call.
func (c *Client) CreateSandbox(ctx context.Context, req CreateSandboxRequest) (*Sandbox, error) {
	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": req.IdempotencyKey}
	}
	var out Sandbox
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", nil, req, &out, headers); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSandbox fetches a sandbox with its computed status.
func (c *Client) GetSandbox(ctx context.Context, id string) (*Sandbox, error) {
	var out Sandbox
	if err := c.do(ctx, http.MethodGet, "/v1/sandboxes/"+id, nil, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSandboxes pages through the owner's sandboxes.
func (c *Client) ListSandboxes(ctx context.Context, cursor string, limit int) ([]Sandbox, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Sandboxes  []Sandbox `json:"sandboxes"`
		NextCursor string    `json:"next_cursor"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sandboxes", q, nil, &out, nil); err != nil {
		return nil, "", err
	}
	return out.Sandboxes, out.NextCursor, nil
}

// Keepalive resets the sandbox idle timer.
func (c *Client) Keepalive(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sandboxes/"+id+"/keepalive", nil, nil, nil, nil)
}

// ExtendTTL pushes the sandbox expiry forward by ttlSeconds.
func (c *Client) ExtendTTL(ctx context.Context, id string, ttlSeconds int64) error {
	payload := map[string]int64{"ttl_seconds": ttlSeconds}
	return c.do(ctx, http.MethodPost, "/v1/sandboxes/"+id+"/extend_ttl", nil, payload, nil, nil)
}

// StopSandbox tears down the sandbox's containers, keeping its state.
func (c *Client) StopSandbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sandboxes/"+id+"/stop", nil, nil, nil, nil)
}

// DeleteSandbox removes the sandbox and its managed resources. Deleting a
// missing sandbox is not an error.
func (c *Client) DeleteSandbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sandboxes/"+id, nil, nil, nil, nil)
}

// ExecResult is the outcome of a code, shell, or browser execution.
type ExecResult struct {
	ExecutionID string `json:"execution_id"`
	Success     bool   `json:"success"`
	Output      string `json:"output"`
	Error       string `json:"error"`
	ExitCode    *int   `json:"exit_code"`
	DurationMS  int64  `json:"duration_ms"`
}

// ExecPython runs Python code inside the sandbox.
func (c *Client) ExecPython(ctx context.Context, sandboxID, code string, timeoutSeconds int) (*ExecResult, error) {
	payload := map[string]any{"code": code, "timeout_seconds": timeoutSeconds}
	var out ExecResult
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxID+"/python/exec", nil, payload, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecShell runs a shell command inside the sandbox.
func (c *Client) ExecShell(ctx context.Context, sandboxID, command, cwd string, timeoutSeconds int) (*ExecResult, error) {
	payload := map[string]any{"command": command, "cwd": cwd, "timeout_seconds": timeoutSeconds}
	var out ExecResult
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxID+"/shell/exec", nil, payload, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadFile returns the content of a file in the sandbox workspace.
func (c *Client) ReadFile(ctx context.Context, sandboxID, path string) (string, error) {
	q := url.Values{"path": {path}}
	var out struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sandboxes/"+sandboxID+"/filesystem/files", q, nil, &out, nil); err != nil {
		return "", err
	}
	return out.Content, nil
}

// WriteFile writes content to a file in the sandbox workspace.
func (c *Client) WriteFile(ctx context.Context, sandboxID, path, content string) error {
	payload := map[string]string{"path": path, "content": content}
	return c.do(ctx, http.MethodPut, "/v1/sandboxes/"+sandboxID+"/filesystem/files", nil, payload, nil, nil)
}

// DeleteFile removes a file from the sandbox workspace.
func (c *Client) DeleteFile(ctx context.Context, sandboxID, path string) error {
	q := url.Values{"path": {path}}
	return c.do(ctx, http.MethodDelete, "/v1/sandboxes/"+sandboxID+"/filesystem/files", q, nil, nil, nil)
}

// FileEntry describes one directory entry.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListFiles lists a directory in the sandbox workspace.
func (c *Client) ListFiles(ctx context.Context, sandboxID, path string) ([]FileEntry, error) {
	q := url.Values{"path": {path}}
	var out struct {
		Entries []FileEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sandboxes/"+sandboxID+"/filesystem/directories", q, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ExecBrowser runs a single browser automation command.
func (c *Client) ExecBrowser(ctx context.Context, sandboxID, command string, timeoutSeconds int) (*ExecResult, error) {
	payload := map[string]any{"command": command, "timeout_seconds": timeoutSeconds}
	var out ExecResult
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxID+"/browser/exec", nil, payload, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// BrowserStep is one command's outcome within a batch.
type BrowserStep struct {
	Command  string `json:"command"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}

// BatchResult is the outcome of a browser command batch.
type BatchResult struct {
	ExecutionID string        `json:"execution_id"`
	Success     bool          `json:"success"`
	Steps       []BrowserStep `json:"steps"`
}

// ExecBrowserBatch runs a sequence of browser commands, optionally stopping
// at the first failure. idempotencyKey may be empty.
func (c *Client) ExecBrowserBatch(ctx context.Context, sandboxID string, commands []string, timeoutSeconds int, stopOnError bool, idempotencyKey string) (*BatchResult, error) {
	payload := map[string]any{
		"commands":        commands,
		"timeout_seconds": timeoutSeconds,
		"stop_on_error":   stopOnError,
	}
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var out BatchResult
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxID+"/browser/exec_batch", nil, payload, &out, headers); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cargo is the wire shape of a persistent workspace volume.
type Cargo struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	MountPath string    `json:"mount_path"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateCargo provisions a standalone workspace volume.
func (c *Client) CreateCargo(ctx context.Context) (*Cargo, error) {
	var out Cargo
	if err := c.do(ctx, http.MethodPost, "/v1/cargos", nil, struct{}{}, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCargo removes an unattached external cargo.
func (c *Client) DeleteCargo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/cargos/"+id, nil, nil, nil, nil)
}
