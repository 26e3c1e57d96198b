package adapter

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// ShipAdapter speaks the ship runtime's HTTP protocol: python and shell
// execution plus workspace filesystem operations.
type ShipAdapter struct {
	endpoint string

	mu   sync.Mutex
	meta *Meta
}

// NewShipAdapter builds an adapter for a ship container endpoint.
func NewShipAdapter(endpoint string) *ShipAdapter {
	return &ShipAdapter{endpoint: strings.TrimRight(endpoint, "/")}
}

func (a *ShipAdapter) Kind() types.RuntimeKind { return types.RuntimeKindShip }
func (a *ShipAdapter) Endpoint() string        { return a.endpoint }

// shipMetaPayload is the nested wire shape of GET /meta.
type shipMetaPayload struct {
	Runtime struct {
		Name       string `json:"name"`
		Version    string `json:"version"`
		APIVersion string `json:"api_version"`
	} `json:"runtime"`
	Workspace struct {
		MountPath string `json:"mount_path"`
	} `json:"workspace"`
	Capabilities map[string]any `json:"capabilities"`
}

// Meta probes GET /meta, caching the first success.
func (a *ShipAdapter) Meta(ctx context.Context) (*Meta, error) {
	a.mu.Lock()
	if a.meta != nil {
		cached := a.meta
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	var payload shipMetaPayload
	if err := doJSON(ctx, shipHTTPClient, "GET", a.endpoint+"/meta", nil, &payload,
		bayerr.CodeShipError, bayerr.CodeShipError); err != nil {
		return nil, err
	}

	meta := &Meta{
		Name:         payload.Runtime.Name,
		Version:      payload.Runtime.Version,
		APIVersion:   payload.Runtime.APIVersion,
		MountPath:    payload.Workspace.MountPath,
		Capabilities: payload.Capabilities,
	}
	if meta.Name == "" {
		meta.Name = "ship"
	}

	a.mu.Lock()
	a.meta = meta
	a.mu.Unlock()
	return meta, nil
}

// InvalidateMeta drops the cached meta.
func (a *ShipAdapter) InvalidateMeta() {
	a.mu.Lock()
	a.meta = nil
	a.mu.Unlock()
}

// ExecPython runs code in the runtime's persistent interpreter.
func (a *ShipAdapter) ExecPython(ctx context.Context, code string, timeout time.Duration) (*ExecResult, error) {
	payload := map[string]any{
		"code":    code,
		"timeout": int(timeout.Seconds()),
	}
	var result ExecResult
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	if err := doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/ipython/exec", payload, &result,
		bayerr.CodeShipError, bayerr.CodeShipError); err != nil {
		return nil, err
	}
	return &result, nil
}

// shipShellResult is the wire shape of POST /shell/exec; success derives
// from the exit code.
type shipShellResult struct {
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// ExecShell runs a shell command, optionally in a working directory
// relative to the workspace.
func (a *ShipAdapter) ExecShell(ctx context.Context, command, cwd string, timeout time.Duration) (*ExecResult, error) {
	payload := map[string]any{
		"command": command,
		"timeout": int(timeout.Seconds()),
	}
	if cwd != "" {
		payload["cwd"] = cwd
	}

	var wire shipShellResult
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	if err := doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/shell/exec", payload, &wire,
		bayerr.CodeShipError, bayerr.CodeShipError); err != nil {
		return nil, err
	}

	exitCode := wire.ExitCode
	return &ExecResult{
		Success:  exitCode == 0,
		Output:   wire.Output,
		Error:    wire.Error,
		ExitCode: &exitCode,
		Data: map[string]any{
			"stdout": wire.Stdout,
			"stderr": wire.Stderr,
		},
	}, nil
}

// ReadFile returns a workspace file's content.
func (a *ShipAdapter) ReadFile(ctx context.Context, path string) (string, error) {
	var result struct {
		Content string `json:"content"`
	}
	if err := doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/fs/read_file",
		map[string]string{"path": path}, &result,
		bayerr.CodeShipError, bayerr.CodeFileNotFound); err != nil {
		return "", err
	}
	return result.Content, nil
}

// WriteFile writes content to a workspace file, creating parents as needed.
func (a *ShipAdapter) WriteFile(ctx context.Context, path, content string) error {
	return doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/fs/write_file",
		map[string]string{"path": path, "content": content}, nil,
		bayerr.CodeShipError, bayerr.CodeShipError)
}

// ListFiles lists a workspace directory.
func (a *ShipAdapter) ListFiles(ctx context.Context, path string) ([]FileEntry, error) {
	var result struct {
		Entries []FileEntry `json:"entries"`
	}
	if err := doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/fs/list",
		map[string]string{"path": path}, &result,
		bayerr.CodeShipError, bayerr.CodeFileNotFound); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// DeleteFile removes a workspace file or directory.
func (a *ShipAdapter) DeleteFile(ctx context.Context, path string) error {
	return doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/fs/delete",
		map[string]string{"path": path}, nil,
		bayerr.CodeShipError, bayerr.CodeFileNotFound)
}

// Upload writes binary content to a workspace file. The wire carries
// base64 so arbitrary bytes survive the JSON envelope.
func (a *ShipAdapter) Upload(ctx context.Context, path string, content []byte) error {
	return doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/fs/write_file",
		map[string]any{
			"path":     path,
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		}, nil,
		bayerr.CodeShipError, bayerr.CodeShipError)
}

// Download reads binary content from a workspace file.
func (a *ShipAdapter) Download(ctx context.Context, path string) ([]byte, error) {
	var result struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := doJSON(ctx, shipHTTPClient, "POST", a.endpoint+"/fs/read_file",
		map[string]any{"path": path, "encoding": "base64"}, &result,
		bayerr.CodeShipError, bayerr.CodeFileNotFound); err != nil {
		return nil, err
	}
	if result.Encoding == "base64" {
		return base64.StdEncoding.DecodeString(result.Content)
	}
	return []byte(result.Content), nil
}
