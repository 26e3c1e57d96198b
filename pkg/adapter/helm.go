package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// HelmAdapter speaks the helm runtime's HTTP protocol for browser
// automation. Commands are passed through verbatim; the runtime splits the
// command line and injects its own session and profile flags.
type HelmAdapter struct {
	endpoint string

	mu   sync.Mutex
	meta *Meta
}

// NewHelmAdapter builds an adapter for a helm container endpoint.
func NewHelmAdapter(endpoint string) *HelmAdapter {
	return &HelmAdapter{endpoint: strings.TrimRight(endpoint, "/")}
}

func (a *HelmAdapter) Kind() types.RuntimeKind { return types.RuntimeKindHelm }
func (a *HelmAdapter) Endpoint() string        { return a.endpoint }

// Meta probes GET /meta, caching the first success.
func (a *HelmAdapter) Meta(ctx context.Context) (*Meta, error) {
	a.mu.Lock()
	if a.meta != nil {
		cached := a.meta
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	var payload shipMetaPayload
	if err := doJSON(ctx, helmHTTPClient, "GET", a.endpoint+"/meta", nil, &payload,
		bayerr.CodeRuntimeError, bayerr.CodeRuntimeError); err != nil {
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
		meta.Name = "helm"
	}

	a.mu.Lock()
	a.meta = meta
	a.mu.Unlock()
	return meta, nil
}

// InvalidateMeta drops the cached meta.
func (a *HelmAdapter) InvalidateMeta() {
	a.mu.Lock()
	a.meta = nil
	a.mu.Unlock()
}

// ExecBrowser runs one browser command line.
func (a *HelmAdapter) ExecBrowser(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	payload := map[string]any{
		"command": command,
		"timeout": int(timeout.Seconds()),
	}
	var result ExecResult
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	if err := doJSON(ctx, helmHTTPClient, "POST", a.endpoint+"/browser/exec", payload, &result,
		bayerr.CodeRuntimeError, bayerr.CodeRuntimeError); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchResult is the outcome of an ordered browser batch. Steps contains
// one record per executed command; with stop-on-error the list is cut at
// the first failure.
type BatchResult struct {
	Success bool                `json:"success"`
	Steps   []types.BrowserStep `json:"steps"`
}

// ExecBrowserBatch runs an ordered list of browser commands under one
// overall timeout.
func (a *HelmAdapter) ExecBrowserBatch(ctx context.Context, commands []string, timeout time.Duration, stopOnError bool) (*BatchResult, error) {
	payload := map[string]any{
		"commands":      commands,
		"timeout":       int(timeout.Seconds()),
		"stop_on_error": stopOnError,
	}
	var result BatchResult
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	if err := doJSON(ctx, helmHTTPClient, "POST", a.endpoint+"/browser/exec_batch", payload, &result,
		bayerr.CodeRuntimeError, bayerr.CodeRuntimeError); err != nil {
		return nil, err
	}
	return &result, nil
}
