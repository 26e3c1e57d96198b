package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// ErrConnection marks transport-level failures reaching a runtime. Callers
// translate it into session_not_ready because the usual cause is a container
// that is still booting or has died.
var ErrConnection = errors.New("runtime connection failed")

// Meta is the runtime's self-description, probed once at readiness and
// cached on the adapter.
type Meta struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	APIVersion   string         `json:"api_version"`
	MountPath    string         `json:"mount_path"`
	Capabilities map[string]any `json:"capabilities"`
}

// HasCapability reports whether the runtime declared a capability.
func (m *Meta) HasCapability(capability types.Capability) bool {
	_, ok := m.Capabilities[string(capability)]
	return ok
}

// ExecResult is the outcome of a code, shell, or browser execution.
type ExecResult struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output"`
	Error    string         `json:"error,omitempty"`
	ExitCode *int           `json:"exit_code,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// RuntimeAdapter is the common surface of every runtime client. Capability
// methods live on the concrete adapters; callers pick the concrete type by
// the container's runtime kind.
type RuntimeAdapter interface {
	// Kind identifies the wire protocol this adapter speaks.
	Kind() types.RuntimeKind

	// Endpoint returns the base URL the adapter talks to.
	Endpoint() string

	// Meta probes the runtime's self-description. The first success is
	// cached; InvalidateMeta clears it.
	Meta(ctx context.Context) (*Meta, error)

	// InvalidateMeta drops the cached meta, forcing a re-probe.
	InvalidateMeta()
}

// Runtimes share one pooled HTTP client per kind. Per-call timeouts come
// from request contexts, not the client.
var (
	shipHTTPClient = newRuntimeHTTPClient()
	helmHTTPClient = newRuntimeHTTPClient()
)

func newRuntimeHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2: true,
		},
	}
}

// doJSON posts (or gets) JSON against a runtime and decodes the response
// into out. Transport failures wrap ErrConnection, deadline hits become
// timeout errors, a 404 becomes notFoundCode, and any other non-2xx
// response becomes errCode.
func doJSON(ctx context.Context, client *http.Client, method, rawURL string, payload any, out any, errCode, notFoundCode bayerr.Code) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return bayerr.Internal(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return bayerr.Internal(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return bayerr.Wrap(bayerr.CodeTimeout, "runtime request timed out", err)
		}
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			return bayerr.Wrap(bayerr.CodeTimeout, "runtime request timed out", err)
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusNotFound {
			return bayerr.Newf(notFoundCode, "runtime reported not found: %s", summarize(data))
		}
		return bayerr.Newf(errCode, "runtime request failed with status %d: %s",
			resp.StatusCode, summarize(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return bayerr.Newf(errCode, "runtime returned malformed response: %v", err)
		}
	}
	return nil
}

func summarize(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
