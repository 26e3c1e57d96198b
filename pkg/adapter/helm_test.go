package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

func newHelmServer(t *testing.T, handler http.HandlerFunc) *HelmAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHelmAdapter(srv.URL)
}

func TestHelmMeta(t *testing.T) {
	a := newHelmServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/meta", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"runtime":      map[string]string{"name": "helm", "api_version": "v1"},
			"workspace":    map[string]string{"mount_path": "/workspace"},
			"capabilities": map[string]any{"browser": map[string]any{}},
		})
	})

	meta, err := a.Meta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "helm", meta.Name)
	assert.True(t, meta.HasCapability(types.CapabilityBrowser))
}

func TestHelmExecBrowser(t *testing.T) {
	a := newHelmServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/browser/exec", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, `open "https://example.com"`, req["command"])
		json.NewEncoder(w).Encode(map[string]any{"success": true, "output": "page loaded"})
	})

	result, err := a.ExecBrowser(context.Background(), `open "https://example.com"`, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "page loaded", result.Output)
}

func TestHelmExecBrowserBatch(t *testing.T) {
	a := newHelmServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/browser/exec_batch", r.URL.Path)
		var req struct {
			Commands    []string `json:"commands"`
			StopOnError bool     `json:"stop_on_error"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Commands, 3)
		assert.True(t, req.StopOnError)

		// Second command fails and the batch stops there.
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"steps": []map[string]any{
				{"command": req.Commands[0], "success": true, "output": "ok"},
				{"command": req.Commands[1], "success": false, "error": "element not found"},
			},
		})
	})

	result, err := a.ExecBrowserBatch(context.Background(),
		[]string{"open x", "click y", "text z"}, time.Minute, true)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.True(t, result.Steps[0].Success)
	assert.Equal(t, "element not found", result.Steps[1].Error)
}

func TestHelmFailureCode(t *testing.T) {
	a := newHelmServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "browser crashed", http.StatusBadGateway)
	})

	_, err := a.ExecBrowser(context.Background(), "open x", 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, bayerr.CodeRuntimeError, bayerr.CodeOf(err))
}
