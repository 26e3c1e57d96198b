package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/types"
)

func TestEnsureRunningMultiContainer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{ProfileID: "browser-default"})
	require.NoError(t, err)

	_, session, err := h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, session.ObservedState)
	require.Len(t, session.Containers, 2)
	assert.NotEmpty(t, session.NetworkID)
	for _, c := range session.Containers {
		assert.NotEmpty(t, c.ContainerID)
		assert.Equal(t, types.SessionRunning, c.ObservedState)
	}
}

func TestDegradedSessionAndRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{ProfileID: "browser-default"})
	require.NoError(t, err)
	_, session, err := h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.NoError(t, err)

	var helm *types.SessionContainer
	for _, c := range session.Containers {
		if !c.Primary {
			helm = c
		}
	}
	require.NotNil(t, helm)

	// The non-primary container dies; the session degrades but keeps serving.
	h.driver.setState(helm.ContainerID, driver.StateExited)
	_, degraded, err := h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionDegraded, degraded.ObservedState)

	_, status, err := h.sandboxes.Get(ctx, "alice", sandbox.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SandboxDegraded, status)

	// Recovery recreates just the dead container and clears the degradation.
	recovered, err := h.sandboxes.RecoverContainer(ctx, "alice", sandbox.ID, helm.Name)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, recovered.ObservedState)
	for _, c := range recovered.Containers {
		assert.Equal(t, types.SessionRunning, c.ObservedState)
		assert.NotEmpty(t, c.ContainerID)
	}
}

func TestMultiContainerStartFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{ProfileID: "browser-default"})
	require.NoError(t, err)

	// The second container of the pair fails to start.
	h.driver.mu.Lock()
	h.driver.failStartAt = 2
	h.driver.mu.Unlock()

	_, _, err = h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.Error(t, err)
	assert.Equal(t, bayerr.CodeInternal, bayerr.CodeOf(err))

	// Rollback left no compute behind.
	h.driver.mu.Lock()
	assert.Empty(t, h.driver.states)
	assert.Empty(t, h.driver.networks)
	h.driver.mu.Unlock()

	reloaded, err := h.store.Sandboxes.Get(ctx, sandbox.ID)
	require.NoError(t, err)
	require.NotEmpty(t, reloaded.CurrentSessionID)
	failed, err := h.store.Sessions.Get(ctx, reloaded.CurrentSessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, failed.ObservedState)
	assert.NotEmpty(t, failed.FailedReason)

	// The next converge builds a fresh session instead of retrying the
	// failed one.
	h.driver.mu.Lock()
	h.driver.failStartAt = 0
	h.driver.mu.Unlock()

	_, recovered, err := h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, recovered.ID)
	assert.Equal(t, types.SessionRunning, recovered.ObservedState)
	require.Len(t, recovered.Containers, 2)
	assert.NotEmpty(t, recovered.NetworkID)
}

func TestIncompatibleRuntimeMetaFailsSession(t *testing.T) {
	// The runtime answers but declares fewer capabilities than the profile
	// promises, which is the runtime's fault, not the backend's.
	h := newHarnessWithRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"runtime":      map[string]string{"name": "ship", "api_version": "v1"},
			"workspace":    map[string]string{"mount_path": "/workspace"},
			"capabilities": map[string]any{"shell": map[string]any{}},
		})
	}))
	ctx := context.Background()

	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{})
	require.NoError(t, err)

	_, _, err = h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.Error(t, err)
	assert.Equal(t, bayerr.CodeRuntimeError, bayerr.CodeOf(err))
}

func TestContainerLogsForDiagnostics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{})
	require.NoError(t, err)

	// Before any session exists there is nothing to read.
	_, err = h.sandboxes.ContainerLogs(ctx, "alice", sandbox.ID, "", 50)
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))

	_, session, err := h.sandboxes.EnsureRunning(ctx, "alice", sandbox.ID)
	require.NoError(t, err)
	h.driver.setLogs(session.Primary().ContainerID, "Traceback (most recent call last):\n")

	out, err := h.sandboxes.ContainerLogs(ctx, "alice", sandbox.ID, "", 50)
	require.NoError(t, err)
	assert.Contains(t, out, "Traceback")

	// An explicit name must match a session container.
	_, err = h.sandboxes.ContainerLogs(ctx, "alice", sandbox.ID, "ghost", 50)
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
}

func TestValidateMeta(t *testing.T) {
	spec := &types.ContainerSpec{
		Name:         "ship",
		Capabilities: []types.Capability{types.CapabilityPython, types.CapabilityShell},
	}

	tests := []struct {
		name    string
		meta    *adapter.Meta
		wantErr bool
	}{
		{
			name: "compatible runtime",
			meta: &adapter.Meta{
				APIVersion: "v1", MountPath: "/workspace",
				Capabilities: map[string]any{"python": nil, "shell": nil, "filesystem": nil},
			},
		},
		{
			name: "extra capabilities are fine",
			meta: &adapter.Meta{
				APIVersion: "v1", MountPath: "/workspace",
				Capabilities: map[string]any{"python": nil, "shell": nil, "browser": nil},
			},
		},
		{
			name: "silent meta is trusted",
			meta: &adapter.Meta{},
		},
		{
			name:    "wrong mount path",
			meta:    &adapter.Meta{MountPath: "/data"},
			wantErr: true,
		},
		{
			name:    "wrong api version",
			meta:    &adapter.Meta{APIVersion: "v2"},
			wantErr: true,
		},
		{
			name: "missing declared capability",
			meta: &adapter.Meta{
				APIVersion: "v1", MountPath: "/workspace",
				Capabilities: map[string]any{"python": nil},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMeta(tt.meta, spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
