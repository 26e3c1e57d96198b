package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

func TestCargoCreateAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cargo, err := h.cargos.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.CargoExternal, cargo.Kind)
	assert.Equal(t, "/workspace", cargo.MountPath)
	assert.NotEmpty(t, cargo.BackendHandle)

	// The backend volume exists.
	h.driver.mu.Lock()
	assert.True(t, h.driver.volumes[cargo.BackendHandle])
	h.driver.mu.Unlock()

	listed, err := h.cargos.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	listed, err = h.cargos.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestCargoDeleteRefcount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cargo, err := h.cargos.Create(ctx, "alice")
	require.NoError(t, err)
	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{CargoID: cargo.ID})
	require.NoError(t, err)

	// Attached cargos refuse deletion.
	err = h.cargos.Delete(ctx, "alice", cargo.ID)
	assert.Equal(t, bayerr.CodeConflict, bayerr.CodeOf(err))

	require.NoError(t, h.sandboxes.Delete(ctx, "alice", sandbox.ID))
	require.NoError(t, h.cargos.Delete(ctx, "alice", cargo.ID))

	// Idempotent on repeat.
	assert.NoError(t, h.cargos.Delete(ctx, "alice", cargo.ID))

	h.driver.mu.Lock()
	assert.False(t, h.driver.volumes[cargo.BackendHandle])
	h.driver.mu.Unlock()
}

func TestCargoDeleteManagedRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sandbox, err := h.sandboxes.Create(ctx, "alice", CreateRequest{})
	require.NoError(t, err)

	err = h.cargos.Delete(ctx, "alice", sandbox.CargoID)
	assert.Equal(t, bayerr.CodeConflict, bayerr.CodeOf(err))
}

func TestCargoOwnershipScoping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cargo, err := h.cargos.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = h.cargos.Get(ctx, "bob", cargo.ID)
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))

	err = h.cargos.Delete(ctx, "bob", cargo.ID)
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
}
