package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/events"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

// CargoManager owns the lifecycle of persistent data volumes. Managed
// cargos belong to exactly one sandbox and die with it; external cargos are
// shared by reference and only deletable once nothing references them.
type CargoManager struct {
	store    *store.Store
	driver   driver.Driver
	instance string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCargoManager wires the cargo manager.
func NewCargoManager(st *store.Store, drv driver.Driver, instance string) *CargoManager {
	return &CargoManager{
		store:    st,
		driver:   drv,
		instance: instance,
		logger:   log.WithComponent("cargo-manager"),
		now:      time.Now,
	}
}

// Create provisions an external cargo for the owner.
func (m *CargoManager) Create(ctx context.Context, owner string) (*types.Cargo, error) {
	return m.create(ctx, owner, types.CargoExternal, "")
}

// CreateManaged provisions a cargo owned by a single sandbox.
func (m *CargoManager) CreateManaged(ctx context.Context, owner, sandboxID string) (*types.Cargo, error) {
	return m.create(ctx, owner, types.CargoManaged, sandboxID)
}

func (m *CargoManager) create(ctx context.Context, owner string, kind types.CargoKind, sandboxID string) (*types.Cargo, error) {
	id := types.NewCargoID()
	labels := map[string]string{
		driver.LabelOwner:    owner,
		driver.LabelManaged:  "true",
		driver.LabelInstance: m.instance,
	}
	if sandboxID != "" {
		labels[driver.LabelSandboxID] = sandboxID
	}

	handle, err := m.driver.CreateVolume(ctx, driver.VolumeSpec{Name: id, Labels: labels})
	if err != nil {
		return nil, bayerr.Wrap(bayerr.CodeInternal, "failed to provision cargo volume", err)
	}

	cargo := &types.Cargo{
		ID:                 id,
		Owner:              owner,
		BackendHandle:      handle,
		Kind:               kind,
		MountPath:          config.WorkspaceMountPath,
		ManagedBySandboxID: sandboxID,
		CreatedAt:          m.now().UTC(),
	}

	if err := m.store.Cargos.Create(ctx, cargo); err != nil {
		// The row failed, so the volume must not leak.
		if derr := m.driver.DestroyVolume(context.WithoutCancel(ctx), handle); derr != nil {
			m.logger.Warn().Err(derr).Str("cargo_id", id).Msg("Orphaned volume after failed insert")
		}
		return nil, err
	}

	m.logger.Info().Str("cargo_id", id).Str("kind", string(kind)).Msg("Cargo created")
	events.Publish(events.EventCargoCreated, owner, map[string]string{
		"cargo_id": id, "kind": string(kind),
	})
	return cargo, nil
}

// Get returns an owner's cargo.
func (m *CargoManager) Get(ctx context.Context, owner, id string) (*types.Cargo, error) {
	cargo, err := m.store.Cargos.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cargo.Owner != owner {
		return nil, bayerr.NotFound("cargo", id)
	}
	return cargo, nil
}

// List returns an owner's live cargos.
func (m *CargoManager) List(ctx context.Context, owner string) ([]*types.Cargo, error) {
	return m.store.Cargos.List(ctx, owner)
}

// Delete removes an external cargo once nothing references it. Managed
// cargos cannot be deleted directly; they cascade with their sandbox.
// Deleting an already-deleted cargo is a no-op.
func (m *CargoManager) Delete(ctx context.Context, owner, id string) error {
	cargo, err := m.store.Cargos.Get(ctx, id)
	if err != nil {
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			return nil
		}
		return err
	}
	if cargo.Owner != owner {
		return bayerr.NotFound("cargo", id)
	}
	if cargo.Kind == types.CargoManaged {
		return bayerr.Newf(bayerr.CodeConflict,
			"cargo %s is managed by sandbox %s and is deleted with it", id, cargo.ManagedBySandboxID)
	}

	attached, err := m.store.Cargos.CountAttachments(ctx, id)
	if err != nil {
		return err
	}
	if attached > 0 {
		return bayerr.Newf(bayerr.CodeConflict,
			"cargo %s is attached to %d sandbox(es)", id, attached).
			WithDetails(map[string]any{"attachments": attached})
	}

	return m.destroy(ctx, cargo)
}

// DeleteManagedFor cascades a sandbox's managed cargo during sandbox
// deletion.
func (m *CargoManager) DeleteManagedFor(ctx context.Context, cargoID string) error {
	cargo, err := m.store.Cargos.Get(ctx, cargoID)
	if err != nil {
		if bayerr.CodeOf(err) == bayerr.CodeNotFound {
			return nil
		}
		return err
	}
	if cargo.Kind != types.CargoManaged {
		return nil
	}
	return m.destroy(ctx, cargo)
}

func (m *CargoManager) destroy(ctx context.Context, cargo *types.Cargo) error {
	if err := m.driver.DestroyVolume(ctx, cargo.BackendHandle); err != nil {
		return bayerr.Wrap(bayerr.CodeInternal, "failed to destroy cargo volume", err)
	}
	if err := m.store.Cargos.MarkDeleted(ctx, cargo.ID, m.now().UTC()); err != nil {
		return err
	}
	m.logger.Info().Str("cargo_id", cargo.ID).Msg("Cargo deleted")
	events.Publish(events.EventCargoDeleted, cargo.Owner, map[string]string{"cargo_id": cargo.ID})
	return nil
}
