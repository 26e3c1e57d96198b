package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/types"
)

// CargoRepo persists cargo rows.
type CargoRepo struct {
	db *gorm.DB
}

// Create inserts a new cargo.
func (r *CargoRepo) Create(ctx context.Context, c *types.Cargo) error {
	return translate(r.db.WithContext(ctx).Create(cargoModel(c)).Error, "cargo", c.ID)
}

// Get returns a live cargo by id.
func (r *CargoRepo) Get(ctx context.Context, id string) (*types.Cargo, error) {
	var m CargoModel
	err := r.db.WithContext(ctx).First(&m, "id = ? AND deleted_at IS NULL", id).Error
	if err != nil {
		return nil, translate(err, "cargo", id)
	}
	return m.toDomain(), nil
}

// List returns an owner's live cargos.
func (r *CargoRepo) List(ctx context.Context, owner string) ([]*types.Cargo, error) {
	var models []CargoModel
	err := r.db.WithContext(ctx).
		Where("owner = ? AND deleted_at IS NULL", owner).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, translate(err, "cargo", "")
	}
	out := make([]*types.Cargo, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// MarkDeleted soft-deletes a cargo row.
func (r *CargoRepo) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&CargoModel{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", at).Error
	return translate(err, "cargo", id)
}

// CountAttachments counts live sandboxes referencing a cargo. External
// cargos may only be deleted when this reaches zero.
func (r *CargoRepo) CountAttachments(ctx context.Context, cargoID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SandboxModel{}).
		Where("cargo_id = ? AND deleted_at IS NULL", cargoID).
		Count(&count).Error
	if err != nil {
		return 0, translate(err, "cargo", cargoID)
	}
	return count, nil
}

// ListOrphans returns live managed cargos whose owning sandbox is deleted
// or missing.
func (r *CargoRepo) ListOrphans(ctx context.Context, limit int) ([]*types.Cargo, error) {
	var models []CargoModel
	err := r.db.WithContext(ctx).
		Where(`kind = ? AND deleted_at IS NULL AND managed_by_sandbox_id NOT IN (
			SELECT id FROM sandboxes WHERE deleted_at IS NULL
		)`, string(types.CargoManaged)).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, translate(err, "cargo", "")
	}
	out := make([]*types.Cargo, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}
