package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// SandboxRepo persists sandbox rows.
type SandboxRepo struct {
	db *gorm.DB
}

// Create inserts a new sandbox.
func (r *SandboxRepo) Create(ctx context.Context, s *types.Sandbox) error {
	return translate(r.db.WithContext(ctx).Create(sandboxModel(s)).Error, "sandbox", s.ID)
}

// Get returns a sandbox by id, including soft-deleted rows.
func (r *SandboxRepo) Get(ctx context.Context, id string) (*types.Sandbox, error) {
	var m SandboxModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, "sandbox", id)
	}
	return m.toDomain(), nil
}

// GetLive returns a sandbox by id, excluding soft-deleted rows.
func (r *SandboxRepo) GetLive(ctx context.Context, id string) (*types.Sandbox, error) {
	var m SandboxModel
	err := r.db.WithContext(ctx).First(&m, "id = ? AND deleted_at IS NULL", id).Error
	if err != nil {
		return nil, translate(err, "sandbox", id)
	}
	return m.toDomain(), nil
}

// List returns an owner's live sandboxes ordered by creation time
// descending, starting after the cursor id, limited to limit rows.
func (r *SandboxRepo) List(ctx context.Context, owner, cursor string, limit int) ([]*types.Sandbox, error) {
	q := r.db.WithContext(ctx).
		Where("owner = ? AND deleted_at IS NULL", owner).
		Order("created_at DESC, id DESC").
		Limit(limit)

	if cursor != "" {
		var pivot SandboxModel
		if err := r.db.WithContext(ctx).First(&pivot, "id = ?", cursor).Error; err != nil {
			return nil, translate(err, "sandbox", cursor)
		}
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			pivot.CreatedAt, pivot.CreatedAt, pivot.ID)
	}

	var models []SandboxModel
	if err := q.Find(&models).Error; err != nil {
		return nil, translate(err, "sandbox", "")
	}

	out := make([]*types.Sandbox, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// Update writes the sandbox back with an optimistic concurrency check. The
// row's version must match; on success the stored version is bumped and
// reflected on s.
func (r *SandboxRepo) Update(ctx context.Context, s *types.Sandbox) error {
	m := sandboxModel(s)
	res := r.db.WithContext(ctx).
		Model(&SandboxModel{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"cargo_id":           m.CargoID,
			"current_session_id": m.CurrentSessionID,
			"desired_state":      m.DesiredState,
			"expires_at":         m.ExpiresAt,
			"idle_expires_at":    m.IdleExpiresAt,
			"last_activity":      m.LastActivity,
			"deleted_at":         m.DeletedAt,
			"version":            s.Version + 1,
		})
	if res.Error != nil {
		return translate(res.Error, "sandbox", s.ID)
	}
	if res.RowsAffected == 0 {
		return bayerr.Newf(bayerr.CodeConflict, "sandbox %s was modified concurrently", s.ID)
	}
	s.Version++
	return nil
}

// TouchActivity bumps last_activity without a version check; activity
// updates never need to win races.
func (r *SandboxRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&SandboxModel{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("last_activity", at).Error
	return translate(err, "sandbox", id)
}

// ListExpired returns live sandboxes whose hard TTL passed before now.
func (r *SandboxRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*types.Sandbox, error) {
	var models []SandboxModel
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL AND expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, translate(err, "sandbox", "")
	}
	out := make([]*types.Sandbox, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// ListLiveIDs returns the ids of all live sandboxes. Used by the orphan
// reapers to cross-check backend resources.
func (r *SandboxRepo) ListLiveIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&SandboxModel{}).
		Where("deleted_at IS NULL").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translate(err, "sandbox", "")
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
