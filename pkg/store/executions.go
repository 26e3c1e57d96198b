package store

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// ExecutionRepo persists execution history rows.
type ExecutionRepo struct {
	db *gorm.DB
}

// ExecutionFilter narrows history listings. Zero fields match everything.
type ExecutionFilter struct {
	SandboxID string
	Type      types.ExecType
	Success   *bool
	Tag       string
	Limit     int
	Offset    int
}

// Create inserts an execution record.
func (r *ExecutionRepo) Create(ctx context.Context, rec *types.ExecutionRecord) error {
	m, err := executionModel(rec)
	if err != nil {
		return bayerr.Internal(err)
	}
	return translate(r.db.WithContext(ctx).Create(m).Error, "execution", rec.ID)
}

// Get returns one record by id, scoped to the owner.
func (r *ExecutionRepo) Get(ctx context.Context, owner, id string) (*types.ExecutionRecord, error) {
	var m ExecutionModel
	err := r.db.WithContext(ctx).First(&m, "id = ? AND owner = ?", id, owner).Error
	if err != nil {
		return nil, translate(err, "execution", id)
	}
	rec, err := m.toDomain()
	if err != nil {
		return nil, bayerr.Internal(err)
	}
	return rec, nil
}

// GetLast returns the most recent record for a sandbox.
func (r *ExecutionRepo) GetLast(ctx context.Context, owner, sandboxID string) (*types.ExecutionRecord, error) {
	var m ExecutionModel
	err := r.db.WithContext(ctx).
		Where("owner = ? AND sandbox_id = ?", owner, sandboxID).
		Order("started_at DESC").
		First(&m).Error
	if err != nil {
		return nil, translate(err, "execution", sandboxID)
	}
	rec, err := m.toDomain()
	if err != nil {
		return nil, bayerr.Internal(err)
	}
	return rec, nil
}

// List returns an owner's records matching the filter, newest first.
func (r *ExecutionRepo) List(ctx context.Context, owner string, filter ExecutionFilter) ([]*types.ExecutionRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("started_at DESC").
		Limit(limit).
		Offset(filter.Offset)

	if filter.SandboxID != "" {
		q = q.Where("sandbox_id = ?", filter.SandboxID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.Success != nil {
		q = q.Where("success = ?", *filter.Success)
	}
	if filter.Tag != "" {
		// Tags live in a JSON array column; a quoted substring match finds
		// exact tag values without a JSON function dialect dependency.
		q = q.Where("tags LIKE ?", "%"+quoteJSONString(filter.Tag)+"%")
	}

	var models []ExecutionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, translate(err, "execution", "")
	}

	out := make([]*types.ExecutionRecord, 0, len(models))
	for i := range models {
		rec, err := models[i].toDomain()
		if err != nil {
			return nil, bayerr.Internal(err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Annotate updates the mutable annotation fields; nil pointers leave the
// current value untouched.
func (r *ExecutionRepo) Annotate(ctx context.Context, owner, id string, description *string, tags []string, notes *string) (*types.ExecutionRecord, error) {
	updates := map[string]any{}
	if description != nil {
		updates["description"] = *description
	}
	if tags != nil {
		data, err := json.Marshal(tags)
		if err != nil {
			return nil, bayerr.Internal(err)
		}
		updates["tags"] = string(data)
	}
	if notes != nil {
		updates["notes"] = *notes
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).
			Model(&ExecutionModel{}).
			Where("id = ? AND owner = ?", id, owner).
			Updates(updates)
		if res.Error != nil {
			return nil, translate(res.Error, "execution", id)
		}
		if res.RowsAffected == 0 {
			return nil, bayerr.NotFound("execution", id)
		}
	}
	return r.Get(ctx, owner, id)
}

func quoteJSONString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
