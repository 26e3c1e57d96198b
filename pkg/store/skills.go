package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// SkillRepo persists skill candidates and releases.
type SkillRepo struct {
	db *gorm.DB
}

// CreateCandidate inserts a draft candidate.
func (r *SkillRepo) CreateCandidate(ctx context.Context, c *types.SkillCandidate) error {
	m, err := skillCandidateModel(c)
	if err != nil {
		return bayerr.Internal(err)
	}
	return translate(r.db.WithContext(ctx).Create(m).Error, "skill candidate", c.ID)
}

// GetCandidate returns a candidate by id, scoped to the owner.
func (r *SkillRepo) GetCandidate(ctx context.Context, owner, id string) (*types.SkillCandidate, error) {
	var m SkillCandidateModel
	err := r.db.WithContext(ctx).First(&m, "id = ? AND owner = ?", id, owner).Error
	if err != nil {
		return nil, translate(err, "skill candidate", id)
	}
	c, err := m.toDomain()
	if err != nil {
		return nil, bayerr.Internal(err)
	}
	return c, nil
}

// ListCandidates returns an owner's candidates, optionally filtered by
// skill key and state, newest first.
func (r *SkillRepo) ListCandidates(ctx context.Context, owner, skillKey string, state types.CandidateState) ([]*types.SkillCandidate, error) {
	q := r.db.WithContext(ctx).Where("owner = ?", owner).Order("created_at DESC")
	if skillKey != "" {
		q = q.Where("skill_key = ?", skillKey)
	}
	if state != "" {
		q = q.Where("state = ?", string(state))
	}

	var models []SkillCandidateModel
	if err := q.Find(&models).Error; err != nil {
		return nil, translate(err, "skill candidate", "")
	}
	out := make([]*types.SkillCandidate, 0, len(models))
	for i := range models {
		c, err := models[i].toDomain()
		if err != nil {
			return nil, bayerr.Internal(err)
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateCandidate writes a candidate back. The state column doubles as the
// concurrency check so a candidate cannot be promoted twice.
func (r *SkillRepo) UpdateCandidate(ctx context.Context, c *types.SkillCandidate, fromState types.CandidateState) error {
	m, err := skillCandidateModel(c)
	if err != nil {
		return bayerr.Internal(err)
	}
	res := r.db.WithContext(ctx).
		Model(&SkillCandidateModel{}).
		Where("id = ? AND owner = ? AND state = ?", c.ID, c.Owner, string(fromState)).
		Updates(map[string]any{
			"state":      m.State,
			"score":      m.Score,
			"passed":     m.Passed,
			"updated_at": m.UpdatedAt,
		})
	if res.Error != nil {
		return translate(res.Error, "skill candidate", c.ID)
	}
	if res.RowsAffected == 0 {
		return bayerr.Newf(bayerr.CodeConflict,
			"skill candidate %s is no longer in state %s", c.ID, fromState)
	}
	return nil
}

// PromoteCandidate atomically deactivates the current release for the
// (owner, skill key, stage) and inserts the new one at the next version.
// The unique index on (owner, skill_key, version) breaks ties between
// concurrent promotions.
func (r *SkillRepo) PromoteCandidate(ctx context.Context, release *types.SkillRelease) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		err := tx.Model(&SkillReleaseModel{}).
			Where("owner = ? AND skill_key = ?", release.Owner, release.SkillKey).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error
		if err != nil {
			return translate(err, "skill release", release.SkillKey)
		}
		release.Version = maxVersion + 1

		err = tx.Model(&SkillReleaseModel{}).
			Where("owner = ? AND skill_key = ? AND stage = ? AND active = ?",
				release.Owner, release.SkillKey, string(release.Stage), true).
			Update("active", false).Error
		if err != nil {
			return translate(err, "skill release", release.SkillKey)
		}

		release.Active = true
		if err := tx.Create(skillReleaseModel(release)).Error; err != nil {
			return translate(err, "skill release", release.ID)
		}
		return nil
	})
}

// ListReleases returns an owner's releases for a skill key, newest version
// first. An empty key lists everything.
func (r *SkillRepo) ListReleases(ctx context.Context, owner, skillKey string) ([]*types.SkillRelease, error) {
	q := r.db.WithContext(ctx).Where("owner = ?", owner).
		Order("skill_key ASC, version DESC")
	if skillKey != "" {
		q = q.Where("skill_key = ?", skillKey)
	}

	var models []SkillReleaseModel
	if err := q.Find(&models).Error; err != nil {
		return nil, translate(err, "skill release", "")
	}
	out := make([]*types.SkillRelease, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// Rollback deactivates the active release for a stage and reactivates the
// previous non-rolled-back version, marking the deactivated one rolled back.
func (r *SkillRepo) Rollback(ctx context.Context, owner, skillKey string, stage types.ReleaseStage, at time.Time) (*types.SkillRelease, error) {
	var restored *SkillReleaseModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current SkillReleaseModel
		err := tx.Where("owner = ? AND skill_key = ? AND stage = ? AND active = ?",
			owner, skillKey, string(stage), true).
			First(&current).Error
		if err != nil {
			return translate(err, "skill release", skillKey)
		}

		err = tx.Model(&SkillReleaseModel{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{"active": false, "rolled_back": true}).Error
		if err != nil {
			return translate(err, "skill release", current.ID)
		}

		var previous SkillReleaseModel
		err = tx.Where("owner = ? AND skill_key = ? AND stage = ? AND rolled_back = ? AND version < ?",
			owner, skillKey, string(stage), false, current.Version).
			Order("version DESC").
			First(&previous).Error
		if err != nil {
			// No prior version to restore; the stage just goes inactive.
			if translated := translate(err, "skill release", skillKey); bayerr.CodeOf(translated) != bayerr.CodeNotFound {
				return translated
			}
			return nil
		}

		if err := tx.Model(&SkillReleaseModel{}).
			Where("id = ?", previous.ID).
			Update("active", true).Error; err != nil {
			return translate(err, "skill release", previous.ID)
		}
		previous.Active = true
		restored = &previous
		return nil
	})
	if err != nil {
		return nil, err
	}
	if restored == nil {
		return nil, nil
	}
	return restored.toDomain(), nil
}
