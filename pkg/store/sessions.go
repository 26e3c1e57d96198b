package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

// SessionRepo persists session rows.
type SessionRepo struct {
	db *gorm.DB
}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *types.Session) error {
	m, err := sessionModel(s)
	if err != nil {
		return bayerr.Internal(err)
	}
	return translate(r.db.WithContext(ctx).Create(m).Error, "session", s.ID)
}

// Get returns a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*types.Session, error) {
	var m SessionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, "session", id)
	}
	s, err := m.toDomain()
	if err != nil {
		return nil, bayerr.Internal(err)
	}
	return s, nil
}

// Update writes the session back with an optimistic concurrency check.
func (r *SessionRepo) Update(ctx context.Context, s *types.Session) error {
	m, err := sessionModel(s)
	if err != nil {
		return bayerr.Internal(err)
	}
	res := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"desired_state":  m.DesiredState,
			"observed_state": m.ObservedState,
			"containers":     m.Containers,
			"network_id":     m.NetworkID,
			"endpoint":       m.Endpoint,
			"last_activity":  m.LastActivity,
			"ready_at":       m.ReadyAt,
			"failed_reason":  m.FailedReason,
			"version":        s.Version + 1,
		})
	if res.Error != nil {
		return translate(res.Error, "session", s.ID)
	}
	if res.RowsAffected == 0 {
		return bayerr.Newf(bayerr.CodeConflict, "session %s was modified concurrently", s.ID)
	}
	s.Version++
	return nil
}

// TouchActivity bumps last_activity without a version check.
func (r *SessionRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("id = ?", id).
		Update("last_activity", at).Error
	return translate(err, "session", id)
}

// Delete removes a session row.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	return translate(r.db.WithContext(ctx).Delete(&SessionModel{}, "id = ?", id).Error,
		"session", id)
}

// ListIdle returns running sessions whose last activity is older than their
// idle timeout at now.
func (r *SessionRepo) ListIdle(ctx context.Context, now time.Time, limit int) ([]*types.Session, error) {
	var models []SessionModel
	err := r.db.WithContext(ctx).
		Where("observed_state = ? AND idle_timeout_ms > 0", string(types.SessionRunning)).
		Order("last_activity ASC").
		Limit(limit * 4).
		Find(&models).Error
	if err != nil {
		return nil, translate(err, "session", "")
	}

	out := make([]*types.Session, 0, limit)
	for i := range models {
		idle := time.Duration(models[i].IdleTimeoutMS) * time.Millisecond
		if now.Sub(models[i].LastActivity) < idle {
			continue
		}
		s, err := models[i].toDomain()
		if err != nil {
			return nil, bayerr.Internal(err)
		}
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
