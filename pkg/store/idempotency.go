package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/bayerr"
)

// Idempotency record statuses.
const (
	IdemInProgress = "in-progress"
	IdemCompleted  = "completed"
)

// IdempotencyRecord is the domain view of one idempotency row.
type IdempotencyRecord struct {
	Owner       string
	Endpoint    string
	Key         string
	Fingerprint string
	Status      string
	StatusCode  int
	Response    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// IdempotencyRepo persists idempotency records.
type IdempotencyRepo struct {
	db *gorm.DB
}

// ErrIdemExists reports that another request already holds the key; callers
// re-read the record to decide between replay and conflict.
var ErrIdemExists = errors.New("idempotency key already recorded")

// Insert claims a key. The unique constraint on (owner, endpoint, key)
// resolves concurrent claims; the loser gets ErrIdemExists.
func (r *IdempotencyRepo) Insert(ctx context.Context, rec *IdempotencyRecord) error {
	m := &IdempotencyModel{
		Owner:       rec.Owner,
		Endpoint:    rec.Endpoint,
		Key:         rec.Key,
		Fingerprint: rec.Fingerprint,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrIdemExists
		}
		return bayerr.Internal(err)
	}
	return nil
}

// Get returns the record for a key, or nil when absent or expired.
func (r *IdempotencyRepo) Get(ctx context.Context, owner, endpoint, key string, now time.Time) (*IdempotencyRecord, error) {
	var m IdempotencyModel
	err := r.db.WithContext(ctx).
		First(&m, "owner = ? AND endpoint = ? AND key = ? AND expires_at > ?",
			owner, endpoint, key, now).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, bayerr.Internal(err)
	}
	return &IdempotencyRecord{
		Owner:       m.Owner,
		Endpoint:    m.Endpoint,
		Key:         m.Key,
		Fingerprint: m.Fingerprint,
		Status:      m.Status,
		StatusCode:  m.StatusCode,
		Response:    m.Response,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// Complete stores the final response for a claimed key.
func (r *IdempotencyRepo) Complete(ctx context.Context, owner, endpoint, key string, statusCode int, response string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&IdempotencyModel{}).
		Where("owner = ? AND endpoint = ? AND key = ?", owner, endpoint, key).
		Updates(map[string]any{
			"status":       IdemCompleted,
			"status_code":  statusCode,
			"response":     response,
			"completed_at": at,
		}).Error
	if err != nil {
		return bayerr.Internal(err)
	}
	return nil
}

// Release drops a claimed key after the underlying operation failed, so a
// retry can run the operation again.
func (r *IdempotencyRepo) Release(ctx context.Context, owner, endpoint, key string) error {
	err := r.db.WithContext(ctx).
		Where("owner = ? AND endpoint = ? AND key = ? AND status = ?",
			owner, endpoint, key, IdemInProgress).
		Delete(&IdempotencyModel{}).Error
	if err != nil {
		return bayerr.Internal(err)
	}
	return nil
}

// PurgeExpired deletes records past their TTL and reports how many went.
func (r *IdempotencyRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&IdempotencyModel{})
	if res.Error != nil {
		return 0, bayerr.Internal(res.Error)
	}
	return res.RowsAffected, nil
}
