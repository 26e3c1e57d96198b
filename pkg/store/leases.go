package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/baylabs/bay/pkg/bayerr"
)

// LeaseRepo hands out short-lived task leases so only one process runs a
// given GC task at a time.
type LeaseRepo struct {
	db *gorm.DB
}

// Acquire claims a task lease for the holder until expires. It succeeds
// when no lease exists, the existing lease expired, or the holder already
// owns it (renewal). Returns false when another live holder has it.
func (r *LeaseRepo) Acquire(ctx context.Context, task, holder string, now, expires time.Time) (bool, error) {
	acquired := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lease GCLeaseModel
		err := tx.First(&lease, "task = ?", task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			createErr := tx.Create(&GCLeaseModel{Task: task, Holder: holder, ExpiresAt: expires}).Error
			if createErr != nil {
				if errors.Is(createErr, gorm.ErrDuplicatedKey) {
					return nil // lost the race
				}
				return createErr
			}
			acquired = true
			return nil
		}
		if err != nil {
			return err
		}

		if lease.Holder != holder && lease.ExpiresAt.After(now) {
			return nil
		}

		res := tx.Model(&GCLeaseModel{}).
			Where("task = ? AND (holder = ? OR expires_at <= ?)", task, holder, now).
			Updates(map[string]any{"holder": holder, "expires_at": expires})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, bayerr.Internal(err)
	}
	return acquired, nil
}

// Release drops a holder's lease on a task.
func (r *LeaseRepo) Release(ctx context.Context, task, holder string) error {
	err := r.db.WithContext(ctx).
		Where("task = ? AND holder = ?", task, holder).
		Delete(&GCLeaseModel{}).Error
	if err != nil {
		return bayerr.Internal(err)
	}
	return nil
}
