package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"rateshopper/internal/model"
)

// TryAcquireLock attempts to create the per-hotel lease row. It never blocks:
// if another worker already holds the hotel, it returns false and the caller
// skips the hotel until the next tick. On success the returned token fences
// all later renew/release calls.
func (s *gormStore) TryAcquireLock(ctx context.Context, hotelID uint64) (string, bool, error) {
	now := time.Now().UTC()
	lock := model.ExtractionLock{
		HotelID:   hotelID,
		Token:     uuid.NewString(),
		Status:    model.LockRunning,
		CreatedAt: now,
		RenewedAt: now,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lock)
	if res.Error != nil {
		return "", false, fmt.Errorf("failed to acquire lock for hotel %d: %w", hotelID, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", false, nil
	}
	return lock.Token, true, nil
}

// RenewLock refreshes the lease while the owning worker is still making
// progress, keeping it out of reach of stale-lock reclamation.
func (s *gormStore) RenewLock(ctx context.Context, hotelID uint64, token string) error {
	res := s.db.WithContext(ctx).Model(&model.ExtractionLock{}).
		Where("hotel_id = ? AND token = ?", hotelID, token).
		Update("renewed_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to renew lock for hotel %d: %w", hotelID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("lock for hotel %d no longer owned by this worker", hotelID)
	}
	return nil
}

// ReleaseLock deletes the lease, but only when the caller still owns it.
func (s *gormStore) ReleaseLock(ctx context.Context, hotelID uint64, token string) error {
	res := s.db.WithContext(ctx).
		Where("hotel_id = ? AND token = ?", hotelID, token).
		Delete(&model.ExtractionLock{})
	if res.Error != nil {
		return fmt.Errorf("failed to release lock for hotel %d: %w", hotelID, res.Error)
	}
	return nil
}

// ReclaimStaleLocks removes leases that have not been renewed within maxAge
// and returns them so the caller can log each one; a stale lease means a
// worker died without releasing.
func (s *gormStore) ReclaimStaleLocks(ctx context.Context, maxAge time.Duration) ([]model.ExtractionLock, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var stale []model.ExtractionLock
	if err := s.db.WithContext(ctx).
		Where("renewed_at < ?", cutoff).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale locks: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	for _, l := range stale {
		// Fence on the token: the owner may have renewed between the SELECT
		// and this DELETE.
		res := s.db.WithContext(ctx).
			Where("hotel_id = ? AND token = ? AND renewed_at < ?", l.HotelID, l.Token, cutoff).
			Delete(&model.ExtractionLock{})
		if res.Error != nil {
			return stale, fmt.Errorf("failed to reclaim lock for hotel %d: %w", l.HotelID, res.Error)
		}
	}
	return stale, nil
}

// ActiveLocks lists the currently held leases, for the status surface.
func (s *gormStore) ActiveLocks(ctx context.Context) ([]model.ExtractionLock, error) {
	var locks []model.ExtractionLock
	if err := s.db.WithContext(ctx).Order("hotel_id").Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	return locks, nil
}
