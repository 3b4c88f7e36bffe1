package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"rateshopper/internal/model"
)

// ErrInvalidTransition is returned when a status change is requested that the
// search lifecycle does not allow, e.g. cancelling an already completed search.
var ErrInvalidTransition = errors.New("invalid search status transition")

// Store defines the interface for all database operations of the engine.
type Store interface {
	// Searches / job state machine.
	CreateSearch(ctx context.Context, s *model.Search) error
	CreateSearchIfAbsent(ctx context.Context, s *model.Search) (bool, error)
	GetSearch(ctx context.Context, id uint64) (*model.Search, error)
	ClaimSearch(ctx context.Context, id uint64) (*model.Search, bool, error)
	IncrementProgress(ctx context.Context, id uint64, units int) error
	CompleteSearch(ctx context.Context, id uint64, pricesFound int) error
	FailSearch(ctx context.Context, id uint64, cause string) error
	CancelSearch(ctx context.Context, id uint64) error
	RequeueSearch(ctx context.Context, id uint64, cause string, maxRetries int) error
	RequeueStaleSearches(ctx context.Context, maxAge time.Duration, maxRetries int) (requeued, failed int64, err error)
	PendingHotels(ctx context.Context) ([]uint64, error)
	PendingSearchesForHotel(ctx context.Context, hotelID uint64) ([]model.Search, error)

	// Extraction locks.
	TryAcquireLock(ctx context.Context, hotelID uint64) (string, bool, error)
	RenewLock(ctx context.Context, hotelID uint64, token string) error
	ReleaseLock(ctx context.Context, hotelID uint64, token string) error
	ReclaimStaleLocks(ctx context.Context, maxAge time.Duration) ([]model.ExtractionLock, error)
	ActiveLocks(ctx context.Context) ([]model.ExtractionLock, error)

	// Prices and history.
	InsertPrices(ctx context.Context, prices []model.Price) error
	PricesForSearch(ctx context.Context, searchID uint64) ([]model.Price, error)
	LatestPriceBefore(ctx context.Context, propertyID uint64, checkIn, capturedBefore time.Time) (*model.Price, error)
	InsertPriceHistory(ctx context.Context, h *model.PriceHistory) error

	// Catalog (read side, plus the inactive flag the engine is allowed to set).
	ActiveProperties(ctx context.Context, hotelID uint64) ([]model.Property, error)
	GetProperty(ctx context.Context, id uint64) (*model.Property, error)
	AllHotels(ctx context.Context) ([]uint64, error)
	FlagPropertyInactive(ctx context.Context, id uint64) error

	// Schedule rules.
	EnabledRules(ctx context.Context) ([]model.ScheduleRule, error)
	AllRules(ctx context.Context) ([]model.ScheduleRule, error)

	// Operational surface.
	QueueSnapshot(ctx context.Context) (*Snapshot, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CreateSearch inserts a new PENDING search.
func (s *gormStore) CreateSearch(ctx context.Context, sr *model.Search) error {
	sr.Status = model.SearchPending
	if err := s.db.WithContext(ctx).Create(sr).Error; err != nil {
		return fmt.Errorf("failed to create search: %w", err)
	}
	return nil
}

// CreateSearchIfAbsent inserts the search unless an equivalent PENDING or
// RUNNING search already exists for the same scope (hotel + property, where a
// nil property means "all properties"). Returns whether a row was created.
// This is the idempotence guard that keeps a double-firing scheduler from
// producing duplicate job storms.
func (s *gormStore) CreateSearchIfAbsent(ctx context.Context, sr *model.Search) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.Search{}).
			Where("hotel_id = ?", sr.HotelID).
			Where("status IN ?", []model.SearchStatus{model.SearchPending, model.SearchRunning})
		if sr.PropertyID == nil {
			q = q.Where("property_id IS NULL")
		} else {
			q = q.Where("property_id = ?", *sr.PropertyID)
		}

		var count int64
		if err := q.Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check for open searches: %w", err)
		}
		if count > 0 {
			return nil
		}

		sr.Status = model.SearchPending
		if err := tx.Create(sr).Error; err != nil {
			return fmt.Errorf("failed to create search: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func (s *gormStore) GetSearch(ctx context.Context, id uint64) (*model.Search, error) {
	var sr model.Search
	if err := s.db.WithContext(ctx).First(&sr, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load search %d: %w", id, err)
	}
	return &sr, nil
}

// ClaimSearch atomically transitions a PENDING search to RUNNING. The guarded
// UPDATE is what keeps two workers from running the same search: only the one
// whose update hits the PENDING row wins.
func (s *gormStore) ClaimSearch(ctx context.Context, id uint64) (*model.Search, bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Search{}).
		Where("id = ? AND status = ?", id, model.SearchPending).
		Updates(map[string]any{
			"status":     model.SearchRunning,
			"started_at": now,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to claim search %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	sr, err := s.GetSearch(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sr, true, nil
}

// IncrementProgress bumps processed_dates by the given number of units. Only a
// RUNNING search advances; progress never decreases.
func (s *gormStore) IncrementProgress(ctx context.Context, id uint64, units int) error {
	if units <= 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&model.Search{}).
		Where("id = ? AND status = ?", id, model.SearchRunning).
		Update("processed_dates", gorm.Expr("processed_dates + ?", units))
	if res.Error != nil {
		return fmt.Errorf("failed to increment progress for search %d: %w", id, res.Error)
	}
	return nil
}

// CompleteSearch transitions a RUNNING search to COMPLETED, recording the
// capture totals and the wall-clock duration since the claim.
func (s *gormStore) CompleteSearch(ctx context.Context, id uint64, pricesFound int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sr model.Search
		if err := tx.First(&sr, id).Error; err != nil {
			return fmt.Errorf("failed to load search %d: %w", id, err)
		}
		if sr.Status != model.SearchRunning {
			return fmt.Errorf("complete search %d from %s: %w", id, sr.Status, ErrInvalidTransition)
		}

		now := time.Now().UTC()
		duration := 0
		if sr.StartedAt != nil {
			duration = int(now.Sub(*sr.StartedAt).Seconds())
		}
		return tx.Model(&sr).Updates(map[string]any{
			"status":             model.SearchCompleted,
			"total_prices_found": pricesFound,
			"duration_seconds":   duration,
			"completed_at":       now,
		}).Error
	})
}

// FailSearch transitions a PENDING or RUNNING search to FAILED and records the
// cause so operators can see it in the job history.
func (s *gormStore) FailSearch(ctx context.Context, id uint64, cause string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Search{}).
		Where("id = ? AND status IN ?", id, []model.SearchStatus{model.SearchPending, model.SearchRunning}).
		Updates(map[string]any{
			"status":       model.SearchFailed,
			"last_error":   truncateError(cause),
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark search %d failed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("fail search %d: %w", id, ErrInvalidTransition)
	}
	return nil
}

// CancelSearch transitions a PENDING or RUNNING search to CANCELLED. A worker
// holding the search notices the status flip between date units and aborts.
func (s *gormStore) CancelSearch(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Search{}).
		Where("id = ? AND status IN ?", id, []model.SearchStatus{model.SearchPending, model.SearchRunning}).
		Updates(map[string]any{
			"status":       model.SearchCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel search %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cancel search %d: %w", id, ErrInvalidTransition)
	}
	return nil
}

// RequeueSearch puts a RUNNING search back to PENDING after a transient
// failure, or fails it outright once the retry budget is spent. A retry
// re-scrapes the whole scope, so the partial attempt's prices and progress are
// discarded in the same transaction; keeping them would double-count on the
// next attempt and let the diff engine compare the search against itself.
func (s *gormStore) RequeueSearch(ctx context.Context, id uint64, cause string, maxRetries int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sr model.Search
		if err := tx.First(&sr, id).Error; err != nil {
			return fmt.Errorf("failed to load search %d: %w", id, err)
		}
		if sr.Status != model.SearchRunning {
			return fmt.Errorf("requeue search %d from %s: %w", id, sr.Status, ErrInvalidTransition)
		}

		if sr.RetryCount+1 >= maxRetries {
			return tx.Model(&sr).Updates(map[string]any{
				"status":       model.SearchFailed,
				"last_error":   truncateError(cause),
				"completed_at": time.Now().UTC(),
			}).Error
		}

		if err := tx.Where("search_id = ?", id).Delete(&model.Price{}).Error; err != nil {
			return fmt.Errorf("failed to clear partial prices for search %d: %w", id, err)
		}
		return tx.Model(&sr).Updates(map[string]any{
			"status":          model.SearchPending,
			"retry_count":     sr.RetryCount + 1,
			"last_error":      truncateError(cause),
			"started_at":      nil,
			"processed_dates": 0,
		}).Error
	})
}

// RequeueStaleSearches is the reconciliation pass: RUNNING searches whose
// claim is older than maxAge belong to a crashed or wedged worker. They go
// back to PENDING for retry, or to FAILED once the retry budget is spent.
// Requeued searches get the same cleanup as a transient requeue, since the
// dead worker may have written part of its capture before crashing.
func (s *gormStore) RequeueStaleSearches(ctx context.Context, maxAge time.Duration, maxRetries int) (int64, int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var requeued, failed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		failRes := tx.Model(&model.Search{}).
			Where("status = ? AND started_at < ? AND retry_count >= ?", model.SearchRunning, cutoff, maxRetries-1).
			Updates(map[string]any{
				"status":       model.SearchFailed,
				"last_error":   "stale after worker crash; retry budget exhausted",
				"completed_at": time.Now().UTC(),
			})
		if failRes.Error != nil {
			return fmt.Errorf("failed to fail stale searches: %w", failRes.Error)
		}
		failed = failRes.RowsAffected

		var staleIDs []uint64
		if err := tx.Model(&model.Search{}).
			Where("status = ? AND started_at < ?", model.SearchRunning, cutoff).
			Pluck("id", &staleIDs).Error; err != nil {
			return fmt.Errorf("failed to list stale searches: %w", err)
		}
		if len(staleIDs) == 0 {
			return nil
		}

		if err := tx.Where("search_id IN ?", staleIDs).Delete(&model.Price{}).Error; err != nil {
			return fmt.Errorf("failed to clear partial prices for stale searches: %w", err)
		}
		requeueRes := tx.Model(&model.Search{}).
			Where("id IN ?", staleIDs).
			Updates(map[string]any{
				"status":          model.SearchPending,
				"retry_count":     gorm.Expr("retry_count + 1"),
				"last_error":      "requeued after stale RUNNING state",
				"started_at":      nil,
				"processed_dates": 0,
			})
		if requeueRes.Error != nil {
			return fmt.Errorf("failed to requeue stale searches: %w", requeueRes.Error)
		}
		requeued = requeueRes.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return requeued, failed, nil
}

// PendingHotels lists the hotels that currently have PENDING work, oldest
// first so starved hotels get picked up before busy ones.
func (s *gormStore) PendingHotels(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.Search{}).
		Where("status = ?", model.SearchPending).
		Group("hotel_id").
		Order("MIN(created_at)").
		Pluck("hotel_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending hotels: %w", err)
	}
	return ids, nil
}

func (s *gormStore) PendingSearchesForHotel(ctx context.Context, hotelID uint64) ([]model.Search, error) {
	var searches []model.Search
	err := s.db.WithContext(ctx).
		Where("hotel_id = ? AND status = ?", hotelID, model.SearchPending).
		Order("created_at").
		Find(&searches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending searches for hotel %d: %w", hotelID, err)
	}
	return searches, nil
}

func truncateError(cause string) string {
	const max = 1024
	if len(cause) > max {
		return cause[:max]
	}
	return cause
}
