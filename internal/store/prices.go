package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"rateshopper/internal/model"
)

// InsertPrices appends a batch of captured prices. Price rows are immutable
// once written; trend computation picks the latest capture per key instead of
// updating rows in place.
func (s *gormStore) InsertPrices(ctx context.Context, prices []model.Price) error {
	if len(prices) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&prices).Error; err != nil {
		return fmt.Errorf("failed to insert %d prices: %w", len(prices), err)
	}
	return nil
}

func (s *gormStore) PricesForSearch(ctx context.Context, searchID uint64) ([]model.Price, error) {
	var prices []model.Price
	err := s.db.WithContext(ctx).
		Where("search_id = ?", searchID).
		Order("property_id, check_in").
		Find(&prices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load prices for search %d: %w", searchID, err)
	}
	return prices, nil
}

// LatestPriceBefore returns the newest capture for (property, check-in) taken
// strictly before capturedBefore, considering only prices owned by finished
// searches (COMPLETED or CANCELLED; a FAILED search may have captured a
// partial, unreliable batch). Returns nil when no predecessor exists.
func (s *gormStore) LatestPriceBefore(ctx context.Context, propertyID uint64, checkIn, capturedBefore time.Time) (*model.Price, error) {
	var p model.Price
	err := s.db.WithContext(ctx).
		Joins("JOIN searches ON searches.id = prices.search_id").
		Where("prices.property_id = ? AND prices.check_in = ? AND prices.captured_at < ?",
			propertyID, checkIn, capturedBefore).
		Where("searches.status IN ?", []model.SearchStatus{model.SearchCompleted, model.SearchCancelled}).
		Order("prices.captured_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load previous price for property %d: %w", propertyID, err)
	}
	return &p, nil
}

func (s *gormStore) InsertPriceHistory(ctx context.Context, h *model.PriceHistory) error {
	if err := s.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to insert price history: %w", err)
	}
	return nil
}
