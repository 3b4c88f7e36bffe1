package store

import (
	"context"
	"fmt"
	"time"

	"rateshopper/internal/model"
)

// ActiveProperties lists the active scrape targets of a hotel, main listing
// first so the hotel's own price is always the freshest of the batch.
func (s *gormStore) ActiveProperties(ctx context.Context, hotelID uint64) ([]model.Property, error) {
	var props []model.Property
	err := s.db.WithContext(ctx).
		Where("hotel_id = ? AND active = ?", hotelID, true).
		Order("is_main_property DESC, id").
		Find(&props).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list properties for hotel %d: %w", hotelID, err)
	}
	return props, nil
}

func (s *gormStore) GetProperty(ctx context.Context, id uint64) (*model.Property, error) {
	var p model.Property
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load property %d: %w", id, err)
	}
	return &p, nil
}

// AllHotels lists the distinct hotels that have at least one active property.
func (s *gormStore) AllHotels(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.Property{}).
		Where("active = ?", true).
		Distinct("hotel_id").
		Order("hotel_id").
		Pluck("hotel_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list hotels: %w", err)
	}
	return ids, nil
}

// FlagPropertyInactive deactivates a property whose listing is gone, leaving a
// timestamp for operator review. The only catalog write the engine performs.
func (s *gormStore) FlagPropertyInactive(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Model(&model.Property{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     false,
			"flagged_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to flag property %d inactive: %w", id, res.Error)
	}
	return nil
}

// EnabledRules lists the schedule rules the scheduler should evaluate.
func (s *gormStore) EnabledRules(ctx context.Context) ([]model.ScheduleRule, error) {
	var rules []model.ScheduleRule
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return rules, nil
}

func (s *gormStore) AllRules(ctx context.Context) ([]model.ScheduleRule, error) {
	var rules []model.ScheduleRule
	if err := s.db.WithContext(ctx).Order("name").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}
