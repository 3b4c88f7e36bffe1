// Package catalog is the engine's read side of the property catalog, which is
// owned by external management tooling. Both the scheduler and the worker
// resolve scrape targets on every tick, so reads go through a short TTL cache.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"rateshopper/internal/model"
	"rateshopper/internal/store"
)

const (
	defaultTTL      = 2 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// Catalog caches active-property and hotel lookups over the store.
type Catalog struct {
	store store.Store
	cache *cache.Cache
}

func New(s store.Store) *Catalog {
	return &Catalog{
		store: s,
		cache: cache.New(defaultTTL, cleanupInterval),
	}
}

// ActiveProperties lists a hotel's active scrape targets, cached.
func (c *Catalog) ActiveProperties(ctx context.Context, hotelID uint64) ([]model.Property, error) {
	key := fmt.Sprintf("props:%d", hotelID)
	if v, found := c.cache.Get(key); found {
		return v.([]model.Property), nil
	}
	props, err := c.store.ActiveProperties(ctx, hotelID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, props)
	return props, nil
}

// Hotels lists every hotel that has at least one active property, cached.
func (c *Catalog) Hotels(ctx context.Context) ([]uint64, error) {
	const key = "hotels"
	if v, found := c.cache.Get(key); found {
		return v.([]uint64), nil
	}
	ids, err := c.store.AllHotels(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, ids)
	return ids, nil
}

// Invalidate drops cached entries for a hotel. Called after the engine flags
// one of its properties inactive, so the next resolution sees the change.
func (c *Catalog) Invalidate(hotelID uint64) {
	c.cache.Delete(fmt.Sprintf("props:%d", hotelID))
	c.cache.Delete("hotels")
}
