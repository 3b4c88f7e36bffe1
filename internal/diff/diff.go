// Package diff computes price-change history: each freshly captured price is
// compared against the previous capture for the same (property, check-in) and
// a history row is emitted when the movement is material.
package diff

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"rateshopper/internal/model"
	"rateshopper/internal/store"
)

// MaterialityThresholdPct is the minimum absolute percentage change that gets
// recorded. Movements at or below it are rounding noise (currency conversion,
// float formatting), not price changes.
const MaterialityThresholdPct = 1.0

// Engine derives PriceHistory rows from captured prices.
type Engine struct {
	store store.Store
	log   *logrus.Logger
}

func NewEngine(s store.Store, log *logrus.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// Run diffs every price captured by the given finished search against its
// immediate predecessor. Diffing is best-effort per row: a failure to load or
// write one comparison is logged and skipped, never propagated, so history
// gaps cannot fail an otherwise successful search. Returns the number of
// history rows written.
func (e *Engine) Run(ctx context.Context, searchID uint64) int {
	prices, err := e.store.PricesForSearch(ctx, searchID)
	if err != nil {
		e.log.WithError(err).WithField("search_id", searchID).Error("diff: failed to load captured prices")
		return 0
	}

	written := 0
	for _, p := range prices {
		if p.Availability != model.Available {
			continue
		}

		prev, err := e.store.LatestPriceBefore(ctx, p.PropertyID, p.CheckIn, p.CapturedAt)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"search_id":   searchID,
				"property_id": p.PropertyID,
			}).Warn("diff: failed to load previous price, skipping row")
			continue
		}
		if prev == nil || prev.Availability != model.Available || prev.Amount <= 0 {
			// First observation for this key, or no usable predecessor.
			continue
		}

		h, ok := Compare(prev.Amount, p.Amount)
		if !ok {
			continue
		}
		h.PropertyID = p.PropertyID
		h.CheckIn = p.CheckIn
		h.CreatedAt = time.Now().UTC()

		if err := e.store.InsertPriceHistory(ctx, h); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"search_id":   searchID,
				"property_id": p.PropertyID,
			}).Warn("diff: failed to write history row, skipping")
			continue
		}
		written++
	}
	return written
}

// Compare computes the change between two prices. It returns ok=false when
// the movement does not clear the materiality threshold; equal prices never
// produce a row.
func Compare(previous, current float64) (*model.PriceHistory, bool) {
	change := current - previous
	pct := change / previous * 100

	if math.Abs(pct) <= MaterialityThresholdPct {
		return nil, false
	}

	direction := model.ChangeUp
	if change < 0 {
		direction = model.ChangeDown
	}
	return &model.PriceHistory{
		CurrentPrice:     current,
		PreviousPrice:    previous,
		PriceChange:      change,
		ChangePercentage: pct,
		ChangeType:       direction,
	}, true
}
