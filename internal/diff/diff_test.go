package diff

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rateshopper/internal/model"
	"rateshopper/internal/store"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		name       string
		previous   float64
		current    float64
		wantRow    bool
		wantType   model.ChangeType
		wantChange float64
	}{
		{
			name:     "below threshold produces no row",
			previous: 100.00,
			current:  100.50,
			wantRow:  false,
		},
		{
			name:       "material increase produces UP row",
			previous:   100.00,
			current:    105.00,
			wantRow:    true,
			wantType:   model.ChangeUp,
			wantChange: 5.00,
		},
		{
			name:       "material decrease produces DOWN row",
			previous:   200.00,
			current:    150.00,
			wantRow:    true,
			wantType:   model.ChangeDown,
			wantChange: -50.00,
		},
		{
			name:     "equal prices produce no row",
			previous: 99.99,
			current:  99.99,
			wantRow:  false,
		},
		{
			name:     "exactly one percent is not material",
			previous: 100.00,
			current:  101.00,
			wantRow:  false,
		},
		{
			name:       "just over one percent is material",
			previous:   100.00,
			current:    101.01,
			wantRow:    true,
			wantType:   model.ChangeUp,
			wantChange: 1.01,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, ok := Compare(tc.previous, tc.current)
			if !tc.wantRow {
				assert.False(t, ok)
				assert.Nil(t, h)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.wantType, h.ChangeType)
			assert.InDelta(t, tc.wantChange, h.PriceChange, 0.001)
			assert.InDelta(t, tc.wantChange/tc.previous*100, h.ChangePercentage, 0.001)
			assert.Equal(t, tc.current, h.CurrentPrice)
			assert.Equal(t, tc.previous, h.PreviousPrice)
		})
	}
}

var diffDBSeq atomic.Int64

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:difftest%d?mode=memory&cache=shared", diffDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Property{}, &model.Search{}, &model.Price{},
		&model.PriceHistory{}, &model.ExtractionLock{}, &model.ScheduleRule{},
	))
	return store.NewGormStore(db)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// finishedSearch creates a search already in the given terminal state.
func finishedSearch(t *testing.T, s store.Store, terminal model.SearchStatus) *model.Search {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	sr := &model.Search{HotelID: 1, StartDate: start, EndDate: start.AddDate(0, 0, 3), TotalDates: 3}
	require.NoError(t, s.CreateSearch(ctx, sr))
	_, ok, err := s.ClaimSearch(ctx, sr.ID)
	require.NoError(t, err)
	require.True(t, ok)
	switch terminal {
	case model.SearchCompleted:
		require.NoError(t, s.CompleteSearch(ctx, sr.ID, 0))
	case model.SearchFailed:
		require.NoError(t, s.FailSearch(ctx, sr.ID, "x"))
	}
	return sr
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	checkIn := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)

	price := func(searchID uint64, amount float64, capturedAt time.Time) model.Price {
		return model.Price{
			SearchID:     searchID,
			PropertyID:   11,
			CheckIn:      checkIn,
			CheckOut:     checkIn.AddDate(0, 0, 1),
			BundleSize:   1,
			Amount:       amount,
			Currency:     "EUR",
			Availability: model.Available,
			CapturedAt:   capturedAt,
		}
	}

	t.Run("first observation produces no history", func(t *testing.T) {
		s := newTestStore(t)
		sr := finishedSearch(t, s, model.SearchCompleted)
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(sr.ID, 100, time.Now().UTC())}))

		written := NewEngine(s, quietLogger()).Run(ctx, sr.ID)
		assert.Equal(t, 0, written)
	})

	t.Run("material change writes one row", func(t *testing.T) {
		s := newTestStore(t)
		prev := finishedSearch(t, s, model.SearchCompleted)
		cur := finishedSearch(t, s, model.SearchCompleted)

		base := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(prev.ID, 100, base)}))
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(cur.ID, 105, base.Add(30*time.Minute))}))

		written := NewEngine(s, quietLogger()).Run(ctx, cur.ID)
		assert.Equal(t, 1, written)

		var rows []model.PriceHistory
		require.NoError(t, s.DB().Find(&rows).Error)
		require.Len(t, rows, 1)
		assert.Equal(t, model.ChangeUp, rows[0].ChangeType)
		assert.InDelta(t, 5.0, rows[0].ChangePercentage, 0.001)
		assert.Equal(t, uint64(11), rows[0].PropertyID)
	})

	t.Run("immaterial change writes nothing", func(t *testing.T) {
		s := newTestStore(t)
		prev := finishedSearch(t, s, model.SearchCompleted)
		cur := finishedSearch(t, s, model.SearchCompleted)

		base := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(prev.ID, 100, base)}))
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(cur.ID, 100.50, base.Add(30*time.Minute))}))

		written := NewEngine(s, quietLogger()).Run(ctx, cur.ID)
		assert.Equal(t, 0, written)
	})

	t.Run("failed predecessor is ignored", func(t *testing.T) {
		s := newTestStore(t)
		failed := finishedSearch(t, s, model.SearchFailed)
		cur := finishedSearch(t, s, model.SearchCompleted)

		base := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(failed.ID, 50, base)}))
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(cur.ID, 100, base.Add(30*time.Minute))}))

		// The FAILED capture is the only candidate predecessor, so the new
		// capture counts as a first observation.
		written := NewEngine(s, quietLogger()).Run(ctx, cur.ID)
		assert.Equal(t, 0, written)
	})

	t.Run("sold out captures do not participate", func(t *testing.T) {
		s := newTestStore(t)
		prev := finishedSearch(t, s, model.SearchCompleted)
		cur := finishedSearch(t, s, model.SearchCompleted)

		base := time.Now().UTC().Add(-time.Hour)
		soldOut := price(prev.ID, 0, base)
		soldOut.Availability = model.SoldOut
		require.NoError(t, s.InsertPrices(ctx, []model.Price{soldOut}))
		require.NoError(t, s.InsertPrices(ctx, []model.Price{price(cur.ID, 100, base.Add(30*time.Minute))}))

		written := NewEngine(s, quietLogger()).Run(ctx, cur.ID)
		assert.Equal(t, 0, written)
	})
}
