package scheduler

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

	"rateshopper/config"
	"rateshopper/internal/catalog"
	"rateshopper/internal/model"
	"rateshopper/internal/store"
)

var schedDBSeq atomic.Int64

func newTestEnv(t *testing.T) (store.Store, *Scheduler) {
	t.Helper()
	dsn := fmt.Sprintf("file:schedtest%d?mode=memory&cache=shared", schedDBSeq.Add(1))
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

	s := store.NewGormStore(db)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.SchedulerConfig{Enabled: true, DefaultWindowDays: 7}
	sched := New(cfg, s, catalog.New(s), logger)
	return s, sched
}

func seedProperty(t *testing.T, s store.Store, id, hotelID uint64, active bool) {
	t.Helper()
	require.NoError(t, s.DB().Create(&model.Property{
		ID:            id,
		HotelID:       hotelID,
		Name:          fmt.Sprintf("Property %d", id),
		URL:           fmt.Sprintf("https://example.com/p/%d", id),
		Platform:      model.PlatformBookingCom,
		MaxBundleSize: 1,
		Active:        active,
	}).Error)
}

func seedRule(t *testing.T, s store.Store, rule model.ScheduleRule) {
	t.Helper()
	require.NoError(t, s.DB().Create(&rule).Error)
}

func TestValidateRule(t *testing.T) {
	valid := &model.ScheduleRule{Name: "nightly", CronExpr: "0 3 * * *", Timezone: "UTC"}
	assert.NoError(t, ValidateRule(valid))

	badCron := &model.ScheduleRule{Name: "broken", CronExpr: "99 99 * * *", Timezone: "UTC"}
	assert.Error(t, ValidateRule(badCron))

	badTZ := &model.ScheduleRule{Name: "lost", CronExpr: "0 3 * * *", Timezone: "Mars/Olympus"}
	assert.Error(t, ValidateRule(badTZ))
}

func TestRuleDue(t *testing.T) {
	rule := &model.ScheduleRule{CronExpr: "0 3 * * *", Timezone: "UTC"}

	prev := time.Date(2026, 9, 1, 2, 59, 0, 0, time.UTC)
	now := time.Date(2026, 9, 1, 3, 0, 30, 0, time.UTC)
	assert.True(t, ruleDue(rule, prev, now), "03:00 falls inside the window")

	prev = time.Date(2026, 9, 1, 3, 1, 0, 0, time.UTC)
	now = time.Date(2026, 9, 1, 3, 2, 0, 0, time.UTC)
	assert.False(t, ruleDue(rule, prev, now), "03:00 already passed")
}

func TestRuleDue_HonorsTimezone(t *testing.T) {
	// 03:00 in New York is 07:00 UTC during DST.
	rule := &model.ScheduleRule{CronExpr: "0 3 * * *", Timezone: "America/New_York"}

	prev := time.Date(2026, 9, 1, 6, 59, 0, 0, time.UTC)
	now := time.Date(2026, 9, 1, 7, 0, 30, 0, time.UTC)
	assert.True(t, ruleDue(rule, prev, now))

	prev = time.Date(2026, 9, 1, 2, 59, 0, 0, time.UTC)
	now = time.Date(2026, 9, 1, 3, 0, 30, 0, time.UTC)
	assert.False(t, ruleDue(rule, prev, now), "03:00 UTC is not 03:00 New York")
}

func TestTickMaterializesSearch(t *testing.T) {
	s, sched := newTestEnv(t)
	ctx := context.Background()

	seedProperty(t, s, 1, 10, true)
	seedProperty(t, s, 2, 10, true)
	seedRule(t, s, model.ScheduleRule{
		Name: "nightly", CronExpr: "0 3 * * *", Timezone: "UTC",
		Enabled: true, WindowDays: 5,
	})

	prev := time.Date(2026, 9, 1, 2, 59, 0, 0, time.UTC)
	now := time.Date(2026, 9, 1, 3, 0, 30, 0, time.UTC)
	sched.Tick(ctx, prev, now)

	var searches []model.Search
	require.NoError(t, s.DB().Find(&searches).Error)
	require.Len(t, searches, 1)
	sr := searches[0]
	assert.Equal(t, uint64(10), sr.HotelID)
	assert.Nil(t, sr.PropertyID)
	assert.Equal(t, model.SearchPending, sr.Status)
	assert.Equal(t, 10, sr.TotalDates, "2 properties x 5 dates")
	assert.Equal(t, 5, int(sr.EndDate.Sub(sr.StartDate).Hours()/24))
}

func TestTickIsIdempotent(t *testing.T) {
	s, sched := newTestEnv(t)
	ctx := context.Background()

	seedProperty(t, s, 1, 10, true)
	seedRule(t, s, model.ScheduleRule{
		Name: "nightly", CronExpr: "0 3 * * *", Timezone: "UTC",
		Enabled: true, WindowDays: 5,
	})

	prev := time.Date(2026, 9, 1, 2, 59, 0, 0, time.UTC)
	now := time.Date(2026, 9, 1, 3, 0, 30, 0, time.UTC)
	sched.Tick(ctx, prev, now)
	sched.Tick(ctx, prev, now) // double fire, same window

	var count int64
	require.NoError(t, s.DB().Model(&model.Search{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "a scope with an open search must not be duplicated")
}

func TestTickSkipsInvalidAndDisabledRules(t *testing.T) {
	s, sched := newTestEnv(t)
	ctx := context.Background()

	seedProperty(t, s, 1, 10, true)
	seedRule(t, s, model.ScheduleRule{
		Name: "broken", CronExpr: "not a cron", Timezone: "UTC",
		Enabled: true, WindowDays: 5,
	})
	seedRule(t, s, model.ScheduleRule{
		Name: "off", CronExpr: "* * * * *", Timezone: "UTC",
		Enabled: false, WindowDays: 5,
	})

	sched.Tick(ctx, time.Now().Add(-time.Minute), time.Now())

	var count int64
	require.NoError(t, s.DB().Model(&model.Search{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestMaterializeRunNow(t *testing.T) {
	s, sched := newTestEnv(t)
	ctx := context.Background()

	seedProperty(t, s, 1, 10, true)
	seedProperty(t, s, 2, 10, false) // inactive, must not count

	created, err := sched.Materialize(ctx, 10, nil, 0)
	require.NoError(t, err)
	assert.True(t, created)

	var searches []model.Search
	require.NoError(t, s.DB().Find(&searches).Error)
	require.Len(t, searches, 1)
	assert.Equal(t, 7, searches[0].TotalDates, "1 active property x default 7-day window")

	created, err = sched.Materialize(ctx, 10, nil, 0)
	require.NoError(t, err)
	assert.False(t, created, "run-now is idempotent against open searches")
}

func TestMaterializeSingleProperty(t *testing.T) {
	s, sched := newTestEnv(t)
	ctx := context.Background()

	seedProperty(t, s, 1, 10, true)
	seedProperty(t, s, 2, 10, true)

	propID := uint64(2)
	created, err := sched.Materialize(ctx, 10, &propID, 3)
	require.NoError(t, err)
	assert.True(t, created)

	var searches []model.Search
	require.NoError(t, s.DB().Find(&searches).Error)
	require.Len(t, searches, 1)
	require.NotNil(t, searches[0].PropertyID)
	assert.Equal(t, propID, *searches[0].PropertyID)
	assert.Equal(t, 3, searches[0].TotalDates)
}

func TestMaterializeNoActiveProperties(t *testing.T) {
	s, sched := newTestEnv(t)
	ctx := context.Background()

	seedProperty(t, s, 1, 10, false)

	created, err := sched.Materialize(ctx, 10, nil, 0)
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, s.DB().Model(&model.Search{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
