package scraper

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateshopper/config"
	"rateshopper/internal/model"
)

func TestErrorTaxonomy(t *testing.T) {
	transient := &TransientError{Reason: "markers absent"}
	permanent := &PermanentError{Reason: "listing gone"}

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))

	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("scrape property 3: %w", transient)
	assert.True(t, IsTransient(wrapped))

	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
}

type stubAdapter struct {
	platform model.Platform
}

func (s *stubAdapter) Platform() model.Platform { return s.platform }

func (s *stubAdapter) FetchPrices(context.Context, *Session, model.Property, []time.Time) ([]Quote, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewEmptyRegistry()
	r.Register(&stubAdapter{platform: model.PlatformBookingCom})

	a, err := r.For(model.PlatformBookingCom)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformBookingCom, a.Platform())

	_, err = r.For(model.Platform("UNKNOWN_OTA"))
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "an unknown platform is not retryable")
}

func TestNewRegistryWiresConcreteAdapters(t *testing.T) {
	r := NewRegistry(config.ScraperConfig{MinDelayMs: 1})

	for _, platform := range []model.Platform{model.PlatformBookingCom, model.PlatformDirectEngine} {
		a, err := r.For(platform)
		require.NoError(t, err)
		assert.Equal(t, platform, a.Platform())
	}
}

func TestAdaptersRejectInvalidURL(t *testing.T) {
	cfg := config.ScraperConfig{MinDelayMs: 1}
	sess := NewSession(cfg, time.Second)
	defer sess.Close()

	prop := model.Property{ID: 1, URL: "://not a url", Platform: model.PlatformBookingCom}
	dates := []time.Time{day(1)}

	_, err := newBookingAdapter(cfg).FetchPrices(context.Background(), sess, prop, dates)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	prop.Platform = model.PlatformDirectEngine
	_, err = newEngineAdapter(cfg).FetchPrices(context.Background(), sess, prop, dates)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPacerEnforcesMinimumSpacing(t *testing.T) {
	p := NewPacer(50*time.Millisecond, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}
	elapsed := time.Since(start)

	// First pass is free; the next two must each wait the floor.
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestPacerRespectsCancellation(t *testing.T) {
	p := NewPacer(time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Wait(ctx))
	cancel()
	assert.Error(t, p.Wait(ctx))
}

func TestSessionCloseWithoutStartIsSafe(t *testing.T) {
	sess := NewSession(config.ScraperConfig{MinDelayMs: 1}, time.Second)
	sess.Close()
	sess.Close()
}

func TestStayURL(t *testing.T) {
	base, err := url.Parse("https://www.booking.com/hotel/it/example.html?lang=en")
	require.NoError(t, err)

	got := stayURL(base, day(10), 3)
	assert.Contains(t, got, "checkin=2026-09-10")
	assert.Contains(t, got, "checkout=2026-09-13")
	assert.Contains(t, got, "lang=en")
}

func TestParseAmount(t *testing.T) {
	testCases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"€ 1.234,56", 1234.56, true},
		{"$129", 129, true},
		{"1,234.50", 1234.50, true},
		{"R$ 2.000", 2000, true},
		{"", 0, false},
		{"no price here", 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := parseAmount(tc.raw)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 0.001)
			}
		})
	}
}
