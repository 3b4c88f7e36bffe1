package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"rateshopper/config"
)

// Session is one browser session, reused serially across all properties of a
// locked hotel. The underlying Chrome process starts lazily on first use, so
// a batch handled entirely by a non-browser adapter (or a test fake) never
// launches one.
type Session struct {
	cfg         config.ScraperConfig
	pageTimeout time.Duration
	pacer       *Pacer

	mu          sync.Mutex
	started     bool
	browserCtx  context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewSession prepares a session without starting a browser.
func NewSession(cfg config.ScraperConfig, pageTimeout time.Duration) *Session {
	return &Session{
		cfg:         cfg,
		pageTimeout: pageTimeout,
		pacer: NewPacer(
			time.Duration(cfg.MinDelayMs)*time.Millisecond,
			time.Duration(cfg.JitterMs)*time.Millisecond,
		),
	}
}

// Pace blocks until the next page load is allowed.
func (s *Session) Pace(ctx context.Context) error {
	return s.pacer.Wait(ctx)
}

// PageTimeout is the per-page-load deadline adapters must apply.
func (s *Session) PageTimeout() time.Duration {
	return s.pageTimeout
}

// Browser returns the chromedp context, starting Chrome on first call. The
// browser context is rooted below the session so one navigation timeout does
// not tear the whole browser down.
func (s *Session) Browser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("log-level", "3"),
		chromedp.UserAgent(s.cfg.UserAgent),
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// Start the browser process now so a broken Chrome install fails the
	// first page, not some later one.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, &TransientError{Reason: "browser failed to start", Err: err}
	}

	s.started = true
	s.browserCtx = browserCtx
	s.cancelCtx = cancelCtx
	s.cancelAlloc = cancelAlloc
	return s.browserCtx, nil
}

// Close tears the browser down. Safe to call whether or not it ever started,
// and safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cancelCtx()
	s.cancelAlloc()
	s.started = false
	s.browserCtx = nil
}
