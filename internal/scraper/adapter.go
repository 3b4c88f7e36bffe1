package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rateshopper/config"
	"rateshopper/internal/model"
)

// Quote is one extracted price: either a nightly rate (Nights == 1) or a
// bundle covering a contiguous stay that the platform prices as a single unit.
type Quote struct {
	CheckIn      time.Time
	Nights       int
	Amount       float64
	Currency     string
	Availability model.Availability
}

// Adapter extracts prices for one platform kind. Implementations drive the
// shared browser session serially; they must pace themselves through the
// session's pacer between page loads.
type Adapter interface {
	Platform() model.Platform
	FetchPrices(ctx context.Context, sess *Session, prop model.Property, dates []time.Time) ([]Quote, error)
}

// TransientError marks a retryable failure: the page did not load, the
// expected price markers never rendered, or an anti-bot challenge got in the
// way. The owning search goes back to PENDING, within the retry budget.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient scrape failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient scrape failure: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix: a malformed property
// URL or a listing that no longer exists. The search fails immediately and
// the property is flagged for operator review.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent scrape failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent scrape failure: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Registry maps platform kinds to their adapters.
type Registry struct {
	adapters map[model.Platform]Adapter
}

// NewRegistry builds a registry with the concrete adapters wired in.
func NewRegistry(cfg config.ScraperConfig) *Registry {
	r := &Registry{adapters: make(map[model.Platform]Adapter)}
	r.Register(newBookingAdapter(cfg))
	r.Register(newEngineAdapter(cfg))
	return r
}

// NewEmptyRegistry builds a registry with no adapters, for callers that wire
// their own (tests use this with fakes).
func NewEmptyRegistry() *Registry {
	return &Registry{adapters: make(map[model.Platform]Adapter)}
}

// Register adds or replaces the adapter for its platform.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

// For returns the adapter for the property's platform. An unknown platform is
// a permanent failure: no amount of retrying grows a new adapter.
func (r *Registry) For(platform model.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, &PermanentError{Reason: fmt.Sprintf("no adapter registered for platform %q", platform)}
	}
	return a, nil
}
