// Package worker runs the polling processor: it reconciles stale state, claims
// per-hotel extraction locks, drives the scraper adapters over each hotel's
// pending searches, and hands completed captures to the diff engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rateshopper/config"
	"rateshopper/internal/catalog"
	"rateshopper/internal/diff"
	"rateshopper/internal/model"
	"rateshopper/internal/scraper"
	"rateshopper/internal/store"
)

// Processor is the polling worker. All coordination with other processors
// goes through the persisted Search status and ExtractionLock rows; nothing
// in memory crosses hotel boundaries.
type Processor struct {
	cfg        config.WorkerConfig
	scraperCfg config.ScraperConfig
	store      store.Store
	catalog    *catalog.Catalog
	registry   *scraper.Registry
	diff       *diff.Engine
	log        *logrus.Logger

	// sem caps concurrent hotels, which caps live browser sessions.
	sem chan struct{}
}

func New(cfg config.WorkerConfig, scraperCfg config.ScraperConfig, s store.Store, cat *catalog.Catalog, reg *scraper.Registry, d *diff.Engine, log *logrus.Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		scraperCfg: scraperCfg,
		store:      s,
		catalog:    cat,
		registry:   reg,
		diff:       d,
		log:        log,
		sem:        make(chan struct{}, cfg.PoolSize),
	}
}

// Run polls until ctx is cancelled. The first pass runs immediately so a
// restart picks up abandoned work without waiting a full tick.
func (p *Processor) Run(ctx context.Context) {
	p.log.WithFields(logrus.Fields{
		"tick":      p.cfg.Tick,
		"pool_size": p.cfg.PoolSize,
	}).Info("processor started")

	p.TickOnce(ctx)

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("processor stopping")
			return
		case <-ticker.C:
			p.TickOnce(ctx)
		}
	}
}

// TickOnce performs one full pass: reconciliation, stale-lock reclamation,
// then hotel processing bounded by the pool size. It returns when the pass is
// finished, which keeps ticks from piling up on top of each other.
func (p *Processor) TickOnce(ctx context.Context) {
	p.reconcile(ctx)

	hotels, err := p.store.PendingHotels(ctx)
	if err != nil {
		p.log.WithError(err).Error("failed to list hotels with pending work")
		return
	}
	if len(hotels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, hotelID := range hotels {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case p.sem <- struct{}{}:
		}

		wg.Add(1)
		go func(hotelID uint64) {
			defer wg.Done()
			defer func() { <-p.sem }()
			p.processHotel(ctx, hotelID)
		}(hotelID)
	}
	wg.Wait()
}

// reconcile requeues stale RUNNING searches and reclaims stale locks left
// behind by crashed workers.
func (p *Processor) reconcile(ctx context.Context) {
	requeued, failed, err := p.store.RequeueStaleSearches(ctx, p.cfg.StaleSearch, p.cfg.MaxRetries)
	if err != nil {
		p.log.WithError(err).Error("reconciliation of stale searches failed")
	} else if requeued > 0 || failed > 0 {
		p.log.WithFields(logrus.Fields{
			"requeued": requeued,
			"failed":   failed,
		}).Warn("reconciled stale RUNNING searches")
	}

	stale, err := p.store.ReclaimStaleLocks(ctx, p.cfg.StaleLock)
	if err != nil {
		p.log.WithError(err).Error("stale lock reclamation failed")
		return
	}
	for _, l := range stale {
		// A stale lease means a prior worker died without releasing.
		p.log.WithFields(logrus.Fields{
			"hotel_id":   l.HotelID,
			"renewed_at": l.RenewedAt,
		}).Warn("reclaimed stale extraction lock")
	}
}

// processHotel claims the hotel's lock and, on success, works through its
// pending searches serially over one shared browser session. Lock contention
// is not an error: somebody else owns the hotel, so skip until next tick.
func (p *Processor) processHotel(ctx context.Context, hotelID uint64) {
	token, acquired, err := p.store.TryAcquireLock(ctx, hotelID)
	if err != nil {
		p.log.WithError(err).WithField("hotel_id", hotelID).Error("lock acquire failed")
		return
	}
	if !acquired {
		p.log.WithField("hotel_id", hotelID).Debug("hotel locked by another worker, skipping")
		return
	}
	defer func() {
		if err := p.store.ReleaseLock(context.Background(), hotelID, token); err != nil {
			p.log.WithError(err).WithField("hotel_id", hotelID).Error("lock release failed")
		}
	}()

	sess := scraper.NewSession(p.scraperCfg, p.cfg.PageTimeout)
	defer sess.Close()

	searches, err := p.store.PendingSearchesForHotel(ctx, hotelID)
	if err != nil {
		p.log.WithError(err).WithField("hotel_id", hotelID).Error("failed to list pending searches")
		return
	}

	for i := range searches {
		if ctx.Err() != nil {
			return
		}

		claimed, ok, err := p.store.ClaimSearch(ctx, searches[i].ID)
		if err != nil {
			p.log.WithError(err).WithField("search_id", searches[i].ID).Error("claim failed")
			continue
		}
		if !ok {
			// Another worker won the claim, or the search was cancelled.
			continue
		}

		p.runSearch(ctx, sess, claimed)

		if err := p.store.RenewLock(ctx, hotelID, token); err != nil {
			// Lost the lease, likely reclaimed as stale. Stop touching this
			// hotel; whoever holds it now owns the remaining work.
			p.log.WithError(err).WithField("hotel_id", hotelID).Warn("lease lost mid-batch, abandoning hotel")
			return
		}
	}
}

// runSearch drives one claimed search to a terminal state (or back to PENDING
// on a transient failure).
func (p *Processor) runSearch(ctx context.Context, sess *scraper.Session, sr *model.Search) {
	slog := p.log.WithFields(logrus.Fields{
		"search_id": sr.ID,
		"hotel_id":  sr.HotelID,
	})
	slog.WithField("retry_count", sr.RetryCount).Info("search started")

	sctx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()
	go p.watchForCancel(sctx, cancel, sr.ID)

	props, err := p.resolveTargets(sctx, sr)
	if err != nil {
		p.failSearch(ctx, sr, fmt.Sprintf("failed to resolve targets: %v", err))
		return
	}
	if len(props) == 0 {
		p.failSearch(ctx, sr, "no active properties to scrape")
		return
	}

	dates := sr.CheckInDates()
	pricesFound := 0

	for i := range props {
		prop := &props[i]
		plog := slog.WithFields(logrus.Fields{
			"property_id": prop.ID,
			"platform":    prop.Platform,
		})

		adapter, err := p.registry.For(prop.Platform)
		if err != nil {
			p.handleScrapeError(ctx, sr, prop, err)
			return
		}

		quotes, err := adapter.FetchPrices(sctx, sess, *prop, dates)
		if err != nil {
			p.handleScrapeError(ctx, sr, prop, err)
			return
		}

		now := time.Now().UTC()
		rows := make([]model.Price, 0, len(quotes))
		units := 0
		for _, q := range quotes {
			rows = append(rows, model.Price{
				SearchID:     sr.ID,
				PropertyID:   prop.ID,
				CheckIn:      q.CheckIn,
				CheckOut:     q.CheckIn.AddDate(0, 0, q.Nights),
				BundleSize:   q.Nights,
				IsBundle:     q.Nights > 1,
				Amount:       q.Amount,
				Currency:     q.Currency,
				Availability: q.Availability,
				CapturedAt:   now,
			})
			units += q.Nights
		}
		if err := p.store.InsertPrices(sctx, rows); err != nil {
			p.failSearch(ctx, sr, fmt.Sprintf("failed to persist prices: %v", err))
			return
		}
		if err := p.store.IncrementProgress(sctx, sr.ID, units); err != nil {
			plog.WithError(err).Warn("failed to record progress")
		}
		pricesFound += len(rows)
		plog.WithField("prices", len(rows)).Info("property scraped")
	}

	if err := p.store.CompleteSearch(ctx, sr.ID, pricesFound); err != nil {
		// A cancel can land between the last capture and here; that is a
		// legal terminal state, not a fault.
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Info("search reached terminal state before completion")
			return
		}
		slog.WithError(err).Error("failed to complete search")
		return
	}
	slog.WithField("prices_found", pricesFound).Info("search completed")

	historyRows := p.diff.Run(ctx, sr.ID)
	if historyRows > 0 {
		slog.WithField("history_rows", historyRows).Info("price changes recorded")
	}
}

// watchForCancel polls the search status and cancels the search context when
// an operator cancel lands, so the in-flight page load aborts promptly
// instead of finishing and discarding its results silently.
func (p *Processor) watchForCancel(ctx context.Context, cancel context.CancelFunc, searchID uint64) {
	ticker := time.NewTicker(p.cfg.CancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sr, err := p.store.GetSearch(ctx, searchID)
			if err != nil {
				continue
			}
			if sr.Status == model.SearchCancelled {
				cancel()
				return
			}
			if sr.Status.Terminal() {
				return
			}
		}
	}
}

// resolveTargets expands the search scope into concrete properties.
func (p *Processor) resolveTargets(ctx context.Context, sr *model.Search) ([]model.Property, error) {
	if sr.PropertyID != nil {
		prop, err := p.store.GetProperty(ctx, *sr.PropertyID)
		if err != nil {
			return nil, err
		}
		if !prop.Active {
			return nil, nil
		}
		return []model.Property{*prop}, nil
	}
	return p.catalog.ActiveProperties(ctx, sr.HotelID)
}

// handleScrapeError maps the adapter error taxonomy onto search transitions.
// Note it decides on the outer ctx, not the search context: a cancelled or
// timed-out search context surfaces as a context error from the adapter.
func (p *Processor) handleScrapeError(ctx context.Context, sr *model.Search, prop *model.Property, err error) {
	slog := p.log.WithFields(logrus.Fields{
		"search_id":   sr.ID,
		"property_id": prop.ID,
	})

	// Re-read the search: a mid-flight cancel aborts the adapter with a
	// context error and has already moved the search to CANCELLED.
	if cur, gerr := p.store.GetSearch(ctx, sr.ID); gerr == nil && cur.Status == model.SearchCancelled {
		slog.Info("search cancelled mid-flight, browser session aborted")
		return
	}

	switch {
	case scraper.IsPermanent(err):
		slog.WithError(err).Error("permanent scrape failure, flagging property")
		p.failSearch(ctx, sr, err.Error())
		if ferr := p.store.FlagPropertyInactive(ctx, prop.ID); ferr != nil {
			slog.WithError(ferr).Error("failed to flag property inactive")
		}
		p.catalog.Invalidate(sr.HotelID)

	case scraper.IsTransient(err):
		slog.WithError(err).Warn("transient scrape failure, requeueing search")
		if rerr := p.store.RequeueSearch(ctx, sr.ID, err.Error(), p.cfg.MaxRetries); rerr != nil {
			slog.WithError(rerr).Error("failed to requeue search")
		}

	case errors.Is(err, context.DeadlineExceeded):
		p.failSearch(ctx, sr, "search exceeded hard timeout")

	case errors.Is(err, context.Canceled):
		// Process shutdown mid-search. Leave the search RUNNING; the next
		// startup's reconciliation pass requeues it.
		slog.Info("search interrupted by shutdown, will be reconciled")

	default:
		slog.WithError(err).Error("unexpected scrape failure")
		p.failSearch(ctx, sr, err.Error())
	}
}

func (p *Processor) failSearch(ctx context.Context, sr *model.Search, cause string) {
	if err := p.store.FailSearch(ctx, sr.ID, cause); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return
		}
		p.log.WithError(err).WithField("search_id", sr.ID).Error("failed to mark search FAILED")
		return
	}
	p.log.WithFields(logrus.Fields{
		"search_id": sr.ID,
		"cause":     cause,
	}).Error("search failed")
}
