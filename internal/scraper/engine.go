package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"rateshopper/config"
	"rateshopper/internal/model"
)

// engineAdapter extracts prices from direct booking engines. These quote a
// whole stay as one amount, so the adapter groups the requested dates into
// bundles of up to the property's MaxBundleSize nights and records each as a
// single bundle quote rather than dividing it into fake per-night prices.
type engineAdapter struct {
	cfg config.ScraperConfig
}

func newEngineAdapter(cfg config.ScraperConfig) *engineAdapter {
	return &engineAdapter{cfg: cfg}
}

func (a *engineAdapter) Platform() model.Platform {
	return model.PlatformDirectEngine
}

func (a *engineAdapter) FetchPrices(ctx context.Context, sess *Session, prop model.Property, dates []time.Time) ([]Quote, error) {
	base, err := url.Parse(prop.URL)
	if err != nil || base.Host == "" {
		return nil, &PermanentError{Reason: fmt.Sprintf("invalid property URL %q", prop.URL), Err: err}
	}

	browserCtx, err := sess.Browser()
	if err != nil {
		return nil, err
	}

	var quotes []Quote
	for _, stay := range GroupDates(dates, prop.MaxBundleSize) {
		if err := ctx.Err(); err != nil {
			return quotes, err
		}
		if err := sess.Pace(ctx); err != nil {
			return quotes, err
		}

		q, err := a.fetchStay(ctx, browserCtx, sess.PageTimeout(), base, stay)
		if err != nil {
			return quotes, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (a *engineAdapter) fetchStay(ctx, browserCtx context.Context, pageTimeout time.Duration, base *url.URL, stay Stay) (Quote, error) {
	pageURL := stayURL(base, stay.CheckIn, stay.Nights)

	pageCtx, cancel := context.WithTimeout(browserCtx, pageTimeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-pageCtx.Done():
		}
	}()

	var res priceResult
	err := chromedp.Run(pageCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(engineExtractJS, &res),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Quote{}, ctx.Err()
		}
		return Quote{}, &TransientError{Reason: fmt.Sprintf("page load failed for stay %s/%d", stay.CheckIn.Format("2006-01-02"), stay.Nights), Err: err}
	}

	if res.Removed {
		return Quote{}, &PermanentError{Reason: "booking engine reports unknown property"}
	}
	if res.SoldOut {
		return Quote{
			CheckIn:      stay.CheckIn,
			Nights:       stay.Nights,
			Currency:     res.Currency,
			Availability: model.SoldOut,
		}, nil
	}
	if !res.Found {
		return Quote{}, &TransientError{Reason: fmt.Sprintf("no rate shown for stay %s/%d", stay.CheckIn.Format("2006-01-02"), stay.Nights)}
	}

	amount, ok := parseAmount(res.Raw)
	if !ok || amount <= 0 {
		return Quote{}, &TransientError{Reason: fmt.Sprintf("unparseable rate %q for stay %s/%d", res.Raw, stay.CheckIn.Format("2006-01-02"), stay.Nights)}
	}

	return Quote{
		CheckIn:      stay.CheckIn,
		Nights:       stay.Nights,
		Amount:       amount,
		Currency:     res.Currency,
		Availability: model.Available,
	}, nil
}

// engineExtractJS reads the total-stay rate from a booking engine results
// page. Engines vary less than OTAs; a total-price element plus a currency
// code in the text is the common shape. The raw matched text goes back as-is;
// locale-aware number parsing (parseAmount) happens on the Go side.
const engineExtractJS = `
(function() {
	var out = {found: false, amount: 0, raw: "", currency: "", soldOut: false, removed: false};

	if (/property not found|unknown hotel/i.test(document.body.innerText)) {
		out.removed = true;
		return out;
	}
	if (/no availability|no rooms available/i.test(document.body.innerText)) {
		out.soldOut = true;
		return out;
	}

	var el = document.querySelector('[data-total-price]') ||
	         document.querySelector('.total-price') ||
	         document.querySelector('[class*="rate-total"]');
	if (!el) return out;

	var t = el.getAttribute('data-total-price') || el.innerText;
	var m = t.match(/([A-Z]{3})?\s*([0-9][0-9.,]*)/);
	if (!m) return out;

	out.found = true;
	out.raw = m[2];
	out.currency = m[1] || 'EUR';
	return out;
})()
`
