package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"rateshopper/config"
	"rateshopper/internal/model"
)

// bookingAdapter extracts nightly prices from Booking.com property pages. The
// platform is calendar-driven: one page load per check-in date, with the stay
// encoded in the query string. Bundles are not supported; every quote covers
// a single night.
type bookingAdapter struct {
	cfg config.ScraperConfig
}

func newBookingAdapter(cfg config.ScraperConfig) *bookingAdapter {
	return &bookingAdapter{cfg: cfg}
}

func (a *bookingAdapter) Platform() model.Platform {
	return model.PlatformBookingCom
}

// priceResult is what the in-page extraction script returns. Scripts either
// parse the amount in-page (Amount) or hand back the raw price text (Raw) for
// Go-side parsing.
type priceResult struct {
	Found    bool    `json:"found"`
	Amount   float64 `json:"amount"`
	Raw      string  `json:"raw"`
	Currency string  `json:"currency"`
	SoldOut  bool    `json:"soldOut"`
	Removed  bool    `json:"removed"`
}

func (a *bookingAdapter) FetchPrices(ctx context.Context, sess *Session, prop model.Property, dates []time.Time) ([]Quote, error) {
	base, err := url.Parse(prop.URL)
	if err != nil || base.Host == "" {
		return nil, &PermanentError{Reason: fmt.Sprintf("invalid property URL %q", prop.URL), Err: err}
	}

	browserCtx, err := sess.Browser()
	if err != nil {
		return nil, err
	}

	var quotes []Quote
	for _, checkIn := range dates {
		if err := ctx.Err(); err != nil {
			return quotes, err
		}
		if err := sess.Pace(ctx); err != nil {
			return quotes, err
		}

		q, err := a.fetchDate(ctx, browserCtx, sess.PageTimeout(), base, checkIn)
		if err != nil {
			return quotes, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (a *bookingAdapter) fetchDate(ctx, browserCtx context.Context, pageTimeout time.Duration, base *url.URL, checkIn time.Time) (Quote, error) {
	pageURL := stayURL(base, checkIn, 1)

	pageCtx, cancel := context.WithTimeout(browserCtx, pageTimeout)
	defer cancel()
	go func() {
		// Propagate an outer cancel (search cancelled, hard timeout) into the
		// in-flight navigation so the page load aborts promptly.
		select {
		case <-ctx.Done():
			cancel()
		case <-pageCtx.Done():
		}
	}()

	var res priceResult
	err := chromedp.Run(pageCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(3*time.Second), // give client-side rendering time to settle
		chromedp.Evaluate(bookingExtractJS, &res),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Quote{}, ctx.Err()
		}
		return Quote{}, &TransientError{Reason: fmt.Sprintf("page load failed for %s", checkIn.Format("2006-01-02")), Err: err}
	}

	if res.Removed {
		return Quote{}, &PermanentError{Reason: "listing no longer exists"}
	}
	if res.SoldOut {
		return Quote{
			CheckIn:      checkIn,
			Nights:       1,
			Currency:     res.Currency,
			Availability: model.SoldOut,
		}, nil
	}
	if !res.Found {
		return Quote{}, &TransientError{Reason: fmt.Sprintf("price markers absent for %s", checkIn.Format("2006-01-02"))}
	}

	return Quote{
		CheckIn:      checkIn,
		Nights:       1,
		Amount:       res.Amount,
		Currency:     res.Currency,
		Availability: model.Available,
	}, nil
}

// stayURL encodes the stay into the property URL's query string.
func stayURL(base *url.URL, checkIn time.Time, nights int) string {
	u := *base
	q := u.Query()
	q.Set("checkin", checkIn.Format("2006-01-02"))
	q.Set("checkout", checkIn.AddDate(0, 0, nights).Format("2006-01-02"))
	q.Set("group_adults", "2")
	q.Set("no_rooms", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// parseAmount turns a displayed price like "€ 1.234,56" or "$129" into a
// float. The booking-engine script hands back the raw matched text and the
// locale handling happens here, where it can be tested without a browser.
func parseAmount(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" {
		return 0, false
	}
	// Treat the last separator as the decimal point, everything else as
	// thousands grouping.
	lastDot := strings.LastIndexAny(cleaned, ".,")
	if lastDot >= 0 && len(cleaned)-lastDot-1 <= 2 {
		intPart := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, cleaned[:lastDot])
		cleaned = intPart + "." + cleaned[lastDot+1:]
	} else {
		cleaned = strings.ReplaceAll(strings.ReplaceAll(cleaned, ",", ""), ".", "")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// bookingExtractJS pulls the cheapest room price off a property page. It
// checks a few selector generations since the markup shifts between rollouts.
const bookingExtractJS = `
(function() {
	var out = {found: false, amount: 0, currency: "", soldOut: false, removed: false};

	if (document.querySelector('[data-testid="property-removed-banner"]') ||
		/property (is )?no longer (listed|available)/i.test(document.body.innerText)) {
		out.removed = true;
		return out;
	}

	if (document.querySelector('[data-testid="soldout-banner"]') ||
		/we('| a)re sold out/i.test(document.body.innerText)) {
		out.soldOut = true;
	}

	var sels = [
		'[data-testid="price-and-discounted-price"]',
		'.prco-valign-middle-helper',
		'.bui-price-display__value',
		'[class*="priceDisplay"]'
	];
	var best = null;
	for (var i = 0; i < sels.length; i++) {
		var nodes = document.querySelectorAll(sels[i]);
		for (var j = 0; j < nodes.length; j++) {
			var t = nodes[j].innerText.trim();
			var m = t.match(/([0-9][0-9.,  ]*)/);
			if (!m) continue;
			var num = parseFloat(m[1].replace(/[  ]/g, '').replace(/\.(?=\d{3})/g, '').replace(',', '.'));
			if (isNaN(num) || num <= 0) continue;
			if (best === null || num < best.amount) {
				var cur = (t.match(/^[^\d\s]+/) || [''])[0];
				best = {amount: num, currency: cur};
			}
		}
		if (best) break;
	}
	if (best) {
		out.found = true;
		out.amount = best.amount;
		out.currency = normalizeCurrency(best.currency);
	}
	return out;

	function normalizeCurrency(sym) {
		switch (sym) {
		case '€': return 'EUR';
		case '$': return 'USD';
		case '£': return 'GBP';
		case 'R$': return 'BRL';
		default:  return sym || 'EUR';
		}
	}
})()
`
