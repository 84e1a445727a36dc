package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

const isoDate = "2006-01-02"

// instrumentBook is the option chain of one underlying for one expiry,
// loaded once per trading day.
type instrumentBook struct {
	underlying string
	day        string
	expiry     time.Time
	contracts  []domain.Contract
}

// stale reports whether the book must be reloaded on date today.
func (b *instrumentBook) stale(today time.Time) bool {
	return b == nil || b.day != today.Format(isoDate) || today.After(b.expiry)
}

// selectContract returns the first contract of type typ among the limit
// contracts whose strikes are nearest to spot. Equal distances go to the
// lower strike.
func (b *instrumentBook) selectContract(spot float64, typ domain.OptionType, limit int) (domain.Contract, bool) {
	cands := make([]domain.Contract, len(b.contracts))
	copy(cands, b.contracts)

	sort.SliceStable(cands, func(i, j int) bool {
		di := math.Abs(cands[i].Strike - spot)
		dj := math.Abs(cands[j].Strike - spot)
		if di != dj {
			return di < dj
		}
		return cands[i].Strike < cands[j].Strike
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	for _, c := range cands {
		if c.Type == typ {
			return c, true
		}
	}
	return domain.Contract{}, false
}

// book returns the current instrument book of u, loading it with rotated
// credentials when missing or stale.
func (e *Engine) book(ctx context.Context, u domain.Underlying, now time.Time) (*instrumentBook, error) {
	today := dateOf(now, e.cfg.Location)
	if b := e.books[u.Symbol]; !b.stale(today) {
		return b, nil
	}

	token, err := e.nextToken()
	if err != nil {
		return nil, err
	}
	expiries, err := e.market.Expiries(ctx, token, u.Exchange, u.Name)
	if err != nil {
		return nil, withToken(token, err)
	}
	expiry, err := pickExpiry(expiries, today, u.Expiry)
	if err != nil {
		return nil, &domain.TransientDataError{Symbol: u.Name, Reason: err.Error()}
	}

	token, err = e.nextToken()
	if err != nil {
		return nil, err
	}
	contracts, err := e.market.Contracts(ctx, token, u.Exchange, u.Name, expiry.Format(isoDate))
	if err != nil {
		return nil, withToken(token, err)
	}
	if len(contracts) == 0 {
		return nil, &domain.TransientDataError{Symbol: u.Name, Reason: "no contracts for " + expiry.Format(isoDate)}
	}

	b := &instrumentBook{
		underlying: u.Name,
		day:        today.Format(isoDate),
		expiry:     expiry,
		contracts:  contracts,
	}
	e.books[u.Symbol] = b
	slog.Info("engine: instrument book loaded",
		"underlying", u.Name,
		"expiry", expiry.Format(isoDate),
		"rule", u.Expiry,
		"contracts", len(contracts),
	)
	return b, nil
}

// pickExpiry chooses among raw expiry dates. Weekly takes the nearest
// expiry on or after today. Monthly takes the last expiry of the nearest
// month that still has one.
func pickExpiry(raw []string, today time.Time, rule domain.ExpiryRule) (time.Time, error) {
	seen := make(map[time.Time]bool, len(raw))
	var upcoming []time.Time
	for _, s := range raw {
		t, err := domain.ParseExpiry(s)
		if err != nil || t.Before(today) || seen[t] {
			continue
		}
		seen[t] = true
		upcoming = append(upcoming, t)
	}
	if len(upcoming) == 0 {
		return time.Time{}, fmt.Errorf("no expiry on or after %s", today.Format(isoDate))
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Before(upcoming[j]) })

	if rule != domain.ExpiryMonthly {
		return upcoming[0], nil
	}
	first := upcoming[0]
	last := first
	for _, t := range upcoming[1:] {
		if t.Year() != first.Year() || t.Month() != first.Month() {
			break
		}
		last = t
	}
	return last, nil
}

// dateOf returns the calendar date of t in loc, as midnight UTC so it
// compares directly with parsed expiry dates.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
