package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/papertrader/internal/application/engine"
	"github.com/alejandrodnm/papertrader/internal/domain"
)

// RunOnce executes one polling cycle. Market-data failures are handled
// inside the cycle; the returned error is non-nil only when the loop must
// stop (a persistence failure).
func (e *Engine) RunOnce(ctx context.Context) error {
	now := e.now()
	defer func() {
		e.mu.Lock()
		e.lastCycle = now
		e.mu.Unlock()
	}()

	e.risk.ResetIfNewDay(now)
	if ok, reason := e.risk.CanTrade(); !ok {
		slog.Info("engine: risk block", "reason", reason)
		return nil
	}

	tod := engine.TimeOfDay(now, e.cfg.Location)
	pos, open := e.openPosition()

	switch {
	case open && tod >= e.cfg.ExitBy:
		return e.handle(e.forceExit(ctx, pos, now), "forced exit "+pos.Symbol)
	case open:
		return e.handle(e.manage(ctx, pos, now), "manage "+pos.Symbol)
	case tod < e.cfg.EntryAfter || tod >= e.cfg.ExitBy:
		return nil
	}
	return e.scanEntries(ctx, now)
}

// scanEntries tries each underlying in order until one position opens.
func (e *Engine) scanEntries(ctx context.Context, now time.Time) error {
	for _, u := range e.cfg.Underlyings {
		opened, err := e.tryEntry(ctx, u, now)
		if err != nil {
			if fatal := e.handle(err, "entry "+u.Symbol); fatal != nil {
				return fatal
			}
			if errors.Is(err, domain.ErrExhausted) {
				return nil
			}
			continue
		}
		if opened {
			return nil
		}
	}
	return nil
}

// tryEntry feeds the trend of u and opens a position when it is directional.
func (e *Engine) tryEntry(ctx context.Context, u domain.Underlying, now time.Time) (bool, error) {
	token, err := e.nextToken()
	if err != nil {
		return false, err
	}
	prices, err := e.market.LTP(ctx, token, domain.SegmentCash, []string{u.Symbol})
	if err != nil {
		return false, withToken(token, err)
	}
	spot, ok := prices[u.Symbol]
	if !ok {
		return false, &domain.TransientDataError{Symbol: u.Symbol, Reason: "missing from ltp response"}
	}
	e.recordPrice(u.Symbol, spot)

	dir := e.trends[u.Symbol].Update(spot)
	if !dir.IsDirectional() {
		slog.Debug("engine: no signal", "underlying", u.Symbol, "ltp", fmt.Sprintf("%.2f", spot))
		return false, nil
	}
	typ, _ := domain.OptionTypeFor(dir)

	book, err := e.book(ctx, u, now)
	if err != nil {
		return false, err
	}
	contract, ok := book.selectContract(spot, typ, e.cfg.CandidateCap)
	if !ok {
		return false, &domain.TransientDataError{
			Symbol: u.Name,
			Reason: fmt.Sprintf("no %s among the %d nearest strikes", typ, e.cfg.CandidateCap),
		}
	}

	token, err = e.nextToken()
	if err != nil {
		return false, err
	}
	entry, err := e.optionPrice(ctx, token, u.Exchange, contract.Symbol)
	if err != nil {
		return false, withToken(token, err)
	}

	qty := e.cfg.Lots * max(u.LotSize, 1)
	stop, target := e.risk.StopTarget(entry, qty)
	pos := domain.Position{
		ID:           uuid.New().String(),
		Symbol:       contract.Symbol,
		Underlying:   u.Name,
		Quantity:     qty,
		EntryPrice:   entry,
		StopLoss:     stop,
		Target:       target,
		OpenedAt:     now,
		Direction:    dir,
		MaxPriceSeen: entry,
	}

	e.mu.Lock()
	e.position = &pos
	e.unrealized = 0
	e.prices[contract.Symbol] = entry
	e.mu.Unlock()

	if err := e.store.WritePositions(ctx, []domain.Position{pos}); err != nil {
		return false, err
	}

	slog.Info("engine: entry",
		"id", pos.ID,
		"symbol", pos.Symbol,
		"direction", dir,
		"spot", fmt.Sprintf("%.2f", spot),
		"strike", contract.Strike,
		"qty", qty,
		"entry", fmt.Sprintf("%.2f", entry),
		"sl", fmt.Sprintf("%.2f", stop),
		"tgt", fmt.Sprintf("%.2f", target),
	)
	return true, nil
}

// manage prices the open position, trails its stop and closes it when an
// exit condition holds. The trail is applied before the exit check.
func (e *Engine) manage(ctx context.Context, pos domain.Position, now time.Time) error {
	token, err := e.nextToken()
	if err != nil {
		return err
	}
	price, err := e.optionPrice(ctx, token, e.exchangeOf(pos.Underlying), pos.Symbol)
	if err != nil {
		return withToken(token, err)
	}

	pos.MaxPriceSeen = max(pos.MaxPriceSeen, price)
	pos.StopLoss = e.risk.Trail(pos.StopLoss, pos.MaxPriceSeen)

	if reason, exit := e.exitReason(pos, price, now); exit {
		return e.closePosition(ctx, pos, price, reason, now)
	}

	e.mu.Lock()
	e.position = &pos
	e.unrealized = pos.UnrealizedPnL(price)
	e.prices[pos.Symbol] = price
	e.mu.Unlock()

	return e.store.WritePositions(ctx, []domain.Position{pos})
}

// forceExit closes the open position at the current price regardless of
// stop and target.
func (e *Engine) forceExit(ctx context.Context, pos domain.Position, now time.Time) error {
	token, err := e.nextToken()
	if err != nil {
		return err
	}
	price, err := e.optionPrice(ctx, token, e.exchangeOf(pos.Underlying), pos.Symbol)
	if err != nil {
		return withToken(token, err)
	}
	return e.closePosition(ctx, pos, price, domain.ExitTime, now)
}

func (e *Engine) exitReason(pos domain.Position, price float64, now time.Time) (domain.ExitReason, bool) {
	switch {
	case price <= pos.StopLoss:
		return domain.ExitStopLoss, true
	case price >= pos.Target:
		return domain.ExitTarget, true
	case engine.TimeOfDay(now, e.cfg.Location) >= e.cfg.ExitBy:
		return domain.ExitTime, true
	}
	return "", false
}

// closePosition books the trade: risk first, then the ledger, then the
// cleared snapshot.
func (e *Engine) closePosition(ctx context.Context, pos domain.Position, price float64, reason domain.ExitReason, now time.Time) error {
	seq, err := e.nextSeq(ctx, now)
	if err != nil {
		return err
	}
	rec := domain.CloseTrade(pos, seq, price, now, reason)
	e.risk.RegisterTrade(rec.PnL)

	e.mu.Lock()
	e.position = nil
	e.realized += rec.PnL
	e.unrealized = 0
	e.prices[pos.Symbol] = price
	e.mu.Unlock()

	if err := e.store.AppendTrade(ctx, rec); err != nil {
		return err
	}
	if err := e.store.WritePositions(ctx, nil); err != nil {
		return err
	}

	slog.Info("engine: exit",
		"id", pos.ID,
		"seq", rec.Seq,
		"symbol", pos.Symbol,
		"reason", reason,
		"sold", fmt.Sprintf("%.2f", price),
		"pnl", fmt.Sprintf("%.2f", rec.PnL),
	)
	return nil
}

// nextSeq returns the next ledger sequence for the day of now, continuing
// from what the store already holds for that day.
func (e *Engine) nextSeq(ctx context.Context, now time.Time) (int, error) {
	day := now.In(e.cfg.Location).Format(isoDate)
	if day != e.seqDay {
		last, err := e.store.LastSequence(ctx, now)
		if err != nil {
			return 0, err
		}
		e.seq = last
		e.seqDay = day
	}
	e.seq++
	return e.seq, nil
}

// optionPrice prices one option contract with the configured endpoint.
func (e *Engine) optionPrice(ctx context.Context, token, exchange, symbol string) (float64, error) {
	if e.cfg.OptionPrice == PriceQuote {
		return e.market.Quote(ctx, token, exchange, domain.SegmentFNO, symbol)
	}
	key := exchangeSymbol(exchange, symbol)
	prices, err := e.market.LTP(ctx, token, domain.SegmentFNO, []string{key})
	if err != nil {
		return 0, err
	}
	p, ok := prices[key]
	if !ok {
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: "missing from ltp response"}
	}
	return p, nil
}

// nextToken rotates the pool and records the active credential.
func (e *Engine) nextToken() (string, error) {
	cred, err := e.tokens.ChooseNext()
	if err != nil {
		return "", fmt.Errorf("paper.nextToken: %w", err)
	}
	e.mu.Lock()
	e.activeToken = cred.Token
	e.mu.Unlock()
	slog.Debug("engine: token rotation", "token", cred.Masked(), "calls", cred.CallsMade)
	return cred.Token, nil
}

func (e *Engine) openPosition() (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position == nil {
		return domain.Position{}, false
	}
	return *e.position, true
}

func (e *Engine) recordPrice(symbol string, price float64) {
	e.mu.Lock()
	e.prices[symbol] = price
	e.mu.Unlock()
}

// exchangeOf returns the exchange of a configured underlying by name.
func (e *Engine) exchangeOf(name string) string {
	for _, u := range e.cfg.Underlyings {
		if u.Name == name && u.Exchange != "" {
			return u.Exchange
		}
	}
	return "NSE"
}

// exchangeSymbol builds the "EXCHANGE_SYMBOL" key the batch LTP endpoint uses.
func exchangeSymbol(exchange, symbol string) string {
	if exchange == "" || strings.HasPrefix(symbol, exchange+"_") {
		return symbol
	}
	return exchange + "_" + symbol
}
