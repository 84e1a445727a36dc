package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/papertrader/internal/application/engine"
	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/logring"
	"github.com/alejandrodnm/papertrader/internal/ports"
	"github.com/alejandrodnm/papertrader/internal/risk"
	"github.com/alejandrodnm/papertrader/internal/trend"
)

const (
	MinPollInterval     = 5 * time.Second
	DefaultCandidateCap = 20
	DefaultLogTail      = 50
	maxErrorLen         = 160
)

// PriceSource selects the endpoint used to price option contracts.
type PriceSource string

const (
	PriceLTP   PriceSource = "ltp"
	PriceQuote PriceSource = "quote"
)

// Config holds the paper trading loop settings.
type Config struct {
	PollInterval time.Duration
	Lots         int
	CandidateCap int
	EntryAfter   time.Duration // offset from midnight in Location
	ExitBy       time.Duration // offset from midnight in Location
	Location     *time.Location
	OptionPrice  PriceSource
	Underlyings  []domain.Underlying
	LogTail      int
}

// Credentials is the token pool as seen by the engine.
type Credentials interface {
	ChooseNext() (domain.Credential, error)
	MarkFailed(token, errMsg string)
	Statuses() []domain.Credential
}

// Clock returns the current time.
type Clock func() time.Time

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

// WithLogRing sets where Snapshot reads its log lines from.
func WithLogRing(r *logring.Ring) Option {
	return func(e *Engine) { e.logs = r }
}

// Engine runs the simulated options trading loop: one background goroutine
// polls market data, opens at most one position at a time and manages it
// until stop, target or the daily exit time.
type Engine struct {
	cfg    Config
	tokens Credentials
	market ports.MarketDataGateway
	risk   *risk.Manager
	store  ports.PositionStore
	logs   *logring.Ring
	now    Clock

	// Owned by the loop goroutine.
	trends map[string]*trend.Detector
	books  map[string]*instrumentBook
	seq    int
	seqDay string

	// Shared with Snapshot.
	mu          sync.Mutex
	position    *domain.Position
	realized    float64
	unrealized  float64
	prices      map[string]float64
	activeToken string
	lastCycle   time.Time
	lastErr     string

	runMu    sync.Mutex
	running  bool
	restored bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	runErr   error
}

// New creates a paper trading engine. It fails with domain.ErrConfig when
// there is nothing to monitor or the trading window is empty.
func New(
	cfg Config,
	tokens Credentials,
	market ports.MarketDataGateway,
	rm *risk.Manager,
	store ports.PositionStore,
	opts ...Option,
) (*Engine, error) {
	if len(cfg.Underlyings) == 0 {
		return nil, fmt.Errorf("paper.New: no underlyings: %w", domain.ErrConfig)
	}
	if cfg.ExitBy <= cfg.EntryAfter {
		return nil, fmt.Errorf("paper.New: exit %s not after entry %s: %w",
			engine.FormatClock(cfg.ExitBy), engine.FormatClock(cfg.EntryAfter), domain.ErrConfig)
	}
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	if cfg.Lots <= 0 {
		cfg.Lots = 1
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = DefaultCandidateCap
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = DefaultLogTail
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.OptionPrice != PriceQuote {
		cfg.OptionPrice = PriceLTP
	}

	e := &Engine{
		cfg:    cfg,
		tokens: tokens,
		market: market,
		risk:   rm,
		store:  store,
		now:    time.Now,
		trends: make(map[string]*trend.Detector, len(cfg.Underlyings)),
		books:  make(map[string]*instrumentBook, len(cfg.Underlyings)),
		prices: make(map[string]float64),
	}
	for _, u := range cfg.Underlyings {
		e.trends[u.Symbol] = trend.NewDefault()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start restores any persisted open position and launches the polling
// loop. Calling Start on a running engine does nothing.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return nil
	}
	if !e.restored {
		if err := e.restore(ctx); err != nil {
			return fmt.Errorf("paper.Start: %w", err)
		}
		e.restored = true
	}

	e.running = true
	e.runErr = nil
	e.stopCh = make(chan struct{})
	e.stopOnce = &sync.Once{}
	e.done = make(chan struct{})

	go e.loop(ctx, e.stopCh, e.done)

	slog.Info("engine: started",
		"poll", e.cfg.PollInterval,
		"underlyings", len(e.cfg.Underlyings),
		"window", engine.FormatClock(e.cfg.EntryAfter)+"-"+engine.FormatClock(e.cfg.ExitBy),
	)
	return nil
}

// Stop asks the loop to exit after the cycle in flight. Safe to call many
// times and on a stopped engine.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.running || e.stopOnce == nil {
		return
	}
	e.stopOnce.Do(func() {
		close(e.stopCh)
		slog.Info("engine: stop requested")
	})
}

// Wait blocks until the loop has exited and returns the fatal error that
// ended it, if any.
func (e *Engine) Wait() error {
	e.runMu.Lock()
	done := e.done
	e.runMu.Unlock()

	if done == nil {
		return nil
	}
	<-done

	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.runErr
}

// Running reports whether the loop goroutine is alive.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	var err error
	defer func() {
		e.runMu.Lock()
		e.running = false
		e.runErr = err
		e.runMu.Unlock()
		close(done)
		slog.Info("engine: stopped")
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// A stop that raced with the timer still wins before a new cycle.
		select {
		case <-stop:
			return
		default:
		}

		if err = e.RunOnce(ctx); err != nil {
			slog.Error("engine: fatal error, stopping", "err", err)
			return
		}
		timer.Reset(e.cfg.PollInterval)
	}
}

// restore brings back what a restart would otherwise lose: the persisted
// open position and the risk counters of the current trading day.
func (e *Engine) restore(ctx context.Context) error {
	if err := e.restorePosition(ctx); err != nil {
		return err
	}
	return e.restoreRisk(ctx)
}

// restoreRisk replays the ledger of the current trading day into the risk
// manager so a daily-loss or losing-streak block survives a restart.
func (e *Engine) restoreRisk(ctx context.Context) error {
	now := e.now()

	// The trading day starts at the daily reset, so before it the records
	// that count are in yesterday's ledger.
	var records []domain.TradeRecord
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		recs, err := e.store.TradesForDay(ctx, day)
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}

	if n := e.risk.Restore(now, records); n > 0 {
		st := e.risk.State()
		slog.Info("engine: restored risk state",
			"day", st.Day,
			"trades", n,
			"daily_pnl", fmt.Sprintf("%.2f", st.DailyPnL),
			"loss_streak", st.ConsecutiveLosses,
		)
	}
	return nil
}

// restorePosition loads the persisted open position, if any.
func (e *Engine) restorePosition(ctx context.Context) error {
	positions, err := e.store.LoadPositions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	if len(positions) > 1 {
		slog.Warn("engine: more than one persisted position, keeping the oldest", "count", len(positions))
	}
	p := positions[0]
	if p.MaxPriceSeen < p.EntryPrice {
		p.MaxPriceSeen = p.EntryPrice
	}

	e.mu.Lock()
	e.position = &p
	e.mu.Unlock()

	slog.Info("engine: restored open position",
		"id", p.ID,
		"symbol", p.Symbol,
		"qty", p.Quantity,
		"entry", fmt.Sprintf("%.2f", p.EntryPrice),
		"stop", fmt.Sprintf("%.2f", p.StopLoss),
	)
	return nil
}

// Snapshot returns a copy of the engine state for display.
func (e *Engine) Snapshot() domain.Snapshot {
	running := e.Running()
	rs := e.risk.State()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := domain.Snapshot{
		Running:       running,
		ActiveToken:   "-",
		RealizedPnL:   e.realized,
		UnrealizedPnL: e.unrealized,
		DailyPnL:      rs.DailyPnL,
		LossStreak:    rs.ConsecutiveLosses,
		Positions:     []domain.Position{},
		Prices:        make(map[string]float64, len(e.prices)),
		LastCycleAt:   e.lastCycle,
		LastError:     e.lastErr,
	}
	if e.activeToken != "" {
		snap.ActiveToken = domain.MaskToken(e.activeToken)
	}
	if e.position != nil {
		snap.Positions = append(snap.Positions, *e.position)
	}
	for k, v := range e.prices {
		snap.Prices[k] = v
	}
	if e.logs != nil {
		snap.Logs = e.logs.Tail(e.cfg.LogTail)
	} else {
		snap.Logs = []string{}
	}
	return snap
}

// Statuses returns copies of the credential states.
func (e *Engine) Statuses() []domain.Credential {
	return e.tokens.Statuses()
}
