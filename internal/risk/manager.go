// Package risk gates new trades on daily loss and losing streaks, and sizes
// stop-loss and target levels for simulated long option positions.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

const (
	ReasonOK                = "OK"
	ReasonDailyLoss         = "Daily max loss reached"
	ReasonConsecutiveLosses = "Consecutive loss limit reached"
)

// Config is fixed at construction.
type Config struct {
	MaxLossPerTrade      float64 // absolute currency cap per trade
	MaxDailyLoss         float64 // absolute currency cap per trading day
	MaxConsecutiveLosses int
	TargetRR             float64 // target distance as a multiple of stop distance
	InitialSLPct         float64 // e.g. 0.25 = stop 25% below entry
	TrailSLPct           float64 // e.g. 0.2 = trail 20% below latest price
}

// DefaultConfig returns the limits the desk has always run with.
func DefaultConfig() Config {
	return Config{
		MaxLossPerTrade:      500,
		MaxDailyLoss:         1500,
		MaxConsecutiveLosses: 3,
		TargetRR:             2.0,
		InitialSLPct:         0.25,
		TrailSLPct:           0.2,
	}
}

// Validate rejects limits that would make every trade blocked or unbounded.
func (c Config) Validate() error {
	switch {
	case c.MaxLossPerTrade <= 0:
		return fmt.Errorf("risk: max loss per trade must be > 0: %w", domain.ErrConfig)
	case c.MaxDailyLoss <= 0:
		return fmt.Errorf("risk: max daily loss must be > 0: %w", domain.ErrConfig)
	case c.MaxConsecutiveLosses <= 0:
		return fmt.Errorf("risk: max consecutive losses must be > 0: %w", domain.ErrConfig)
	case c.TargetRR <= 0:
		return fmt.Errorf("risk: target risk-reward must be > 0: %w", domain.ErrConfig)
	case c.InitialSLPct <= 0 || c.InitialSLPct >= 1:
		return fmt.Errorf("risk: initial stop pct must be in (0,1): %w", domain.ErrConfig)
	case c.TrailSLPct <= 0 || c.TrailSLPct >= 1:
		return fmt.Errorf("risk: trailing stop pct must be in (0,1): %w", domain.ErrConfig)
	}
	return nil
}

// DayBoundary defines when a trading day starts: Offset after local
// midnight in Location.
type DayBoundary struct {
	Location *time.Location
	Offset   time.Duration
}

// TradingDay returns the trading-day key for t, as YYYY-MM-DD.
func (b DayBoundary) TradingDay(t time.Time) string {
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Add(-b.Offset).Format("2006-01-02")
}

// State is a copy of the running counters.
type State struct {
	DailyPnL          float64
	ConsecutiveLosses int
	TradesToday       int
	Day               string
}

// Manager tracks daily P&L and the losing streak.
type Manager struct {
	cfg      Config
	boundary DayBoundary

	mu                sync.Mutex
	dailyPnL          float64
	consecutiveLosses int
	tradesToday       int
	day               string
}

// NewManager creates a manager with empty counters.
func NewManager(cfg Config, boundary DayBoundary) *Manager {
	return &Manager{cfg: cfg, boundary: boundary}
}

// Config returns the limits the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// CanTrade reports whether a new position may be opened, with a
// human-readable reason when it may not.
func (m *Manager) CanTrade() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dailyPnL <= -math.Abs(m.cfg.MaxDailyLoss) {
		return false, ReasonDailyLoss
	}
	if m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return false, ReasonConsecutiveLosses
	}
	return true, ReasonOK
}

// StopTarget returns the initial stop-loss and target for a long entry.
// The stop is the higher of the absolute per-trade cap and the percentage
// stop, so the percentage rule never allows a loss beyond the cap.
func (m *Manager) StopTarget(entry float64, quantity int) (stop, target float64) {
	hardStop := entry - m.cfg.MaxLossPerTrade/float64(max(quantity, 1))
	pctStop := entry * (1 - m.cfg.InitialSLPct)
	stop = math.Max(hardStop, pctStop)
	target = entry + (entry-stop)*m.cfg.TargetRR
	return stop, target
}

// Trail returns the stop after observing latest. It never loosens.
func (m *Manager) Trail(currentStop, latest float64) float64 {
	return math.Max(currentStop, latest*(1-m.cfg.TrailSLPct))
}

// RegisterTrade books a closed trade's P&L.
func (m *Manager) RegisterTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL += pnl
	m.tradesToday++
	if pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
}

// ResetIfNewDay clears the daily counters the first time it is called in
// a new trading day. It returns true when a reset happened.
func (m *Manager) ResetIfNewDay(now time.Time) bool {
	day := m.boundary.TradingDay(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.day == day {
		return false
	}
	first := m.day == ""
	prev := m.day
	m.day = day
	if first {
		return false
	}

	slog.Info("risk: daily counters reset",
		"previous_day", prev,
		"day", day,
		"daily_pnl", fmt.Sprintf("%.2f", m.dailyPnL),
		"trades", m.tradesToday,
	)
	m.dailyPnL = 0
	m.consecutiveLosses = 0
	m.tradesToday = 0
	return true
}

// Restore rebuilds the counters of the trading day containing now from
// ledger records, replaying them in close order. Records closed in any other
// trading day are skipped. It returns how many records were applied.
func (m *Manager) Restore(now time.Time, records []domain.TradeRecord) int {
	day := m.boundary.TradingDay(now)

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b domain.TradeRecord) int {
		return a.ClosedAt.Compare(b.ClosedAt)
	})

	m.mu.Lock()
	m.day = day
	m.dailyPnL = 0
	m.consecutiveLosses = 0
	m.tradesToday = 0
	m.mu.Unlock()

	applied := 0
	for _, rec := range sorted {
		if m.boundary.TradingDay(rec.ClosedAt) != day {
			continue
		}
		m.RegisterTrade(rec.PnL)
		applied++
	}
	return applied
}

// State returns a copy of the counters.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		DailyPnL:          m.dailyPnL,
		ConsecutiveLosses: m.consecutiveLosses,
		TradesToday:       m.tradesToday,
		Day:               m.day,
	}
}
