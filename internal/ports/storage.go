package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

// PositionStore persists the trade ledger and the open-position snapshot.
// It mirrors what the engine tells it and is never the source of truth for
// a running process. Errors are *domain.PersistenceError.
type PositionStore interface {
	// AppendTrade adds one record to the ledger of the record's close day.
	AppendTrade(ctx context.Context, rec domain.TradeRecord) error

	// WritePositions replaces the open-position snapshot.
	WritePositions(ctx context.Context, positions []domain.Position) error

	// LoadPositions reads the snapshot last written, for restart recovery.
	LoadPositions(ctx context.Context) ([]domain.Position, error)

	// LastSequence returns the highest ledger sequence recorded for day, or 0.
	LastSequence(ctx context.Context, day time.Time) (int, error)

	// TradesForDay returns the ledger records of day in sequence order.
	TradesForDay(ctx context.Context, day time.Time) ([]domain.TradeRecord, error)

	Close() error
}

// TradeReporter reads the ledger back for reports.
type TradeReporter interface {
	GetTrades(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error)
	GetTradeStats(ctx context.Context) (domain.TradeStats, error)
}
