package domain

import "time"

// Position is an open simulated option position.
type Position struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying"`
	Quantity     int       `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	Target       float64   `json:"target"`
	OpenedAt     time.Time `json:"opened_at"`
	Direction    Direction `json:"direction"`
	MaxPriceSeen float64   `json:"max_price_seen"` // highest favorable price observed since entry
}

// UnrealizedPnL returns the mark-to-market P&L at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Quantity)
}

// ExitReason names why a position was closed.
type ExitReason string

const (
	ExitStopLoss ExitReason = "stop_loss"
	ExitTarget   ExitReason = "target"
	ExitTime     ExitReason = "time_exit"
)

// TradeRecord is one closed position in the append-only ledger.
// PnL always equals (SoldPrice - BuyPrice) * Quantity.
type TradeRecord struct {
	Seq        int
	ClosedAt   time.Time
	Symbol     string
	BuyPrice   float64
	Quantity   int
	EntryPrice float64
	StopLoss   float64
	Target     float64
	SoldPrice  float64
	PnL        float64
	Reason     ExitReason
}

// CloseTrade converts a position into its ledger record.
func CloseTrade(p Position, seq int, soldPrice float64, closedAt time.Time, reason ExitReason) TradeRecord {
	return TradeRecord{
		Seq:        seq,
		ClosedAt:   closedAt,
		Symbol:     p.Symbol,
		BuyPrice:   p.EntryPrice,
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		Target:     p.Target,
		SoldPrice:  soldPrice,
		PnL:        (soldPrice - p.EntryPrice) * float64(p.Quantity),
		Reason:     reason,
	}
}

// DailyTradeSummary aggregates the ledger for one calendar day.
type DailyTradeSummary struct {
	Date   time.Time
	Trades int
	Wins   int
	Losses int
	PnL    float64
	Best   float64
	Worst  float64
}

// TradeStats is the aggregate over the whole ledger.
type TradeStats struct {
	TotalTrades int
	Wins        int
	Losses      int
	TotalPnL    float64
	Dailies     []DailyTradeSummary
}

// WinRate returns wins / trades, or 0 with no trades.
func (s TradeStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades)
}
