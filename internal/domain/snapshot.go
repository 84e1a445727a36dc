package domain

import "time"

// Snapshot is an immutable view of the engine for the display layer.
// Every slice and map is a copy owned by the receiver.
type Snapshot struct {
	Running       bool               `json:"running"`
	ActiveToken   string             `json:"active_token"` // masked
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	DailyPnL      float64            `json:"daily_pnl"`
	LossStreak    int                `json:"loss_streak"`
	Positions     []Position         `json:"positions"`
	Logs          []string           `json:"logs"`
	Prices        map[string]float64 `json:"prices"`
	LastCycleAt   time.Time          `json:"last_cycle_at"`
	LastError     string             `json:"last_error,omitempty"`
}
