package storage

// sqlite.go: queryable ledger.
//
//   - `trades`: one row per closed position, keyed by (trade_day, seq).
//     trade_day is the close day in the store's timezone so it matches the
//     CSV ledger partitioning.
//   - `open_positions`: the open-position snapshot, replaced in one
//     transaction on every write.
//   - Per-day aggregates for the report come straight from GROUP BY.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/papertrader/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_day   TEXT     NOT NULL,
    seq         INTEGER  NOT NULL,
    closed_at   TEXT     NOT NULL,
    symbol      TEXT     NOT NULL,
    buy_price   REAL     NOT NULL,
    quantity    INTEGER  NOT NULL,
    entry_price REAL     NOT NULL,
    stop_loss   REAL     NOT NULL,
    target      REAL     NOT NULL,
    sold_price  REAL     NOT NULL,
    pnl         REAL     NOT NULL,
    reason      TEXT     NOT NULL DEFAULT '',
    UNIQUE (trade_day, seq)
);

CREATE TABLE IF NOT EXISTS open_positions (
    id             TEXT PRIMARY KEY,
    symbol         TEXT     NOT NULL,
    underlying     TEXT     NOT NULL DEFAULT '',
    quantity       INTEGER  NOT NULL,
    entry_price    REAL     NOT NULL,
    stop_loss      REAL     NOT NULL,
    target         REAL     NOT NULL,
    opened_at      TEXT     NOT NULL,
    direction      TEXT     NOT NULL,
    max_price_seen REAL     NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);
CREATE INDEX IF NOT EXISTS idx_trades_day    ON trades(trade_day);
`

const dayLayout = "2006-01-02"

// SQLiteStore implements ports.PositionStore and ports.TradeReporter on
// SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db  *sql.DB
	loc *time.Location
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string, loc *time.Location) (*SQLiteStore, error) {
	if loc == nil {
		loc = time.Local
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.PersistenceError{Op: fmt.Sprintf("storage.NewSQLiteStore: open %q", path), Err: err}
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; also keeps :memory: on one connection
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &domain.PersistenceError{Op: "storage.NewSQLiteStore: apply schema", Err: err}
	}
	return &SQLiteStore{db: db, loc: loc}, nil
}

// AppendTrade inserts rec. A duplicate (day, seq) is an error: the ledger
// never overwrites.
func (s *SQLiteStore) AppendTrade(ctx context.Context, rec domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (trade_day, seq, closed_at, symbol, buy_price, quantity,
		                    entry_price, stop_loss, target, sold_price, pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClosedAt.In(s.loc).Format(dayLayout), rec.Seq, utc(rec.ClosedAt),
		rec.Symbol, rec.BuyPrice, rec.Quantity, rec.EntryPrice, rec.StopLoss,
		rec.Target, rec.SoldPrice, rec.PnL, string(rec.Reason),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "storage.AppendTrade", Err: err}
	}
	return nil
}

// WritePositions replaces the open-position snapshot.
func (s *SQLiteStore) WritePositions(ctx context.Context, positions []domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: begin tx", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM open_positions`); err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: clear", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO open_positions (id, symbol, underlying, quantity, entry_price,
		                            stop_loss, target, opened_at, direction, max_price_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: prepare", Err: err}
	}
	defer stmt.Close()

	for _, p := range positions {
		id := p.ID
		if id == "" {
			id = p.Symbol
		}
		if _, err := stmt.ExecContext(ctx,
			id, p.Symbol, p.Underlying, p.Quantity, p.EntryPrice, p.StopLoss,
			p.Target, utc(p.OpenedAt), string(p.Direction), p.MaxPriceSeen,
		); err != nil {
			return &domain.PersistenceError{Op: "storage.WritePositions: insert " + p.Symbol, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: commit", Err: err}
	}
	return nil
}

// LoadPositions returns the snapshot, oldest first.
func (s *SQLiteStore) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, underlying, quantity, entry_price, stop_loss, target,
		       opened_at, direction, max_price_seen
		FROM open_positions ORDER BY opened_at`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "storage.LoadPositions: query", Err: err}
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var openedAt, dir string
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Underlying, &p.Quantity, &p.EntryPrice,
			&p.StopLoss, &p.Target, &openedAt, &dir, &p.MaxPriceSeen); err != nil {
			return nil, &domain.PersistenceError{Op: "storage.LoadPositions: scan", Err: err}
		}
		t, err := time.Parse(time.RFC3339, openedAt)
		if err != nil {
			return nil, &domain.PersistenceError{
				Op:  "storage.LoadPositions",
				Err: fmt.Errorf("position %s: opened_at: %w", p.ID, err),
			}
		}
		p.OpenedAt = t
		p.Direction = domain.Direction(dir)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "storage.LoadPositions", Err: err}
	}
	return positions, nil
}

// LastSequence returns the highest seq recorded for the trading day of day.
func (s *SQLiteStore) LastSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM trades WHERE trade_day = ?`,
		day.In(s.loc).Format(dayLayout),
	).Scan(&seq)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "storage.LastSequence", Err: err}
	}
	return seq, nil
}

// GetTrades returns trades closed in [from, to], in close order.
func (s *SQLiteStore) GetTrades(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE closed_at BETWEEN ? AND ?
		ORDER BY closed_at, seq`, utc(from), utc(to))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "storage.GetTrades: query", Err: err}
	}
	return scanTrades(rows, "storage.GetTrades")
}

// TradesForDay returns the trades of the trading day containing day.
func (s *SQLiteStore) TradesForDay(ctx context.Context, day time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE trade_day = ?
		ORDER BY seq`, day.In(s.loc).Format(dayLayout))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "storage.TradesForDay: query", Err: err}
	}
	return scanTrades(rows, "storage.TradesForDay")
}

const tradeColumns = `seq, closed_at, symbol, buy_price, quantity, entry_price,
		       stop_loss, target, sold_price, pnl, reason`

func scanTrades(rows *sql.Rows, op string) ([]domain.TradeRecord, error) {
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var closedAt, reason string
		if err := rows.Scan(&r.Seq, &closedAt, &r.Symbol, &r.BuyPrice, &r.Quantity,
			&r.EntryPrice, &r.StopLoss, &r.Target, &r.SoldPrice, &r.PnL, &reason); err != nil {
			return nil, &domain.PersistenceError{Op: op + ": scan", Err: err}
		}
		t, err := time.Parse(time.RFC3339, closedAt)
		if err != nil {
			return nil, &domain.PersistenceError{
				Op:  op,
				Err: fmt.Errorf("trade %d: closed_at: %w", r.Seq, err),
			}
		}
		r.ClosedAt = t
		r.Reason = domain.ExitReason(reason)
		trades = append(trades, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: op, Err: err}
	}
	return trades, nil
}

// GetTradeStats aggregates the whole ledger per trading day.
func (s *SQLiteStore) GetTradeStats(ctx context.Context) (domain.TradeStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_day,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0),
		       COALESCE(MAX(pnl), 0),
		       COALESCE(MIN(pnl), 0)
		FROM trades
		GROUP BY trade_day
		ORDER BY trade_day`)
	if err != nil {
		return domain.TradeStats{}, &domain.PersistenceError{Op: "storage.GetTradeStats: query", Err: err}
	}
	defer rows.Close()

	var stats domain.TradeStats
	for rows.Next() {
		var d domain.DailyTradeSummary
		var day string
		if err := rows.Scan(&day, &d.Trades, &d.Wins, &d.Losses, &d.PnL, &d.Best, &d.Worst); err != nil {
			return domain.TradeStats{}, &domain.PersistenceError{Op: "storage.GetTradeStats: scan", Err: err}
		}
		date, err := time.ParseInLocation(dayLayout, day, s.loc)
		if err != nil {
			return domain.TradeStats{}, &domain.PersistenceError{
				Op:  "storage.GetTradeStats",
				Err: fmt.Errorf("trade_day %q: %w", day, err),
			}
		}
		d.Date = date

		stats.Dailies = append(stats.Dailies, d)
		stats.TotalTrades += d.Trades
		stats.Wins += d.Wins
		stats.Losses += d.Losses
		stats.TotalPnL += d.PnL
	}
	if err := rows.Err(); err != nil {
		return domain.TradeStats{}, &domain.PersistenceError{Op: "storage.GetTradeStats", Err: err}
	}
	return stats, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// utc renders t in a fixed-width form so string comparison orders by time.
func utc(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
