package storage

// csv.go: plain-file store. One ledger file per trading day, appended
// row by row, and one open-positions file rewritten in full on every write.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

const (
	ledgerTimeLayout   = "2006-01-02 15:04:05"
	positionTimeLayout = time.RFC3339
)

// ledgerHeader[1] is replaced by the store's zone, see CSVStore.header.
var ledgerHeader = []string{
	"s.no", "time", "symbol", "buy price", "quantity", "entry price",
	"stop loss", "target", "sold price", "P&L after trade", "exit reason",
}

var positionHeader = []string{
	"symbol", "quantity", "entry_price", "stop_loss", "target", "opened_at",
	"direction", "id", "underlying", "max_price_seen",
}

// CSVStore implements ports.PositionStore on delimited files.
type CSVStore struct {
	logDir        string
	portfolioPath string
	loc           *time.Location

	mu sync.Mutex
}

// NewCSVStore creates the ledger directory and the portfolio's parent
// directory. Ledger files are named by the close day in loc.
func NewCSVStore(logDir, portfolioPath string, loc *time.Location) (*CSVStore, error) {
	if loc == nil {
		loc = time.Local
	}
	for _, dir := range []string{logDir, filepath.Dir(portfolioPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &domain.PersistenceError{Op: "storage.NewCSVStore", Err: err}
		}
	}
	return &CSVStore{logDir: logDir, portfolioPath: portfolioPath, loc: loc}, nil
}

// LedgerPath returns the ledger file of the day containing t.
func (s *CSVStore) LedgerPath(t time.Time) string {
	return filepath.Join(s.logDir, "paper_trades_"+t.In(s.loc).Format("20060102")+".csv")
}

// AppendTrade appends rec to its day's ledger, writing the header first
// when the file is new.
func (s *CSVStore) AppendTrade(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.LedgerPath(rec.ClosedAt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &domain.PersistenceError{Op: "storage.AppendTrade: open", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &domain.PersistenceError{Op: "storage.AppendTrade: stat", Err: err}
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(s.header()); err != nil {
			return &domain.PersistenceError{Op: "storage.AppendTrade: header", Err: err}
		}
	}
	if err := w.Write([]string{
		strconv.Itoa(rec.Seq),
		rec.ClosedAt.In(s.loc).Format(ledgerTimeLayout),
		rec.Symbol,
		money(rec.BuyPrice),
		strconv.Itoa(rec.Quantity),
		money(rec.EntryPrice),
		money(rec.StopLoss),
		money(rec.Target),
		money(rec.SoldPrice),
		money(rec.PnL),
		string(rec.Reason),
	}); err != nil {
		return &domain.PersistenceError{Op: "storage.AppendTrade: write", Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &domain.PersistenceError{Op: "storage.AppendTrade: flush", Err: err}
	}
	return nil
}

// WritePositions replaces the portfolio file. The new content is written
// to a temp file and renamed over the old one.
func (s *CSVStore) WritePositions(_ context.Context, positions []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.portfolioPath), ".portfolio-*.csv")
	if err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: create", Err: err}
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	rows := [][]string{positionHeader}
	for _, p := range positions {
		rows = append(rows, []string{
			p.Symbol,
			strconv.Itoa(p.Quantity),
			fmtPrice(p.EntryPrice),
			fmtPrice(p.StopLoss),
			fmtPrice(p.Target),
			p.OpenedAt.Format(positionTimeLayout),
			string(p.Direction),
			p.ID,
			p.Underlying,
			fmtPrice(p.MaxPriceSeen),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return &domain.PersistenceError{Op: "storage.WritePositions: write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: close", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.portfolioPath); err != nil {
		return &domain.PersistenceError{Op: "storage.WritePositions: rename", Err: err}
	}
	return nil
}

// LoadPositions reads the portfolio file. A missing file means no positions.
func (s *CSVStore) LoadPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readRows(s.portfolioPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "storage.LoadPositions", Err: err}
	}

	var positions []domain.Position
	for i, row := range rows {
		p, err := parsePositionRow(row)
		if err != nil {
			return nil, &domain.PersistenceError{
				Op:  "storage.LoadPositions",
				Err: fmt.Errorf("row %d: %w", i+2, err),
			}
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// LastSequence returns the highest s.no in the ledger of day, 0 if the
// ledger does not exist yet.
func (s *CSVStore) LastSequence(_ context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readRows(s.LedgerPath(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, &domain.PersistenceError{Op: "storage.LastSequence", Err: err}
	}

	last := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if n, err := strconv.Atoi(row[0]); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}

// TradesForDay parses the ledger of day. A missing ledger means no trades.
func (s *CSVStore) TradesForDay(_ context.Context, day time.Time) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readRows(s.LedgerPath(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "storage.TradesForDay", Err: err}
	}

	trades := make([]domain.TradeRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := s.parseLedgerRow(row)
		if err != nil {
			return nil, &domain.PersistenceError{
				Op:  "storage.TradesForDay",
				Err: fmt.Errorf("row %d: %w", i+2, err),
			}
		}
		trades = append(trades, rec)
	}
	return trades, nil
}

// Close is a no-op: files are opened per write.
func (s *CSVStore) Close() error { return nil }

// readRows returns every row after the header.
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return r.ReadAll()
}

func parsePositionRow(row []string) (domain.Position, error) {
	if len(row) < 7 {
		return domain.Position{}, fmt.Errorf("want at least 7 columns, got %d", len(row))
	}
	qty, err := strconv.Atoi(row[1])
	if err != nil {
		return domain.Position{}, fmt.Errorf("quantity: %w", err)
	}
	var nums [3]float64
	for i := range nums {
		if nums[i], err = strconv.ParseFloat(row[2+i], 64); err != nil {
			return domain.Position{}, fmt.Errorf("column %s: %w", positionHeader[2+i], err)
		}
	}
	opened, err := time.Parse(positionTimeLayout, row[5])
	if err != nil {
		return domain.Position{}, fmt.Errorf("opened_at: %w", err)
	}

	p := domain.Position{
		Symbol:       row[0],
		Quantity:     qty,
		EntryPrice:   nums[0],
		StopLoss:     nums[1],
		Target:       nums[2],
		OpenedAt:     opened,
		Direction:    domain.Direction(row[6]),
		MaxPriceSeen: nums[0],
	}
	// Files written before the extra columns existed end at direction.
	if len(row) >= 10 {
		p.ID = row[7]
		p.Underlying = row[8]
		if v, err := strconv.ParseFloat(row[9], 64); err == nil && v > 0 {
			p.MaxPriceSeen = v
		}
	}
	return p, nil
}

// header labels the time column with the zone rows are written in.
func (s *CSVStore) header() []string {
	h := slices.Clone(ledgerHeader)
	h[1] = "time (" + s.loc.String() + ")"
	return h
}

func (s *CSVStore) parseLedgerRow(row []string) (domain.TradeRecord, error) {
	if len(row) < len(ledgerHeader) {
		return domain.TradeRecord{}, fmt.Errorf("want %d columns, got %d", len(ledgerHeader), len(row))
	}
	seq, err := strconv.Atoi(row[0])
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("s.no: %w", err)
	}
	closed, err := time.ParseInLocation(ledgerTimeLayout, row[1], s.loc)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("time: %w", err)
	}
	qty, err := strconv.Atoi(row[4])
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("quantity: %w", err)
	}
	// buy, entry, stop, target, sold, pnl
	cols := []int{3, 5, 6, 7, 8, 9}
	var nums [6]float64
	for i, c := range cols {
		if nums[i], err = strconv.ParseFloat(row[c], 64); err != nil {
			return domain.TradeRecord{}, fmt.Errorf("column %s: %w", ledgerHeader[c], err)
		}
	}
	return domain.TradeRecord{
		Seq:        seq,
		ClosedAt:   closed,
		Symbol:     row[2],
		BuyPrice:   nums[0],
		Quantity:   qty,
		EntryPrice: nums[1],
		StopLoss:   nums[2],
		Target:     nums[3],
		SoldPrice:  nums[4],
		PnL:        nums[5],
		Reason:     domain.ExitReason(row[10]),
	}, nil
}

func money(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}

func fmtPrice(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
