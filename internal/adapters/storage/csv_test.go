package storage_test

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/papertrader/internal/adapters/storage"
	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCSV(t *testing.T) (*storage.CSVStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewCSVStore(filepath.Join(dir, "paper_logs"), filepath.Join(dir, "data", "paper_portfolio.csv"), ist)
	require.NoError(t, err)
	return s, dir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVStore_LedgerHeaderOnFirstWrite(t *testing.T) {
	s, dir := newCSV(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 2, 11, 5, 9, 0, ist)
	require.NoError(t, s.AppendTrade(ctx, makeTrade(1, at, 500)))
	require.NoError(t, s.AppendTrade(ctx, makeTrade(2, at.Add(time.Minute), -250)))

	path := filepath.Join(dir, "paper_logs", "paper_trades_20260302.csv")
	assert.Equal(t, path, s.LedgerPath(at))

	rows := readCSV(t, path)
	require.Len(t, rows, 3, "header written once")
	assert.Equal(t, []string{
		"s.no", "time (IST)", "symbol", "buy price", "quantity", "entry price",
		"stop loss", "target", "sold price", "P&L after trade", "exit reason",
	}, rows[0])
	assert.Equal(t, []string{
		"1", "2026-03-02 11:05:09", "NSE-NIFTY-02Jan25-24000-CE", "100.00", "50",
		"100.00", "90.00", "120.00", "110.00", "500.00", "target",
	}, rows[1])
	assert.Equal(t, "-250.00", rows[2][9])
}

func TestCSVStore_LedgerHeaderNamesStoreZone(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewCSVStore(filepath.Join(dir, "logs"), filepath.Join(dir, "portfolio.csv"), time.UTC)
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 5, 35, 9, 0, ist)
	require.NoError(t, s.AppendTrade(context.Background(), makeTrade(1, at, 500)))

	rows := readCSV(t, s.LedgerPath(at))
	require.Len(t, rows, 2)
	assert.Equal(t, "time (UTC)", rows[0][1])
	assert.Equal(t, "2026-03-02 00:05:09", rows[1][1])
}

func TestCSVStore_TradesForDay(t *testing.T) {
	s, _ := newCSV(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 10, 30, 0, 0, ist)
	got, err := s.TradesForDay(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, got, "missing ledger")

	require.NoError(t, s.AppendTrade(ctx, makeTrade(1, day, -500)))
	require.NoError(t, s.AppendTrade(ctx, makeTrade(2, day.Add(30*time.Minute), 250)))
	require.NoError(t, s.AppendTrade(ctx, makeTrade(1, day.AddDate(0, 0, 1), 10)))

	got, err = s.TradesForDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Seq)
	assert.True(t, day.Equal(got[0].ClosedAt))
	assert.InDelta(t, -500.0, got[0].PnL, 1e-9)
	assert.Equal(t, 50, got[0].Quantity)
	assert.Equal(t, domain.ExitTarget, got[0].Reason)
	assert.InDelta(t, 250.0, got[1].PnL, 1e-9)
}

func TestCSVStore_TradesForDayCorruptRow(t *testing.T) {
	s, _ := newCSV(t)
	day := time.Date(2026, 3, 2, 10, 30, 0, 0, ist)
	require.NoError(t, os.WriteFile(s.LedgerPath(day),
		[]byte("s.no,time (IST),symbol,buy price,quantity,entry price,stop loss,target,sold price,P&L after trade,exit reason\n"+
			"1,yesterday,X,1,1,1,1,1,1,1,target\n"), 0o644))

	_, err := s.TradesForDay(context.Background(), day)
	var pe *domain.PersistenceError
	assert.True(t, errors.As(err, &pe))
}

func TestCSVStore_LedgerPartitionedByDay(t *testing.T) {
	s, dir := newCSV(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 2, 15, 0, 0, 0, ist)
	require.NoError(t, s.AppendTrade(ctx, makeTrade(1, day1, 10)))
	require.NoError(t, s.AppendTrade(ctx, makeTrade(1, day1.AddDate(0, 0, 1), 10)))

	for _, name := range []string{"paper_trades_20260302.csv", "paper_trades_20260303.csv"} {
		rows := readCSV(t, filepath.Join(dir, "paper_logs", name))
		assert.Len(t, rows, 2, name)
	}
}

func TestCSVStore_LastSequence(t *testing.T) {
	s, _ := newCSV(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 10, 30, 0, 0, ist)
	seq, err := s.LastSequence(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, seq, "missing ledger")

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendTrade(ctx, makeTrade(i, day.Add(time.Duration(i)*time.Minute), 10)))
	}
	seq, err = s.LastSequence(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 3, seq)
}

func TestCSVStore_PositionsRoundTrip(t *testing.T) {
	s, dir := newCSV(t)
	ctx := context.Background()

	opened := time.Date(2026, 3, 2, 10, 20, 0, 0, ist)
	pos := makePosition("6b3c", opened)
	require.NoError(t, s.WritePositions(ctx, []domain.Position{pos}))

	rows := readCSV(t, filepath.Join(dir, "data", "paper_portfolio.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"symbol", "quantity", "entry_price", "stop_loss", "target", "opened_at", "direction"}, rows[0][:7])

	got, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, opened.Equal(got[0].OpenedAt))
	got[0].OpenedAt = pos.OpenedAt
	assert.Equal(t, pos, got[0])
}

func TestCSVStore_WritePositionsOverwrites(t *testing.T) {
	s, dir := newCSV(t)
	ctx := context.Background()

	opened := time.Date(2026, 3, 2, 10, 20, 0, 0, ist)
	require.NoError(t, s.WritePositions(ctx, []domain.Position{makePosition("a", opened), makePosition("b", opened)}))
	require.NoError(t, s.WritePositions(ctx, nil))

	rows := readCSV(t, filepath.Join(dir, "data", "paper_portfolio.csv"))
	assert.Len(t, rows, 1, "only the header remains")

	got, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCSVStore_LoadPositionsMissingFile(t *testing.T) {
	s, _ := newCSV(t)

	got, err := s.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCSVStore_LoadPositionsLegacyColumns(t *testing.T) {
	s, dir := newCSV(t)

	path := filepath.Join(dir, "data", "paper_portfolio.csv")
	content := "symbol,quantity,entry_price,stop_loss,target,opened_at,direction\n" +
		"NSE-NIFTY-02Jan25-24000-PE,50,80,70,100,2026-03-02T10:20:00+05:30,down\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := s.LoadPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.DirectionDown, got[0].Direction)
	assert.InDelta(t, 80.0, got[0].MaxPriceSeen, 1e-9)
	assert.Empty(t, got[0].ID)
}

func TestCSVStore_CorruptPortfolioIsPersistenceError(t *testing.T) {
	s, dir := newCSV(t)

	path := filepath.Join(dir, "data", "paper_portfolio.csv")
	require.NoError(t, os.WriteFile(path, []byte("symbol,quantity\nX,notanumber,1,1,1,x,up\n"), 0o644))

	_, err := s.LoadPositions(context.Background())
	var pe *domain.PersistenceError
	assert.True(t, errors.As(err, &pe))
}

func TestCSVStore_AppendFailsWhenDirMissing(t *testing.T) {
	s, dir := newCSV(t)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "paper_logs")))

	err := s.AppendTrade(context.Background(), makeTrade(1, time.Now(), 1))
	var pe *domain.PersistenceError
	assert.True(t, errors.As(err, &pe))
}
