package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/papertrader/config"
	"github.com/alejandrodnm/papertrader/internal/domain"
)

func TestReportRange(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) // 3 March in IST

	start, end, err := reportRange("", "", ist, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, ist), start)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, ist), end)

	start, end, err = reportRange("2026-02-27", "2026-03-02", ist, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 27, 0, 0, 0, 0, ist), start)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, ist), end)

	_, _, err = reportRange("02/27/2026", "", ist, now)
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, _, err = reportRange("2026-03-02", "2026-03-01", ist, now)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestSetupLogger_FeedsRing(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	ring := setupLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)

	slog.Info("engine: entry", "symbol", "NIFTY24200CE")
	slog.Warn("tokenpool: credential failed", "token", "abcd...wxyz")

	lines := ring.Tail(10)
	require.Len(t, lines, 2, "the ring keeps info even when the output level is warn")
	assert.Contains(t, lines[0], "engine: entry symbol=NIFTY24200CE")
	assert.NotContains(t, buf.String(), "engine: entry")
	assert.Contains(t, buf.String(), "tokenpool: credential failed")
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{
		Backend:       "csv",
		TradeLogDir:   filepath.Join(dir, "logs"),
		PortfolioPath: filepath.Join(dir, "portfolio.csv"),
		DSN:           ":memory:",
	}}

	store, reporter, err := openStore(cfg, time.UTC)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Nil(t, reporter)
	require.NoError(t, store.Close())

	cfg.Storage.Backend = "sqlite"
	store, reporter, err = openStore(cfg, time.UTC)
	require.NoError(t, err)
	assert.NotNil(t, reporter)
	require.NoError(t, store.Close())

	cfg.Storage.Backend = "parquet"
	_, _, err = openStore(cfg, time.UTC)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestCountFailed(t *testing.T) {
	assert.Equal(t, 1, countFailed([]domain.TokenCheck{{OK: true}, {OK: false}}))
	assert.Zero(t, countFailed(nil))
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["validate-tokens"])
	assert.True(t, names["report"])
}
