package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/logring"
	"github.com/alejandrodnm/papertrader/internal/risk"
	"github.com/alejandrodnm/papertrader/internal/tokenpool"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	pool, err := tokenpool.New([]string{tokenA}, 0)
	require.NoError(t, err)
	rm := risk.NewManager(risk.DefaultConfig(), risk.DayBoundary{Location: ist})

	noUnderlyings := testConfig()
	noUnderlyings.Underlyings = nil
	_, err = New(noUnderlyings, pool, newMockMarket(), rm, &mockStore{})
	assert.ErrorIs(t, err, domain.ErrConfig)

	emptyWindow := testConfig()
	emptyWindow.ExitBy = emptyWindow.EntryAfter
	_, err = New(emptyWindow, pool, newMockMarket(), rm, &mockStore{})
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "10:15")
}

func TestNew_AppliesDefaults(t *testing.T) {
	h := newHarness(t, at(11, 0), func(c *Config) {
		c.PollInterval = time.Second
		c.Lots = 0
		c.CandidateCap = -1
		c.OptionPrice = "bogus"
	})

	cfg := h.engine.cfg
	assert.Equal(t, MinPollInterval, cfg.PollInterval)
	assert.Equal(t, 1, cfg.Lots)
	assert.Equal(t, DefaultCandidateCap, cfg.CandidateCap)
	assert.Equal(t, DefaultLogTail, cfg.LogTail)
	assert.Equal(t, PriceLTP, cfg.OptionPrice)
}

func TestEngine_StartStopWait(t *testing.T) {
	h := newHarness(t, at(9, 0))

	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Start(context.Background()), "second start is a no-op")
	assert.True(t, h.engine.Running())

	require.Eventually(t, func() bool {
		return !h.engine.Snapshot().LastCycleAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	h.engine.Stop()
	h.engine.Stop()
	require.NoError(t, h.engine.Wait())
	assert.False(t, h.engine.Running())
	assert.False(t, h.engine.Snapshot().Running)
}

func TestEngine_StopBeforeStart(t *testing.T) {
	h := newHarness(t, at(9, 0))
	h.engine.Stop()
	assert.NoError(t, h.engine.Wait())
	assert.False(t, h.engine.Running())
}

func TestEngine_ContextCancelStopsLoop(t *testing.T) {
	h := newHarness(t, at(9, 0))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.engine.Start(ctx))
	cancel()

	require.NoError(t, h.engine.Wait())
	assert.False(t, h.engine.Running())
}

func TestEngine_RestartAfterStop(t *testing.T) {
	h := newHarness(t, at(9, 0))
	h.store.loaded = []domain.Position{openPos()}

	require.NoError(t, h.engine.Start(context.Background()))
	h.engine.Stop()
	require.NoError(t, h.engine.Wait())

	// A second start does not reload the snapshot over live state.
	h.store.loadErr = errors.New("must not be called")
	require.NoError(t, h.engine.Start(context.Background()))
	h.engine.Stop()
	require.NoError(t, h.engine.Wait())
}

func TestEngine_FatalErrorEndsLoop(t *testing.T) {
	h := newHarness(t, at(11, 0))
	h.store.loaded = []domain.Position{openPos()}
	h.store.writeErr = &domain.PersistenceError{Op: "write positions", Err: errors.New("disk full")}
	h.market.options["NSE_NIFTY24200CE"] = []float64{105}

	require.NoError(t, h.engine.Start(context.Background()))

	err := h.engine.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, h.engine.Running())
}

func TestEngine_StartFailsWhenRestoreFails(t *testing.T) {
	h := newHarness(t, at(9, 0))
	h.store.loadErr = &domain.PersistenceError{Op: "load positions", Err: errors.New("corrupt")}

	err := h.engine.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
	assert.False(t, h.engine.Running())
}

func TestEngine_StartFailsWhenLedgerUnreadable(t *testing.T) {
	h := newHarness(t, at(11, 0))
	h.store.ledgerErr = &domain.PersistenceError{Op: "read ledger", Err: errors.New("bad row")}

	err := h.engine.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row")
	assert.False(t, h.engine.Running())
}

func TestEngine_RestoreKeepsOldest(t *testing.T) {
	h := newHarness(t, at(9, 0))
	first := openPos()
	first.MaxPriceSeen = 0
	second := openPos()
	second.ID = "pos-2"
	second.Symbol = "NIFTY24300CE"
	h.store.loaded = []domain.Position{first, second}

	require.NoError(t, h.engine.restore(context.Background()))

	pos, open := h.engine.openPosition()
	require.True(t, open)
	assert.Equal(t, "pos-1", pos.ID)
	assert.InDelta(t, 100.0, pos.MaxPriceSeen, 1e-9, "raised to the entry price")
}

func TestEngine_SnapshotIsACopy(t *testing.T) {
	h := newHarness(t, at(11, 0))
	h.restore(t, openPos())
	h.market.options["NSE_NIFTY24200CE"] = []float64{105}
	h.runCycles(t, 1)

	snap := h.engine.Snapshot()
	require.Len(t, snap.Positions, 1)
	snap.Positions[0].StopLoss = 1
	snap.Prices["NIFTY24200CE"] = 1

	again := h.engine.Snapshot()
	assert.InDelta(t, 90.0, again.Positions[0].StopLoss, 1e-9)
	assert.InDelta(t, 105.0, again.Prices["NIFTY24200CE"], 1e-9)
	assert.InDelta(t, 250.0, again.UnrealizedPnL, 1e-9)
}

func TestEngine_SnapshotMasksActiveToken(t *testing.T) {
	h := newHarness(t, at(11, 0))
	assert.Equal(t, "-", h.engine.Snapshot().ActiveToken)

	h.market.spots["NSE_NIFTY"] = []float64{24000}
	h.runCycles(t, 1)

	snap := h.engine.Snapshot()
	assert.Equal(t, "toke...1111", snap.ActiveToken)
	assert.NotNil(t, snap.Logs)
	assert.NotNil(t, snap.Positions)
}

func TestEngine_SnapshotTailsLogRing(t *testing.T) {
	ring := logring.NewRing(10)
	for _, line := range []string{"one", "two", "three"} {
		ring.Add(line)
	}
	pool, err := tokenpool.New([]string{tokenA}, 0)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.LogTail = 2

	e, err := New(cfg, pool, newMockMarket(), risk.NewManager(risk.DefaultConfig(), risk.DayBoundary{Location: ist}),
		&mockStore{}, WithLogRing(ring))
	require.NoError(t, err)

	assert.Equal(t, []string{"two", "three"}, e.Snapshot().Logs)
}

func TestEngine_Statuses(t *testing.T) {
	h := newHarness(t, at(11, 0))
	h.pool.MarkFailed(tokenB, "revoked")

	statuses := h.engine.Statuses()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Active)
	assert.False(t, statuses[1].Active)
	assert.Equal(t, "revoked", statuses[1].LastError)
}

func TestValidateTokens(t *testing.T) {
	h := newHarness(t, at(9, 0))
	h.market.spots["NSE_NIFTY"] = []float64{24000}
	h.market.badTokens[tokenB] = &domain.CredentialError{Token: tokenB, Status: 403, Reason: "no market data scope"}

	checks := h.engine.ValidateTokens(context.Background())

	require.Len(t, checks, 2)
	assert.True(t, checks[0].OK)
	assert.Equal(t, "toke...1111", checks[0].Token)
	assert.False(t, checks[1].OK)
	assert.Equal(t, "toke...2222", checks[1].Token)
	assert.Contains(t, checks[1].Message, "no market data scope")
	assert.NotContains(t, checks[1].Message, tokenB)

	statuses := h.pool.Statuses()
	assert.True(t, statuses[0].Active)
	assert.False(t, statuses[1].Active)
}

func TestValidateTokens_SkipsInactiveAndKeepsTransient(t *testing.T) {
	h := newHarness(t, at(9, 0))
	h.pool.MarkFailed(tokenA, "revoked")
	h.market.symErrs["NSE_NIFTY"] = &domain.TransientDataError{Symbol: "NSE_NIFTY", Reason: "price is null"}

	checks := h.engine.ValidateTokens(context.Background())

	require.Len(t, checks, 2)
	assert.Equal(t, "inactive: revoked", checks[0].Message)
	assert.False(t, checks[1].OK)
	assert.Contains(t, checks[1].Message, "price is null")
	assert.Equal(t, 1, h.market.ltpCalls)
	assert.True(t, h.pool.Statuses()[1].Active)
}
