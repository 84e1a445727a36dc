package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/risk"
	"github.com/alejandrodnm/papertrader/internal/tokenpool"
)

const (
	tokenA = "tokenAAAA1111"
	tokenB = "tokenBBBB2222"
)

var ist = time.FixedZone("IST", 5*3600+1800)

var nifty = domain.Underlying{
	Symbol:   "NSE_NIFTY",
	Name:     "NIFTY",
	Exchange: "NSE",
	LotSize:  50,
	Expiry:   domain.ExpiryWeekly,
}

// --- market ---

type mockMarket struct {
	mu        sync.Mutex
	spots     map[string][]float64 // keyed by LTP symbol, consumed in order; the last value repeats
	options   map[string][]float64 // keyed by LTP key or raw symbol for quotes
	expiries  []string
	contracts []domain.Contract
	badTokens map[string]error
	symErrs   map[string]error

	ltpCalls      int
	quoteCalls    int
	expiryCalls   int
	contractCalls int
	tokensUsed    []string
}

func newMockMarket() *mockMarket {
	return &mockMarket{
		spots:     map[string][]float64{},
		options:   map[string][]float64{},
		expiries:  []string{"2026-03-05", "2026-03-12", "2026-03-26"},
		contracts: chain("NIFTY", "2026-03-05", 24000, 24100, 24200, 24300),
		badTokens: map[string]error{},
		symErrs:   map[string]error{},
	}
}

func (m *mockMarket) next(series map[string][]float64, key string) (float64, bool) {
	s, ok := series[key]
	if !ok || len(s) == 0 {
		return 0, false
	}
	p := s[0]
	if len(s) > 1 {
		series[key] = s[1:]
	}
	return p, true
}

func (m *mockMarket) LTP(_ context.Context, token string, _ domain.Segment, symbols []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ltpCalls++
	m.tokensUsed = append(m.tokensUsed, token)

	if err := m.badTokens[token]; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if err := m.symErrs[sym]; err != nil {
			return nil, err
		}
		if p, ok := m.next(m.spots, sym); ok {
			out[sym] = p
			continue
		}
		if p, ok := m.next(m.options, sym); ok {
			out[sym] = p
		}
	}
	return out, nil
}

func (m *mockMarket) Quote(_ context.Context, token, _ string, _ domain.Segment, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCalls++
	m.tokensUsed = append(m.tokensUsed, token)

	if err := m.badTokens[token]; err != nil {
		return 0, err
	}
	p, ok := m.next(m.options, symbol)
	if !ok {
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: "no quote"}
	}
	return p, nil
}

func (m *mockMarket) Expiries(_ context.Context, token, _, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiryCalls++
	m.tokensUsed = append(m.tokensUsed, token)
	if err := m.badTokens[token]; err != nil {
		return nil, err
	}
	return m.expiries, nil
}

func (m *mockMarket) Contracts(_ context.Context, token, _, _, _ string) ([]domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contractCalls++
	m.tokensUsed = append(m.tokensUsed, token)
	if err := m.badTokens[token]; err != nil {
		return nil, err
	}
	return m.contracts, nil
}

func (m *mockMarket) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ltpCalls + m.quoteCalls + m.expiryCalls + m.contractCalls
}

// chain builds a CE and a PE contract for every strike.
func chain(name, expiry string, strikes ...float64) []domain.Contract {
	out := make([]domain.Contract, 0, 2*len(strikes))
	for _, k := range strikes {
		for _, typ := range []domain.OptionType{domain.OptionCall, domain.OptionPut} {
			out = append(out, domain.Contract{
				Symbol:     name + strconv.Itoa(int(k)) + string(typ),
				Underlying: name,
				Strike:     k,
				Type:       typ,
				Expiry:     expiry,
			})
		}
	}
	return out
}

// --- store ---

type mockStore struct {
	mu        sync.Mutex
	trades    []domain.TradeRecord
	writes    [][]domain.Position
	loaded    []domain.Position
	history   []domain.TradeRecord // ledger read back by TradesForDay
	lastSeq   int
	seqCalls  int
	writeErr  error
	appendErr error
	loadErr   error
	ledgerErr error
}

func (s *mockStore) AppendTrade(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.trades = append(s.trades, rec)
	return nil
}

func (s *mockStore) WritePositions(_ context.Context, positions []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	cp := make([]domain.Position, len(positions))
	copy(cp, positions)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *mockStore) LoadPositions(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded, s.loadErr
}

func (s *mockStore) LastSequence(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqCalls++
	return s.lastSeq, nil
}

func (s *mockStore) TradesForDay(_ context.Context, day time.Time) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerErr != nil {
		return nil, s.ledgerErr
	}
	want := day.In(ist).Format(isoDate)
	var out []domain.TradeRecord
	for _, rec := range s.history {
		if rec.ClosedAt.In(ist).Format(isoDate) == want {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *mockStore) Close() error { return nil }

func (s *mockStore) lastWrite() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return nil
	}
	return s.writes[len(s.writes)-1]
}

func (s *mockStore) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

// --- clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// at returns 2026-03-02 (a Monday) at hh:mm IST.
func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, ist)
}

// --- harness ---

type harness struct {
	engine *Engine
	market *mockMarket
	store  *mockStore
	pool   *tokenpool.Pool
	risk   *risk.Manager
	clock  *fakeClock
}

func testConfig() Config {
	return Config{
		PollInterval: MinPollInterval,
		Lots:         1,
		EntryAfter:   10*time.Hour + 15*time.Minute,
		ExitBy:       15*time.Hour + 20*time.Minute,
		Location:     ist,
		Underlyings:  []domain.Underlying{nifty},
	}
}

func newHarness(t *testing.T, now time.Time, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := newFakeClock(now)
	pool, err := tokenpool.New([]string{tokenA, tokenB}, 0, tokenpool.WithClock(clock.Now))
	require.NoError(t, err)

	rm := risk.NewManager(risk.DefaultConfig(), risk.DayBoundary{Location: ist, Offset: 9*time.Hour + 15*time.Minute})
	market := newMockMarket()
	store := &mockStore{}

	e, err := New(cfg, pool, market, rm, store, WithClock(clock.Now))
	require.NoError(t, err)

	return &harness{engine: e, market: market, store: store, pool: pool, risk: rm, clock: clock}
}

// rising returns n spot prices climbing by 10 from start.
func rising(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i*10)
	}
	return out
}

// openPos is the position most exit tests start from: entry 100, stop 90,
// a target far enough away not to interfere.
func openPos() domain.Position {
	return domain.Position{
		ID:           "pos-1",
		Symbol:       "NIFTY24200CE",
		Underlying:   "NIFTY",
		Quantity:     50,
		EntryPrice:   100,
		StopLoss:     90,
		Target:       200,
		OpenedAt:     at(10, 30),
		Direction:    domain.DirectionUp,
		MaxPriceSeen: 100,
	}
}

// restore starts from pos as if it had been persisted, without launching
// the loop.
func (h *harness) restore(t *testing.T, pos domain.Position) {
	t.Helper()
	h.store.loaded = []domain.Position{pos}
	require.NoError(t, h.engine.restore(context.Background()))
}

func (h *harness) runCycles(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.engine.RunOnce(context.Background()), fmt.Sprintf("cycle %d", i+1))
	}
}
