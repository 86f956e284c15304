package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/risk"
)

// stubTrading биржа с одной ценой и позициями по символу
type stubTrading struct {
	mu        sync.Mutex
	price     map[string]float64
	priceErr  error
	positions map[string]*domain.Position
	closed    []string
	cancelled []string
}

func newStub() *stubTrading {
	return &stubTrading{price: make(map[string]float64), positions: make(map[string]*domain.Position)}
}

func (s *stubTrading) setPrice(symbol string, p float64) {
	s.mu.Lock()
	s.price[symbol] = p
	s.mu.Unlock()
}

func (s *stubTrading) Name() string { return "stub" }

func (s *stubTrading) GetPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priceErr != nil {
		return 0, s.priceErr
	}
	p, ok := s.price[symbol]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return p, nil
}

func (s *stubTrading) GetBalance(context.Context, string) (float64, error) { return 1000, nil }

func (s *stubTrading) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (s *stubTrading) PlaceMarketOrder(context.Context, string, string, float64, bool) (*domain.OrderHandle, error) {
	return &domain.OrderHandle{OrderID: "m"}, nil
}

func (s *stubTrading) PlaceLimitOrder(context.Context, string, string, float64, float64, bool) (*domain.OrderHandle, error) {
	return &domain.OrderHandle{OrderID: "l"}, nil
}

func (s *stubTrading) PlaceStopLossOrder(context.Context, string, string, float64, float64) (*domain.OrderHandle, error) {
	return &domain.OrderHandle{OrderID: "s"}, nil
}

func (s *stubTrading) PlaceTakeProfitOrder(context.Context, string, string, float64, float64) (*domain.OrderHandle, error) {
	return &domain.OrderHandle{OrderID: "t"}, nil
}

func (s *stubTrading) FetchOrderStatus(context.Context, string, string) (*domain.OrderStatus, error) {
	return &domain.OrderStatus{Status: domain.OrderStatusOpen}, nil
}

func (s *stubTrading) CancelOrder(context.Context, string, string) error { return nil }

func (s *stubTrading) CancelReduceOnlyOrders(_ context.Context, symbol string) (int, error) {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, symbol)
	s.mu.Unlock()
	return 1, nil
}

func (s *stubTrading) ClosePosition(_ context.Context, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, symbol)
	_, ok := s.positions[symbol]
	delete(s.positions, symbol)
	return ok, nil
}

func (s *stubTrading) MarketRules(context.Context, string) (domain.MarketRules, error) {
	return domain.MarketRules{}, nil
}

func (s *stubTrading) SetLeverage(context.Context, string, int) error { return nil }

var _ exchange.Trading = (*stubTrading)(nil)

type memLedger struct {
	mu     sync.Mutex
	closed map[int64]float64
	events []string
	open   []domain.LedgerTrade
}

func newMemLedger() *memLedger { return &memLedger{closed: make(map[int64]float64)} }

func (l *memLedger) RecordTrade(context.Context, *domain.LedgerTrade) (int64, error) { return 1, nil }

func (l *memLedger) CloseTrade(_ context.Context, id int64, _, pnl float64) error {
	l.mu.Lock()
	l.closed[id] = pnl
	l.mu.Unlock()
	return nil
}

func (l *memLedger) RecordOrder(context.Context, *domain.LedgerOrder) error { return nil }

func (l *memLedger) RecordRiskEvent(_ context.Context, _, eventType, _, _ string) error {
	l.mu.Lock()
	l.events = append(l.events, eventType)
	l.mu.Unlock()
	return nil
}

func (l *memLedger) SaveDailyPnL(context.Context, *domain.DailyPnL) error { return nil }

func (l *memLedger) RecentTrades(context.Context, string, int) ([]domain.LedgerTrade, error) {
	return nil, nil
}

func (l *memLedger) OpenTrades(context.Context) ([]domain.LedgerTrade, error) { return l.open, nil }

func (l *memLedger) RiskEvents(context.Context, string, int) ([]domain.RiskEvent, error) {
	return nil, nil
}

func pct(v float64) *float64 { return &v }

func longRecord() *domain.PositionRecord {
	id := int64(7)
	return &domain.PositionRecord{
		Account:       "main",
		Symbol:        "BTC/USDT",
		Side:          domain.SideLong,
		EntryPrice:    100,
		PositionSize:  2,
		StopLoss:      95,
		HighestPrice:  100,
		LowestPrice:   100,
		EntryTime:     time.Now().Add(-time.Hour),
		LedgerTradeID: &id,
	}
}

type fixture struct {
	mon      *Monitor
	registry *Registry
	ex       *stubTrading
	ledger   *memLedger
	risk     *risk.Manager
}

func newFixture() *fixture {
	registry := NewRegistry()
	ledger := newMemLedger()
	riskMgr := risk.NewManager(risk.DefaultLimits(), ledger, nil)
	mon := New(DefaultConfig(), registry, riskMgr, ledger, nil)
	ex := newStub()
	mon.AddAccount("main", ex, nil)
	return &fixture{mon: mon, registry: registry, ex: ex, ledger: ledger, risk: riskMgr}
}

func TestEvaluate_TrailingIsMonotonic(t *testing.T) {
	rec := longRecord()
	rec.TrailingStopPercent = pct(2)

	prev := rec.StopLoss
	for _, p := range []float64{100, 101, 103, 102, 105, 104, 110, 108, 111} {
		out := Evaluate(rec, p, 0.1)
		assert.GreaterOrEqual(t, out.Stop, prev, "price %v", p)
		assert.LessOrEqual(t, out.Stop, rec.HighestPrice*0.98+1e-9)
		assert.False(t, out.StopHit)
		prev = out.Stop
	}
	assert.InDelta(t, 111, rec.HighestPrice, 1e-9)
	assert.InDelta(t, 111*0.98, rec.StopLoss, 1e-9)
}

func TestEvaluate_TrailingShort(t *testing.T) {
	rec := longRecord()
	rec.Side = domain.SideShort
	rec.StopLoss = 105
	rec.TrailingStopPercent = pct(2)

	out := Evaluate(rec, 90, 0.1)
	assert.True(t, out.TrailingMoved)
	assert.InDelta(t, 91.8, out.Stop, 1e-9)

	// откат вверх не ослабляет стоп
	out = Evaluate(rec, 91, 0.1)
	assert.False(t, out.TrailingMoved)
	assert.InDelta(t, 91.8, out.Stop, 1e-9)
	assert.InDelta(t, 90, rec.LowestPrice, 1e-9)
}

func TestEvaluate_Breakeven(t *testing.T) {
	rec := longRecord()
	rec.MoveToBreakeven = true
	rec.BreakevenTriggerPercent = 1.5

	out := Evaluate(rec, 101, 0.1)
	assert.False(t, out.BreakevenSet)
	assert.InDelta(t, 95, out.Stop, 1e-9)

	out = Evaluate(rec, 101.6, 0.1)
	assert.True(t, out.BreakevenSet)
	assert.True(t, rec.SLMovedToBreakeven)
	assert.InDelta(t, 100.1, out.Stop, 1e-9)

	out = Evaluate(rec, 103, 0.1)
	assert.False(t, out.BreakevenSet, "breakeven fires once")
}

func TestEvaluate_BreakevenFreezesTrailing(t *testing.T) {
	rec := longRecord()
	rec.MoveToBreakeven = true
	rec.BreakevenTriggerPercent = 1
	rec.StopTrailingAfterBreakeven = true
	rec.TrailingStopPercent = pct(5)

	Evaluate(rec, 101.5, 0.1)
	require.True(t, rec.SLMovedToBreakeven)
	stop := rec.StopLoss

	out := Evaluate(rec, 130, 0.1)
	assert.False(t, out.TrailingMoved)
	assert.InDelta(t, stop, out.Stop, 1e-9)
}

func TestEvaluate_BreakevenNeverLoosens(t *testing.T) {
	rec := longRecord()
	rec.StopLoss = 101
	rec.MoveToBreakeven = true
	rec.BreakevenTriggerPercent = 1

	out := Evaluate(rec, 102, 0.1)
	assert.True(t, out.BreakevenSet)
	assert.InDelta(t, 101, out.Stop, 1e-9)
}

func TestEvaluate_StopCrossed(t *testing.T) {
	long := longRecord()
	assert.False(t, Evaluate(long, 95.01, 0.1).StopHit)
	assert.True(t, Evaluate(long, 95, 0.1).StopHit)

	short := longRecord()
	short.Side = domain.SideShort
	short.StopLoss = 105
	assert.False(t, Evaluate(short, 104.9, 0.1).StopHit)
	assert.True(t, Evaluate(short, 105.5, 0.1).StopHit)
}

func TestTick_StopOutClosesAndSettles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.registry.Register(longRecord())
	f.risk.RecordTrade(ctx, "main", 0, false)
	f.ex.positions["BTC/USDT"] = &domain.Position{Contracts: 2, Side: domain.SideLong, EntryPrice: 100}
	f.ex.setPrice("BTC/USDT", 94)

	f.mon.Tick(ctx)

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, []string{"BTC/USDT"}, f.ex.closed)
	assert.Equal(t, []string{"BTC/USDT"}, f.ex.cancelled)
	assert.InDelta(t, -12, f.ledger.closed[7], 1e-9)
	assert.Contains(t, f.ledger.events, domain.RiskEventStopOut)

	st := f.risk.State("main")
	assert.Equal(t, 0, st.OpenPositionsCount)
	assert.Equal(t, 1, st.ConsecutiveLosses)
}

func TestTick_FailureIsIsolatedPerPosition(t *testing.T) {
	f := newFixture()
	other := newStub()
	other.priceErr = errors.New("boom")
	f.mon.AddAccount("broken", other, nil)

	broken := longRecord()
	broken.Account = "broken"
	f.registry.Register(broken)

	rec := longRecord()
	rec.TrailingStopPercent = pct(2)
	f.registry.Register(rec)
	f.ex.setPrice("BTC/USDT", 110)

	f.mon.Tick(context.Background())

	got, ok := f.registry.Get(rec.Key())
	require.True(t, ok)
	assert.InDelta(t, 107.8, got.StopLoss, 1e-9)
	assert.True(t, f.registry.Has(broken.Key()))
}

func TestReconcile_RemovesClosedPositions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.registry.Register(longRecord())
	f.risk.RecordTrade(ctx, "main", 0, false)
	f.ex.setPrice("BTC/USDT", 110)

	f.mon.Reconcile(ctx)

	assert.Equal(t, 0, f.registry.Len())
	assert.InDelta(t, 20, f.ledger.closed[7], 1e-9)
	assert.Equal(t, 1, f.risk.State("main").WinningTrades)
}

func TestReconcile_SyncsSizeAndSkipsFreshEntries(t *testing.T) {
	f := newFixture()
	rec := longRecord()
	f.registry.Register(rec)
	f.ex.positions["BTC/USDT"] = &domain.Position{Contracts: 1.5, Side: domain.SideLong}

	fresh := longRecord()
	fresh.Symbol = "ETH/USDT"
	fresh.EntryTime = time.Now()
	f.registry.Register(fresh)

	f.mon.Reconcile(context.Background())

	got, _ := f.registry.Get(rec.Key())
	assert.InDelta(t, 1.5, got.PositionSize, 1e-9)
	assert.True(t, f.registry.Has(fresh.Key()), "grace period protects new entries")
}

func TestRestore_FromLedger(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ex.positions["BTC/USDT"] = &domain.Position{Contracts: 0.5, Side: domain.SideLong, EntryPrice: 100}
	f.ex.setPrice("ETH/USDT", 2100)

	trades := []domain.LedgerTrade{
		{ID: 1, Account: "main", Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Quantity: 1, Leverage: 10, OpenedAt: time.Now()},
		{ID: 2, Account: "main", Symbol: "ETH/USDT", Side: "long", EntryPrice: 2000, Quantity: 1, Leverage: 10},
		{ID: 3, Account: "ghost", Symbol: "XRP/USDT", Side: "short", EntryPrice: 1, Quantity: 1},
	}
	pol := policy.Default()

	n := f.mon.Restore(ctx, trades, pol)
	assert.Equal(t, 1, n)

	rec, ok := f.registry.Get(domain.PositionKey{Account: "main", Symbol: "BTC/USDT"})
	require.True(t, ok)
	assert.InDelta(t, 0.5, rec.PositionSize, 1e-9)
	assert.InDelta(t, 100*(1-pol.ProtectiveStopPercent/100), rec.StopLoss, 1e-9)
	require.NotNil(t, rec.LedgerTradeID)
	assert.Equal(t, int64(1), *rec.LedgerTradeID)
	assert.Equal(t, 1, f.risk.State("main").OpenPositionsCount)

	assert.InDelta(t, 100, f.ledger.closed[2], 1e-9, "stale trade closed at market")
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture()
	f.mon.cfg.Interval = 5 * time.Millisecond
	f.mon.cfg.ReconcileInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mon.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
