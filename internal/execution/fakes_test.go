package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/risk"
)

type call struct {
	Method     string
	Side       string
	Amount     float64
	Price      float64
	ReduceOnly bool
	OrderID    string
}

// fakeTrading записывает все вызовы и держит одну позицию на символ
type fakeTrading struct {
	mu sync.Mutex

	name     string
	price    float64
	priceErr error
	balance  float64
	rules    domain.MarketRules

	positions      map[string]*domain.Position
	marginFailures int
	stopErr        error
	tpErr          error

	calls    []call
	statuses map[string]string
	open     map[string]bool
	seq      int
}

func newFakeTrading(name string, price, balance float64, rules domain.MarketRules) *fakeTrading {
	return &fakeTrading{
		name:      name,
		price:     price,
		balance:   balance,
		rules:     rules,
		positions: make(map[string]*domain.Position),
		statuses:  make(map[string]string),
		open:      make(map[string]bool),
	}
}

func (f *fakeTrading) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeTrading) record(c call) {
	f.calls = append(f.calls, c)
}

func (f *fakeTrading) callsOf(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTrading) setStatus(orderID, status string) {
	f.mu.Lock()
	f.statuses[orderID] = status
	f.mu.Unlock()
}

func (f *fakeTrading) setPosition(symbol string, pos *domain.Position) {
	f.mu.Lock()
	if pos == nil {
		delete(f.positions, symbol)
	} else {
		f.positions[symbol] = pos
	}
	f.mu.Unlock()
}

func (f *fakeTrading) Name() string { return f.name }

func (f *fakeTrading) GetPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeTrading) GetBalance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeTrading) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[symbol]
	if !ok {
		return nil, nil
	}
	c := *pos
	return &c, nil
}

func (f *fakeTrading) PlaceMarketOrder(_ context.Context, symbol, side string, amount float64, reduceOnly bool) (*domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Method: "market", Side: side, Amount: amount, ReduceOnly: reduceOnly})
	if !reduceOnly && f.marginFailures > 0 {
		f.marginFailures--
		return nil, fmt.Errorf("%w: %w: margin is insufficient", domain.ErrPermanentExchange, domain.ErrInsufficientMargin)
	}
	posSide := domain.SideLong
	if side == domain.OrderSideSell {
		posSide = domain.SideShort
	}
	f.positions[symbol] = &domain.Position{Contracts: amount, Side: posSide, EntryPrice: f.price}
	id := f.nextID("entry")
	f.statuses[id] = domain.OrderStatusFilled
	return &domain.OrderHandle{OrderID: id, Status: domain.OrderStatusFilled, Price: f.price, Amount: amount}, nil
}

func (f *fakeTrading) PlaceLimitOrder(_ context.Context, _, side string, amount, price float64, reduceOnly bool) (*domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("limit")
	f.record(call{Method: "limit", Side: side, Amount: amount, Price: price, ReduceOnly: reduceOnly, OrderID: id})
	f.statuses[id] = domain.OrderStatusOpen
	if reduceOnly {
		f.open[id] = true
	}
	return &domain.OrderHandle{OrderID: id, Status: domain.OrderStatusOpen, Price: price, Amount: amount}, nil
}

func (f *fakeTrading) PlaceStopLossOrder(_ context.Context, _, side string, amount, stopPrice float64) (*domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	id := f.nextID("stop")
	f.record(call{Method: "stop", Side: side, Amount: amount, Price: stopPrice, ReduceOnly: true, OrderID: id})
	f.statuses[id] = domain.OrderStatusOpen
	f.open[id] = true
	return &domain.OrderHandle{OrderID: id, Status: domain.OrderStatusOpen, Price: stopPrice, Amount: amount}, nil
}

func (f *fakeTrading) PlaceTakeProfitOrder(_ context.Context, _, side string, amount, price float64) (*domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tpErr != nil {
		return nil, f.tpErr
	}
	id := f.nextID("tp")
	f.record(call{Method: "tp", Side: side, Amount: amount, Price: price, ReduceOnly: true, OrderID: id})
	f.statuses[id] = domain.OrderStatusOpen
	f.open[id] = true
	return &domain.OrderHandle{OrderID: id, Status: domain.OrderStatusOpen, Price: price, Amount: amount}, nil
}

func (f *fakeTrading) FetchOrderStatus(_ context.Context, _, orderID string) (*domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.OrderStatus{Status: st}, nil
}

func (f *fakeTrading) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Method: "cancel", OrderID: orderID})
	delete(f.open, orderID)
	f.statuses[orderID] = domain.OrderStatusCanceled
	return nil
}

func (f *fakeTrading) CancelReduceOnlyOrders(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.open)
	for id := range f.open {
		f.statuses[id] = domain.OrderStatusCanceled
	}
	f.open = make(map[string]bool)
	f.record(call{Method: "cancel_reduce_only", Amount: float64(n)})
	return n, nil
}

func (f *fakeTrading) ClosePosition(_ context.Context, symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Method: "close"})
	if _, ok := f.positions[symbol]; !ok {
		return false, nil
	}
	delete(f.positions, symbol)
	return true, nil
}

func (f *fakeTrading) MarketRules(context.Context, string) (domain.MarketRules, error) {
	return f.rules, nil
}

func (f *fakeTrading) SetLeverage(context.Context, string, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Method: "leverage"})
	return nil
}

var _ exchange.Trading = (*fakeTrading)(nil)

// fakeLedger журнал в памяти
type fakeLedger struct {
	mu     sync.Mutex
	trades []domain.LedgerTrade
	orders []domain.LedgerOrder
	events []domain.RiskEvent
	closed map[int64]float64
	days   []domain.DailyPnL
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{closed: make(map[int64]float64)}
}

func (l *fakeLedger) RecordTrade(_ context.Context, t *domain.LedgerTrade) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.ID = int64(len(l.trades) + 1)
	l.trades = append(l.trades, *t)
	return t.ID, nil
}

func (l *fakeLedger) CloseTrade(_ context.Context, id int64, _, pnl float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed[id] = pnl
	return nil
}

func (l *fakeLedger) RecordOrder(_ context.Context, o *domain.LedgerOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = append(l.orders, *o)
	return nil
}

func (l *fakeLedger) RecordRiskEvent(_ context.Context, account, eventType, description, severity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, domain.RiskEvent{Account: account, Type: eventType, Description: description, Severity: severity})
	return nil
}

func (l *fakeLedger) SaveDailyPnL(_ context.Context, d *domain.DailyPnL) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.days = append(l.days, *d)
	return nil
}

func (l *fakeLedger) RecentTrades(context.Context, string, int) ([]domain.LedgerTrade, error) {
	return nil, nil
}

func (l *fakeLedger) OpenTrades(context.Context) ([]domain.LedgerTrade, error) { return nil, nil }

func (l *fakeLedger) RiskEvents(context.Context, string, int) ([]domain.RiskEvent, error) {
	return nil, nil
}

func (l *fakeLedger) eventTypes(account string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Account == account {
			out = append(out, e.Type)
		}
	}
	return out
}

func (l *fakeLedger) rolesFor(tradeID int64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, o := range l.orders {
		if o.TradeID != nil && *o.TradeID == tradeID {
			out = append(out, o.Role)
		}
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
}

type harness struct {
	orch     *Orchestrator
	risk     *risk.Manager
	registry *monitor.Registry
	ledger   *fakeLedger
	kill     *KillSwitch
	notes    *recordingNotifier
}

func newHarness() *harness {
	ledger := newFakeLedger()
	riskMgr := risk.NewManager(risk.DefaultLimits(), ledger, nil)
	registry := monitor.NewRegistry()
	kill := NewKillSwitch(ledger, nil)
	cfg := DefaultConfig()
	cfg.FillWatchPoll = 5 * time.Millisecond
	cfg.FillWatchTimeout = 2 * time.Second
	orch := New(cfg, policy.NewStore(policy.Default()), riskMgr, registry, ledger, kill, nil)
	notes := &recordingNotifier{}
	orch.SetNotifier(notes)
	return &harness{orch: orch, risk: riskMgr, registry: registry, ledger: ledger, kill: kill, notes: notes}
}

func riskAccount(name string, t exchange.Trading) *Account {
	return &Account{
		Name:     name,
		Trading:  t,
		Sizing:   Sizing{Mode: domain.SizingRiskPercent, RiskPercent: 1},
		Leverage: 10,
		Enabled:  true,
	}
}

var errBoom = errors.New("boom")
