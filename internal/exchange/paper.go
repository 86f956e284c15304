package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kirillm/signal-trader/internal/domain"
)

type paperOrder struct {
	id         string
	symbol     string
	side       string
	kind       string // limit, stop
	amount     float64
	price      float64
	reduceOnly bool
	status     string
	filled     float64
	seq        int
}

type paperPosition struct {
	contracts float64
	side      domain.Side
	entry     float64
}

// Paper бумажный счет: рыночные ордера исполняются по цене источника,
// лимитные и стоп-ордера при пересечении цены во время следующего опроса.
type Paper struct {
	name   string
	prices PriceSource
	rules  domain.MarketRules

	mu        sync.Mutex
	balance   float64
	leverage  map[string]int
	positions map[string]*paperPosition
	orders    map[string]*paperOrder
	seq       int
}

// NewPaper создает бумажный счет с начальным балансом
func NewPaper(name string, balance float64, prices PriceSource, rules domain.MarketRules) *Paper {
	return &Paper{
		name:      name,
		prices:    prices,
		rules:     rules,
		balance:   balance,
		leverage:  make(map[string]int),
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]*paperOrder),
	}
}

// Name имя аккаунта
func (p *Paper) Name() string { return p.name }

// GetPrice цена из источника
func (p *Paper) GetPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := p.prices.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
	}
	return price, nil
}

// GetBalance свободный баланс
func (p *Paper) GetBalance(_ context.Context, currency string) (float64, error) {
	if currency != domain.QuoteCurrency {
		return 0, fmt.Errorf("%w: asset %s", domain.ErrNotFound, currency)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// GetPosition позиция после сопоставления ожидающих ордеров
func (p *Paper) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	p.match(ctx, symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok || pos.contracts <= 0 {
		return nil, nil
	}
	return &domain.Position{Contracts: pos.contracts, Side: pos.side, EntryPrice: pos.entry}, nil
}

// PlaceMarketOrder исполняет ордер сразу
func (p *Paper) PlaceMarketOrder(ctx context.Context, symbol, side string, amount float64, reduceOnly bool) (*domain.OrderHandle, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount %v", domain.ErrInvalidInput, amount)
	}
	price, err := p.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkMarginLocked(symbol, side, amount, price, reduceOnly); err != nil {
		return nil, err
	}
	o := p.newOrderLocked(symbol, side, "market", amount, price, reduceOnly)
	filled := p.fillLocked(o, price)
	if filled <= 0 {
		o.status = domain.OrderStatusCanceled
		return nil, fmt.Errorf("%w: reduce-only order without position", domain.ErrNoPosition)
	}
	return &domain.OrderHandle{OrderID: o.id, Status: o.status, Price: price, Amount: filled}, nil
}

// PlaceLimitOrder ставит лимитный ордер; пересекающий ордер исполняется сразу
func (p *Paper) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price float64, reduceOnly bool) (*domain.OrderHandle, error) {
	if amount <= 0 || price <= 0 {
		return nil, fmt.Errorf("%w: amount %v price %v", domain.ErrInvalidInput, amount, price)
	}
	p.mu.Lock()
	if err := p.checkMarginLocked(symbol, side, amount, price, reduceOnly); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	o := p.newOrderLocked(symbol, side, "limit", amount, price, reduceOnly)
	p.mu.Unlock()

	p.match(ctx, symbol)

	p.mu.Lock()
	defer p.mu.Unlock()
	return &domain.OrderHandle{OrderID: o.id, Status: o.status, Price: price, Amount: amount}, nil
}

// PlaceStopLossOrder стоп-маркет, reduce-only
func (p *Paper) PlaceStopLossOrder(_ context.Context, symbol, side string, amount, stopPrice float64) (*domain.OrderHandle, error) {
	if amount <= 0 || stopPrice <= 0 {
		return nil, fmt.Errorf("%w: amount %v stop %v", domain.ErrInvalidInput, amount, stopPrice)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.newOrderLocked(symbol, side, "stop", amount, stopPrice, true)
	return &domain.OrderHandle{OrderID: o.id, Status: o.status, Price: stopPrice, Amount: amount}, nil
}

// PlaceTakeProfitOrder reduce-only лимит
func (p *Paper) PlaceTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64) (*domain.OrderHandle, error) {
	return p.PlaceLimitOrder(ctx, symbol, side, amount, price, true)
}

// FetchOrderStatus статус ордера после сопоставления
func (p *Paper) FetchOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderStatus, error) {
	p.match(ctx, symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return &domain.OrderStatus{Status: o.status, Filled: o.filled, Remaining: math.Max(o.amount-o.filled, 0)}, nil
}

// CancelOrder отменяет ордер
func (p *Paper) CancelOrder(_ context.Context, _, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if o.status == domain.OrderStatusOpen {
		o.status = domain.OrderStatusCanceled
	}
	return nil
}

// CancelReduceOnlyOrders отменяет ожидающие reduce-only ордера
func (p *Paper) CancelReduceOnlyOrders(_ context.Context, symbol string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, o := range p.orders {
		if o.symbol == symbol && o.reduceOnly && o.status == domain.OrderStatusOpen {
			o.status = domain.OrderStatusCanceled
			n++
		}
	}
	return n, nil
}

// ClosePosition закрывает позицию по рынку
func (p *Paper) ClosePosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := p.GetPosition(ctx, symbol)
	if err != nil || pos == nil {
		return false, err
	}
	if _, err := p.PlaceMarketOrder(ctx, symbol, pos.Side.ExitOrderSide(), pos.Contracts, true); err != nil {
		return false, err
	}
	return true, nil
}

// MarketRules одинаковые правила для всех символов
func (p *Paper) MarketRules(context.Context, string) (domain.MarketRules, error) {
	return p.rules, nil
}

// SetLeverage запоминает плечо для проверки маржи
func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("%w: leverage %d", domain.ErrInvalidInput, leverage)
	}
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return nil
}

// OpenOrders ожидающие ордера символа в порядке постановки
func (p *Paper) OpenOrders(symbol string) []domain.LedgerOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*paperOrder
	for _, o := range p.orders {
		if o.symbol == symbol && o.status == domain.OrderStatusOpen {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	res := make([]domain.LedgerOrder, 0, len(out))
	for _, o := range out {
		role := domain.OrderRoleEntry
		switch {
		case o.kind == "stop":
			role = domain.OrderRoleStopLoss
		case o.reduceOnly:
			role = domain.OrderRoleTakeProfit
		}
		res = append(res, domain.LedgerOrder{
			Symbol: o.symbol, OrderID: o.id, Role: role, Side: o.side,
			Price: o.price, Amount: o.amount, Status: o.status,
		})
	}
	return res
}

// match исполняет ожидающие ордера, которые пересекла текущая цена
func (p *Paper) match(ctx context.Context, symbol string) {
	price, err := p.prices.GetPrice(ctx, symbol)
	if err != nil || price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := make([]*paperOrder, 0)
	for _, o := range p.orders {
		if o.symbol == symbol && o.status == domain.OrderStatusOpen {
			pending = append(pending, o)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	for _, o := range pending {
		if !crossed(o, price) {
			continue
		}
		fillPrice := o.price
		if o.kind == "stop" {
			fillPrice = price
		}
		if p.fillLocked(o, fillPrice) <= 0 {
			o.status = domain.OrderStatusCanceled
		}
	}
}

func crossed(o *paperOrder, price float64) bool {
	switch o.kind {
	case "stop":
		if o.side == domain.OrderSideSell {
			return price <= o.price
		}
		return price >= o.price
	default:
		if o.side == domain.OrderSideSell {
			return price >= o.price
		}
		return price <= o.price
	}
}

func (p *Paper) newOrderLocked(symbol, side, kind string, amount, price float64, reduceOnly bool) *paperOrder {
	p.seq++
	o := &paperOrder{
		id:         uuid.NewString(),
		symbol:     symbol,
		side:       side,
		kind:       kind,
		amount:     amount,
		price:      price,
		reduceOnly: reduceOnly,
		status:     domain.OrderStatusOpen,
		seq:        p.seq,
	}
	p.orders[o.id] = o
	return o
}

func (p *Paper) checkMarginLocked(symbol, side string, amount, price float64, reduceOnly bool) error {
	if reduceOnly {
		return nil
	}
	if pos, ok := p.positions[symbol]; ok && pos.contracts > 0 && pos.side.ExitOrderSide() == side {
		return nil
	}
	lev := p.leverage[symbol]
	if lev <= 0 {
		lev = 1
	}
	if amount*price/float64(lev) > p.balance {
		return fmt.Errorf("%w: %w: need %.2f margin, have %.2f", domain.ErrPermanentExchange, domain.ErrInsufficientMargin, amount*price/float64(lev), p.balance)
	}
	return nil
}

// fillLocked применяет исполнение к позиции и возвращает исполненный объем
func (p *Paper) fillLocked(o *paperOrder, price float64) float64 {
	pos := p.positions[o.symbol]
	opening := domain.SideLong
	if o.side == domain.OrderSideSell {
		opening = domain.SideShort
	}

	amount := o.amount
	if pos != nil && pos.contracts > 0 && pos.side != opening {
		// уменьшение позиции
		if amount > pos.contracts {
			amount = pos.contracts
		}
		p.balance += domain.RealizedPnL(pos.side, pos.entry, price, amount)
		pos.contracts -= amount
		if pos.contracts <= 1e-12 {
			delete(p.positions, o.symbol)
		}
	} else {
		if o.reduceOnly {
			return 0
		}
		if pos == nil || pos.contracts <= 0 {
			pos = &paperPosition{side: opening}
			p.positions[o.symbol] = pos
		}
		total := pos.contracts + amount
		pos.entry = (pos.entry*pos.contracts + price*amount) / total
		pos.contracts = total
	}

	o.filled = amount
	o.status = domain.OrderStatusFilled
	return amount
}
