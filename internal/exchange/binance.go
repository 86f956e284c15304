package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// BinanceConfig параметры подключения к USDT-M фьючерсам
type BinanceConfig struct {
	APIKey      string
	APISecret   string
	Testnet     bool
	BaseURL     string
	HTTPTimeout time.Duration
}

// Binance реализация Trading для Binance USDT-M
type Binance struct {
	name   string
	client *futures.Client
	retry  *Retrier
	logger *utils.Logger

	mu    sync.RWMutex
	rules map[string]domain.MarketRules
}

// NewBinance создает клиента аккаунта
func NewBinance(name string, cfg BinanceConfig, retry *Retrier, logger *utils.Logger) *Binance {
	client := binance.NewFuturesClient(cfg.APIKey, cfg.APISecret)
	switch {
	case cfg.BaseURL != "":
		client.SetApiEndpoint(strings.TrimRight(cfg.BaseURL, "/"))
	case cfg.Testnet:
		client.SetApiEndpoint(futures.BaseApiTestnetUrl)
	default:
		client.SetApiEndpoint(futures.BaseApiMainUrl)
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}

	if retry == nil {
		retry = NewRetrier(DefaultRetryConfig(), logger)
	}
	if logger == nil {
		logger = utils.Nop()
	}
	return &Binance{
		name:   name,
		client: client,
		retry:  retry,
		logger: logger.With("account", name, "exchange", "binance"),
		rules:  make(map[string]domain.MarketRules),
	}
}

// Name имя аккаунта
func (b *Binance) Name() string { return b.name }

// GetPrice последняя цена
func (b *Binance) GetPrice(ctx context.Context, symbol string) (float64, error) {
	sym := BinanceSymbol(symbol)
	prices, err := retryValue(ctx, b.retry, "price "+sym, func(ctx context.Context) ([]*futures.SymbolPrice, error) {
		return b.client.NewListPricesService().Symbol(sym).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, sym, err)
	}
	for _, p := range prices {
		if p == nil || p.Symbol != sym {
			continue
		}
		v, perr := strconv.ParseFloat(p.Price, 64)
		if perr == nil && v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: no price for %s", domain.ErrPriceUnavailable, sym)
}

// GetBalance доступный баланс в валюте маржи
func (b *Binance) GetBalance(ctx context.Context, currency string) (float64, error) {
	acc, err := retryValue(ctx, b.retry, "account", func(ctx context.Context) (*futures.Account, error) {
		return b.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return 0, err
	}
	for _, a := range acc.Assets {
		if a == nil || !strings.EqualFold(a.Asset, currency) {
			continue
		}
		return strconv.ParseFloat(a.AvailableBalance, 64)
	}
	return 0, fmt.Errorf("%w: asset %s", domain.ErrNotFound, currency)
}

// GetPosition текущая позиция по символу
func (b *Binance) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	sym := BinanceSymbol(symbol)
	risks, err := retryValue(ctx, b.retry, "position "+sym, func(ctx context.Context) ([]*futures.PositionRisk, error) {
		return b.client.NewGetPositionRiskService().Symbol(sym).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		side := domain.SideLong
		if amt < 0 || r.PositionSide == string(futures.PositionSideTypeShort) {
			side = domain.SideShort
		}
		return &domain.Position{Contracts: math.Abs(amt), Side: side, EntryPrice: entry}, nil
	}
	return nil, nil
}

// PlaceMarketOrder рыночный ордер
func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol, side string, amount float64, reduceOnly bool) (*domain.OrderHandle, error) {
	rules, _ := b.MarketRules(ctx, symbol)
	sym := BinanceSymbol(symbol)
	qty := FormatStep(amount, rules.StepSize)
	cid := clientOrderID()

	return submitOnce(ctx, b.retry, "market "+sym, b.lookupOrder(sym, cid, amount), func(ctx context.Context) (*domain.OrderHandle, error) {
		svc := b.client.NewCreateOrderService().
			Symbol(sym).
			Side(orderSide(side)).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			NewClientOrderID(cid)
		if reduceOnly {
			svc = svc.ReduceOnly(true)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		return handleFromResponse(res, amount), nil
	})
}

// PlaceLimitOrder лимитный GTC ордер
func (b *Binance) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price float64, reduceOnly bool) (*domain.OrderHandle, error) {
	rules, _ := b.MarketRules(ctx, symbol)
	sym := BinanceSymbol(symbol)
	qty := FormatStep(amount, rules.StepSize)
	px := FormatStep(RoundToTick(price, rules.TickSize), rules.TickSize)
	cid := clientOrderID()

	h, err := submitOnce(ctx, b.retry, "limit "+sym, b.lookupOrder(sym, cid, amount), func(ctx context.Context) (*domain.OrderHandle, error) {
		svc := b.client.NewCreateOrderService().
			Symbol(sym).
			Side(orderSide(side)).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(qty).
			Price(px).
			NewClientOrderID(cid)
		if reduceOnly {
			svc = svc.ReduceOnly(true)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		return handleFromResponse(res, amount), nil
	})
	if err != nil {
		return nil, err
	}
	if h.Price == 0 {
		h.Price = price
	}
	return h, nil
}

// lookupOrder ищет обычный ордер по client id
func (b *Binance) lookupOrder(sym, cid string, amount float64) func(ctx context.Context) (*domain.OrderHandle, error) {
	return func(ctx context.Context) (*domain.OrderHandle, error) {
		o, err := b.client.NewGetOrderService().Symbol(sym).OrigClientOrderID(cid).Do(ctx)
		if err != nil {
			return nil, err
		}
		b.logger.Warn("♻️ Order already on exchange, not resending", "symbol", sym, "client_id", cid, "order_id", o.OrderID)
		return handleFromOrder(o, amount), nil
	}
}

// PlaceTakeProfitOrder reduce-only лимитный ордер на цели
func (b *Binance) PlaceTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64) (*domain.OrderHandle, error) {
	return b.PlaceLimitOrder(ctx, symbol, side, amount, price, true)
}

// stopShape одна форма параметров условного стоп-ордера
type stopShape struct {
	name  string
	build func(svc *futures.CreateAlgoOrderService) *futures.CreateAlgoOrderService
}

// PlaceStopLossOrder ставит условный STOP_MARKET через algo-ордера. Биржа принимает
// разные формы в зависимости от режима позиций, поэтому формы перебираются по порядку.
// К следующей форме переходим только после явного отказа: при неизвестном исходе
// второй стоп не ставится.
func (b *Binance) PlaceStopLossOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (*domain.OrderHandle, error) {
	sym := BinanceSymbol(symbol)
	rules, _ := b.MarketRules(ctx, symbol)
	qty := FormatStep(amount, rules.StepSize)
	stop := FormatStep(RoundToTick(stopPrice, rules.TickSize), rules.TickSize)

	positionSide := futures.PositionSideTypeLong
	if side == domain.OrderSideBuy {
		positionSide = futures.PositionSideTypeShort
	}

	shapes := []stopShape{
		{"hedge position side", func(svc *futures.CreateAlgoOrderService) *futures.CreateAlgoOrderService {
			return svc.PositionSide(positionSide).Quantity(qty)
		}},
		{"one-way reduce-only", func(svc *futures.CreateAlgoOrderService) *futures.CreateAlgoOrderService {
			return svc.ReduceOnly(true).Quantity(qty)
		}},
		{"corrected precision", func(svc *futures.CreateAlgoOrderService) *futures.CreateAlgoOrderService {
			fresh, err := b.refreshRules(ctx, symbol)
			if err != nil {
				fresh = rules
			}
			return svc.ReduceOnly(true).Quantity(FormatStep(NormalizeAmount(amount, fresh), fresh.StepSize))
		}},
		{"close position", func(svc *futures.CreateAlgoOrderService) *futures.CreateAlgoOrderService {
			return svc.ClosePosition(true)
		}},
	}

	var errs []error
	for i, shape := range shapes {
		cid := clientOrderID()
		h, err := submitOnce(ctx, b.retry, "stop "+sym, b.lookupAlgoOrder(cid, amount), func(ctx context.Context) (*domain.OrderHandle, error) {
			svc := b.client.NewCreateAlgoOrderService().
				Symbol(sym).
				Side(orderSide(side)).
				Type(futures.AlgoOrderTypeStopMarket).
				TriggerPrice(stop).
				WorkingType(futures.WorkingTypeMarkPrice).
				ClientAlgoId(cid)
			res, err := shape.build(svc).Do(ctx)
			if err != nil {
				return nil, err
			}
			return &domain.OrderHandle{
				OrderID: algoOrderID(res.AlgoId),
				Status:  normalizeAlgoStatus(res.AlgoStatus),
				Amount:  amount,
			}, nil
		})
		if err == nil {
			b.logger.Info("🛡️ stop-loss placed", "symbol", symbol, "stop", stop, "shape", shape.name, "attempt", i+1)
			h.Price = stopPrice
			return h, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", shape.name, err))
		if errors.Is(err, domain.ErrOrderStateUnknown) || ctx.Err() != nil {
			b.logger.Error("❌ stop-loss outcome unknown, not trying other shapes", "symbol", symbol, "shape", shape.name, "error", err)
			return nil, fmt.Errorf("stop-loss for %s: %w", sym, errors.Join(errs...))
		}
		b.logger.Warn("stop-loss attempt rejected", "symbol", symbol, "shape", shape.name, "attempt", i+1, "error", err)
	}
	return nil, fmt.Errorf("stop-loss for %s: all %d shapes rejected: %w", sym, len(shapes), errors.Join(errs...))
}

// lookupAlgoOrder ищет условный ордер по client id
func (b *Binance) lookupAlgoOrder(cid string, amount float64) func(ctx context.Context) (*domain.OrderHandle, error) {
	return func(ctx context.Context) (*domain.OrderHandle, error) {
		o, err := b.client.NewGetAlgoOrderService().ClientAlgoID(cid).Do(ctx)
		if err != nil {
			return nil, err
		}
		b.logger.Warn("♻️ Stop already on exchange, not resending", "client_id", cid, "algo_id", o.AlgoId)
		return &domain.OrderHandle{
			OrderID: algoOrderID(o.AlgoId),
			Status:  normalizeAlgoStatus(o.AlgoStatus),
			Amount:  amount,
		}, nil
	}
}

// FetchOrderStatus статус ордера
func (b *Binance) FetchOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderStatus, error) {
	sym := BinanceSymbol(symbol)
	if algoID, ok, err := parseAlgoOrderID(orderID); ok {
		if err != nil {
			return nil, err
		}
		o, err := retryValue(ctx, b.retry, "algo order "+sym, func(ctx context.Context) (*futures.GetAlgoOrderResp, error) {
			return b.client.NewGetAlgoOrderService().AlgoID(algoID).Do(ctx)
		})
		if err != nil {
			return nil, err
		}
		qty, _ := strconv.ParseFloat(o.Quantity, 64)
		st := &domain.OrderStatus{Status: normalizeAlgoStatus(o.AlgoStatus), Remaining: qty}
		if st.Status == domain.OrderStatusFilled {
			st.Filled, st.Remaining = qty, 0
		}
		return st, nil
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: order id %q", domain.ErrInvalidInput, orderID)
	}
	o, err := retryValue(ctx, b.retry, "order "+sym, func(ctx context.Context) (*futures.Order, error) {
		return b.client.NewGetOrderService().Symbol(sym).OrderID(id).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	orig, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	return &domain.OrderStatus{
		Status:    normalizeStatus(o.Status),
		Filled:    filled,
		Remaining: math.Max(orig-filled, 0),
	}, nil
}

// CancelOrder отменяет ордер
func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	sym := BinanceSymbol(symbol)
	if algoID, ok, err := parseAlgoOrderID(orderID); ok {
		if err != nil {
			return err
		}
		return b.retry.Do(ctx, "cancel algo "+sym, func(ctx context.Context) error {
			_, err := b.client.NewCancelAlgoOrderService().AlgoID(algoID).Do(ctx)
			return err
		})
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: order id %q", domain.ErrInvalidInput, orderID)
	}
	return b.retry.Do(ctx, "cancel "+sym, func(ctx context.Context) error {
		_, err := b.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx)
		return err
	})
}

// CancelReduceOnlyOrders отменяет все reduce-only ордера символа вместе с условными стопами
func (b *Binance) CancelReduceOnlyOrders(ctx context.Context, symbol string) (int, error) {
	sym := BinanceSymbol(symbol)
	orders, err := retryValue(ctx, b.retry, "open orders "+sym, func(ctx context.Context) ([]*futures.Order, error) {
		return b.client.NewListOpenOrdersService().Symbol(sym).Do(ctx)
	})
	if err != nil {
		return 0, err
	}
	canceled := 0
	for _, o := range orders {
		if o == nil || (!o.ReduceOnly && !o.ClosePosition) {
			continue
		}
		if err := b.CancelOrder(ctx, symbol, strconv.FormatInt(o.OrderID, 10)); err != nil {
			b.logger.Warn("cancel reduce-only order failed", "symbol", symbol, "order_id", o.OrderID, "error", err)
			continue
		}
		canceled++
	}

	stops, err := retryValue(ctx, b.retry, "open algo orders "+sym, func(ctx context.Context) ([]futures.GetAlgoOrderResp, error) {
		return b.client.NewListOpenAlgoOrdersService().Symbol(sym).Do(ctx)
	})
	if err != nil {
		return canceled, err
	}
	// условными ордерами ставятся только стопы, они всегда закрывающие
	for _, o := range stops {
		if err := b.CancelOrder(ctx, symbol, algoOrderID(o.AlgoId)); err != nil {
			b.logger.Warn("cancel stop order failed", "symbol", symbol, "algo_id", o.AlgoId, "error", err)
			continue
		}
		canceled++
	}
	return canceled, nil
}

// ClosePosition закрывает позицию рыночным reduce-only ордером
func (b *Binance) ClosePosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	if pos == nil || pos.Contracts <= 0 {
		return false, nil
	}
	if _, err := b.PlaceMarketOrder(ctx, symbol, pos.Side.ExitOrderSide(), pos.Contracts, true); err != nil {
		return false, err
	}
	return true, nil
}

// MarketRules правила инструмента из exchangeInfo, с кешем
func (b *Binance) MarketRules(ctx context.Context, symbol string) (domain.MarketRules, error) {
	sym := BinanceSymbol(symbol)
	b.mu.RLock()
	r, ok := b.rules[sym]
	b.mu.RUnlock()
	if ok {
		return r, nil
	}
	return b.refreshRules(ctx, symbol)
}

func (b *Binance) refreshRules(ctx context.Context, symbol string) (domain.MarketRules, error) {
	sym := BinanceSymbol(symbol)
	info, err := retryValue(ctx, b.retry, "exchange info", func(ctx context.Context) (*futures.ExchangeInfo, error) {
		return b.client.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return domain.MarketRules{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range info.Symbols {
		b.rules[s.Symbol] = rulesFromFilters(s.Filters)
	}
	r, ok := b.rules[sym]
	if !ok {
		return domain.MarketRules{}, fmt.Errorf("%w: unsupported symbol %s", domain.ErrPermanentExchange, sym)
	}
	return r, nil
}

// SetLeverage меняет плечо символа
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	sym := BinanceSymbol(symbol)
	return b.retry.Do(ctx, "leverage "+sym, func(ctx context.Context) error {
		_, err := b.client.NewChangeLeverageService().Symbol(sym).Leverage(leverage).Do(ctx)
		return err
	})
}

func rulesFromFilters(filters []map[string]interface{}) domain.MarketRules {
	var r domain.MarketRules
	for _, f := range filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			r.TickSize = filterFloat(f, "tickSize")
		case "LOT_SIZE":
			r.StepSize = filterFloat(f, "stepSize")
			r.MinQty = filterFloat(f, "minQty")
		case "MIN_NOTIONAL":
			r.MinNotional = filterFloat(f, "notional")
		}
	}
	return r
}

func filterFloat(f map[string]interface{}, key string) float64 {
	s, ok := f[key].(string)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func handleFromResponse(res *futures.CreateOrderResponse, amount float64) *domain.OrderHandle {
	h := &domain.OrderHandle{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Status:  normalizeStatus(res.Status),
		Amount:  amount,
	}
	if avg, err := strconv.ParseFloat(res.AvgPrice, 64); err == nil && avg > 0 {
		h.Price = avg
	} else if px, err := strconv.ParseFloat(res.Price, 64); err == nil && px > 0 {
		h.Price = px
	}
	if executed, err := strconv.ParseFloat(res.ExecutedQuantity, 64); err == nil && executed > 0 && h.Status == domain.OrderStatusFilled {
		h.Amount = executed
	}
	return h
}

func handleFromOrder(o *futures.Order, amount float64) *domain.OrderHandle {
	return handleFromResponse(&futures.CreateOrderResponse{
		OrderID:          o.OrderID,
		Status:           o.Status,
		Price:            o.Price,
		AvgPrice:         o.AvgPrice,
		ExecutedQuantity: o.ExecutedQuantity,
	}, amount)
}

// условные ордера живут в отдельном пространстве id
const algoIDPrefix = "algo:"

func algoOrderID(id int64) string {
	return algoIDPrefix + strconv.FormatInt(id, 10)
}

func parseAlgoOrderID(orderID string) (int64, bool, error) {
	raw, ok := strings.CutPrefix(orderID, algoIDPrefix)
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w: algo order id %q", domain.ErrInvalidInput, orderID)
	}
	return id, true, nil
}

func normalizeAlgoStatus(s futures.AlgoOrderStatusType) string {
	switch s {
	case futures.AlgoOrderStatusTypeCanceled, futures.AlgoOrderStatusTypeExpired:
		return domain.OrderStatusCanceled
	case futures.AlgoOrderStatusTypeRejected:
		return domain.OrderStatusRejected
	case "TRIGGERED", "FINISHED":
		return domain.OrderStatusFilled
	}
	return domain.OrderStatusOpen
}

func normalizeStatus(s futures.OrderStatusType) string {
	switch s {
	case futures.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return domain.OrderStatusCanceled
	case futures.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	}
	return domain.OrderStatusOpen
}

func orderSide(side string) futures.SideType {
	if side == domain.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func clientOrderID() string {
	return "st-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
