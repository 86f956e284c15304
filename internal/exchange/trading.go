// Package exchange содержит реализации торгового интерфейса: Binance USDT-M фьючерсы
// и бумажный счет для dry-run аккаунтов. Повторы и лимит запросов живут здесь же.
package exchange

import (
	"context"
	"strings"

	"github.com/kirillm/signal-trader/internal/domain"
)

// Trading торговый интерфейс одного аккаунта.
// side везде domain.OrderSideBuy или domain.OrderSideSell.
type Trading interface {
	Name() string

	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, currency string) (float64, error)
	// GetPosition возвращает nil без ошибки, если позиции нет
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	PlaceMarketOrder(ctx context.Context, symbol, side string, amount float64, reduceOnly bool) (*domain.OrderHandle, error)
	PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price float64, reduceOnly bool) (*domain.OrderHandle, error)
	PlaceStopLossOrder(ctx context.Context, symbol, side string, amount, stopPrice float64) (*domain.OrderHandle, error)
	PlaceTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64) (*domain.OrderHandle, error)

	FetchOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelReduceOnlyOrders(ctx context.Context, symbol string) (int, error)
	ClosePosition(ctx context.Context, symbol string) (bool, error)

	MarketRules(ctx context.Context, symbol string) (domain.MarketRules, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// PriceSource источник цены
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// SplitPair разбивает "BTC/USDT" на базу и котировку
func SplitPair(symbol string) (string, string) {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	if !ok {
		return base, domain.QuoteCurrency
	}
	return base, quote
}

// BinanceSymbol "BTC/USDT" -> "BTCUSDT"
func BinanceSymbol(symbol string) string {
	base, quote := SplitPair(symbol)
	return base + quote
}

// GateContract "BTC/USDT" -> "BTC_USDT"
func GateContract(symbol string) string {
	base, quote := SplitPair(symbol)
	return base + "_" + quote
}
