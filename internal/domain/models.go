package domain

import (
	"strings"
	"time"
)

// SignalKind тип торгового сигнала
type SignalKind string

// Side направление позиции
type Side string

// Opposite возвращает противоположное направление
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// EntryOrderSide сторона ордера на открытие
func (s Side) EntryOrderSide() string {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitOrderSide сторона reduce-only ордера на закрытие
func (s Side) ExitOrderSide() string {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// TradingSignal результат разбора одного сообщения
type TradingSignal struct {
	Kind        SignalKind
	Symbol      string
	EntryPrice  *float64
	StopLoss    *float64
	TakeProfits []float64
	Leverage    *int
	RawText     string
}

// Side возвращает направление для LONG/SHORT сигналов
func (s *TradingSignal) Side() Side {
	if s.Kind == KindShort {
		return SideShort
	}
	return SideLong
}

// IsOpen true для сигналов на открытие позиции
func (s *TradingSignal) IsOpen() bool {
	return s.Kind == KindLong || s.Kind == KindShort
}

// OrderPlan план исполнения одного сигнала
type OrderPlan struct {
	Kind                       SignalKind
	Symbol                     string
	Side                       Side
	EntryPrice                 *float64
	StopLoss                   *float64
	StopLossPercent            *float64
	TakeProfits                []float64
	TPPortions                 []float64
	Leverage                   *int
	TrailingStopPercent        *float64
	MoveToBreakeven            bool
	BreakevenTriggerPercent    float64
	StopTrailingAfterBreakeven bool
	// FirstTarget частичное закрытие по первой цели, даже если формулировка этого не говорит
	FirstTarget                bool
	RawText                    string
}

// PositionKey ключ позиции в реестре
type PositionKey struct {
	Account string
	Symbol  string
}

func (k PositionKey) String() string {
	return k.Account + ":" + k.Symbol
}

// PositionRecord открытая позиция одного аккаунта
type PositionRecord struct {
	Account                    string
	Symbol                     string
	Side                       Side
	EntryPrice                 float64
	PositionSize               float64
	StopLoss                   float64
	TakeProfits                []float64
	TPPortions                 []float64
	HighestPrice               float64
	LowestPrice                float64
	SLMovedToBreakeven         bool
	TrailingStopPercent        *float64
	MoveToBreakeven            bool
	BreakevenTriggerPercent    float64
	StopTrailingAfterBreakeven bool
	EntryTime                  time.Time
	Leverage                   *int
	LedgerTradeID              *int64
}

// Key возвращает ключ записи
func (p *PositionRecord) Key() PositionKey {
	return PositionKey{Account: p.Account, Symbol: p.Symbol}
}

// Clone возвращает глубокую копию записи
func (p *PositionRecord) Clone() *PositionRecord {
	c := *p
	c.TakeProfits = append([]float64(nil), p.TakeProfits...)
	c.TPPortions = append([]float64(nil), p.TPPortions...)
	return &c
}

// PnL реализованный результат при выходе по цене exit
func (p *PositionRecord) PnL(exit float64) float64 {
	return RealizedPnL(p.Side, p.EntryPrice, exit, p.PositionSize)
}

// RealizedPnL считает результат без повторного умножения на плечо: размер уже в контрактах
func RealizedPnL(side Side, entry, exit, size float64) float64 {
	if entry <= 0 || exit <= 0 || size <= 0 {
		return 0
	}
	diff := exit - entry
	if side == SideShort {
		diff = -diff
	}
	return diff * size
}

// AccountRiskState состояние риска одного аккаунта
type AccountRiskState struct {
	Account            string     `json:"account"`
	InitialBalance     float64    `json:"initial_balance"`
	CurrentBalance     float64    `json:"current_balance"`
	DailyPnL           float64    `json:"daily_pnl"`
	TotalPnL           float64    `json:"total_pnl"`
	ConsecutiveLosses  int        `json:"consecutive_losses"`
	ConsecutiveWins    int        `json:"consecutive_wins"`
	TotalTrades        int        `json:"total_trades"`
	WinningTrades      int        `json:"winning_trades"`
	LosingTrades       int        `json:"losing_trades"`
	TradingEnabled     bool       `json:"trading_enabled"`
	ManuallyDisabled   bool       `json:"manually_disabled"`
	CooldownUntil      *time.Time `json:"cooldown_until,omitempty"`
	LastResetDate      time.Time  `json:"last_reset_date"`
	OpenPositionsCount int        `json:"open_positions_count"`
}

// Position позиция, как ее видит биржа
type Position struct {
	Contracts  float64
	Side       Side
	EntryPrice float64
}

// OrderHandle нормализованный ответ биржи на размещение ордера
type OrderHandle struct {
	OrderID string
	Status  string
	Price   float64
	Amount  float64
}

// OrderStatus состояние ордера
type OrderStatus struct {
	Status    string
	Filled    float64
	Remaining float64
}

// IsTerminal true если ордер больше не изменится
func (s OrderStatus) IsTerminal() bool {
	switch strings.ToLower(s.Status) {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// MarketRules ограничения биржи по инструменту
type MarketRules struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// LedgerTrade сделка в журнале
type LedgerTrade struct {
	ID         int64      `json:"id"`
	Account    string     `json:"account"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	Quantity   float64    `json:"quantity"`
	Leverage   int        `json:"leverage"`
	StopLoss   float64    `json:"stop_loss"`
	Status     string     `json:"status"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	PnL        *float64   `json:"pnl,omitempty"`
	SignalText string     `json:"signal_text"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// LedgerOrder ордер в журнале
type LedgerOrder struct {
	ID        int64     `json:"id"`
	TradeID   *int64    `json:"trade_id,omitempty"`
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	OrderID   string    `json:"order_id"`
	Role      string    `json:"role"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RiskEvent событие риск-менеджмента
type RiskEvent struct {
	ID          int64     `json:"id"`
	Account     string    `json:"account"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyPnL дневная корзина результатов аккаунта
type DailyPnL struct {
	Account string    `json:"account"`
	Day     time.Time `json:"day"`
	PnL     float64   `json:"pnl"`
	Trades  int       `json:"trades"`
	Wins    int       `json:"wins"`
	Losses  int       `json:"losses"`
}
