package domain

// Signal kinds
const (
	KindLong    SignalKind = "LONG"
	KindShort   SignalKind = "SHORT"
	KindClose   SignalKind = "CLOSE"
	KindUnknown SignalKind = "UNKNOWN"
)

// Position sides
const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Order sides on the exchange
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order statuses normalised across exchanges
const (
	OrderStatusOpen     = "open"
	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
	OrderStatusRejected = "rejected"
)

// Trade statuses in the ledger
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Order roles in the ledger
const (
	OrderRoleEntry      = "ENTRY"
	OrderRoleStopLoss   = "STOP_LOSS"
	OrderRoleTakeProfit = "TAKE_PROFIT"
	OrderRoleClose      = "CLOSE"
)

// Risk event types
const (
	RiskEventBlockedOpen   = "BLOCKED_OPEN"
	RiskEventCooldown      = "COOLDOWN"
	RiskEventLimitWarning  = "LIMIT_WARNING"
	RiskEventManualEnable  = "MANUAL_ENABLE"
	RiskEventManualDisable = "MANUAL_DISABLE"
	RiskEventManualReset   = "MANUAL_RESET"
	RiskEventStopOut       = "STOP_OUT"
	RiskEventPause         = "PAUSE"
	RiskEventResume        = "RESUME"
)

// AllAccounts имя аккаунта в событиях, относящихся ко всем аккаунтам
const AllAccounts = "*"

// Severities
const (
	SeverityInfo     = "INFO"
	SeverityWarn     = "WARN"
	SeverityCritical = "CRITICAL"
)

// Sizing modes
const (
	SizingRiskPercent  = "risk_percent"
	SizingFixedMargin  = "fixed_margin"
	SizingRiskNotional = "risk_notional"
)

// QuoteCurrency валюта маржи для всех фьючерсных счетов
const QuoteCurrency = "USDT"
