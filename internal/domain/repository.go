package domain

import "context"

// Ledger журнал сделок, ордеров и событий риска
type Ledger interface {
	RecordTrade(ctx context.Context, trade *LedgerTrade) (int64, error)
	CloseTrade(ctx context.Context, tradeID int64, exitPrice, pnl float64) error
	RecordOrder(ctx context.Context, order *LedgerOrder) error
	RecordRiskEvent(ctx context.Context, account, eventType, description, severity string) error
	SaveDailyPnL(ctx context.Context, bucket *DailyPnL) error

	RecentTrades(ctx context.Context, account string, limit int) ([]LedgerTrade, error)
	OpenTrades(ctx context.Context) ([]LedgerTrade, error)
	RiskEvents(ctx context.Context, account string, limit int) ([]RiskEvent, error)
}

// DailyStore сохранение дневных корзин PnL
type DailyStore interface {
	SaveDailyPnL(ctx context.Context, bucket *DailyPnL) error
}
