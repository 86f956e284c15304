package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/storage/repository"
)

// Ledger фасад журнала сделок поверх репозиториев. Реализует domain.Ledger.
type Ledger struct {
	db     *repository.DB
	trades *repository.TradeRepository
	orders *repository.OrderRepository
	risk   *repository.RiskRepository
	pnl    *repository.PnLRepository
}

var _ domain.Ledger = (*Ledger)(nil)

func newLedger(db *repository.DB) (*Ledger, error) {
	l := &Ledger{
		db:     db,
		trades: repository.NewTradeRepository(db),
		orders: repository.NewOrderRepository(db),
		risk:   repository.NewRiskRepository(db),
		pnl:    repository.NewPnLRepository(db),
	}

	// Запускаем миграции
	if err := l.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return l, nil
}

// Close закрывает соединение
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate(ctx context.Context) error {
	id, ts := "SERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if l.db.Dialect() == repository.SQLite {
		id, ts = "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	}
	r := strings.NewReplacer("{{ID}}", id, "{{TS}}", ts)

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id {{ID}},
			account VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			side VARCHAR(10) NOT NULL,
			entry_price DECIMAL(30, 12) NOT NULL,
			quantity DECIMAL(30, 12) NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			stop_loss DECIMAL(30, 12) NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL,
			exit_price DECIMAL(30, 12),
			pnl DECIMAL(30, 12),
			signal_text TEXT,
			opened_at {{TS}} NOT NULL,
			closed_at {{TS}}
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id {{ID}},
			trade_id BIGINT REFERENCES trades(id),
			account VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			order_id VARCHAR(100) NOT NULL,
			role VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			price DECIMAL(30, 12) NOT NULL DEFAULT 0,
			amount DECIMAL(30, 12) NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at {{TS}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id {{ID}},
			account VARCHAR(64) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			description TEXT NOT NULL,
			severity VARCHAR(10) NOT NULL,
			created_at {{TS}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_pnl (
			account VARCHAR(64) NOT NULL,
			day VARCHAR(10) NOT NULL,
			pnl DECIMAL(30, 12) NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			updated_at {{TS}} NOT NULL,
			PRIMARY KEY (account, day)
		)`,
		// Индексы
		`CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_trade_id ON orders(trade_id)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_account ON risk_events(account)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_created_at ON risk_events(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := l.db.ExecContext(ctx, r.Replace(migration)); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ==================== TRADES ====================

// RecordTrade сохраняет открытую сделку и возвращает ее id
func (l *Ledger) RecordTrade(ctx context.Context, trade *domain.LedgerTrade) (int64, error) {
	if err := l.trades.Save(ctx, trade); err != nil {
		return 0, fmt.Errorf("record trade %s/%s: %w", trade.Account, trade.Symbol, err)
	}
	return trade.ID, nil
}

// CloseTrade закрывает сделку
func (l *Ledger) CloseTrade(ctx context.Context, tradeID int64, exitPrice, pnl float64) error {
	if err := l.trades.Close(ctx, tradeID, exitPrice, pnl, time.Now()); err != nil {
		return fmt.Errorf("close trade %d: %w", tradeID, err)
	}
	return nil
}

// RecentTrades последние сделки
func (l *Ledger) RecentTrades(ctx context.Context, account string, limit int) ([]domain.LedgerTrade, error) {
	return l.trades.GetRecent(ctx, account, limit)
}

// OpenTrades незакрытые сделки
func (l *Ledger) OpenTrades(ctx context.Context) ([]domain.LedgerTrade, error) {
	return l.trades.GetOpen(ctx)
}

// Trade сделка по id
func (l *Ledger) Trade(ctx context.Context, id int64) (*domain.LedgerTrade, error) {
	return l.trades.Get(ctx, id)
}

// ==================== ORDERS ====================

// RecordOrder сохраняет ордер
func (l *Ledger) RecordOrder(ctx context.Context, order *domain.LedgerOrder) error {
	if err := l.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("record order %s: %w", order.OrderID, err)
	}
	return nil
}

// UpdateOrderStatus меняет статус ордера
func (l *Ledger) UpdateOrderStatus(ctx context.Context, account, orderID, status string) error {
	return l.orders.UpdateStatus(ctx, account, orderID, status)
}

// TradeOrders ордера сделки
func (l *Ledger) TradeOrders(ctx context.Context, tradeID int64) ([]domain.LedgerOrder, error) {
	return l.orders.GetByTrade(ctx, tradeID)
}

// ==================== RISK ====================

// RecordRiskEvent сохраняет событие риска
func (l *Ledger) RecordRiskEvent(ctx context.Context, account, eventType, description, severity string) error {
	event := &domain.RiskEvent{
		Account:     account,
		Type:        eventType,
		Description: description,
		Severity:    severity,
	}
	if err := l.risk.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("record risk event %s: %w", eventType, err)
	}
	return nil
}

// RiskEvents последние события риска
func (l *Ledger) RiskEvents(ctx context.Context, account string, limit int) ([]domain.RiskEvent, error) {
	return l.risk.GetRecent(ctx, account, limit)
}

// ==================== PNL ====================

// SaveDailyPnL записывает дневную корзину
func (l *Ledger) SaveDailyPnL(ctx context.Context, day *domain.DailyPnL) error {
	return l.pnl.SaveDaily(ctx, day)
}

// DailyPnL история дневных корзин
func (l *Ledger) DailyPnL(ctx context.Context, account string, days int) ([]domain.DailyPnL, error) {
	return l.pnl.GetHistory(ctx, account, days)
}
