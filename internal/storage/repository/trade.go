package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
)

// TradeRepository журнал сделок
type TradeRepository struct {
	db *DB
}

// NewTradeRepository создает новый репозиторий сделок
func NewTradeRepository(db *DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Save сохраняет открытую сделку и заполняет trade.ID
func (r *TradeRepository) Save(ctx context.Context, trade *domain.LedgerTrade) error {
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = time.Now()
	}
	if trade.Status == "" {
		trade.Status = domain.TradeStatusOpen
	}

	query := `
		INSERT INTO trades (account, symbol, side, entry_price, quantity, leverage, stop_loss, status, signal_text, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	return r.db.queryRow(ctx, query,
		trade.Account,
		trade.Symbol,
		trade.Side,
		trade.EntryPrice,
		trade.Quantity,
		trade.Leverage,
		trade.StopLoss,
		trade.Status,
		trade.SignalText,
		trade.OpenedAt,
	).Scan(&trade.ID)
}

// Close закрывает сделку с ценой выхода и результатом
func (r *TradeRepository) Close(ctx context.Context, tradeID int64, exitPrice, pnl float64, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET status = $1, exit_price = $2, pnl = $3, closed_at = $4
		WHERE id = $5 AND status = $6
	`
	res, err := r.db.exec(ctx, query, domain.TradeStatusClosed, exitPrice, pnl, closedAt, tradeID, domain.TradeStatusOpen)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: open trade %d", domain.ErrNotFound, tradeID)
	}
	return nil
}

// Get сделка по id
func (r *TradeRepository) Get(ctx context.Context, id int64) (*domain.LedgerTrade, error) {
	trades, err := r.queryTrades(ctx, selectTrades+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("%w: trade %d", domain.ErrNotFound, id)
	}
	return &trades[0], nil
}

// GetRecent последние сделки аккаунта; пустой account означает все аккаунты
func (r *TradeRepository) GetRecent(ctx context.Context, account string, limit int) ([]domain.LedgerTrade, error) {
	if account == "" {
		return r.queryTrades(ctx, selectTrades+` ORDER BY opened_at DESC, id DESC LIMIT $1`, limit)
	}
	return r.queryTrades(ctx, selectTrades+` WHERE account = $1 ORDER BY opened_at DESC, id DESC LIMIT $2`, account, limit)
}

// GetOpen все незакрытые сделки
func (r *TradeRepository) GetOpen(ctx context.Context) ([]domain.LedgerTrade, error) {
	return r.queryTrades(ctx, selectTrades+` WHERE status = $1 ORDER BY opened_at, id`, domain.TradeStatusOpen)
}

const selectTrades = `
	SELECT id, account, symbol, side, entry_price, quantity, leverage, stop_loss, status,
	       exit_price, pnl, COALESCE(signal_text, ''), opened_at, closed_at
	FROM trades`

// queryTrades выполняет запрос и возвращает список сделок
func (r *TradeRepository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]domain.LedgerTrade, error) {
	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.LedgerTrade
	for rows.Next() {
		var (
			trade     domain.LedgerTrade
			exitPrice sql.NullFloat64
			pnl       sql.NullFloat64
			closedAt  sql.NullTime
		)
		err := rows.Scan(
			&trade.ID,
			&trade.Account,
			&trade.Symbol,
			&trade.Side,
			&trade.EntryPrice,
			&trade.Quantity,
			&trade.Leverage,
			&trade.StopLoss,
			&trade.Status,
			&exitPrice,
			&pnl,
			&trade.SignalText,
			&trade.OpenedAt,
			&closedAt,
		)
		if err != nil {
			return nil, err
		}
		if exitPrice.Valid {
			trade.ExitPrice = &exitPrice.Float64
		}
		if pnl.Valid {
			trade.PnL = &pnl.Float64
		}
		if closedAt.Valid {
			trade.ClosedAt = &closedAt.Time
		}
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}

// IsNotFound true для ошибок отсутствия записи
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
