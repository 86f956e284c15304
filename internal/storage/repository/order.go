package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
)

// OrderRepository журнал ордеров
type OrderRepository struct {
	db *DB
}

// NewOrderRepository создает новый репозиторий ордеров
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Save сохраняет ордер
func (r *OrderRepository) Save(ctx context.Context, order *domain.LedgerOrder) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	var tradeID sql.NullInt64
	if order.TradeID != nil {
		tradeID = sql.NullInt64{Int64: *order.TradeID, Valid: true}
	}

	query := `
		INSERT INTO orders (trade_id, account, symbol, order_id, role, side, price, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	return r.db.queryRow(ctx, query,
		tradeID,
		order.Account,
		order.Symbol,
		order.OrderID,
		order.Role,
		order.Side,
		order.Price,
		order.Amount,
		order.Status,
		order.CreatedAt,
	).Scan(&order.ID)
}

// UpdateStatus меняет статус ордера по id биржи
func (r *OrderRepository) UpdateStatus(ctx context.Context, account, orderID, status string) error {
	query := `UPDATE orders SET status = $1 WHERE account = $2 AND order_id = $3`
	_, err := r.db.exec(ctx, query, status, account, orderID)
	return err
}

// GetByTrade ордера сделки в порядке создания
func (r *OrderRepository) GetByTrade(ctx context.Context, tradeID int64) ([]domain.LedgerOrder, error) {
	query := `
		SELECT id, trade_id, account, symbol, order_id, role, side, price, amount, status, created_at
		FROM orders
		WHERE trade_id = $1
		ORDER BY id
	`
	rows, err := r.db.query(ctx, query, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.LedgerOrder
	for rows.Next() {
		var (
			order domain.LedgerOrder
			tid   sql.NullInt64
		)
		err := rows.Scan(
			&order.ID,
			&tid,
			&order.Account,
			&order.Symbol,
			&order.OrderID,
			&order.Role,
			&order.Side,
			&order.Price,
			&order.Amount,
			&order.Status,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if tid.Valid {
			order.TradeID = &tid.Int64
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
