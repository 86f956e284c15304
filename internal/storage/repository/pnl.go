package repository

import (
	"context"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
)

const dayLayout = "2006-01-02"

// PnLRepository дневные корзины результатов
type PnLRepository struct {
	db *DB
}

// NewPnLRepository создает новый репозиторий для PnL
func NewPnLRepository(db *DB) *PnLRepository {
	return &PnLRepository{db: db}
}

// SaveDaily записывает корзину дня целиком (upsert по account+day)
func (r *PnLRepository) SaveDaily(ctx context.Context, day *domain.DailyPnL) error {
	query := `
		INSERT INTO daily_pnl (account, day, pnl, trades, wins, losses, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account, day) DO UPDATE SET
			pnl = excluded.pnl,
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			updated_at = excluded.updated_at
	`
	_, err := r.db.exec(ctx, query,
		day.Account,
		day.Day.Format(dayLayout),
		day.PnL,
		day.Trades,
		day.Wins,
		day.Losses,
		time.Now(),
	)
	return err
}

// GetHistory корзины аккаунта за последние days дней, новые первыми
func (r *PnLRepository) GetHistory(ctx context.Context, account string, days int) ([]domain.DailyPnL, error) {
	query := `
		SELECT account, day, pnl, trades, wins, losses
		FROM daily_pnl
		WHERE account = $1
		ORDER BY day DESC
		LIMIT $2
	`
	rows, err := r.db.query(ctx, query, account, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.DailyPnL
	for rows.Next() {
		var (
			d   domain.DailyPnL
			day string
		)
		if err := rows.Scan(&d.Account, &day, &d.PnL, &d.Trades, &d.Wins, &d.Losses); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(dayLayout, day)
		if err != nil {
			return nil, err
		}
		d.Day = parsed
		history = append(history, d)
	}
	return history, rows.Err()
}
