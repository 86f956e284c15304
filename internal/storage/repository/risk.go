package repository

import (
	"context"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
)

// RiskRepository журнал событий риск-менеджмента
type RiskRepository struct {
	db *DB
}

// NewRiskRepository создает новый репозиторий событий риска
func NewRiskRepository(db *DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// SaveEvent сохраняет событие
func (r *RiskRepository) SaveEvent(ctx context.Context, event *domain.RiskEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO risk_events (account, event_type, description, severity, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.queryRow(ctx, query,
		event.Account,
		event.Type,
		event.Description,
		event.Severity,
		event.CreatedAt,
	).Scan(&event.ID)
}

// GetRecent последние события аккаунта; пустой account означает все
func (r *RiskRepository) GetRecent(ctx context.Context, account string, limit int) ([]domain.RiskEvent, error) {
	query := `
		SELECT id, account, event_type, description, severity, created_at
		FROM risk_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	args := []interface{}{limit}
	if account != "" {
		query = `
			SELECT id, account, event_type, description, severity, created_at
			FROM risk_events
			WHERE account = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		args = []interface{}{account, limit}
	}

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RiskEvent
	for rows.Next() {
		var e domain.RiskEvent
		if err := rows.Scan(&e.ID, &e.Account, &e.Type, &e.Description, &e.Severity, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
