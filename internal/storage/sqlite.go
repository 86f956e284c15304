package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kirillm/signal-trader/internal/storage/repository"
)

// NewSQLiteLedger открывает журнал в файле SQLite и применяет миграции
func NewSQLiteLedger(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	// один писатель, иначе SQLITE_BUSY под нагрузкой
	db.SetMaxOpenConns(1)

	return newLedger(repository.NewDB(db, repository.SQLite))
}
