package storage

import "fmt"

// Drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config выбор хранилища журнала
type Config struct {
	Driver     string
	SQLitePath string
	Postgres   PostgresConfig
}

// Open открывает журнал по драйверу из конфигурации
func Open(cfg Config) (*Ledger, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresLedger(cfg.Postgres)
	case DriverSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = "signal-trader.db"
		}
		return NewSQLiteLedger(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
