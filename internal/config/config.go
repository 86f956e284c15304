package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram  TelegramConfig
	Database  DatabaseConfig
	Exchange  ExchangeConfig
	Execution ExecutionConfig
	Monitor   MonitorConfig
	Dispatch  DispatchConfig

	AccountsFile  string
	PolicyFile    string
	PolicyProfile string
	APIPort       int
	APIToken      string
	LogLevel      string
}

type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
	SourceChats []int64
	AdminIDs    []int64
}

type DatabaseConfig struct {
	Driver          string
	SQLitePath      string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type ExchangeConfig struct {
	RetryAttempts int
	RetryMinDelay time.Duration
	RetryFactor   float64
	RPS           float64
	GateFallback  bool
}

type ExecutionConfig struct {
	FillWatchTimeout time.Duration
	FillWatchPoll    time.Duration
}

type MonitorConfig struct {
	Interval          time.Duration
	ReconcileInterval time.Duration
}

type DispatchConfig struct {
	ReplayWindow time.Duration
	ReplayLimit  int
	InferWindow  time.Duration
}

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv читает конфигурацию из переменных окружения
func FromEnv() (*Config, error) {
	var p parser

	cfg := &Config{
		Telegram: TelegramConfig{
			BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: p.asInt64("TELEGRAM_ADMIN_CHAT_ID", "0"),
			SourceChats: p.asInt64List("TELEGRAM_SOURCE_CHATS"),
			AdminIDs:    p.asInt64List("TELEGRAM_ADMIN_IDS"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			SQLitePath:      getEnv("SQLITE_PATH", "signal-trader.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            p.asInt("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "signal_trader"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    p.asInt("DB_MAX_OPEN_CONNS", "25"),
			MaxIdleConns:    p.asInt("DB_MAX_IDLE_CONNS", "5"),
			ConnMaxLifetime: p.asDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Exchange: ExchangeConfig{
			RetryAttempts: p.asInt("RETRY_ATTEMPTS", "3"),
			RetryMinDelay: p.asDuration("RETRY_MIN_DELAY", "500ms"),
			RetryFactor:   p.asFloat("RETRY_FACTOR", "1.8"),
			RPS:           p.asFloat("EXCHANGE_RPS", "10"),
			GateFallback:  p.asBool("GATE_FALLBACK", "true"),
		},
		Execution: ExecutionConfig{
			FillWatchTimeout: p.asDuration("FILL_WATCH_TIMEOUT", "2h"),
			FillWatchPoll:    p.asDuration("FILL_WATCH_POLL", "3s"),
		},
		Monitor: MonitorConfig{
			Interval:          p.asDuration("MONITOR_INTERVAL", "3s"),
			ReconcileInterval: p.asDuration("RECONCILE_INTERVAL", "5s"),
		},
		Dispatch: DispatchConfig{
			ReplayWindow: p.asDuration("REPLAY_WINDOW", "30m"),
			ReplayLimit:  p.asInt("REPLAY_LIMIT", "80"),
			InferWindow:  p.asDuration("INFER_WINDOW", "20m"),
		},
		AccountsFile:  getEnv("ACCOUNTS_FILE", "accounts.yaml"),
		PolicyFile:    getEnv("POLICY_FILE", ""),
		PolicyProfile: getEnv("POLICY_PROFILE", ""),
		APIPort:       p.asInt("API_PORT", "8080"),
		APIToken:      getEnv("API_TOKEN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if len(c.Telegram.SourceChats) == 0 {
		return fmt.Errorf("TELEGRAM_SOURCE_CHATS is required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.AccountsFile == "" {
		return fmt.Errorf("ACCOUNTS_FILE is required")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if c.Execution.FillWatchPoll <= 0 || c.Execution.FillWatchTimeout <= 0 {
		return fmt.Errorf("FILL_WATCH_POLL and FILL_WATCH_TIMEOUT must be positive")
	}
	if c.Exchange.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.APIPort)
	}
	return nil
}

// IsSourceChat true если сигналы из чата нужно исполнять
func (c *Config) IsSourceChat(chatID int64) bool {
	for _, id := range c.Telegram.SourceChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// parser запоминает первую ошибку разбора
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) asInt(key, def string) int {
	v, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) asInt64(key, def string) int64 {
	v, err := strconv.ParseInt(getEnv(key, def), 10, 64)
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) asFloat(key, def string) float64 {
	v, err := strconv.ParseFloat(getEnv(key, def), 64)
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) asBool(key, def string) bool {
	v, err := strconv.ParseBool(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

func (p *parser) asDuration(key, def string) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return v
}

// asInt64List "123,-100456" -> []int64
func (p *parser) asInt64List(key string) []int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			p.fail(key, err)
			return nil
		}
		out = append(out, v)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
