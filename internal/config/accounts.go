package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/risk"
)

// Биржи аккаунтов
const (
	ExchangeBinance = "binance"
	ExchangePaper   = "paper"
)

// AccountConfig один торговый аккаунт из файла аккаунтов
type AccountConfig struct {
	Name         string       `yaml:"name"`
	Exchange     string       `yaml:"exchange"`
	APIKey       string       `yaml:"api_key"`
	APISecret    string       `yaml:"api_secret"`
	Testnet      bool         `yaml:"testnet"`
	BaseURL      string       `yaml:"base_url"`
	Enabled      *bool        `yaml:"enabled"`
	DryRun       bool         `yaml:"dry_run"`
	Leverage     int          `yaml:"leverage"`
	Sizing       SizingConfig `yaml:"sizing"`
	PaperBalance float64      `yaml:"paper_balance"`
	Risk         risk.Limits  `yaml:"risk"`
}

// SizingConfig режим расчета размера позиции
type SizingConfig struct {
	Mode        string  `yaml:"mode"`
	RiskPercent float64 `yaml:"risk_percent"`
	FixedMargin float64 `yaml:"fixed_margin"`
	MaxSize     float64 `yaml:"max_size"`
}

// IsEnabled аккаунт включен, если не выключен явно
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// IsPaper ордера не уходят на биржу
func (a AccountConfig) IsPaper() bool {
	return a.DryRun || a.Exchange == ExchangePaper
}

type accountsFile struct {
	Risk     risk.Limits     `yaml:"risk"`
	Accounts []AccountConfig `yaml:"accounts"`
}

// Accounts аккаунты и общие лимиты риска
type Accounts struct {
	Defaults risk.Limits
	List     []AccountConfig
}

// LoadAccounts читает YAML со списком аккаунтов. ${VAR} в файле заменяются из окружения.
func LoadAccounts(path string) (*Accounts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return ParseAccounts(raw)
}

// ParseAccounts разбирает содержимое файла аккаунтов
func ParseAccounts(raw []byte) (*Accounts, error) {
	var file accountsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	defaults := file.Risk.Merge(risk.DefaultLimits())
	out := &Accounts{Defaults: defaults}
	seen := make(map[string]bool)
	for i, a := range file.Accounts {
		a.Name = strings.TrimSpace(a.Name)
		a.Exchange = strings.ToLower(strings.TrimSpace(a.Exchange))
		if a.Exchange == "" {
			a.Exchange = ExchangeBinance
		}
		if a.Leverage == 0 {
			a.Leverage = 10
		}
		if a.Sizing.Mode == "" {
			a.Sizing.Mode = domain.SizingRiskPercent
		}
		if a.Sizing.Mode == domain.SizingRiskPercent && a.Sizing.RiskPercent == 0 {
			a.Sizing.RiskPercent = 1
		}
		if a.IsPaper() && a.PaperBalance == 0 {
			a.PaperBalance = 1000
		}
		a.Risk = a.Risk.Merge(defaults)

		if err := validateAccount(a); err != nil {
			return nil, fmt.Errorf("account #%d: %w", i+1, err)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("account #%d: duplicate name %q", i+1, a.Name)
		}
		seen[a.Name] = true
		out.List = append(out.List, a)
	}
	if len(out.List) == 0 {
		return nil, fmt.Errorf("accounts file has no accounts")
	}
	return out, nil
}

func validateAccount(a AccountConfig) error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch a.Exchange {
	case ExchangeBinance, ExchangePaper:
	default:
		return fmt.Errorf("%s: unsupported exchange %q", a.Name, a.Exchange)
	}
	if a.Exchange == ExchangeBinance && !a.DryRun && (a.APIKey == "" || a.APISecret == "") {
		return fmt.Errorf("%s: api_key and api_secret are required", a.Name)
	}
	if a.Leverage < 1 || a.Leverage > 125 {
		return fmt.Errorf("%s: leverage must be between 1 and 125", a.Name)
	}
	switch a.Sizing.Mode {
	case domain.SizingRiskPercent, domain.SizingRiskNotional:
		if a.Sizing.RiskPercent <= 0 || a.Sizing.RiskPercent > 100 {
			return fmt.Errorf("%s: risk_percent must be in (0, 100]", a.Name)
		}
	case domain.SizingFixedMargin:
		if a.Sizing.FixedMargin <= 0 {
			return fmt.Errorf("%s: fixed_margin must be positive", a.Name)
		}
	default:
		return fmt.Errorf("%s: unknown sizing mode %q", a.Name, a.Sizing.Mode)
	}
	if err := a.Risk.Validate(); err != nil {
		return fmt.Errorf("%s: %w", a.Name, err)
	}
	return nil
}
