package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/signal-trader/internal/config"
	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/execution"
	"github.com/kirillm/signal-trader/pkg/utils"
)

const exchangeHTTPTimeout = 10 * time.Second

// buildAccounts создает торговые интерфейсы аккаунтов. У каждого аккаунта свой
// лимит запросов. Gate подключается запасным источником цены.
func buildAccounts(cfg config.ExchangeConfig, list []config.AccountConfig, logger *utils.Logger) []*execution.Account {
	if logger == nil {
		logger = utils.Nop()
	}
	retryCfg := exchange.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.Attempts = cfg.RetryAttempts
	}
	if cfg.RetryMinDelay > 0 {
		retryCfg.MinDelay = cfg.RetryMinDelay
	}
	if cfg.RetryFactor > 1 {
		retryCfg.Factor = cfg.RetryFactor
	}
	retryCfg.RPS = cfg.RPS

	accounts := make([]*execution.Account, 0, len(list))
	for _, ac := range list {
		log := logger.With("account", ac.Name)
		retry := exchange.NewRetrier(retryCfg, log)

		binance := exchange.NewBinance(ac.Name, exchange.BinanceConfig{
			APIKey:      ac.APIKey,
			APISecret:   ac.APISecret,
			Testnet:     ac.Testnet,
			BaseURL:     ac.BaseURL,
			HTTPTimeout: exchangeHTTPTimeout,
		}, retry, log)

		var prices exchange.PriceSource = binance
		if cfg.GateFallback {
			prices = execution.NewPriceFailover(binance, log, exchange.NewGatePrices("", exchangeHTTPTimeout, retry))
		}

		var trading exchange.Trading = binance
		if ac.IsPaper() {
			trading = exchange.NewPaper(ac.Name, ac.PaperBalance, prices, domain.MarketRules{})
		}

		accounts = append(accounts, &execution.Account{
			Name:    ac.Name,
			Trading: trading,
			Prices:  prices,
			Sizing: execution.Sizing{
				Mode:        ac.Sizing.Mode,
				RiskPercent: ac.Sizing.RiskPercent,
				FixedMargin: ac.Sizing.FixedMargin,
				MaxSize:     ac.Sizing.MaxSize,
			},
			Leverage: ac.Leverage,
			Enabled:  ac.IsEnabled(),
			DryRun:   ac.IsPaper(),
		})
		log.Info("🔌 Account configured", "exchange", ac.Exchange, "paper", ac.IsPaper(), "enabled", ac.IsEnabled(), "leverage", ac.Leverage)
	}
	return accounts
}

// enabledAccounts аккаунты, на которых исполняются сигналы
func enabledAccounts(all []*execution.Account) []*execution.Account {
	out := make([]*execution.Account, 0, len(all))
	for _, a := range all {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// balanceLookup баланс аккаунта по имени для сброса риска
func balanceLookup(all []*execution.Account) func(ctx context.Context, account string) (float64, error) {
	byName := make(map[string]*execution.Account, len(all))
	for _, a := range all {
		byName[a.Name] = a
	}
	return func(ctx context.Context, account string) (float64, error) {
		a, ok := byName[account]
		if !ok {
			return 0, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, account)
		}
		return a.Trading.GetBalance(ctx, domain.QuoteCurrency)
	}
}
