// Package app собирает компоненты бота и управляет их жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillm/signal-trader/internal/admin"
	"github.com/kirillm/signal-trader/internal/api"
	"github.com/kirillm/signal-trader/internal/config"
	"github.com/kirillm/signal-trader/internal/dispatcher"
	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/execution"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/risk"
	"github.com/kirillm/signal-trader/internal/storage"
	"github.com/kirillm/signal-trader/internal/telegram"
	"github.com/kirillm/signal-trader/pkg/utils"
)

const warmUpTimeout = 10 * time.Second

// App собранный бот
type App struct {
	cfg      *config.Config
	logger   *utils.Logger
	ledger   *storage.Ledger
	policy   *policy.Store
	risk     *risk.Manager
	accounts []*execution.Account

	orch     *execution.Orchestrator
	monitor  *monitor.Monitor
	bot      *telegram.Bot
	notifier *telegram.Notifier
	api      *api.Server
}

// New подключается к Telegram по токену и собирает бота
func New(cfg *config.Config, accts *config.Accounts, logger *utils.Logger) (*App, error) {
	tg, err := telegram.Connect(cfg.Telegram.BotToken, logger)
	if err != nil {
		return nil, err
	}
	return NewWithAPI(cfg, accts, tg, logger)
}

// NewWithAPI собирает бота поверх готового клиента Telegram
func NewWithAPI(cfg *config.Config, accts *config.Accounts, tg telegram.API, logger *utils.Logger) (*App, error) {
	if logger == nil {
		logger = utils.Nop()
	}

	ledger, err := storage.Open(storage.Config{
		Driver:     cfg.Database.Driver,
		SQLitePath: cfg.Database.SQLitePath,
		Postgres: storage.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	pol, err := openPolicy(cfg)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	riskMgr := risk.NewManager(accts.Defaults, ledger, logger.With("component", "risk"))
	for _, ac := range accts.List {
		riskMgr.SetLimits(ac.Name, ac.Risk)
	}

	accounts := buildAccounts(cfg.Exchange, accts.List, logger)
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.Name)
	}

	registry := monitor.NewRegistry()
	kill := execution.NewKillSwitch(ledger, logger)

	execCfg := execution.DefaultConfig()
	execCfg.FillWatchPoll = cfg.Execution.FillWatchPoll
	execCfg.FillWatchTimeout = cfg.Execution.FillWatchTimeout
	orch := execution.New(execCfg, pol, riskMgr, registry, ledger, kill, logger.With("component", "execution"))

	monCfg := monitor.DefaultConfig()
	monCfg.Interval = cfg.Monitor.Interval
	monCfg.ReconcileInterval = cfg.Monitor.ReconcileInterval
	mon := monitor.New(monCfg, registry, riskMgr, ledger, logger.With("component", "monitor"))
	for _, a := range accounts {
		mon.AddAccount(a.Name, a.Trading, a.Prices)
	}

	dispCfg := dispatcher.DefaultConfig()
	dispCfg.InferWindow = cfg.Dispatch.InferWindow
	disp := dispatcher.New(dispCfg, pol, orch, func() []*execution.Account {
		return enabledAccounts(accounts)
	}, registry, logger.With("component", "dispatcher"))

	notifier := telegram.NewNotifier(tg, cfg.Telegram.AdminChatID, logger)
	orch.SetNotifier(notifier)
	mon.SetNotifier(notifier)

	svc := admin.New(riskMgr, registry, kill, ledger, balanceLookup(accounts), names)

	adminIDs := cfg.Telegram.AdminIDs
	if len(adminIDs) == 0 && cfg.Telegram.AdminChatID > 0 {
		adminIDs = []int64{cfg.Telegram.AdminChatID}
	}
	formatter := telegram.NewFormatter(telegram.LangRU)
	router := telegram.NewRouter(telegram.NewAuthManager(adminIDs, 2), formatter, logger.With("component", "commands"))
	telegram.NewHandlers(svc, formatter).Register(router)

	bot := telegram.NewBot(tg, telegram.Config{
		SourceChats:  cfg.Telegram.SourceChats,
		ReplayWindow: cfg.Dispatch.ReplayWindow,
		ReplayLimit:  cfg.Dispatch.ReplayLimit,
	}, disp, router, logger.With("component", "telegram"))

	return &App{
		cfg:      cfg,
		logger:   logger,
		ledger:   ledger,
		policy:   pol,
		risk:     riskMgr,
		accounts: accounts,
		orch:     orch,
		monitor:  mon,
		bot:      bot,
		notifier: notifier,
		api:      api.NewServer(logger.With("component", "api"), svc, cfg.APIPort, cfg.APIToken),
	}, nil
}

func openPolicy(cfg *config.Config) (*policy.Store, error) {
	if cfg.PolicyFile == "" {
		return policy.NewStore(policy.Default()), nil
	}
	store, err := policy.NewStoreFromFile(cfg.PolicyFile, cfg.PolicyProfile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return store, nil
}

// Run работает до отмены ctx. При остановке сначала перестает слушать чаты,
// дожидается начатых исполнений, затем гасит монитор, уведомления и API.
func (a *App) Run(ctx context.Context) error {
	defer a.ledger.Close()

	a.warmUp(ctx)

	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()
	group, gctx := errgroup.WithContext(bgCtx)

	group.Go(func() error { return a.monitor.Run(gctx) })
	group.Go(func() error { return a.notifier.Run(gctx) })
	group.Go(func() error { return a.api.Start(gctx) })
	if a.policy.Path() != "" {
		group.Go(func() error {
			if err := a.policy.Watch(gctx, a.logger); err != nil {
				a.logger.Warn("⚠️ Policy hot reload disabled", "error", err)
			}
			return nil
		})
	}

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go func() {
		<-gctx.Done()
		stopListening()
	}()

	a.logger.Info("🚀 Signal trader started", "accounts", len(a.accounts), "source_chats", len(a.cfg.Telegram.SourceChats))
	listenErr := a.bot.Run(listenCtx)

	a.logger.Info("🛑 Shutting down, waiting for in-flight executions...")
	a.orch.Drain()
	stopBackground()

	err := group.Wait()
	if listenErr != nil {
		err = listenErr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("👋 Signal trader stopped")
	return err
}

// warmUp задает базовые балансы риска и поднимает позиции из журнала
func (a *App) warmUp(ctx context.Context) {
	for _, acct := range a.accounts {
		bctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
		balance, err := acct.Trading.GetBalance(bctx, domain.QuoteCurrency)
		cancel()
		if err != nil {
			a.logger.Warn("⚠️ Initial balance unavailable", "account", acct.Name, "error", err)
			continue
		}
		a.risk.SetBalance(acct.Name, balance)
		a.logger.Info("💰 Initial balance", "account", acct.Name, "balance", balance)
	}

	trades, err := a.ledger.OpenTrades(ctx)
	if err != nil {
		a.logger.Error("❌ Failed to load open trades", "error", err)
		return
	}
	if len(trades) == 0 {
		return
	}
	restored := a.monitor.Restore(ctx, trades, a.policy.Current())
	a.logger.Info("♻️ Positions restored from ledger", "open_trades", len(trades), "restored", restored)
}
