package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillm/signal-trader/internal/app"
	"github.com/kirillm/signal-trader/internal/config"
	"github.com/kirillm/signal-trader/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := utils.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger.Slog())

	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		logger.Error("❌ Failed to load accounts", "path", cfg.AccountsFile, "error", err)
		os.Exit(1)
	}
	logger.Info("✓ Config loaded", "accounts", len(accounts.List), "db", cfg.Database.Driver, "log_level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := app.New(cfg, accounts, logger)
	if err != nil {
		logger.Error("❌ Failed to start", "error", err)
		os.Exit(1)
	}
	if err := bot.Run(ctx); err != nil {
		logger.Error("❌ Stopped with error", "error", err)
		os.Exit(1)
	}
}
