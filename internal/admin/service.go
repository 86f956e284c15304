// Package admin операции оператора над работающим ботом. Используется
// командами Telegram и HTTP API.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/execution"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/risk"
)

// History чтение журнала
type History interface {
	RecentTrades(ctx context.Context, account string, limit int) ([]domain.LedgerTrade, error)
	RiskEvents(ctx context.Context, account string, limit int) ([]domain.RiskEvent, error)
}

// BalanceFunc текущий баланс аккаунта на бирже
type BalanceFunc func(ctx context.Context, account string) (float64, error)

// Status сводка по боту
type Status struct {
	Paused        bool                      `json:"paused"`
	PauseReason   string                    `json:"pause_reason,omitempty"`
	PausedAt      *time.Time                `json:"paused_at,omitempty"`
	Accounts      []string                  `json:"accounts"`
	OpenPositions int                       `json:"open_positions"`
	Uptime        time.Duration             `json:"uptime"`
	Risk          []domain.AccountRiskState `json:"risk"`
}

// Service операции оператора
type Service struct {
	risk     *risk.Manager
	registry *monitor.Registry
	kill     *execution.KillSwitch
	history  History
	balance  BalanceFunc
	accounts []string
	started  time.Time
	now      func() time.Time
}

// New создает сервис. history и balance могут быть nil.
func New(riskMgr *risk.Manager, registry *monitor.Registry, kill *execution.KillSwitch, history History, balance BalanceFunc, accounts []string) *Service {
	return &Service{
		risk:     riskMgr,
		registry: registry,
		kill:     kill,
		history:  history,
		balance:  balance,
		accounts: append([]string(nil), accounts...),
		started:  time.Now(),
		now:      time.Now,
	}
}

// Accounts имена аккаунтов в порядке конфигурации
func (s *Service) Accounts() []string {
	return append([]string(nil), s.accounts...)
}

func (s *Service) known(account string) error {
	for _, a := range s.accounts {
		if a == account {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownAccount, account)
}

// Status пауза, число позиций и риск по всем аккаунтам
func (s *Service) Status() Status {
	pause := s.kill.State()
	st := Status{
		Paused:        pause.Active,
		Accounts:      s.Accounts(),
		OpenPositions: s.registry.Len(),
		Uptime:        s.now().Sub(s.started),
	}
	if pause.Active {
		st.PauseReason = pause.Reason
		st.PausedAt = &pause.Since
	}
	for _, a := range s.accounts {
		st.Risk = append(st.Risk, s.risk.State(a))
	}
	return st
}

// Positions позиции под наблюдением. Пустой account значит все аккаунты.
func (s *Service) Positions(account string) ([]*domain.PositionRecord, error) {
	if account == "" {
		return s.registry.Snapshot(), nil
	}
	if err := s.known(account); err != nil {
		return nil, err
	}
	return s.registry.ForAccount(account), nil
}

// Risk состояние риска одного или всех аккаунтов
func (s *Service) Risk(account string) ([]domain.AccountRiskState, error) {
	if account == "" {
		return s.Status().Risk, nil
	}
	if err := s.known(account); err != nil {
		return nil, err
	}
	return []domain.AccountRiskState{s.risk.State(account)}, nil
}

// Daily дневные корзины PnL аккаунта по возрастанию даты
func (s *Service) Daily(account string) ([]domain.DailyPnL, error) {
	if err := s.known(account); err != nil {
		return nil, err
	}
	return s.risk.DailyStats(account), nil
}

// Enable снимает кулдаун и ручное отключение
func (s *Service) Enable(ctx context.Context, account string) error {
	if err := s.known(account); err != nil {
		return err
	}
	s.risk.ForceEnable(ctx, account)
	return nil
}

// Disable отключает аккаунт до ручного включения
func (s *Service) Disable(ctx context.Context, account, reason string) error {
	if err := s.known(account); err != nil {
		return err
	}
	s.risk.Disable(ctx, account, reason)
	return nil
}

// Reset обнуляет статистику аккаунта. Если balance не задан, берется баланс с биржи.
func (s *Service) Reset(ctx context.Context, account string, balance float64) (float64, error) {
	if err := s.known(account); err != nil {
		return 0, err
	}
	if balance <= 0 {
		if s.balance == nil {
			return 0, fmt.Errorf("%w: balance is required", domain.ErrInvalidInput)
		}
		b, err := s.balance(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("fetch balance: %w", err)
		}
		balance = b
	}
	if balance <= 0 {
		return 0, fmt.Errorf("%w: balance must be positive", domain.ErrInvalidInput)
	}
	s.risk.Reset(ctx, account, balance)
	return balance, nil
}

// Pause останавливает новые входы на всех аккаунтах
func (s *Service) Pause(ctx context.Context, reason string) {
	if reason == "" {
		reason = "paused by operator"
	}
	s.kill.Activate(ctx, reason)
}

// Resume снимает паузу
func (s *Service) Resume(ctx context.Context) {
	s.kill.Deactivate(ctx)
}

// Trades последние сделки из журнала
func (s *Service) Trades(ctx context.Context, account string, limit int) ([]domain.LedgerTrade, error) {
	if s.history == nil {
		return nil, nil
	}
	if account != "" {
		if err := s.known(account); err != nil {
			return nil, err
		}
	}
	return s.history.RecentTrades(ctx, account, clampLimit(limit))
}

// RiskEvents последние события риска из журнала
func (s *Service) RiskEvents(ctx context.Context, account string, limit int) ([]domain.RiskEvent, error) {
	if s.history == nil {
		return nil, nil
	}
	if account != "" {
		if err := s.known(account); err != nil {
			return nil, err
		}
	}
	return s.history.RiskEvents(ctx, account, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 200:
		return 200
	}
	return limit
}
