// Package risk ведет состояние риска по аккаунтам и решает, можно ли открывать сделки.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// Journal куда менеджер пишет события и дневные корзины. Ошибки только логируются.
type Journal interface {
	SaveDailyPnL(ctx context.Context, day *domain.DailyPnL) error
	RecordRiskEvent(ctx context.Context, account, eventType, description, severity string) error
}

// Manager состояние риска всех аккаунтов
type Manager struct {
	mu       sync.Mutex
	defaults Limits
	limits   map[string]Limits
	states   map[string]*domain.AccountRiskState
	daily    map[string]map[string]*domain.DailyPnL

	journal Journal
	logger  *utils.Logger
	now     func() time.Time
}

// NewManager создает менеджер с общими лимитами
func NewManager(defaults Limits, journal Journal, logger *utils.Logger) *Manager {
	if logger == nil {
		logger = utils.Nop()
	}
	return &Manager{
		defaults: defaults,
		limits:   make(map[string]Limits),
		states:   make(map[string]*domain.AccountRiskState),
		daily:    make(map[string]map[string]*domain.DailyPnL),
		journal:  journal,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock подменяет источник времени
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetLimits задает лимиты конкретного аккаунта
func (m *Manager) SetLimits(account string, l Limits) {
	m.mu.Lock()
	m.limits[account] = l.Merge(m.defaults)
	m.mu.Unlock()
}

// LimitsFor лимиты аккаунта
func (m *Manager) LimitsFor(account string) Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitsLocked(account)
}

// SetBalance обновляет текущий баланс; первый ненулевой баланс становится базой
func (m *Manager) SetBalance(account string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(account)
	st.CurrentBalance = balance
	if st.InitialBalance <= 0 && balance > 0 {
		st.InitialBalance = balance
	}
}

// CanOpenTrade проверяет лимиты перед открытием. Первое нарушение побеждает.
func (m *Manager) CanOpenTrade(account string, notional float64) (bool, string) {
	m.mu.Lock()
	st := m.stateLocked(account)
	m.dailyResetLocked(st)
	ok, reason, cooldown := m.evaluateLocked(st, true)
	var ev *pendingEvent
	if cooldown > 0 {
		ev = m.triggerCooldownLocked(st, reason, cooldown)
	}
	m.mu.Unlock()

	m.flush(ev)
	if !ok {
		m.logger.Warn("open rejected by risk limits", "account", account, "notional", notional, "reason", reason)
	}
	return ok, reason
}

// Evaluate та же проверка без побочных эффектов
func (m *Manager) Evaluate(account string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(account)
	ok, reason, _ := m.evaluateLocked(st, false)
	return ok, reason
}

// evaluateLocked возвращает решение и длительность кулдауна, который надо включить
func (m *Manager) evaluateLocked(st *domain.AccountRiskState, mutate bool) (bool, string, time.Duration) {
	lim := m.limitsLocked(st.Account)
	now := m.now()

	if !st.TradingEnabled && st.CooldownUntil != nil {
		if now.Before(*st.CooldownUntil) {
			remaining := int(math.Ceil(st.CooldownUntil.Sub(now).Minutes()))
			return false, fmt.Sprintf("account in cooldown, %d minutes remaining", remaining), 0
		}
		if mutate {
			st.CooldownUntil = nil
			if !st.ManuallyDisabled {
				st.TradingEnabled = true
				m.logger.Info("✅ cooldown expired, trading re-enabled", "account", st.Account)
			}
		}
	}
	if st.ManuallyDisabled {
		return false, "trading disabled manually", 0
	}

	if st.CurrentBalance <= 0 {
		return false, "balance unavailable", 0
	}
	if st.CurrentBalance < lim.MinBalance {
		return false, fmt.Sprintf("balance %.2f below minimum %.2f %s", st.CurrentBalance, lim.MinBalance, domain.QuoteCurrency), 0
	}

	if st.DailyPnL < 0 {
		if pct := lossPercent(st.DailyPnL, st.InitialBalance); pct >= lim.MaxDailyLossPercent {
			return false, fmt.Sprintf("daily loss limit reached (%.2f%%)", pct), lim.Cooldown
		}
		if lim.MaxDailyLossAmount > 0 && -st.DailyPnL >= lim.MaxDailyLossAmount {
			return false, fmt.Sprintf("daily loss amount limit reached (%.2f %s)", -st.DailyPnL, domain.QuoteCurrency), lim.Cooldown
		}
	}

	if st.TotalPnL < 0 {
		if pct := lossPercent(st.TotalPnL, st.InitialBalance); pct >= lim.MaxTotalLossPercent {
			return false, fmt.Sprintf("total loss limit reached (%.2f%%)", pct), lim.TotalLossCooldown
		}
	}

	if st.ConsecutiveLosses >= lim.MaxConsecutiveLosses {
		return false, fmt.Sprintf("%d consecutive losses, trading paused", st.ConsecutiveLosses), lim.Cooldown
	}

	if st.OpenPositionsCount >= lim.MaxOpenPositions {
		return false, fmt.Sprintf("open positions limit reached (%d)", lim.MaxOpenPositions), 0
	}

	return true, "allowed", 0
}

// RecordTrade учитывает открытие (closed=false) или закрытие сделки с результатом pnl
func (m *Manager) RecordTrade(ctx context.Context, account string, pnl float64, closed bool) {
	m.mu.Lock()
	st := m.stateLocked(account)
	m.dailyResetLocked(st)

	if !closed {
		st.OpenPositionsCount++
		m.mu.Unlock()
		return
	}

	st.TotalTrades++
	st.DailyPnL += pnl
	st.TotalPnL += pnl
	st.CurrentBalance += pnl
	if pnl > 0 {
		st.WinningTrades++
		st.ConsecutiveWins++
		st.ConsecutiveLosses = 0
	} else {
		st.LosingTrades++
		st.ConsecutiveLosses++
		st.ConsecutiveWins = 0
	}
	if st.OpenPositionsCount > 0 {
		st.OpenPositionsCount--
	}

	bucket := m.bucketLocked(account, m.now())
	bucket.Trades++
	bucket.PnL += pnl
	if pnl > 0 {
		bucket.Wins++
	} else {
		bucket.Losses++
	}
	day := *bucket
	ok, reason, _ := m.evaluateLocked(st, false)
	wins, losses := st.ConsecutiveWins, st.ConsecutiveLosses
	m.mu.Unlock()

	if pnl > 0 {
		m.logger.Info("✅ winning trade", "account", account, "pnl", pnl, "streak", wins)
	} else {
		m.logger.Warn("losing trade", "account", account, "pnl", pnl, "streak", losses)
	}

	if m.journal != nil {
		if err := m.journal.SaveDailyPnL(ctx, &day); err != nil {
			m.logger.Warn("failed to persist daily pnl", "account", account, "error", err)
		}
	}
	if !ok {
		m.logger.Warn("⚠️ risk limit breached after close", "account", account, "reason", reason)
		m.record(ctx, account, domain.RiskEventLimitWarning, reason, domain.SeverityWarn)
	}
}

// State снимок состояния аккаунта
func (m *Manager) State(account string) domain.AccountRiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(account)
	m.dailyResetLocked(st)
	return copyState(st)
}

// States снимки всех известных аккаунтов, по имени
func (m *Manager) States() []domain.AccountRiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AccountRiskState, 0, len(m.states))
	for _, st := range m.states {
		m.dailyResetLocked(st)
		out = append(out, copyState(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// DailyStats дневные корзины аккаунта по возрастанию даты
func (m *Manager) DailyStats(account string) []domain.DailyPnL {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DailyPnL, 0, len(m.daily[account]))
	for _, b := range m.daily[account] {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// ForceEnable снимает кулдаун и ручное отключение
func (m *Manager) ForceEnable(ctx context.Context, account string) {
	m.mu.Lock()
	st := m.stateLocked(account)
	st.TradingEnabled = true
	st.ManuallyDisabled = false
	st.CooldownUntil = nil
	m.mu.Unlock()

	m.logger.Info("✅ trading enabled manually", "account", account)
	m.record(ctx, account, domain.RiskEventManualEnable, "trading enabled manually", domain.SeverityInfo)
}

// Disable отключает торговлю до ручного включения
func (m *Manager) Disable(ctx context.Context, account, reason string) {
	if reason == "" {
		reason = "disabled manually"
	}
	m.mu.Lock()
	st := m.stateLocked(account)
	st.TradingEnabled = false
	st.ManuallyDisabled = true
	m.mu.Unlock()

	m.logger.Warn("🚫 trading disabled manually", "account", account, "reason", reason)
	m.record(ctx, account, domain.RiskEventManualDisable, reason, domain.SeverityWarn)
}

// Reset обнуляет счетчики и переустанавливает базовый баланс.
// Число открытых позиций сохраняется: позиции на бирже никуда не делись.
func (m *Manager) Reset(ctx context.Context, account string, balance float64) {
	m.mu.Lock()
	open := 0
	if st, ok := m.states[account]; ok {
		open = st.OpenPositionsCount
	}
	st := m.newStateLocked(account)
	st.InitialBalance = balance
	st.CurrentBalance = balance
	st.OpenPositionsCount = open
	m.states[account] = st
	m.mu.Unlock()

	m.logger.Info("🔄 risk statistics reset", "account", account, "balance", balance)
	m.record(ctx, account, domain.RiskEventManualReset, fmt.Sprintf("statistics reset, baseline %.2f", balance), domain.SeverityInfo)
}

type pendingEvent struct {
	account     string
	description string
}

func (m *Manager) triggerCooldownLocked(st *domain.AccountRiskState, reason string, d time.Duration) *pendingEvent {
	until := m.now().Add(d)
	st.TradingEnabled = false
	st.CooldownUntil = &until
	m.logger.Warn("🚫 trading paused", "account", st.Account, "reason", reason, "cooldown", d.String())
	return &pendingEvent{
		account:     st.Account,
		description: fmt.Sprintf("%s, cooldown %s", reason, d),
	}
}

func (m *Manager) flush(ev *pendingEvent) {
	if ev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.record(ctx, ev.account, domain.RiskEventCooldown, ev.description, domain.SeverityCritical)
}

func (m *Manager) record(ctx context.Context, account, eventType, description, severity string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordRiskEvent(ctx, account, eventType, description, severity); err != nil {
		m.logger.Warn("failed to record risk event", "account", account, "type", eventType, "error", err)
	}
}

func (m *Manager) limitsLocked(account string) Limits {
	if l, ok := m.limits[account]; ok {
		return l
	}
	return m.defaults
}

func (m *Manager) stateLocked(account string) *domain.AccountRiskState {
	st, ok := m.states[account]
	if !ok {
		st = m.newStateLocked(account)
		m.states[account] = st
	}
	return st
}

func (m *Manager) newStateLocked(account string) *domain.AccountRiskState {
	return &domain.AccountRiskState{
		Account:        account,
		TradingEnabled: true,
		LastResetDate:  dayOf(m.now()),
	}
}

func (m *Manager) dailyResetLocked(st *domain.AccountRiskState) {
	today := dayOf(m.now())
	if st.LastResetDate.Before(today) {
		st.DailyPnL = 0
		st.LastResetDate = today
		m.logger.Info("🔄 daily statistics reset", "account", st.Account)
	}
}

func (m *Manager) bucketLocked(account string, now time.Time) *domain.DailyPnL {
	day := dayOf(now)
	key := day.Format("2006-01-02")
	days, ok := m.daily[account]
	if !ok {
		days = make(map[string]*domain.DailyPnL)
		m.daily[account] = days
	}
	b, ok := days[key]
	if !ok {
		b = &domain.DailyPnL{Account: account, Day: day}
		days[key] = b
	}
	return b
}

func dayOf(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func lossPercent(pnl, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return math.Abs(pnl / base * 100)
}

func copyState(st *domain.AccountRiskState) domain.AccountRiskState {
	c := *st
	if st.CooldownUntil != nil {
		until := *st.CooldownUntil
		c.CooldownUntil = &until
	}
	return c
}
