// Package monitor ведет открытые позиции: трейлинг-стоп, перенос в безубыток,
// программный стоп-аут и сверка с биржей.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/planner"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/risk"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// Notifier получатель уведомлений для оператора
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Config интервалы мониторинга
type Config struct {
	Interval          time.Duration
	ReconcileInterval time.Duration
	// ReconcileGrace свежие позиции не сверяются, пока биржа не отразила вход
	ReconcileGrace         time.Duration
	BreakevenBufferPercent float64
}

// DefaultConfig опрос раз в 3 секунды, сверка раз в 5 секунд
func DefaultConfig() Config {
	return Config{
		Interval:               3 * time.Second,
		ReconcileInterval:      5 * time.Second,
		ReconcileGrace:         30 * time.Second,
		BreakevenBufferPercent: 0.1,
	}
}

type account struct {
	trading exchange.Trading
	prices  exchange.PriceSource
}

// Monitor цикл по реестру позиций
type Monitor struct {
	cfg      Config
	registry *Registry
	risk     *risk.Manager
	ledger   domain.Ledger
	notifier Notifier
	logger   *utils.Logger
	now      func() time.Time

	mu       sync.RWMutex
	accounts map[string]account
}

// New создает монитор. ledger может быть nil.
func New(cfg Config, registry *Registry, riskMgr *risk.Manager, ledger domain.Ledger, logger *utils.Logger) *Monitor {
	if logger == nil {
		logger = utils.Nop()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BreakevenBufferPercent < 0 {
		cfg.BreakevenBufferPercent = def.BreakevenBufferPercent
	}
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		risk:     riskMgr,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
		accounts: make(map[string]account),
	}
}

// AddAccount подключает торговый интерфейс аккаунта. prices nil означает цену из trading.
func (m *Monitor) AddAccount(name string, trading exchange.Trading, prices exchange.PriceSource) {
	if prices == nil {
		prices = trading
	}
	m.mu.Lock()
	m.accounts[name] = account{trading: trading, prices: prices}
	m.mu.Unlock()
}

// SetNotifier подключает уведомления
func (m *Monitor) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Monitor) account(name string) (account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[name]
	return a, ok
}

// Run крутит проверку позиций и сверку до отмены ctx
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("👀 Position monitor started", "interval", m.cfg.Interval, "reconcile", m.cfg.ReconcileInterval)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var reconcile <-chan time.Time
	if m.cfg.ReconcileInterval > 0 {
		rt := time.NewTicker(m.cfg.ReconcileInterval)
		defer rt.Stop()
		reconcile = rt.C
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("🛑 Position monitor stopped")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		case <-reconcile:
			m.Reconcile(ctx)
		}
	}
}

// Tick один проход по всем позициям. Ошибка одной позиции не прерывает проход.
func (m *Monitor) Tick(ctx context.Context) {
	for _, rec := range m.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if err := m.checkSafely(ctx, rec); err != nil {
			m.logger.Warn("⚠️ Position check failed", "account", rec.Account, "symbol", rec.Symbol, "reason", err)
		}
	}
}

func (m *Monitor) checkSafely(ctx context.Context, rec *domain.PositionRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.check(ctx, rec)
}

func (m *Monitor) check(ctx context.Context, rec *domain.PositionRecord) error {
	acct, ok := m.account(rec.Account)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAccount, rec.Account)
	}
	price, err := acct.prices.GetPrice(ctx, rec.Symbol)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	key := rec.Key()
	var (
		out      Outcome
		snapshot *domain.PositionRecord
	)
	found := m.registry.Update(key, func(r *domain.PositionRecord) {
		out = Evaluate(r, price, m.cfg.BreakevenBufferPercent)
		snapshot = r.Clone()
	})
	if !found {
		return nil
	}

	log := m.logger.With("account", rec.Account, "symbol", rec.Symbol, "price", price)
	if out.TrailingMoved {
		log.Info("📈 Trailing stop moved", "stop", out.Stop)
	}
	if out.BreakevenSet {
		log.Info("🛡 Stop moved to breakeven", "stop", out.Stop)
		m.notify(ctx, "🛡 %s: %s stop moved to breakeven %v", rec.Account, rec.Symbol, out.Stop)
	}
	if out.StopHit {
		return m.stopOut(ctx, acct, snapshot, price)
	}
	return nil
}

// stopOut закрывает позицию по рынку после пересечения стопа
func (m *Monitor) stopOut(ctx context.Context, acct account, rec *domain.PositionRecord, price float64) error {
	log := m.logger.With("account", rec.Account, "symbol", rec.Symbol)
	log.Warn("🛑 Stop crossed, closing position", "price", price, "stop", rec.StopLoss)

	size := rec.PositionSize
	if pos, err := acct.trading.GetPosition(ctx, rec.Symbol); err == nil && pos != nil && pos.Contracts > 0 {
		size = pos.Contracts
	}
	if _, err := acct.trading.ClosePosition(ctx, rec.Symbol); err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if n, err := acct.trading.CancelReduceOnlyOrders(ctx, rec.Symbol); err != nil {
		log.Warn("⚠️ Cancel reduce-only orders failed", "reason", err)
	} else if n > 0 {
		log.Info("🧹 Reduce-only orders cancelled", "count", n)
	}

	pnl, ok := m.settle(ctx, rec.Key(), price, size)
	if !ok {
		return nil
	}
	m.recordRiskEvent(ctx, rec.Account, domain.RiskEventStopOut,
		fmt.Sprintf("%s %s stopped out at %v (stop %v), PnL %.2f", rec.Side, rec.Symbol, price, rec.StopLoss, pnl), domain.SeverityWarn)
	log.Warn("🔴 Position stopped out", "exit", price, "size", size, "pnl", pnl)
	m.notify(ctx, "🔴 %s: %s stopped out @ %v, PnL %.2f USDT", rec.Account, rec.Symbol, price, pnl)
	return nil
}

// Reconcile снимает с учета позиции, которых больше нет на бирже,
// и подтягивает размер после частичных исполнений
func (m *Monitor) Reconcile(ctx context.Context) {
	for _, rec := range m.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if m.cfg.ReconcileGrace > 0 && !rec.EntryTime.IsZero() && m.now().Sub(rec.EntryTime) < m.cfg.ReconcileGrace {
			continue
		}
		acct, ok := m.account(rec.Account)
		if !ok {
			continue
		}
		log := m.logger.With("account", rec.Account, "symbol", rec.Symbol)

		pos, err := acct.trading.GetPosition(ctx, rec.Symbol)
		if err != nil {
			log.Debug("reconcile: position unavailable", "reason", err)
			continue
		}
		if pos != nil && pos.Contracts > 0 {
			if pos.Contracts != rec.PositionSize {
				m.registry.Update(rec.Key(), func(r *domain.PositionRecord) { r.PositionSize = pos.Contracts })
				log.Info("🔄 Position size synced", "from", rec.PositionSize, "to", pos.Contracts)
			}
			continue
		}

		exit, err := acct.prices.GetPrice(ctx, rec.Symbol)
		if err != nil {
			log.Warn("⚠️ Exit price unavailable, using stop price", "reason", err)
			exit = rec.StopLoss
		}
		pnl, ok := m.settle(ctx, rec.Key(), exit, rec.PositionSize)
		if !ok {
			continue
		}
		log.Info("✅ Position closed on exchange", "exit", exit, "pnl", pnl)
		m.notify(ctx, "✅ %s: %s closed on exchange @ %v, PnL %.2f USDT", rec.Account, rec.Symbol, exit, pnl)
	}
}

// settle удаляет запись и передает результат риск-менеджеру и журналу.
// false если запись уже снята кем-то другим.
func (m *Monitor) settle(ctx context.Context, key domain.PositionKey, exit, size float64) (float64, bool) {
	rec, ok := m.registry.Remove(key)
	if !ok {
		return 0, false
	}
	pnl := domain.RealizedPnL(rec.Side, rec.EntryPrice, exit, size)
	m.risk.RecordTrade(ctx, rec.Account, pnl, true)
	if m.ledger != nil && rec.LedgerTradeID != nil {
		if err := m.ledger.CloseTrade(ctx, *rec.LedgerTradeID, exit, pnl); err != nil {
			m.logger.Warn("⚠️ Failed to close trade in ledger", "trade_id", *rec.LedgerTradeID, "error", err)
		}
	}
	return pnl, true
}

// Restore поднимает реестр из открытых сделок журнала после рестарта.
// Сделки без позиции на бирже закрываются в журнале по текущей цене.
func (m *Monitor) Restore(ctx context.Context, trades []domain.LedgerTrade, pol policy.Policy) int {
	restored := 0
	for _, t := range trades {
		acct, ok := m.account(t.Account)
		if !ok {
			m.logger.Warn("⚠️ Open trade for unknown account", "account", t.Account, "trade_id", t.ID)
			continue
		}
		log := m.logger.With("account", t.Account, "symbol", t.Symbol, "trade_id", t.ID)
		key := domain.PositionKey{Account: t.Account, Symbol: t.Symbol}
		if m.registry.Has(key) {
			continue
		}

		pos, err := acct.trading.GetPosition(ctx, t.Symbol)
		if err != nil {
			log.Warn("⚠️ Restore skipped, position unavailable", "reason", err)
			continue
		}
		side := domain.Side(t.Side)
		if pos == nil || pos.Contracts <= 0 {
			exit, err := acct.prices.GetPrice(ctx, t.Symbol)
			if err != nil {
				exit = t.EntryPrice
			}
			pnl := domain.RealizedPnL(side, t.EntryPrice, exit, t.Quantity)
			if m.ledger != nil {
				if err := m.ledger.CloseTrade(ctx, t.ID, exit, pnl); err != nil {
					log.Warn("⚠️ Failed to close stale trade", "error", err)
				}
			}
			log.Info("🧾 Stale open trade closed", "exit", exit, "pnl", pnl)
			continue
		}

		stop := t.StopLoss
		if stop <= 0 {
			stop = planner.StopFromPercent(side, t.EntryPrice, pol.ProtectiveStopPercent)
		}
		id := t.ID
		lev := t.Leverage
		rec := &domain.PositionRecord{
			Account:                    t.Account,
			Symbol:                     t.Symbol,
			Side:                       side,
			EntryPrice:                 t.EntryPrice,
			PositionSize:               pos.Contracts,
			StopLoss:                   stop,
			HighestPrice:               t.EntryPrice,
			LowestPrice:                t.EntryPrice,
			MoveToBreakeven:            pol.MoveToBreakeven,
			BreakevenTriggerPercent:    pol.BreakevenTriggerPercent,
			StopTrailingAfterBreakeven: pol.StopTrailingAfterBreakeven,
			EntryTime:                  t.OpenedAt,
			Leverage:                   &lev,
			LedgerTradeID:              &id,
		}
		if pol.TrailingEnabled && pol.TrailingStopPercent > 0 {
			pct := pol.TrailingStopPercent
			rec.TrailingStopPercent = &pct
		}
		m.registry.Register(rec)
		m.risk.RecordTrade(ctx, t.Account, 0, false)
		restored++
		log.Info("♻️ Position restored", "size", pos.Contracts, "stop", stop)
	}
	return restored
}

func (m *Monitor) notify(ctx context.Context, format string, args ...any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, fmt.Sprintf(format, args...))
}

func (m *Monitor) recordRiskEvent(ctx context.Context, account, eventType, description, severity string) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.RecordRiskEvent(ctx, account, eventType, description, severity); err != nil {
		m.logger.Warn("⚠️ Failed to record risk event", "account", account, "type", eventType, "error", err)
	}
}
