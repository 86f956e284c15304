// Package execution исполняет план сигнала на всех включенных аккаунтах.
// Каждый аккаунт обрабатывается независимо: ошибка одного не влияет на другие.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/risk"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// Account торговый аккаунт
type Account struct {
	Name     string
	Trading  exchange.Trading
	Prices   exchange.PriceSource // nil означает цену из Trading
	Sizing   Sizing
	Leverage int
	Enabled  bool
	DryRun   bool
}

func (a *Account) priceSource() exchange.PriceSource {
	if a.Prices != nil {
		return a.Prices
	}
	return a.Trading
}

// Notifier получатель уведомлений для оператора
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Config тайминги и пределы исполнения
type Config struct {
	FillWatchPoll    time.Duration
	FillWatchTimeout time.Duration
	// MarginRetries сколько раз уменьшать вход после отказа по марже
	MarginRetries int
	MarginShrink  float64
	// SlippageWarnPercent порог предупреждения о проскальзывании рыночного входа
	SlippageWarnPercent float64
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		FillWatchPoll:       3 * time.Second,
		FillWatchTimeout:    2 * time.Hour,
		MarginRetries:       3,
		MarginShrink:        0.7,
		SlippageWarnPercent: 1,
	}
}

// Actions в AccountResult
const (
	ActionOpened  = "opened"
	ActionClosed  = "closed"
	ActionPartial = "partial"
	ActionSkipped = "skipped"
	ActionIgnored = "ignored"
	ActionNoop    = "noop"
	ActionFailed  = "failed"
)

// AccountResult итог исполнения плана на одном аккаунте
type AccountResult struct {
	Account string
	Symbol  string
	Action  string
	OrderID string
	Size    float64
	Price   float64
	Reason  string
	Err     error
}

// Orchestrator исполнитель планов
type Orchestrator struct {
	cfg      Config
	policy   *policy.Store
	risk     *risk.Manager
	registry *monitor.Registry
	ledger   domain.Ledger
	kill     *KillSwitch
	notifier Notifier
	slippage *SlippageGuard
	watchers *WatcherSet
	logger   *utils.Logger

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New создает orchestrator. ledger и kill могут быть nil.
func New(cfg Config, pol *policy.Store, riskMgr *risk.Manager, registry *monitor.Registry, ledger domain.Ledger, kill *KillSwitch, logger *utils.Logger) *Orchestrator {
	if logger == nil {
		logger = utils.Nop()
	}
	def := DefaultConfig()
	if cfg.FillWatchPoll <= 0 {
		cfg.FillWatchPoll = def.FillWatchPoll
	}
	if cfg.FillWatchTimeout <= 0 {
		cfg.FillWatchTimeout = def.FillWatchTimeout
	}
	if cfg.MarginShrink <= 0 || cfg.MarginShrink >= 1 {
		cfg.MarginShrink = def.MarginShrink
	}
	return &Orchestrator{
		cfg:      cfg,
		policy:   pol,
		risk:     riskMgr,
		registry: registry,
		ledger:   ledger,
		kill:     kill,
		slippage: NewSlippageGuard(cfg.SlippageWarnPercent),
		watchers: NewWatcherSet(),
		logger:   logger,
	}
}

// SetNotifier подключает уведомления
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// Watchers активные наблюдатели за первым тейк-профитом
func (o *Orchestrator) Watchers() *WatcherSet {
	return o.watchers
}

// Execute исполняет план на всех включенных аккаунтах параллельно.
// Результаты идут в порядке accounts.
func (o *Orchestrator) Execute(ctx context.Context, plan *domain.OrderPlan, accounts []*Account) []AccountResult {
	results := make([]AccountResult, len(accounts))

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		for i, acct := range accounts {
			results[i] = skipped(acct.Name, plan.Symbol, "shutting down", nil)
		}
		return results
	}
	o.inflight.Add(1)
	o.mu.Unlock()
	defer o.inflight.Done()

	var g errgroup.Group
	for i, acct := range accounts {
		i, acct := i, acct
		if !acct.Enabled {
			results[i] = skipped(acct.Name, plan.Symbol, "account disabled", nil)
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("💥 Account execution panicked", "account", acct.Name, "symbol", plan.Symbol, "panic", r)
					results[i] = AccountResult{Account: acct.Name, Symbol: plan.Symbol, Action: ActionFailed, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			results[i] = o.executeAccount(ctx, plan, acct)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Drain дожидается текущих Execute и останавливает наблюдателей
func (o *Orchestrator) Drain() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	o.inflight.Wait()
	o.watchers.Shutdown()
}

func (o *Orchestrator) executeAccount(ctx context.Context, plan *domain.OrderPlan, acct *Account) AccountResult {
	switch plan.Kind {
	case domain.KindClose:
		return o.close(ctx, plan, acct)
	case domain.KindLong, domain.KindShort:
		return o.open(ctx, plan, acct)
	default:
		return skipped(acct.Name, plan.Symbol, fmt.Sprintf("unsupported plan kind %s", plan.Kind), domain.ErrInvalidInput)
	}
}

// ==================== HELPERS ====================

func skipped(account, symbol, reason string, err error) AccountResult {
	return AccountResult{Account: account, Symbol: symbol, Action: ActionSkipped, Reason: reason, Err: err}
}

func failed(account, symbol, reason string, err error) AccountResult {
	return AccountResult{Account: account, Symbol: symbol, Action: ActionFailed, Reason: reason, Err: err}
}

func (o *Orchestrator) notify(ctx context.Context, format string, args ...any) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, fmt.Sprintf(format, args...))
}

func (o *Orchestrator) recordTrade(ctx context.Context, trade *domain.LedgerTrade) *int64 {
	if o.ledger == nil {
		return nil
	}
	id, err := o.ledger.RecordTrade(ctx, trade)
	if err != nil {
		o.logger.Warn("⚠️ Failed to record trade", "account", trade.Account, "symbol", trade.Symbol, "error", err)
		return nil
	}
	return &id
}

func (o *Orchestrator) recordOrder(ctx context.Context, tradeID *int64, account, symbol string, h *domain.OrderHandle, role, side string, price, amount float64) {
	if o.ledger == nil || h == nil {
		return
	}
	status := h.Status
	if status == "" {
		status = domain.OrderStatusOpen
	}
	err := o.ledger.RecordOrder(ctx, &domain.LedgerOrder{
		TradeID: tradeID,
		Account: account,
		Symbol:  symbol,
		OrderID: h.OrderID,
		Role:    role,
		Side:    side,
		Price:   price,
		Amount:  amount,
		Status:  status,
	})
	if err != nil {
		o.logger.Warn("⚠️ Failed to record order", "account", account, "symbol", symbol, "order_id", h.OrderID, "error", err)
	}
}

func (o *Orchestrator) recordRiskEvent(ctx context.Context, account, eventType, description, severity string) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordRiskEvent(ctx, account, eventType, description, severity); err != nil {
		o.logger.Warn("⚠️ Failed to record risk event", "account", account, "type", eventType, "error", err)
	}
}

func (o *Orchestrator) closeLedgerTrade(ctx context.Context, tradeID *int64, exit, pnl float64) {
	if o.ledger == nil || tradeID == nil {
		return
	}
	if err := o.ledger.CloseTrade(ctx, *tradeID, exit, pnl); err != nil {
		o.logger.Warn("⚠️ Failed to close trade in ledger", "trade_id", *tradeID, "error", err)
	}
}

// placeStop ставит стоп и возвращает id ордера; неудача только логируется
func (o *Orchestrator) placeStop(ctx context.Context, acct *Account, tradeID *int64, symbol string, side domain.Side, amount, price float64, log *utils.Logger) string {
	exitSide := side.ExitOrderSide()
	h, err := acct.Trading.PlaceStopLossOrder(ctx, symbol, exitSide, amount, price)
	if err != nil {
		log.Warn("⚠️ Stop-loss not placed", "stop", price, "amount", amount, "reason", err)
		return ""
	}
	o.recordOrder(ctx, tradeID, acct.Name, symbol, h, domain.OrderRoleStopLoss, exitSide, price, amount)
	log.Info("🛡 Stop-loss placed", "stop", price, "amount", amount, "order_id", h.OrderID)
	return h.OrderID
}

func (o *Orchestrator) marketRules(ctx context.Context, acct *Account, symbol string, log *utils.Logger) domain.MarketRules {
	rules, err := acct.Trading.MarketRules(ctx, symbol)
	if err != nil {
		log.Warn("⚠️ Market rules unavailable, using raw amounts", "reason", err)
		return domain.MarketRules{}
	}
	return rules
}

func sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(12).InexactFloat64()
}
