// Package dispatcher принимает сообщения чатов, отсекает повторы, восстанавливает
// пропущенную пару и цену из контекста чата и передает сигналы на исполнение.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/execution"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/planner"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/signal"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// Event одно сообщение или правка из чата
type Event struct {
	ChatID    int64
	MessageID int
	Text      string
	ReplyText string
	Date      time.Time
	Edited    bool
	Replay    bool
}

// Executor исполняет план на аккаунтах
type Executor interface {
	Execute(ctx context.Context, plan *domain.OrderPlan, accounts []*execution.Account) []execution.AccountResult
}

// Accounts текущий список аккаунтов
type Accounts func() []*execution.Account

// Исход обработки сообщения
const (
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeCached    = "cached"
	OutcomeExecuted  = "executed"
	OutcomeFailed    = "failed"
)

// Result что сделано с сообщением
type Result struct {
	Outcome string
	Plan    *domain.OrderPlan
	Results []execution.AccountResult
	Reason  string
}

// Config окно контекста и размеры набора обработанных id
type Config struct {
	InferWindow   time.Duration
	DedupCapacity int
	DedupKeep     int
}

// DefaultConfig контекст 20 минут, 500 id с обрезкой до 300
func DefaultConfig() Config {
	return Config{InferWindow: 20 * time.Minute, DedupCapacity: 500, DedupKeep: 300}
}

type symbolMark struct {
	symbol string
	at     time.Time
}

type priceMark struct {
	price float64
	at    time.Time
}

// chatState контекст одного чата. Сообщения чата обрабатываются по одному.
type chatState struct {
	mu        sync.Mutex
	processed *ProcessedMessageSet
	lastEntry *symbolMark
	lastHint  *priceMark
}

// Dispatcher маршрутизатор сообщений
type Dispatcher struct {
	cfg      Config
	policy   *policy.Store
	exec     Executor
	accounts Accounts
	registry *monitor.Registry
	logger   *utils.Logger
	now      func() time.Time

	mu    sync.Mutex
	chats map[int64]*chatState
}

// New создает диспетчер. registry нужен для угадывания пары по единственной позиции.
func New(cfg Config, pol *policy.Store, exec Executor, accounts Accounts, registry *monitor.Registry, logger *utils.Logger) *Dispatcher {
	if logger == nil {
		logger = utils.Nop()
	}
	if cfg.InferWindow <= 0 {
		cfg.InferWindow = DefaultConfig().InferWindow
	}
	return &Dispatcher{
		cfg:      cfg,
		policy:   pol,
		exec:     exec,
		accounts: accounts,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		chats:    make(map[int64]*chatState),
	}
}

func (d *Dispatcher) chat(id int64) *chatState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.chats[id]
	if !ok {
		st = &chatState{processed: NewProcessedMessageSet(d.cfg.DedupCapacity, d.cfg.DedupKeep)}
		d.chats[id] = st
	}
	return st
}

// Handle обрабатывает одно событие. Сообщения одного чата идут строго по очереди,
// разные чаты обрабатываются параллельно.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) Result {
	st := d.chat(ev.ChatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	log := d.logger.With("chat_id", ev.ChatID, "message_id", ev.MessageID)
	if ev.Edited {
		log = log.With("edited", true)
	}
	if ev.Replay {
		log = log.With("replay", true)
	}

	if st.processed.Contains(ev.MessageID) {
		log.Info("⏭ Message already processed, skipped")
		return Result{Outcome: OutcomeDuplicate}
	}
	if ev.Text == "" {
		return Result{Outcome: OutcomeIgnored, Reason: "empty message"}
	}

	at := d.eventTime(ev)
	hint := signal.HasTPHint(ev.Text)
	var hintPrices []float64
	if hint {
		hintPrices = signal.ExtractTakeProfits(ev.Text)
	}

	sig, ok := signal.Parse(ev.Text)
	if !ok && signal.Classify(ev.Text) != domain.KindUnknown && ev.ReplyText != "" {
		sig, ok = signal.ParseFor(ev.Text, signal.ExtractSymbol(ev.ReplyText))
		if ok {
			log.Info("🔗 Symbol taken from replied message", "symbol", sig.Symbol)
		}
	}

	if ok {
		if sig.IsOpen() {
			st.lastEntry = &symbolMark{symbol: sig.Symbol, at: at}
		}
		if hint && len(hintPrices) > 0 {
			st.lastHint = &priceMark{price: hintPrices[0], at: at}
		}
		if sig.Kind == domain.KindClose && len(sig.TakeProfits) == 0 && signal.HasOrdinalTarget(ev.Text) {
			if st.lastHint != nil && at.Sub(st.lastHint.at) <= d.cfg.InferWindow {
				sig.TakeProfits = []float64{st.lastHint.price}
				log.Info("✓ Close price backfilled from recent hint", "symbol", sig.Symbol, "price", st.lastHint.price)
			}
		}
		log.Info("✓ Trading signal recognized", "kind", sig.Kind, "symbol", sig.Symbol, "tps", sig.TakeProfits)
		return d.dispatch(ctx, st, ev, sig, false, log)
	}

	if !hint || len(hintPrices) == 0 {
		log.Debug("no trading signal")
		return Result{Outcome: OutcomeIgnored, Reason: "no signal"}
	}

	st.lastHint = &priceMark{price: hintPrices[0], at: at}
	if !signal.IsImmediateTP(ev.Text) {
		log.Info("✓ Take-profit hint cached, waiting for follow-up", "price", hintPrices[0])
		return Result{Outcome: OutcomeCached, Reason: "hint cached"}
	}

	symbol := d.inferSymbol(st, ev, at)
	if symbol == "" {
		log.Info("ℹ️ Take-profit hint without inferable symbol, ignored", "price", hintPrices[0])
		return Result{Outcome: OutcomeIgnored, Reason: "symbol not inferred"}
	}
	log.Info("✓ Immediate first target inferred", "symbol", symbol, "price", hintPrices[0])
	inferred := &domain.TradingSignal{
		Kind:        domain.KindClose,
		Symbol:      symbol,
		TakeProfits: []float64{hintPrices[0]},
		RawText:     ev.Text,
	}
	return d.dispatch(ctx, st, ev, inferred, true, log)
}

// dispatch помечает сообщение и исполняет план. Пометка ставится до первого сетевого вызова.
func (d *Dispatcher) dispatch(ctx context.Context, st *chatState, ev Event, sig *domain.TradingSignal, firstTarget bool, log *utils.Logger) Result {
	plan, err := planner.CreatePlan(sig, d.policy.Current())
	if err != nil {
		log.Warn("⚠️ Plan rejected", "symbol", sig.Symbol, "reason", err)
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}
	}
	plan.FirstTarget = firstTarget

	st.processed.Mark(ev.MessageID)

	results := d.exec.Execute(ctx, plan, d.accounts())
	for _, r := range results {
		log.Info("📋 Account result", "account", r.Account, "symbol", r.Symbol, "action", r.Action, "reason", r.Reason)
	}
	return Result{Outcome: OutcomeExecuted, Plan: plan, Results: results}
}

// inferSymbol пара для сообщения без пары: текст, ответ, недавний вход,
// единственная позиция единственного аккаунта
func (d *Dispatcher) inferSymbol(st *chatState, ev Event, at time.Time) string {
	if s := signal.ExtractSymbol(ev.Text); s != "" {
		return s
	}
	if ev.ReplyText != "" {
		if s := signal.ExtractSymbol(ev.ReplyText); s != "" {
			return s
		}
	}
	if st.lastEntry != nil && at.Sub(st.lastEntry.at) <= d.cfg.InferWindow {
		return st.lastEntry.symbol
	}
	if d.registry == nil {
		return ""
	}
	accounts := d.accounts()
	if len(accounts) != 1 {
		return ""
	}
	open := d.registry.ForAccount(accounts[0].Name)
	if len(open) == 1 {
		return open[0].Symbol
	}
	return ""
}

func (d *Dispatcher) eventTime(ev Event) time.Time {
	if ev.Replay && !ev.Date.IsZero() {
		return ev.Date
	}
	return d.now()
}
