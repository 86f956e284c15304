package execution

import (
	"context"
	"math"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/planner"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/signal"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// close сигнал CLOSE на одном аккаунте.
// С ценой: частичное reduce-only закрытие (первая цель 50%, вторая 30%, иначе 30%).
// Без цены: полное закрытие, кроме уведомлений "сработало" и отсутствия позиции.
func (o *Orchestrator) close(ctx context.Context, plan *domain.OrderPlan, acct *Account) AccountResult {
	symbol := plan.Symbol
	log := o.logger.With("account", acct.Name, "symbol", symbol)

	pos, err := acct.Trading.GetPosition(ctx, symbol)
	if err != nil {
		log.Warn("⚠️ Position unavailable, close skipped", "reason", err)
		return failed(acct.Name, symbol, "position unavailable", err)
	}

	if len(plan.TakeProfits) == 0 {
		if pos == nil {
			log.Info("ℹ️ Close without price and no open position, nothing to do")
			return AccountResult{Account: acct.Name, Symbol: symbol, Action: ActionNoop, Reason: "no open position"}
		}
		if signal.IsTriggerNotice(plan.RawText) {
			log.Info("ℹ️ Trigger notice without price ignored")
			return AccountResult{Account: acct.Name, Symbol: symbol, Action: ActionIgnored, Reason: "trigger notice"}
		}
		return o.closeFull(ctx, acct, symbol, pos, log)
	}

	if pos == nil {
		log.Info("ℹ️ Partial close without open position, nothing to do")
		return AccountResult{Account: acct.Name, Symbol: symbol, Action: ActionNoop, Reason: "no open position"}
	}
	return o.closePartial(ctx, plan, acct, pos, log)
}

// closeFull закрывает всю позицию по рынку и подводит итог
func (o *Orchestrator) closeFull(ctx context.Context, acct *Account, symbol string, pos *domain.Position, log *utils.Logger) AccountResult {
	if n, err := acct.Trading.CancelReduceOnlyOrders(ctx, symbol); err != nil {
		log.Warn("⚠️ Cancel reduce-only orders failed", "reason", err)
	} else if n > 0 {
		log.Info("🧹 Reduce-only orders cancelled", "count", n)
	}

	closed, err := acct.Trading.ClosePosition(ctx, symbol)
	if err != nil {
		log.Error("❌ Close position failed", "reason", err)
		return failed(acct.Name, symbol, "close failed", err)
	}
	if !closed {
		return AccountResult{Account: acct.Name, Symbol: symbol, Action: ActionNoop, Reason: "no open position"}
	}

	exit, err := acct.priceSource().GetPrice(ctx, symbol)
	if err != nil {
		log.Warn("⚠️ Exit price unavailable, PnL recorded as zero", "reason", err)
		exit = pos.EntryPrice
	}
	pnl := o.settle(ctx, acct.Name, symbol, pos, exit)

	log.Info("🔴 Position closed by signal", "size", pos.Contracts, "exit", exit, "pnl", pnl)
	o.notify(ctx, "🔴 %s: %s closed by signal @ %v, PnL %.2f USDT", acct.Name, symbol, exit, pnl)
	return AccountResult{Account: acct.Name, Symbol: symbol, Action: ActionClosed, Size: pos.Contracts, Price: exit}
}

// settle снимает позицию с учета: реестр, риск, журнал. Возвращает PnL.
func (o *Orchestrator) settle(ctx context.Context, account, symbol string, pos *domain.Position, exit float64) float64 {
	key := domain.PositionKey{Account: account, Symbol: symbol}
	entry := pos.EntryPrice
	rec, tracked := o.registry.Remove(key)
	if tracked {
		entry = rec.EntryPrice
	}
	pnl := domain.RealizedPnL(pos.Side, entry, exit, pos.Contracts)

	o.risk.RecordTrade(ctx, account, pnl, true)
	if tracked {
		o.closeLedgerTrade(ctx, rec.LedgerTradeID, exit, pnl)
	}
	return pnl
}

// closePartial reduce-only лимитка на часть позиции по цене из сообщения.
// После первой цели ставятся дополнительные ноги и watcher переноса в безубыток.
func (o *Orchestrator) closePartial(ctx context.Context, plan *domain.OrderPlan, acct *Account, pos *domain.Position, log *utils.Logger) AccountResult {
	pol := o.policy.Current()
	symbol := plan.Symbol
	side := pos.Side
	key := domain.PositionKey{Account: acct.Name, Symbol: symbol}
	rules := o.marketRules(ctx, acct, symbol, log)

	first := plan.FirstTarget || signal.IsFirstTarget(plan.RawText)
	pct := closePercent(plan, pol)
	amount := exchange.FloorToStep(pos.Contracts*pct/100, rules.StepSize)
	if amount <= 0 || (rules.MinQty > 0 && amount < rules.MinQty) {
		amount = math.Min(pos.Contracts, exchange.CeilToStep(rules.MinQty, rules.StepSize))
	}
	price := exchange.RoundToTick(plan.TakeProfits[0], rules.TickSize)

	var tradeID *int64
	rec, tracked := o.registry.Get(key)
	if tracked {
		tradeID = rec.LedgerTradeID
	}
	entry := pos.EntryPrice
	if entry <= 0 && tracked {
		entry = rec.EntryPrice
	}

	if n, err := acct.Trading.CancelReduceOnlyOrders(ctx, symbol); err != nil {
		log.Warn("⚠️ Cancel reduce-only orders failed", "reason", err)
	} else if n > 0 {
		log.Info("🧹 Reduce-only orders cancelled before partial close", "count", n)
	}

	exitSide := side.ExitOrderSide()
	h, err := acct.Trading.PlaceLimitOrder(ctx, symbol, exitSide, amount, price, true)
	if err != nil {
		log.Error("❌ Partial close order failed", "price", price, "amount", amount, "reason", err)
		// позиция не должна остаться без стопа
		o.placeStop(ctx, acct, tradeID, symbol, side, pos.Contracts, restoreStop(rec, tracked, side, entry, pol, rules), log)
		return failed(acct.Name, symbol, "partial close failed", err)
	}
	o.recordOrder(ctx, tradeID, acct.Name, symbol, h, domain.OrderRoleTakeProfit, exitSide, price, amount)
	log.Info("🎯 Partial close placed", "percent", pct, "price", price, "amount", amount, "order_id", h.OrderID)

	legs := 0
	if first {
		legs = o.placeFollowUps(ctx, acct, tradeID, symbol, side, entry, pos.Contracts, amount, pol, rules, log)
	}

	stopID := o.placeStop(ctx, acct, tradeID, symbol, side, pos.Contracts, restoreStop(rec, tracked, side, entry, pol, rules), log)
	if first {
		o.watchFirstLeg(acct, key, side, entry, h.OrderID, stopID, tradeID, rules)
	}

	o.notify(ctx, "🎯 %s: %s close %.0f%% @ %v (%v), %d follow-up legs", acct.Name, symbol, pct, price, amount, legs)
	return AccountResult{
		Account: acct.Name,
		Symbol:  symbol,
		Action:  ActionPartial,
		OrderID: h.OrderID,
		Size:    amount,
		Price:   price,
	}
}

// closePercent доля закрытия по формулировке цели
func closePercent(plan *domain.OrderPlan, pol policy.Policy) float64 {
	switch {
	case plan.FirstTarget || signal.IsFirstTarget(plan.RawText):
		return pol.FirstTargetClosePercent
	case signal.IsSecondTarget(plan.RawText):
		return pol.SecondTargetClosePercent
	default:
		return pol.DefaultTargetClosePercent
	}
}

// placeFollowUps дополнительные цели от исходного размера после первой цели
func (o *Orchestrator) placeFollowUps(ctx context.Context, acct *Account, tradeID *int64, symbol string, side domain.Side, entry, original, firstAmount float64, pol policy.Policy, rules domain.MarketRules, log *utils.Logger) int {
	if entry <= 0 {
		log.Warn("⚠️ Entry price unknown, follow-up legs skipped")
		return 0
	}
	exitSide := side.ExitOrderSide()
	remaining := sub(original, firstAmount)
	placed := 0

	for i, leg := range pol.FollowUpLegs {
		if remaining <= 0 {
			break
		}
		amount := exchange.FloorToStep(remaining, rules.StepSize)
		if leg.PortionPercent > 0 {
			amount = math.Min(exchange.FloorToStep(original*leg.PortionPercent/100, rules.StepSize), amount)
		}
		if amount <= 0 || (rules.MinQty > 0 && amount < rules.MinQty) {
			log.Warn("⚠️ Follow-up leg below exchange minimum, skipped", "leg", i+2, "amount", amount)
			continue
		}
		price := exchange.RoundToTick(planner.TargetFromPercent(side, entry, leg.ProfitPercent), rules.TickSize)
		h, err := acct.Trading.PlaceTakeProfitOrder(ctx, symbol, exitSide, amount, price)
		if err != nil {
			log.Warn("⚠️ Follow-up leg failed", "leg", i+2, "price", price, "amount", amount, "reason", err)
			continue
		}
		remaining = sub(remaining, amount)
		placed++
		o.recordOrder(ctx, tradeID, acct.Name, symbol, h, domain.OrderRoleTakeProfit, exitSide, price, amount)
		log.Info("🎯 Follow-up leg placed", "leg", i+2, "price", price, "amount", amount, "order_id", h.OrderID)
	}
	return placed
}

// restoreStop цена стопа после снятия reduce-only ордеров: безубыток, если уже переносили,
// иначе защитный процент от входа
func restoreStop(rec *domain.PositionRecord, tracked bool, side domain.Side, entry float64, pol policy.Policy, rules domain.MarketRules) float64 {
	if tracked && rec.SLMovedToBreakeven && rec.StopLoss > 0 {
		return exchange.RoundToTick(rec.StopLoss, rules.TickSize)
	}
	return exchange.RoundToTick(planner.StopFromPercent(side, entry, pol.ProtectiveStopPercent), rules.TickSize)
}
