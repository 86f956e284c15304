package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/internal/planner"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// open вход по сигналу LONG/SHORT на одном аккаунте:
// цена, размер, риск, минимум биржи, вход, защитный стоп, реестр, тейк-профиты.
func (o *Orchestrator) open(ctx context.Context, plan *domain.OrderPlan, acct *Account) AccountResult {
	pol := o.policy.Current()
	side := plan.Side
	symbol := plan.Symbol
	key := domain.PositionKey{Account: acct.Name, Symbol: symbol}
	log := o.logger.With("account", acct.Name, "symbol", symbol, "side", side)

	if o.registry.Has(key) {
		log.Info("ℹ️ Position already tracked, entry skipped")
		return skipped(acct.Name, symbol, "position already open", nil)
	}

	// 1. Цена входа
	entry := 0.0
	if plan.EntryPrice != nil && *plan.EntryPrice > 0 {
		entry = *plan.EntryPrice
	} else {
		price, err := acct.priceSource().GetPrice(ctx, symbol)
		if err != nil {
			log.Warn("⚠️ Price unavailable, account skipped", "reason", err)
			if !errors.Is(err, domain.ErrPriceUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
			}
			return skipped(acct.Name, symbol, "price unavailable", err)
		}
		entry = price
	}

	// 2. Размер позиции
	balance, err := acct.Trading.GetBalance(ctx, domain.QuoteCurrency)
	if err != nil {
		log.Warn("⚠️ Balance unavailable, account skipped", "reason", err)
		return skipped(acct.Name, symbol, "balance unavailable", err)
	}
	o.risk.SetBalance(acct.Name, balance)

	leverage := acct.Leverage
	if plan.Leverage != nil && *plan.Leverage > 0 {
		leverage = *plan.Leverage
	}
	if leverage <= 0 {
		leverage = 1
	}
	size, err := PositionSize(acct.Sizing, balance, leverage, entry)
	if err != nil {
		log.Warn("⚠️ Sizing failed, account skipped", "reason", err, "balance", balance, "mode", acct.Sizing.Mode)
		return skipped(acct.Name, symbol, "invalid position size", err)
	}

	// 3. Kill switch и риск
	if o.kill != nil && o.kill.IsActive() {
		reason := o.kill.State().Reason
		log.Warn("⛔ Trading paused, entry skipped", "reason", reason)
		return skipped(acct.Name, symbol, "trading paused: "+reason, domain.ErrTradingPaused)
	}
	if allowed, reason := o.risk.CanOpenTrade(acct.Name, size*entry); !allowed {
		log.Warn("⛔ Entry rejected by risk manager", "reason", reason)
		o.recordRiskEvent(ctx, acct.Name, domain.RiskEventBlockedOpen,
			fmt.Sprintf("%s %s blocked: %s", side, symbol, reason), domain.SeverityWarn)
		o.notify(ctx, "⛔ %s: %s %s blocked: %s", acct.Name, side, symbol, reason)
		return skipped(acct.Name, symbol, reason, domain.ErrRiskRejected)
	}

	// 4. Минимальный объем биржи
	rules := o.marketRules(ctx, acct, symbol, log)
	normalized := exchange.NormalizeAmount(size, rules)
	if adjusted, changed := exchange.AdjustToMinimum(normalized, entry, rules); changed || normalized != size {
		log.Info("📏 Size adjusted to exchange rules", "from", size, "to", adjusted)
		size = adjusted
	}

	// 5. Плечо и вход
	if err := acct.Trading.SetLeverage(ctx, symbol, leverage); err != nil {
		log.Warn("⚠️ Set leverage failed, continuing", "leverage", leverage, "reason", err)
	}
	handle, size, err := o.placeEntry(ctx, acct, plan, pol, size, rules, log)
	if err != nil {
		log.Error("❌ Entry order failed", "size", size, "reason", err)
		o.notify(ctx, "❌ %s: %s %s entry failed: %v", acct.Name, side, symbol, err)
		return failed(acct.Name, symbol, "entry order failed", err)
	}
	fill := handle.Price
	if fill <= 0 {
		fill = entry
	}
	if handle.Amount > 0 {
		size = handle.Amount
	}
	if plan.EntryPrice == nil {
		if err := o.slippage.Check(side, fill, entry); err != nil {
			log.Warn("⚠️ Entry slippage", "expected", entry, "fill", fill, "reason", err)
		}
	}

	protective := exchange.RoundToTick(planner.StopFromPercent(side, fill, pol.ProtectiveStopPercent), rules.TickSize)
	stop := resolveStop(plan, side, fill, protective)

	tradeID := o.recordTrade(ctx, &domain.LedgerTrade{
		Account:    acct.Name,
		Symbol:     symbol,
		Side:       string(side),
		EntryPrice: fill,
		Quantity:   size,
		Leverage:   leverage,
		StopLoss:   stop,
		Status:     domain.TradeStatusOpen,
		SignalText: plan.RawText,
	})
	o.recordOrder(ctx, tradeID, acct.Name, symbol, handle, domain.OrderRoleEntry, side.EntryOrderSide(), fill, size)
	o.risk.RecordTrade(ctx, acct.Name, 0, false)
	log.Info("🟢 Entry placed", "size", size, "price", fill, "leverage", leverage, "order_id", handle.OrderID)

	// 6. Защитный стоп
	stopID := o.placeStop(ctx, acct, tradeID, symbol, side, size, protective, log)

	// 7. Реестр позиций
	rec := &domain.PositionRecord{
		Account:                    acct.Name,
		Symbol:                     symbol,
		Side:                       side,
		EntryPrice:                 fill,
		PositionSize:               size,
		StopLoss:                   stop,
		TakeProfits:                append([]float64(nil), plan.TakeProfits...),
		TPPortions:                 append([]float64(nil), plan.TPPortions...),
		HighestPrice:               fill,
		LowestPrice:                fill,
		TrailingStopPercent:        plan.TrailingStopPercent,
		MoveToBreakeven:            plan.MoveToBreakeven,
		BreakevenTriggerPercent:    plan.BreakevenTriggerPercent,
		StopTrailingAfterBreakeven: plan.StopTrailingAfterBreakeven,
		EntryTime:                  time.Now(),
		Leverage:                   &leverage,
		LedgerTradeID:              tradeID,
	}
	o.registry.Register(rec)

	// 8. Тейк-профиты
	legs := o.placeTakeProfits(ctx, acct, tradeID, rec, rules, stopID, log)

	o.notify(ctx, "🟢 %s: %s %s size %v @ %v, stop %v, %d TP legs",
		acct.Name, side, symbol, size, fill, rec.StopLoss, legs)

	return AccountResult{
		Account: acct.Name,
		Symbol:  symbol,
		Action:  ActionOpened,
		OrderID: handle.OrderID,
		Size:    size,
		Price:   fill,
	}
}

// placeEntry ставит входной ордер; при отказе по марже уменьшает объем
func (o *Orchestrator) placeEntry(ctx context.Context, acct *Account, plan *domain.OrderPlan, pol policy.Policy, size float64, rules domain.MarketRules, log *utils.Logger) (*domain.OrderHandle, float64, error) {
	orderSide := plan.Side.EntryOrderSide()
	limit := plan.EntryPrice != nil && *plan.EntryPrice > 0 && pol.EntryOrderType == "limit"

	for attempt := 0; ; attempt++ {
		var (
			h   *domain.OrderHandle
			err error
		)
		if limit {
			price := exchange.RoundToTick(*plan.EntryPrice, rules.TickSize)
			h, err = acct.Trading.PlaceLimitOrder(ctx, plan.Symbol, orderSide, size, price, false)
		} else {
			h, err = acct.Trading.PlaceMarketOrder(ctx, plan.Symbol, orderSide, size, false)
		}
		if err == nil {
			return h, size, nil
		}
		if !exchange.IsInsufficientMargin(err) || attempt >= o.cfg.MarginRetries {
			return nil, size, err
		}

		next := exchange.FloorToStep(size*o.cfg.MarginShrink, rules.StepSize)
		if next <= 0 || (rules.MinQty > 0 && next < rules.MinQty) {
			log.Warn("💸 Insufficient margin, size already at exchange minimum", "size", size)
			return nil, size, err
		}
		log.Warn("💸 Insufficient margin, retrying smaller entry", "from", size, "to", next, "attempt", attempt+1)
		size = next
	}
}

// placeTakeProfits ставит reduce-only ноги плана; за первой ногой следит watcher
func (o *Orchestrator) placeTakeProfits(ctx context.Context, acct *Account, tradeID *int64, rec *domain.PositionRecord, rules domain.MarketRules, stopID string, log *utils.Logger) int {
	exitSide := rec.Side.ExitOrderSide()
	size := rec.PositionSize
	remaining := size
	carry := 0.0
	placed := 0

	for i, tp := range rec.TakeProfits {
		if remaining <= 0 {
			break
		}
		portion := 0.0
		if i < len(rec.TPPortions) {
			portion = rec.TPPortions[i]
		}
		share := size*portion/100 + carry
		amount := exchange.FloorToStep(share, rules.StepSize)
		if i == len(rec.TakeProfits)-1 || amount > remaining {
			amount = exchange.FloorToStep(remaining, rules.StepSize)
		}
		if amount <= 0 || (rules.MinQty > 0 && amount < rules.MinQty) {
			log.Warn("⚠️ Take-profit leg below exchange minimum, carried over", "leg", i+1, "amount", amount)
			carry = share
			continue
		}
		carry = 0

		price := exchange.RoundToTick(tp, rules.TickSize)
		h, err := acct.Trading.PlaceTakeProfitOrder(ctx, rec.Symbol, exitSide, amount, price)
		if err != nil {
			log.Warn("⚠️ Take-profit leg failed", "leg", i+1, "price", price, "amount", amount, "reason", err)
			continue
		}
		remaining = sub(remaining, amount)
		placed++
		o.recordOrder(ctx, tradeID, acct.Name, rec.Symbol, h, domain.OrderRoleTakeProfit, exitSide, price, amount)
		log.Info("🎯 Take-profit placed", "leg", i+1, "price", price, "amount", amount, "order_id", h.OrderID)

		if placed == 1 {
			o.watchFirstLeg(acct, rec.Key(), rec.Side, rec.EntryPrice, h.OrderID, stopID, tradeID, rules)
		}
	}
	return placed
}

// resolveStop программный стоп позиции: цена сигнала, процент от фактического входа, защитный стоп
func resolveStop(plan *domain.OrderPlan, side domain.Side, fill, fallback float64) float64 {
	if plan.StopLoss != nil && *plan.StopLoss > 0 {
		return *plan.StopLoss
	}
	if plan.StopLossPercent != nil && *plan.StopLossPercent > 0 {
		return planner.StopFromPercent(side, fill, *plan.StopLossPercent)
	}
	return fallback
}
