package execution

import (
	"context"
	"errors"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
)

// время на перенос стопа после исполнения цели
const breakevenMoveTimeout = 30 * time.Second

// watchFirstLeg следит за первой целью; после исполнения переносит стоп в безубыток
func (o *Orchestrator) watchFirstLeg(acct *Account, key domain.PositionKey, side domain.Side, entry float64, orderID, stopID string, tradeID *int64, rules domain.MarketRules) {
	if orderID == "" {
		return
	}
	spawned := o.watchers.Spawn(o.cfg.FillWatchTimeout, func(ctx context.Context) {
		if !o.waitForFill(ctx, acct, key.Symbol, orderID) {
			return
		}
		moveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), breakevenMoveTimeout)
		defer cancel()
		o.moveStopToBreakeven(moveCtx, acct, key, side, entry, stopID, tradeID, rules)
	})
	if !spawned {
		o.logger.Warn("⚠️ Fill watcher not started, shutting down", "account", acct.Name, "symbol", key.Symbol, "order_id", orderID)
	}
}

// waitForFill опрашивает статус ордера до исполнения, отмены или дедлайна
func (o *Orchestrator) waitForFill(ctx context.Context, acct *Account, symbol, orderID string) bool {
	log := o.logger.With("account", acct.Name, "symbol", symbol, "order_id", orderID)
	ticker := time.NewTicker(o.cfg.FillWatchPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Info("⌛ First take-profit did not fill in time")
			}
			return false
		case <-ticker.C:
		}

		st, err := acct.Trading.FetchOrderStatus(ctx, symbol, orderID)
		if err != nil {
			log.Debug("order status unavailable", "reason", err)
			continue
		}
		if st.Status == domain.OrderStatusFilled {
			log.Info("✅ First take-profit filled")
			return true
		}
		if st.IsTerminal() {
			log.Info("ℹ️ First take-profit ended without fill", "status", st.Status)
			return false
		}
	}
}

// moveStopToBreakeven переставляет биржевой стоп на цену входа для остатка позиции
// и отмечает перенос в реестре одним шагом
func (o *Orchestrator) moveStopToBreakeven(ctx context.Context, acct *Account, key domain.PositionKey, side domain.Side, entry float64, stopID string, tradeID *int64, rules domain.MarketRules) {
	log := o.logger.With("account", acct.Name, "symbol", key.Symbol)

	pos, err := acct.Trading.GetPosition(ctx, key.Symbol)
	if err != nil {
		log.Warn("⚠️ Breakeven move skipped, position unavailable", "reason", err)
		return
	}
	if pos == nil || pos.Contracts <= 0 {
		log.Info("ℹ️ Position already closed, breakeven move not needed")
		return
	}

	if stopID != "" {
		if err := acct.Trading.CancelOrder(ctx, key.Symbol, stopID); err != nil {
			log.Warn("⚠️ Old stop cancel failed", "order_id", stopID, "reason", err)
		}
	}
	price := exchange.RoundToTick(entry, rules.TickSize)
	o.placeStop(ctx, acct, tradeID, key.Symbol, side, pos.Contracts, price, log)

	o.registry.Update(key, func(r *domain.PositionRecord) {
		r.StopLoss = entry
		r.SLMovedToBreakeven = true
		r.PositionSize = pos.Contracts
	})
	log.Info("🛡 Stop moved to breakeven", "stop", price, "remaining", pos.Contracts)
	o.notify(ctx, "🛡 %s: %s stop moved to breakeven %v", acct.Name, key.Symbol, price)
}
