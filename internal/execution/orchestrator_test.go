package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/planner"
	"github.com/kirillm/signal-trader/internal/policy"
	"github.com/kirillm/signal-trader/internal/signal"
)

var mdtRules = domain.MarketRules{TickSize: 0.00001, StepSize: 1, MinQty: 1}

func mustPlan(t *testing.T, text string) *domain.OrderPlan {
	t.Helper()
	sig, ok := signal.Parse(text)
	require.True(t, ok, "Parse(%q)", text)
	plan, err := planner.CreatePlan(sig, policy.Default())
	require.NoError(t, err)
	return plan
}

func TestExecute_EndToEndShortSignal(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)

	plan := mustPlan(t, "#MDT SHORT / first target: 0.01972")
	results := h.orch.Execute(context.Background(), plan, []*Account{riskAccount("main", ex)})

	require.Len(t, results, 1)
	res := results[0]
	require.Equal(t, ActionOpened, res.Action, "reason: %s err: %v", res.Reason, res.Err)
	// 1000 * 1% * 10 / 0.02
	assert.InDelta(t, 5000, res.Size, 1e-9)

	entries := ex.callsOf("market")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OrderSideSell, entries[0].Side)
	assert.InDelta(t, 5000, entries[0].Amount, 1e-9)
	assert.False(t, entries[0].ReduceOnly)

	stops := ex.callsOf("stop")
	require.Len(t, stops, 1)
	assert.Equal(t, domain.OrderSideBuy, stops[0].Side)
	assert.InDelta(t, 0.0208, stops[0].Price, 1e-12)
	assert.InDelta(t, 5000, stops[0].Amount, 1e-9)

	tps := ex.callsOf("tp")
	require.Len(t, tps, 1, "no extra ladder legs without a known entry")
	assert.Equal(t, domain.OrderSideBuy, tps[0].Side)
	assert.InDelta(t, 0.01972, tps[0].Price, 1e-12)
	assert.InDelta(t, 5000, tps[0].Amount, 1e-9)

	rec, ok := h.registry.Get(domain.PositionKey{Account: "main", Symbol: "MDT/USDT"})
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, rec.Side)
	assert.InDelta(t, 0.0204, rec.StopLoss, 1e-12)
	require.NotNil(t, rec.LedgerTradeID)

	assert.Equal(t, 1, h.risk.State("main").OpenPositionsCount)
	assert.Equal(t, []string{domain.OrderRoleEntry, domain.OrderRoleStopLoss, domain.OrderRoleTakeProfit},
		h.ledger.rolesFor(*rec.LedgerTradeID))
	assert.Equal(t, 1, h.orch.Watchers().Len())
}

func TestExecute_AccountsAreIsolated(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ctx := context.Background()

	good := newFakeTrading("good", 0.02, 1000, mdtRules)
	noPrice := newFakeTrading("noprice", 0.02, 1000, mdtRules)
	noPrice.priceErr = errBoom
	blocked := newFakeTrading("blocked", 0.02, 1000, mdtRules)
	h.risk.Disable(ctx, "blocked", "manual")
	disabled := riskAccount("off", newFakeTrading("off", 0.02, 1000, mdtRules))
	disabled.Enabled = false

	plan := mustPlan(t, "#MDT SHORT / first target: 0.01972")
	results := h.orch.Execute(ctx, plan, []*Account{
		riskAccount("good", good),
		riskAccount("noprice", noPrice),
		riskAccount("blocked", blocked),
		disabled,
	})

	require.Len(t, results, 4)
	assert.Equal(t, ActionOpened, results[0].Action)

	assert.Equal(t, ActionSkipped, results[1].Action)
	assert.True(t, errors.Is(results[1].Err, domain.ErrPriceUnavailable))
	assert.Empty(t, noPrice.callsOf("market"))

	assert.Equal(t, ActionSkipped, results[2].Action)
	assert.True(t, errors.Is(results[2].Err, domain.ErrRiskRejected))
	assert.Contains(t, results[2].Reason, "disabled manually")
	assert.Empty(t, blocked.callsOf("market"))
	assert.Contains(t, h.ledger.eventTypes("blocked"), domain.RiskEventBlockedOpen)

	assert.Equal(t, ActionSkipped, results[3].Action)
	assert.Equal(t, "account disabled", results[3].Reason)
}

func TestExecute_KillSwitchBlocksEntries(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	h.kill.Activate(context.Background(), "maintenance")

	ex := newFakeTrading("main", 0.02, 1000, mdtRules)
	results := h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})

	assert.Equal(t, ActionSkipped, results[0].Action)
	assert.True(t, errors.Is(results[0].Err, domain.ErrTradingPaused))
	assert.Empty(t, ex.callsOf("market"))
}

func TestExecute_InsufficientMarginDownsizes(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)
	ex.marginFailures = 2

	results := h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})

	require.Equal(t, ActionOpened, results[0].Action)
	entries := ex.callsOf("market")
	require.Len(t, entries, 3)
	assert.InDelta(t, 5000, entries[0].Amount, 1e-9)
	assert.InDelta(t, 3500, entries[1].Amount, 1e-9)
	assert.InDelta(t, 2450, entries[2].Amount, 1e-9)
	assert.InDelta(t, 2450, results[0].Size, 1e-9)
}

func TestExecute_InsufficientMarginGivesUpAfterRetries(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)
	ex.marginFailures = 10

	results := h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})

	assert.Equal(t, ActionFailed, results[0].Action)
	assert.True(t, errors.Is(results[0].Err, domain.ErrInsufficientMargin))
	assert.Len(t, ex.callsOf("market"), 4)
	assert.Equal(t, 0, h.registry.Len())
}

func TestExecute_RaisesToExchangeMinimum(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	// 1000 * 1% * 10 / 42000 = 0.00238 < min notional 100 USDT
	ex := newFakeTrading("main", 42000, 1000, domain.MarketRules{TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MinNotional: 100})

	results := h.orch.Execute(context.Background(), mustPlan(t, "#BTC LONG"), []*Account{riskAccount("main", ex)})

	require.Equal(t, ActionOpened, results[0].Action)
	entries := ex.callsOf("market")
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.003, entries[0].Amount, 1e-12)
	assert.GreaterOrEqual(t, entries[0].Amount*42000, 100.0)
}

func TestExecute_StopFailureDoesNotAbortPlan(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)
	ex.stopErr = errBoom

	results := h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})

	assert.Equal(t, ActionOpened, results[0].Action)
	assert.Len(t, ex.callsOf("tp"), 1)
	assert.True(t, h.registry.Has(domain.PositionKey{Account: "main", Symbol: "MDT/USDT"}))
}

func TestExecute_SkipsAlreadyTrackedPosition(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)
	plan := mustPlan(t, "#MDT SHORT / first target: 0.01972")
	acct := riskAccount("main", ex)

	h.orch.Execute(context.Background(), plan, []*Account{acct})
	results := h.orch.Execute(context.Background(), plan, []*Account{acct})

	assert.Equal(t, ActionSkipped, results[0].Action)
	assert.Len(t, ex.callsOf("market"), 1)
}

func TestExecute_FirstTargetFillMovesStopToBreakeven(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)

	h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})
	tps := ex.callsOf("tp")
	require.Len(t, tps, 1)
	firstStop := ex.callsOf("stop")[0].OrderID

	// половина позиции закрылась на первой цели
	ex.setPosition("MDT/USDT", &domain.Position{Contracts: 2500, Side: domain.SideShort, EntryPrice: 0.02})
	ex.setStatus(tps[0].OrderID, domain.OrderStatusFilled)

	key := domain.PositionKey{Account: "main", Symbol: "MDT/USDT"}
	require.Eventually(t, func() bool {
		rec, ok := h.registry.Get(key)
		return ok && rec.SLMovedToBreakeven
	}, time.Second, 5*time.Millisecond)

	rec, _ := h.registry.Get(key)
	assert.InDelta(t, 0.02, rec.StopLoss, 1e-12)
	assert.InDelta(t, 2500, rec.PositionSize, 1e-9)

	stops := ex.callsOf("stop")
	require.Len(t, stops, 2)
	assert.InDelta(t, 0.02, stops[1].Price, 1e-12)
	assert.InDelta(t, 2500, stops[1].Amount, 1e-9)

	cancels := ex.callsOf("cancel")
	require.Len(t, cancels, 1)
	assert.Equal(t, firstStop, cancels[0].OrderID)
}

func TestExecute_WatcherStopsOnCancelledOrder(t *testing.T) {
	h := newHarness()
	defer h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)

	h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})
	ex.setStatus(ex.callsOf("tp")[0].OrderID, domain.OrderStatusCanceled)

	require.Eventually(t, func() bool { return h.orch.Watchers().Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, ex.callsOf("stop"), 1)
}

func TestExecute_AfterDrainSkips(t *testing.T) {
	h := newHarness()
	h.orch.Drain()
	ex := newFakeTrading("main", 0.02, 1000, mdtRules)

	results := h.orch.Execute(context.Background(), mustPlan(t, "#MDT SHORT / first target: 0.01972"), []*Account{riskAccount("main", ex)})
	assert.Equal(t, ActionSkipped, results[0].Action)
	assert.Empty(t, ex.callsOf("market"))
}
