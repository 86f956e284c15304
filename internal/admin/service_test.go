package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/execution"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/risk"
)

type fakeHistory struct {
	account string
	limit   int
}

func (h *fakeHistory) RecentTrades(_ context.Context, account string, limit int) ([]domain.LedgerTrade, error) {
	h.account, h.limit = account, limit
	return []domain.LedgerTrade{{ID: 1, Account: "main", Symbol: "BTC/USDT"}}, nil
}

func (h *fakeHistory) RiskEvents(_ context.Context, account string, limit int) ([]domain.RiskEvent, error) {
	h.account, h.limit = account, limit
	return []domain.RiskEvent{{ID: 1, Account: "main", Type: domain.RiskEventCooldown}}, nil
}

func newTestService(balance BalanceFunc) (*Service, *risk.Manager, *monitor.Registry, *fakeHistory) {
	riskMgr := risk.NewManager(risk.DefaultLimits(), nil, nil)
	registry := monitor.NewRegistry()
	history := &fakeHistory{}
	svc := New(riskMgr, registry, execution.NewKillSwitch(nil, nil), history, balance, []string{"main", "alt"})
	return svc, riskMgr, registry, history
}

func TestStatus(t *testing.T) {
	svc, _, registry, _ := newTestService(nil)
	registry.Register(&domain.PositionRecord{Account: "main", Symbol: "BTC/USDT", Side: domain.SideLong})

	st := svc.Status()
	assert.False(t, st.Paused)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, []string{"main", "alt"}, st.Accounts)
	require.Len(t, st.Risk, 2)
	assert.Equal(t, "main", st.Risk[0].Account)

	svc.Pause(context.Background(), "")
	st = svc.Status()
	assert.True(t, st.Paused)
	assert.Equal(t, "paused by operator", st.PauseReason)
	require.NotNil(t, st.PausedAt)

	svc.Resume(context.Background())
	assert.False(t, svc.Status().Paused)
}

func TestPositions(t *testing.T) {
	svc, _, registry, _ := newTestService(nil)
	registry.Register(&domain.PositionRecord{Account: "main", Symbol: "BTC/USDT", Side: domain.SideLong})
	registry.Register(&domain.PositionRecord{Account: "alt", Symbol: "ETH/USDT", Side: domain.SideShort})

	all, err := svc.Positions("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alt, err := svc.Positions("alt")
	require.NoError(t, err)
	require.Len(t, alt, 1)
	assert.Equal(t, "ETH/USDT", alt[0].Symbol)

	_, err = svc.Positions("nope")
	assert.True(t, errors.Is(err, domain.ErrUnknownAccount))
}

func TestEnableDisable(t *testing.T) {
	svc, riskMgr, _, _ := newTestService(nil)
	ctx := context.Background()

	require.NoError(t, svc.Disable(ctx, "main", "maintenance"))
	st := riskMgr.State("main")
	assert.False(t, st.TradingEnabled)
	assert.True(t, st.ManuallyDisabled)

	require.NoError(t, svc.Enable(ctx, "main"))
	st = riskMgr.State("main")
	assert.True(t, st.TradingEnabled)
	assert.False(t, st.ManuallyDisabled)

	assert.True(t, errors.Is(svc.Enable(ctx, "ghost"), domain.ErrUnknownAccount))
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit balance", func(t *testing.T) {
		svc, riskMgr, _, _ := newTestService(nil)
		got, err := svc.Reset(ctx, "main", 500)
		require.NoError(t, err)
		assert.Equal(t, 500.0, got)
		assert.Equal(t, 500.0, riskMgr.State("main").InitialBalance)
	})

	t.Run("balance from exchange", func(t *testing.T) {
		svc, riskMgr, _, _ := newTestService(func(context.Context, string) (float64, error) { return 750, nil })
		got, err := svc.Reset(ctx, "alt", 0)
		require.NoError(t, err)
		assert.Equal(t, 750.0, got)
		assert.Equal(t, 750.0, riskMgr.State("alt").CurrentBalance)
	})

	t.Run("exchange error", func(t *testing.T) {
		svc, _, _, _ := newTestService(func(context.Context, string) (float64, error) { return 0, errors.New("timeout") })
		_, err := svc.Reset(ctx, "main", 0)
		assert.Error(t, err)
	})

	t.Run("no balance source", func(t *testing.T) {
		svc, _, _, _ := newTestService(nil)
		_, err := svc.Reset(ctx, "main", 0)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestTradesClampsLimit(t *testing.T) {
	svc, _, _, history := newTestService(nil)

	trades, err := svc.Trades(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, 20, history.limit)

	_, err = svc.RiskEvents(context.Background(), "main", 1000)
	require.NoError(t, err)
	assert.Equal(t, 200, history.limit)
	assert.Equal(t, "main", history.account)

	_, err = svc.Trades(context.Background(), "ghost", 5)
	assert.True(t, errors.Is(err, domain.ErrUnknownAccount))
}

func TestDaily(t *testing.T) {
	svc, riskMgr, _, _ := newTestService(nil)
	ctx := context.Background()
	riskMgr.SetBalance("main", 1000)
	riskMgr.RecordTrade(ctx, "main", 0, false)
	riskMgr.RecordTrade(ctx, "main", 25, true)
	riskMgr.RecordTrade(ctx, "main", 0, false)
	riskMgr.RecordTrade(ctx, "main", -10, true)

	days, err := svc.Daily("main")
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 2, days[0].Trades)
	assert.Equal(t, 1, days[0].Wins)
	assert.Equal(t, 1, days[0].Losses)
	assert.InDelta(t, 15.0, days[0].PnL, 1e-9)

	days, err = svc.Daily("alt")
	require.NoError(t, err)
	assert.Empty(t, days)

	_, err = svc.Daily("ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
}
