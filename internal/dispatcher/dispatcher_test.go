package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/execution"
	"github.com/kirillm/signal-trader/internal/monitor"
	"github.com/kirillm/signal-trader/internal/policy"
)

type recordingExecutor struct {
	mu    sync.Mutex
	plans []*domain.OrderPlan
}

func (e *recordingExecutor) Execute(_ context.Context, plan *domain.OrderPlan, accounts []*execution.Account) []execution.AccountResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plans = append(e.plans, plan)
	out := make([]execution.AccountResult, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, execution.AccountResult{Account: a.Name, Symbol: plan.Symbol, Action: execution.ActionOpened})
	}
	return out
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.plans)
}

func newTestDispatcher(accounts ...string) (*Dispatcher, *recordingExecutor, *monitor.Registry) {
	exec := &recordingExecutor{}
	registry := monitor.NewRegistry()
	list := make([]*execution.Account, 0, len(accounts))
	for _, name := range accounts {
		list = append(list, &execution.Account{Name: name, Enabled: true})
	}
	d := New(DefaultConfig(), policy.NewStore(policy.Default()), exec, func() []*execution.Account { return list }, registry, nil)
	return d, exec, registry
}

func TestHandle_DuplicateExecutesOnce(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	ev := Event{ChatID: 1, MessageID: 42, Text: "#MDT SHORT / first target: 0.01972"}

	first := d.Handle(context.Background(), ev)
	second := d.Handle(context.Background(), ev)

	assert.Equal(t, OutcomeExecuted, first.Outcome)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, 1, exec.count())
}

func TestHandle_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	ev := Event{ChatID: 1, MessageID: 7, Text: "#BTC LONG"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Handle(context.Background(), ev)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, exec.count())
}

func TestHandle_SameIDInDifferentChats(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	d.Handle(context.Background(), Event{ChatID: 1, MessageID: 5, Text: "#BTC LONG"})
	d.Handle(context.Background(), Event{ChatID: 2, MessageID: 5, Text: "#ETH LONG"})
	assert.Equal(t, 2, exec.count())
}

func TestHandle_EditReprocessedUntilActedUpon(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	ctx := context.Background()

	res := d.Handle(ctx, Event{ChatID: 1, MessageID: 9, Text: "market update soon"})
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res = d.Handle(ctx, Event{ChatID: 1, MessageID: 9, Text: "#SOL LONG", Edited: true})
	assert.Equal(t, OutcomeExecuted, res.Outcome)

	res = d.Handle(ctx, Event{ChatID: 1, MessageID: 9, Text: "#SOL LONG entry 150", Edited: true})
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, exec.count())
}

func TestHandle_BackfillsOrdinalCloseFromHint(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	ctx := context.Background()

	res := d.Handle(ctx, Event{ChatID: 1, MessageID: 1, Text: "目标 到 0.5"})
	assert.Equal(t, OutcomeCached, res.Outcome)

	res = d.Handle(ctx, Event{ChatID: 1, MessageID: 2, Text: "#ABC 第二 平仓"})
	require.Equal(t, OutcomeExecuted, res.Outcome)
	require.Equal(t, 1, exec.count())
	assert.Equal(t, domain.KindClose, res.Plan.Kind)
	assert.Equal(t, []float64{0.5}, res.Plan.TakeProfits)
}

func TestHandle_StaleHintNotBackfilled(t *testing.T) {
	d, _, _ := newTestDispatcher("main")
	ctx := context.Background()
	now := time.Now()
	d.now = func() time.Time { return now }

	d.Handle(ctx, Event{ChatID: 1, MessageID: 1, Text: "目标 到 0.5"})
	d.now = func() time.Time { return now.Add(21 * time.Minute) }

	res := d.Handle(ctx, Event{ChatID: 1, MessageID: 2, Text: "#ABC 第二 平仓"})
	require.Equal(t, OutcomeExecuted, res.Outcome)
	assert.Empty(t, res.Plan.TakeProfits)
}

func TestHandle_ImmediateHintUsesRecentEntry(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	ctx := context.Background()

	d.Handle(ctx, Event{ChatID: 1, MessageID: 1, Text: "#MDT SHORT"})
	res := d.Handle(ctx, Event{ChatID: 1, MessageID: 2, Text: "减仓 到 0.0195"})

	require.Equal(t, OutcomeExecuted, res.Outcome)
	require.Equal(t, 2, exec.count())
	assert.Equal(t, domain.KindClose, res.Plan.Kind)
	assert.Equal(t, "MDT/USDT", res.Plan.Symbol)
	assert.Equal(t, []float64{0.0195}, res.Plan.TakeProfits)
	assert.True(t, res.Plan.FirstTarget)
}

func TestHandle_ImmediateHintUsesSingleOpenPosition(t *testing.T) {
	d, _, registry := newTestDispatcher("main")
	registry.Register(&domain.PositionRecord{Account: "main", Symbol: "XRP/USDT", Side: domain.SideLong})

	res := d.Handle(context.Background(), Event{ChatID: 3, MessageID: 1, Text: "保本 到 0.61"})
	require.Equal(t, OutcomeExecuted, res.Outcome)
	assert.Equal(t, "XRP/USDT", res.Plan.Symbol)
}

func TestHandle_ImmediateHintAmbiguousWithManyAccounts(t *testing.T) {
	d, exec, registry := newTestDispatcher("a", "b")
	registry.Register(&domain.PositionRecord{Account: "a", Symbol: "XRP/USDT", Side: domain.SideLong})

	res := d.Handle(context.Background(), Event{ChatID: 3, MessageID: 1, Text: "保本 到 0.61"})
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, 0, exec.count())
}

func TestHandle_SymbolFromReply(t *testing.T) {
	d, _, _ := newTestDispatcher("main")
	res := d.Handle(context.Background(), Event{
		ChatID:    1,
		MessageID: 2,
		Text:      "第一止盈 到 64000",
		ReplyText: "#BTC LONG entry 60000",
	})
	require.Equal(t, OutcomeExecuted, res.Outcome)
	assert.Equal(t, "BTC/USDT", res.Plan.Symbol)
	assert.Equal(t, []float64{64000}, res.Plan.TakeProfits)
}

func TestHandle_NonSignalIgnored(t *testing.T) {
	d, exec, _ := newTestDispatcher("main")
	res := d.Handle(context.Background(), Event{ChatID: 1, MessageID: 1, Text: "good morning everyone"})
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, 0, exec.count())
}

func TestProcessedMessageSet_Trims(t *testing.T) {
	s := NewProcessedMessageSet(500, 300)
	for i := 1; i <= 501; i++ {
		assert.True(t, s.Mark(i))
	}
	assert.Equal(t, 300, s.Len())
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(501))
	assert.True(t, s.Contains(202))
	assert.False(t, s.Contains(201))
	assert.False(t, s.Mark(501))
}
