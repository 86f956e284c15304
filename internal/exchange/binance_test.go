package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/pkg/utils"
)

const exchangeInfoJSON = `{"symbols":[{"symbol":"BTCUSDT","filters":[
{"filterType":"PRICE_FILTER","tickSize":"0.10"},
{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
{"filterType":"MIN_NOTIONAL","notional":"5"}]}]}`

const (
	timeoutBody = `{"code":-1007,"msg":"Timeout waiting for response from backend server. Send status unknown; execution status unknown."}`
	unknownBody = `{"code":-2013,"msg":"Order does not exist."}`
)

type fakeFutures struct {
	mu         sync.Mutex
	orderForms []map[string]string
	algoForms  []map[string]string
	lookups    []string
	placed     map[string]bool

	// rejectAlgo решает, отклонить ли POST /algoOrder с данными параметрами
	rejectAlgo func(form map[string]string) bool
	// timeoutOrders сколько первых POST /order ответить -1007
	timeoutOrders int
	// acceptOnTimeout ордер все равно попадает на биржу, хотя ответ -1007
	acceptOnTimeout bool
	// timeoutAlgo все POST /algoOrder отвечают -1007
	timeoutAlgo bool
}

func formOf(r *http.Request) map[string]string {
	form := map[string]string{}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	return form
}

func (f *fakeFutures) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placed == nil {
		f.placed = map[string]bool{}
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/exchangeInfo"):
		_, _ = w.Write([]byte(exchangeInfoJSON))
	case strings.HasSuffix(r.URL.Path, "/ticker/price"):
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"42000.10","time":1}`))
	case strings.Contains(r.URL.Path, "positionRisk"):
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.500","entryPrice":"42100.0","positionSide":"BOTH"}]`))

	case strings.HasSuffix(r.URL.Path, "/order") && r.Method == http.MethodPost:
		form := formOf(r)
		f.orderForms = append(f.orderForms, form)
		cid := form["newClientOrderId"]
		if len(f.orderForms) <= f.timeoutOrders {
			if f.acceptOnTimeout {
				f.placed[cid] = true
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(timeoutBody))
			return
		}
		f.placed[cid] = true
		_, _ = fmt.Fprintf(w, `{"orderId":42,"clientOrderId":%q,"symbol":"BTCUSDT","status":"FILLED","avgPrice":"42000.5","origQty":"0.012","executedQty":"0.012"}`, cid)
	case strings.HasSuffix(r.URL.Path, "/order") && r.Method == http.MethodGet:
		cid := r.Form.Get("origClientOrderId")
		f.lookups = append(f.lookups, cid)
		if !f.placed[cid] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(unknownBody))
			return
		}
		_, _ = fmt.Fprintf(w, `{"orderId":42,"clientOrderId":%q,"symbol":"BTCUSDT","status":"FILLED","avgPrice":"42000.5","origQty":"0.012","executedQty":"0.012"}`, cid)

	case strings.HasSuffix(r.URL.Path, "/algoOrder") && r.Method == http.MethodPost:
		form := formOf(r)
		f.algoForms = append(f.algoForms, form)
		if f.timeoutAlgo {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(timeoutBody))
			return
		}
		if f.rejectAlgo != nil && f.rejectAlgo(form) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-4061,"msg":"Order's position side does not match user's setting."}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"algoId":77,"clientAlgoId":%q,"algoType":"CONDITIONAL","orderType":"STOP_MARKET","symbol":"BTCUSDT","algoStatus":"NEW"}`, form["clientAlgoId"])
	case strings.HasSuffix(r.URL.Path, "/algoOrder") && r.Method == http.MethodGet:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(unknownBody))
	case strings.HasSuffix(r.URL.Path, "/openAlgoOrders"), strings.HasSuffix(r.URL.Path, "/openOrders"):
		_, _ = w.Write([]byte(`[]`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeFutures) orders() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.orderForms...)
}

func (f *fakeFutures) algos() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.algoForms...)
}

func newTestBinance(t *testing.T, f *fakeFutures, attempts int) *Binance {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return NewBinance("main", BinanceConfig{APIKey: "k", APISecret: "s", BaseURL: srv.URL}, fastRetrier(attempts), utils.Nop())
}

func TestBinance_StopFallsBackToOneWayShape(t *testing.T) {
	f := &fakeFutures{rejectAlgo: func(form map[string]string) bool {
		return form["positionSide"] != ""
	}}
	b := newTestBinance(t, f, 1)

	h, err := b.PlaceStopLossOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.0123, 43784.04)
	require.NoError(t, err)
	assert.Equal(t, "algo:77", h.OrderID)
	assert.Equal(t, domain.OrderStatusOpen, h.Status)
	assert.Equal(t, 43784.04, h.Price)

	forms := f.algos()
	require.Len(t, forms, 2)
	assert.Equal(t, "SHORT", forms[0]["positionSide"])
	assert.Equal(t, "", forms[1]["positionSide"])
	assert.Equal(t, "true", forms[1]["reduceOnly"])
	assert.Equal(t, "0.012", forms[1]["quantity"])
	assert.Equal(t, "43784.0", forms[1]["triggerPrice"])
	assert.Equal(t, "STOP_MARKET", forms[1]["type"])
	assert.Equal(t, "CONDITIONAL", forms[1]["algoType"])
	assert.NotEqual(t, forms[0]["clientAlgoId"], forms[1]["clientAlgoId"])
	assert.Empty(t, f.orders(), "stops must not go through the plain order endpoint")
}

func TestBinance_StopExhaustsShapes(t *testing.T) {
	f := &fakeFutures{rejectAlgo: func(map[string]string) bool { return true }}
	b := newTestBinance(t, f, 1)

	_, err := b.PlaceStopLossOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.01, 40000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanentExchange)

	forms := f.algos()
	require.Len(t, forms, 4)
	assert.Equal(t, "true", forms[3]["closePosition"])
}

func TestBinance_StopUnknownOutcomeStopsShapeSequence(t *testing.T) {
	f := &fakeFutures{timeoutAlgo: true}
	b := newTestBinance(t, f, 1)

	_, err := b.PlaceStopLossOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.01, 40000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderStateUnknown)
	assert.Len(t, f.algos(), 1, "a second stop must not be sent while the first one may exist")
}

func TestBinance_MarketOrderFoundAfterTimeoutIsNotResent(t *testing.T) {
	f := &fakeFutures{timeoutOrders: 1, acceptOnTimeout: true}
	b := newTestBinance(t, f, 3)

	h, err := b.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.012, false)
	require.NoError(t, err)
	assert.Equal(t, "42", h.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, h.Status)
	assert.Equal(t, 42000.5, h.Price)

	forms := f.orders()
	require.Len(t, forms, 1)
	assert.Equal(t, []string{forms[0]["newClientOrderId"]}, f.lookups)
}

func TestBinance_MarketOrderResentWithSameClientID(t *testing.T) {
	f := &fakeFutures{timeoutOrders: 1}
	b := newTestBinance(t, f, 3)

	_, err := b.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.012, true)
	require.NoError(t, err)

	forms := f.orders()
	require.Len(t, forms, 2)
	assert.Equal(t, forms[0]["newClientOrderId"], forms[1]["newClientOrderId"])
	assert.Equal(t, "true", forms[1]["reduceOnly"])
	assert.Len(t, f.lookups, 1)
}

func TestBinance_LimitOrderUnknownOutcome(t *testing.T) {
	f := &fakeFutures{timeoutOrders: 5}
	b := newTestBinance(t, f, 2)

	_, err := b.PlaceLimitOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.012, 43000, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderStateUnknown)

	forms := f.orders()
	require.Len(t, forms, 2)
	assert.Equal(t, forms[0]["newClientOrderId"], forms[1]["newClientOrderId"])
}

func TestNewBinance_TestnetDoesNotLeakToOtherAccounts(t *testing.T) {
	demo := NewBinance("demo", BinanceConfig{Testnet: true}, nil, nil)
	live := NewBinance("live", BinanceConfig{}, nil, nil)
	custom := NewBinance("custom", BinanceConfig{Testnet: true, BaseURL: "http://localhost:9/"}, nil, nil)

	assert.Equal(t, futures.BaseApiTestnetUrl, demo.client.BaseURL)
	assert.Equal(t, futures.BaseApiMainUrl, live.client.BaseURL)
	assert.Equal(t, "http://localhost:9", custom.client.BaseURL)
}

func TestBinance_PriceRulesAndPosition(t *testing.T) {
	b := newTestBinance(t, &fakeFutures{}, 1)
	ctx := context.Background()

	price, err := b.GetPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 42000.10, price)

	rules, err := b.MarketRules(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketRules{TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MinNotional: 5}, rules)

	_, err = b.MarketRules(ctx, "DOGE/USDT")
	assert.ErrorIs(t, err, domain.ErrPermanentExchange)

	pos, err := b.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.Position{Contracts: 0.5, Side: domain.SideShort, EntryPrice: 42100}, *pos)
}
