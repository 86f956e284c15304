package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"

	"github.com/kirillm/signal-trader/internal/domain"
)

const (
	gateSettle      = "usdt"
	defaultGateREST = "https://api.gateio.ws/api/v4"
)

// GatePrices запасной источник цены: закрытие последней минутной свечи фьючерса Gate
type GatePrices struct {
	rest  *gateapi.APIClient
	retry *Retrier
}

// NewGatePrices создает источник. Пустой baseURL означает публичный REST Gate.
func NewGatePrices(baseURL string, timeout time.Duration, retry *Retrier) *GatePrices {
	conf := gateapi.NewConfiguration()
	conf.BasePath = strings.TrimSpace(baseURL)
	if conf.BasePath == "" {
		conf.BasePath = defaultGateREST
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}
	if retry == nil {
		retry = NewRetrier(DefaultRetryConfig(), nil)
	}
	return &GatePrices{rest: gateapi.NewAPIClient(conf), retry: retry}
}

// GetPrice цена контракта, например BTC/USDT -> BTC_USDT
func (g *GatePrices) GetPrice(ctx context.Context, symbol string) (float64, error) {
	contract := GateContract(symbol)
	opts := &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(1),
		Interval: optional.NewString("1m"),
	}

	price, err := retryValue(ctx, g.retry, "gate candles "+contract, func(ctx context.Context) (float64, error) {
		kls, _, err := g.rest.FuturesApi.ListFuturesCandlesticks(ctx, gateSettle, contract, opts)
		if err != nil {
			return 0, err
		}
		if len(kls) == 0 {
			return 0, fmt.Errorf("%w: no candles for %s", domain.ErrPermanentExchange, contract)
		}
		p, err := strconv.ParseFloat(kls[len(kls)-1].C, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrPermanentExchange, err)
		}
		return p, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: gate %s: %w", domain.ErrPriceUnavailable, contract, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: gate %s returned %v", domain.ErrPriceUnavailable, contract, price)
	}
	return price, nil
}
