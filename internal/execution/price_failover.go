package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/exchange"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// DefaultPriceCacheTTL сколько живет последняя удачная цена. Меньше тика монитора:
// следующая проверка позиций по устаревшей цене не проходит.
const DefaultPriceCacheTTL = 2 * time.Second

// PriceFailover основной источник цены аккаунта, запасные источники и короткий кеш
type PriceFailover struct {
	primarySource   exchange.PriceSource
	fallbackSources []exchange.PriceSource
	ttl             time.Duration
	logger          *utils.Logger
	now             func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewPriceFailover создает новый price failover
func NewPriceFailover(primarySource exchange.PriceSource, logger *utils.Logger, fallbacks ...exchange.PriceSource) *PriceFailover {
	if logger == nil {
		logger = utils.Nop()
	}
	return &PriceFailover{
		primarySource:   primarySource,
		fallbackSources: fallbacks,
		ttl:             DefaultPriceCacheTTL,
		logger:          logger,
		now:             time.Now,
		cache:           make(map[string]cachedPrice),
	}
}

// GetPrice получает цену с failover
func (pf *PriceFailover) GetPrice(ctx context.Context, symbol string) (float64, error) {
	// Пробуем основной источник
	price, err := pf.primarySource.GetPrice(ctx, symbol)
	if err == nil && price > 0 {
		pf.remember(symbol, price)
		return price, nil
	}
	lastErr := err
	if errors.Is(err, context.Canceled) {
		return 0, err
	}

	// Основной источник недоступен, пробуем fallback
	for i, source := range pf.fallbackSources {
		price, err := source.GetPrice(ctx, symbol)
		if err == nil && price > 0 {
			pf.logger.Warn("⚠️ Using fallback price source", "source", i+1, "symbol", symbol, "primary_error", lastErr)
			pf.remember(symbol, price)
			return price, nil
		}
		lastErr = err
	}

	// Все источники недоступны, используем кеш если есть
	pf.mu.Lock()
	cached, ok := pf.cache[symbol]
	pf.mu.Unlock()
	if ok {
		age := pf.now().Sub(cached.timestamp)
		if age < pf.ttl {
			pf.logger.Warn("⚠️ Using cached price", "symbol", symbol, "age", age)
			return cached.price, nil
		}
	}

	if lastErr == nil {
		lastErr = errors.New("non-positive price")
	}
	return 0, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, symbol, lastErr)
}

func (pf *PriceFailover) remember(symbol string, price float64) {
	pf.mu.Lock()
	pf.cache[symbol] = cachedPrice{price: price, timestamp: pf.now()}
	pf.mu.Unlock()
}
