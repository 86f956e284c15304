package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	gateapi "github.com/gateio/gateapi-go/v7"
	"github.com/jpillora/backoff"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// RetryConfig параметры повторов на границе биржи
type RetryConfig struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
	Factor   float64
	// RPS лимит запросов аккаунта в секунду, 0 = без лимита
	RPS float64
}

// DefaultRetryConfig 3 попытки, 0.5s база, множитель 1.8
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 5 * time.Second,
		Factor:   1.8,
		RPS:      10,
	}
}

// Retrier повторяет временные ошибки с экспоненциальной задержкой и джиттером
type Retrier struct {
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *utils.Logger
}

// NewRetrier создает Retrier
func NewRetrier(cfg RetryConfig, logger *utils.Logger) *Retrier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Factor <= 1 {
		cfg.Factor = 2
	}
	if logger == nil {
		logger = utils.Nop()
	}
	r := &Retrier{cfg: cfg, logger: logger}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return r
}

// Do выполняет fn с повторами. Постоянные ошибки возвращаются сразу.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    r.cfg.MinDelay,
		Max:    r.cfg.MaxDelay,
		Factor: r.cfg.Factor,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = Classify(err)
		if !errors.Is(lastErr, domain.ErrTransientExchange) {
			return lastErr
		}
		if attempt == r.cfg.Attempts {
			break
		}

		delay := b.Duration()
		r.logger.Debug("retrying exchange call", "op", op, "attempt", attempt, "delay", delay.String(), "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, r.cfg.Attempts, lastErr)
}

// retryValue обертка над Do для вызовов с результатом
func retryValue[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// коды Binance, которые имеет смысл повторить
var binanceTransientCodes = map[int64]bool{
	-1000: true, // unknown error
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1006: true, // unexpected response
	-1007: true, // timeout
	-1008: true, // server overloaded
	-1021: true, // timestamp outside recv window
}

var binancePrecisionCodes = map[int64]bool{
	-1013: true, // filter failure
	-1111: true, // precision over maximum
	-4003: true, // quantity less than zero
	-4164: true, // notional too small
}

const (
	binanceInsufficientMargin int64 = -2019
	binanceUnknownOrder       int64 = -2013
)

var gateTransientLabels = map[string]bool{
	"TOO_MANY_REQUESTS": true,
	"SERVER_ERROR":      true,
	"TOO_BUSY":          true,
	"INTERNAL":          true,
}

// Classify сопоставляет ошибку биржи с таксономией domain.
// Уже классифицированные ошибки и ошибки контекста возвращаются как есть.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTransientExchange) || errors.Is(err, domain.ErrPermanentExchange) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case binanceTransientCodes[apiErr.Code]:
			return fmt.Errorf("%w: %w", domain.ErrTransientExchange, err)
		case apiErr.Code == binanceInsufficientMargin:
			return fmt.Errorf("%w: %w: %w", domain.ErrPermanentExchange, domain.ErrInsufficientMargin, err)
		case binancePrecisionCodes[apiErr.Code]:
			return fmt.Errorf("%w: %w: %w", domain.ErrPermanentExchange, domain.ErrPrecisionAdjustment, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrPermanentExchange, err)
	}

	var gateErr gateapi.GenericOpenAPIError
	if errors.As(err, &gateErr) {
		label := GateErrorLabel(gateErr.Body())
		if gateTransientLabels[label] || (label == "" && strings.HasPrefix(gateErr.Error(), "5")) {
			return fmt.Errorf("%w: %w", domain.ErrTransientExchange, err)
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrPermanentExchange, label, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransientExchange, err)
	}

	// транспортные ошибки без типа (EOF, reset) считаем временными
	return fmt.Errorf("%w: %w", domain.ErrTransientExchange, err)
}

// GateErrorLabel достает label из тела ошибки Gate API
func GateErrorLabel(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return strings.ToUpper(gjson.GetBytes(body, "label").String())
}

// isUnknownOrder true, если биржа не знает ордер с таким id
func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == binanceUnknownOrder
}

// submitOnce отправляет ордер с фиксированным client id. Перед повторной отправкой
// ордер ищется по этому id: после временной ошибки запрос мог дойти до биржи.
// Если исход последней попытки неизвестен, ошибка оборачивает ErrOrderStateUnknown.
func submitOnce[T any](ctx context.Context, r *Retrier, op string, lookup, send func(ctx context.Context) (T, error)) (T, error) {
	sent, ambiguous := false, false
	out, err := retryValue(ctx, r, op, func(ctx context.Context) (T, error) {
		var zero T
		if sent {
			found, err := lookup(ctx)
			if err == nil {
				ambiguous = false
				return found, nil
			}
			if !isUnknownOrder(err) {
				ambiguous = true
				return zero, err
			}
		}
		sent = true
		v, err := send(ctx)
		if err != nil {
			ambiguous = errors.Is(Classify(err), domain.ErrTransientExchange)
			return zero, err
		}
		ambiguous = false
		return v, nil
	})
	if err != nil && ambiguous {
		return out, fmt.Errorf("%w: %w", domain.ErrOrderStateUnknown, err)
	}
	return out, err
}

// IsInsufficientMargin true для отказа из-за нехватки маржи
func IsInsufficientMargin(err error) bool {
	return errors.Is(err, domain.ErrInsufficientMargin)
}
