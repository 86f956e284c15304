package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/kirillm/signal-trader/internal/domain"
)

// шум float64 (0.30000000000000004) срезается до округления к шагу
const noisePlaces = 10

// FloorToStep округляет вниз к шагу лота
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Round(noisePlaces).Div(s).Floor().Mul(s).InexactFloat64()
}

// CeilToStep округляет вверх к шагу лота
func CeilToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Round(noisePlaces).Div(s).Ceil().Mul(s).InexactFloat64()
}

// RoundToTick округляет цену к ближайшему тику
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).InexactFloat64()
}

// StepPlaces число знаков после запятой у шага
func StepPlaces(step float64) int32 {
	if step <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// FormatStep печатает значение с точностью шага без экспоненты, лишние знаки отбрасываются
func FormatStep(v, step float64) string {
	places := StepPlaces(step)
	return decimal.NewFromFloat(v).Round(noisePlaces).Truncate(places).StringFixed(places)
}

// AdjustToMinimum поднимает объем до минимального лота и минимального нотионала.
// Округление всегда вверх, чтобы не получить повторный отказ биржи.
func AdjustToMinimum(amount, price float64, r domain.MarketRules) (float64, bool) {
	adjusted := amount
	if r.MinQty > 0 && adjusted < r.MinQty {
		adjusted = r.MinQty
	}
	if r.MinNotional > 0 && price > 0 {
		notional := decimal.NewFromFloat(adjusted).Mul(decimal.NewFromFloat(price))
		if notional.LessThan(decimal.NewFromFloat(r.MinNotional)) {
			adjusted = decimal.NewFromFloat(r.MinNotional).Div(decimal.NewFromFloat(price)).InexactFloat64()
		}
	}
	adjusted = CeilToStep(adjusted, r.StepSize)
	if r.MinNotional > 0 && price > 0 && adjusted*price < r.MinNotional && r.StepSize > 0 {
		// граница нотионала попала между шагами
		adjusted = CeilToStep(adjusted+r.StepSize, r.StepSize)
	}
	return adjusted, adjusted != amount
}

// NormalizeAmount округляет объем вниз к шагу, но не ниже минимального лота
func NormalizeAmount(amount float64, r domain.MarketRules) float64 {
	v := FloorToStep(amount, r.StepSize)
	if r.MinQty > 0 && v < r.MinQty {
		return CeilToStep(r.MinQty, r.StepSize)
	}
	return v
}
