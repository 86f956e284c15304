package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kirillm/signal-trader/internal/domain"
)

// Sizing параметры расчета размера позиции аккаунта
type Sizing struct {
	Mode        string
	RiskPercent float64
	FixedMargin float64
	// MaxSize предел в контрактах, 0 без предела
	MaxSize float64
}

// PositionSize размер позиции в контрактах:
//
//	risk_percent   balance × risk% × leverage / price
//	fixed_margin   margin × leverage / price
//	risk_notional  balance × risk% / price
func PositionSize(s Sizing, balance float64, leverage int, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: price %v", domain.ErrSizing, price)
	}
	if leverage <= 0 {
		leverage = 1
	}
	lev := decimal.NewFromInt(int64(leverage))
	p := decimal.NewFromFloat(price)
	pct := decimal.NewFromFloat(s.RiskPercent).Div(decimal.NewFromInt(100))

	var size decimal.Decimal
	switch s.Mode {
	case domain.SizingRiskPercent, "":
		size = decimal.NewFromFloat(balance).Mul(pct).Mul(lev).Div(p)
	case domain.SizingFixedMargin:
		size = decimal.NewFromFloat(s.FixedMargin).Mul(lev).Div(p)
	case domain.SizingRiskNotional:
		size = decimal.NewFromFloat(balance).Mul(pct).Div(p)
	default:
		return 0, fmt.Errorf("%w: unknown sizing mode %q", domain.ErrSizing, s.Mode)
	}

	if s.MaxSize > 0 {
		size = decimal.Min(size, decimal.NewFromFloat(s.MaxSize))
	}
	out := size.Round(12).InexactFloat64()
	if out <= 0 {
		return 0, fmt.Errorf("%w: computed %v", domain.ErrSizing, out)
	}
	return out, nil
}
