package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kirillm/signal-trader/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SlippageGuard сравнивает цену исполнения рыночного входа с ценой, по которой
// считался размер. Учитывается только проскальзывание против позиции.
type SlippageGuard struct {
	warnPercent decimal.Decimal
}

// NewSlippageGuard порог в процентах, 0 отключает проверку
func NewSlippageGuard(warnPercent float64) *SlippageGuard {
	return &SlippageGuard{warnPercent: decimal.NewFromFloat(warnPercent)}
}

// Adverse проскальзывание против позиции в процентах. Лонг страдает от
// исполнения выше ожидаемой цены, шорт от исполнения ниже. Выгодное исполнение дает 0.
func (sg *SlippageGuard) Adverse(side domain.Side, fill, expected float64) float64 {
	if expected <= 0 || fill <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(expected)
	diff := decimal.NewFromFloat(fill).Sub(e)
	if side == domain.SideShort {
		diff = diff.Neg()
	}
	if !diff.IsPositive() {
		return 0
	}
	pct, _ := diff.Div(e).Mul(hundred).Round(4).Float64()
	return pct
}

// Check ошибка, если проскальзывание против позиции выше порога
func (sg *SlippageGuard) Check(side domain.Side, fill, expected float64) error {
	if !sg.warnPercent.IsPositive() {
		return nil
	}
	pct := sg.Adverse(side, fill, expected)
	if decimal.NewFromFloat(pct).GreaterThan(sg.warnPercent) {
		return fmt.Errorf("slippage %.2f%% exceeds %s%%", pct, sg.warnPercent.String())
	}
	return nil
}
