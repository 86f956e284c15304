// Package planner строит план исполнения из сигнала и снимка политики.
package planner

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/policy"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// CreatePlan строит OrderPlan. Чистая функция от сигнала и политики.
func CreatePlan(sig *domain.TradingSignal, pol policy.Policy) (*domain.OrderPlan, error) {
	if sig == nil || sig.Symbol == "" {
		return nil, fmt.Errorf("%w: signal without symbol", domain.ErrInvalidInput)
	}

	switch sig.Kind {
	case domain.KindClose:
		return closePlan(sig), nil
	case domain.KindLong, domain.KindShort:
	default:
		return nil, fmt.Errorf("%w: cannot plan %s signal", domain.ErrInvalidInput, sig.Kind)
	}

	side := sig.Side()
	plan := &domain.OrderPlan{
		Kind:                       sig.Kind,
		Symbol:                     sig.Symbol,
		Side:                       side,
		EntryPrice:                 copyFloat(sig.EntryPrice),
		Leverage:                   copyInt(sig.Leverage),
		MoveToBreakeven:            pol.MoveToBreakeven,
		BreakevenTriggerPercent:    pol.BreakevenTriggerPercent,
		StopTrailingAfterBreakeven: pol.StopTrailingAfterBreakeven,
		RawText:                    sig.RawText,
	}
	if pol.TrailingEnabled && pol.TrailingStopPercent > 0 {
		v := pol.TrailingStopPercent
		plan.TrailingStopPercent = &v
	}

	switch {
	case sig.StopLoss != nil:
		plan.StopLoss = copyFloat(sig.StopLoss)
	case sig.EntryPrice != nil:
		sl := StopFromPercent(side, *sig.EntryPrice, pol.DefaultStopLossPercent)
		plan.StopLoss = &sl
	default:
		// рыночный вход: стоп считается от цены исполнения
		pct := pol.DefaultStopLossPercent
		plan.StopLossPercent = &pct
	}

	legs := takeProfitLegs(sig, side, pol)
	sortByHitOrder(legs, side)
	normalize(legs)
	for _, l := range legs {
		plan.TakeProfits = append(plan.TakeProfits, l.price)
		plan.TPPortions = append(plan.TPPortions, l.portion)
	}
	return plan, nil
}

type leg struct {
	price   float64
	portion float64
}

func takeProfitLegs(sig *domain.TradingSignal, side domain.Side, pol policy.Policy) []leg {
	var legs []leg
	share := pol.SignalTPSharePercent
	if share <= 0 || share > 100 {
		share = 60
	}

	if n := len(sig.TakeProfits); n > 0 {
		each := share / float64(n)
		for _, tp := range sig.TakeProfits {
			legs = append(legs, leg{price: tp, portion: each})
		}
		if sig.EntryPrice == nil || len(pol.Ladder) == 0 {
			return legs
		}

		extreme := mostFavourable(sig.TakeProfits, side)
		total := ladderTotal(pol.Ladder)
		rest := 100 - share
		for _, step := range pol.Ladder {
			price := TargetFromPercent(side, *sig.EntryPrice, step.ProfitPercent)
			if !beyond(side, price, extreme) {
				continue
			}
			legs = append(legs, leg{price: price, portion: step.PortionPercent / total * rest})
		}
		return legs
	}

	if sig.EntryPrice == nil {
		return nil
	}
	for _, step := range pol.Ladder {
		legs = append(legs, leg{
			price:   TargetFromPercent(side, *sig.EntryPrice, step.ProfitPercent),
			portion: step.PortionPercent,
		})
	}
	return legs
}

// closePlan частичное закрытие: цели сигнала делят позицию поровну
func closePlan(sig *domain.TradingSignal) *domain.OrderPlan {
	plan := &domain.OrderPlan{
		Kind:    domain.KindClose,
		Symbol:  sig.Symbol,
		RawText: sig.RawText,
	}
	legs := make([]leg, 0, len(sig.TakeProfits))
	for _, tp := range sig.TakeProfits {
		legs = append(legs, leg{price: tp, portion: 1})
	}
	normalize(legs)
	for _, l := range legs {
		plan.TakeProfits = append(plan.TakeProfits, l.price)
		plan.TPPortions = append(plan.TPPortions, l.portion)
	}
	return plan
}

// normalize масштабирует доли к сумме ровно 100; последняя доля забирает округление
func normalize(legs []leg) {
	if len(legs) == 0 {
		return
	}
	sum := decimal.Zero
	for _, l := range legs {
		sum = sum.Add(decimal.NewFromFloat(l.portion))
	}
	if sum.IsZero() {
		each := decHundred.Div(decimal.NewFromInt(int64(len(legs))))
		for i := range legs {
			legs[i].portion = each.InexactFloat64()
		}
		sum = decHundred
	}
	acc := decimal.Zero
	for i := range legs {
		if i == len(legs)-1 {
			legs[i].portion = decHundred.Sub(acc).InexactFloat64()
			break
		}
		p := decimal.NewFromFloat(legs[i].portion).Mul(decHundred).Div(sum).Round(6)
		legs[i].portion = p.InexactFloat64()
		acc = acc.Add(p)
	}
}

// sortByHitOrder: ближние к входу цели первыми
func sortByHitOrder(legs []leg, side domain.Side) {
	sort.SliceStable(legs, func(i, j int) bool {
		if side == domain.SideShort {
			return legs[i].price > legs[j].price
		}
		return legs[i].price < legs[j].price
	})
}

func mostFavourable(tps []float64, side domain.Side) float64 {
	ext := tps[0]
	for _, tp := range tps[1:] {
		if (side == domain.SideShort && tp < ext) || (side != domain.SideShort && tp > ext) {
			ext = tp
		}
	}
	return ext
}

func beyond(side domain.Side, price, extreme float64) bool {
	c := decimal.NewFromFloat(price).Cmp(decimal.NewFromFloat(extreme))
	if side == domain.SideShort {
		return c < 0
	}
	return c > 0
}

func ladderTotal(steps []policy.LadderStep) float64 {
	total := 0.0
	for _, s := range steps {
		total += s.PortionPercent
	}
	if total <= 0 {
		return 1
	}
	return total
}

// TargetFromPercent цена цели на pct процентов в прибыльную сторону
func TargetFromPercent(side domain.Side, entry, pct float64) float64 {
	f := decimal.NewFromFloat(pct).Div(decHundred)
	if side == domain.SideShort {
		f = decOne.Sub(f)
	} else {
		f = decOne.Add(f)
	}
	return decimal.NewFromFloat(entry).Mul(f).InexactFloat64()
}

// StopFromPercent цена стопа на pct процентов в убыточную сторону
func StopFromPercent(side domain.Side, entry, pct float64) float64 {
	return TargetFromPercent(side.Opposite(), entry, pct)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
