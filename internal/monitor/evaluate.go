package monitor

import (
	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/internal/planner"
)

// Outcome результат одной проверки позиции
type Outcome struct {
	TrailingMoved bool
	BreakevenSet  bool
	StopHit       bool
	Stop          float64
}

// Evaluate применяет к записи новую цену: экстремум, трейлинг, безубыток, проверка стопа.
// Стоп только ужесточается. Запись меняется на месте, вызывать под блокировкой реестра.
func Evaluate(rec *domain.PositionRecord, price, bufferPercent float64) Outcome {
	var out Outcome
	if price <= 0 {
		out.Stop = rec.StopLoss
		return out
	}

	extreme := updateExtreme(rec, price)

	frozen := rec.SLMovedToBreakeven && rec.StopTrailingAfterBreakeven
	if rec.TrailingStopPercent != nil && *rec.TrailingStopPercent > 0 && !frozen {
		candidate := planner.StopFromPercent(rec.Side, extreme, *rec.TrailingStopPercent)
		if tighter(rec.Side, candidate, rec.StopLoss) {
			rec.StopLoss = candidate
			out.TrailingMoved = true
		}
	}

	if rec.MoveToBreakeven && !rec.SLMovedToBreakeven && rec.EntryPrice > 0 &&
		profitPercent(rec.Side, rec.EntryPrice, price) >= rec.BreakevenTriggerPercent {
		be := planner.TargetFromPercent(rec.Side, rec.EntryPrice, bufferPercent)
		if tighter(rec.Side, be, rec.StopLoss) {
			rec.StopLoss = be
		}
		rec.SLMovedToBreakeven = true
		out.BreakevenSet = true
	}

	out.Stop = rec.StopLoss
	out.StopHit = crossed(rec.Side, price, rec.StopLoss)
	return out
}

func updateExtreme(rec *domain.PositionRecord, price float64) float64 {
	if rec.Side == domain.SideShort {
		if rec.LowestPrice <= 0 || price < rec.LowestPrice {
			rec.LowestPrice = price
		}
		return rec.LowestPrice
	}
	if price > rec.HighestPrice {
		rec.HighestPrice = price
	}
	return rec.HighestPrice
}

// tighter true если candidate ближе к цене, чем current
func tighter(side domain.Side, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	if side == domain.SideShort {
		return candidate < current
	}
	return candidate > current
}

func crossed(side domain.Side, price, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if side == domain.SideShort {
		return price >= stop
	}
	return price <= stop
}

func profitPercent(side domain.Side, entry, price float64) float64 {
	pct := (price - entry) / entry * 100
	if side == domain.SideShort {
		return -pct
	}
	return pct
}
