package exchange

import (
	"math"
	"testing"

	"github.com/kirillm/signal-trader/internal/domain"
)

func TestStepRounding(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64, float64) float64
		v    float64
		step float64
		want float64
	}{
		{"floor", FloorToStep, 1.23456, 0.001, 1.234},
		{"floor float noise", FloorToStep, 0.30000000000000004, 0.1, 0.3},
		{"ceil", CeilToStep, 1.2341, 0.001, 1.235},
		{"ceil exact", CeilToStep, 0.3, 0.1, 0.3},
		{"ceil integer step", CeilToStep, 253.8, 1, 254},
		{"zero step", CeilToStep, 1.23456, 0, 1.23456},
		{"tick", RoundToTick, 42000.06, 0.1, 42000.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.v, tt.step); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("%s(%v, %v) = %v, want %v", tt.name, tt.v, tt.step, got, tt.want)
			}
		})
	}
}

func TestFormatStep(t *testing.T) {
	tests := []struct {
		v    float64
		step float64
		want string
	}{
		{0.0123, 0.001, "0.012"},
		{0.0129, 0.001, "0.012"},
		{254, 1, "254"},
		{0.00001, 0.00001, "0.00001"},
		{42000.1, 0.1, "42000.1"},
	}
	for _, tt := range tests {
		if got := FormatStep(tt.v, tt.step); got != tt.want {
			t.Errorf("FormatStep(%v, %v) = %q, want %q", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestAdjustToMinimum(t *testing.T) {
	rules := domain.MarketRules{StepSize: 1, MinQty: 1, MinNotional: 5}

	tests := []struct {
		name        string
		amount      float64
		price       float64
		want        float64
		wantChanged bool
	}{
		{"already valid", 5000, 0.02, 5000, false},
		{"below min notional", 100, 0.0197, 254, true},
		{"below min qty", 0.4, 100, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := AdjustToMinimum(tt.amount, tt.price, rules)
			if got != tt.want || changed != tt.wantChanged {
				t.Errorf("AdjustToMinimum(%v, %v) = %v, %v, want %v, %v", tt.amount, tt.price, got, changed, tt.want, tt.wantChanged)
			}
			if got*tt.price < rules.MinNotional {
				t.Errorf("notional %v below minimum", got*tt.price)
			}
		})
	}
}

func TestNormalizeAmount(t *testing.T) {
	rules := domain.MarketRules{StepSize: 0.01, MinQty: 0.05}
	if got := NormalizeAmount(1.237, rules); math.Abs(got-1.23) > 1e-12 {
		t.Errorf("NormalizeAmount(1.237) = %v, want 1.23", got)
	}
	if got := NormalizeAmount(0.01, rules); math.Abs(got-0.05) > 1e-12 {
		t.Errorf("NormalizeAmount(0.01) = %v, want 0.05", got)
	}
}

func TestSymbols(t *testing.T) {
	if got := BinanceSymbol("btc/usdt"); got != "BTCUSDT" {
		t.Errorf("BinanceSymbol() = %v, want BTCUSDT", got)
	}
	if got := GateContract("MDT/USDT"); got != "MDT_USDT" {
		t.Errorf("GateContract() = %v, want MDT_USDT", got)
	}
	if got := GateContract("ETH"); got != "ETH_USDT" {
		t.Errorf("GateContract() = %v, want ETH_USDT", got)
	}
}
