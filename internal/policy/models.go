package policy

// Policy профиль TP/SL политики. Проценты задаются в единицах процента (2 = 2%).
type Policy struct {
	ProfileName string `yaml:"profile_name"`

	DefaultStopLossPercent float64      `yaml:"default_stop_loss_percent"`
	Ladder                 []LadderStep `yaml:"take_profit_ladder"`
	SignalTPSharePercent   float64      `yaml:"signal_tp_share_percent"`

	TrailingEnabled            bool    `yaml:"trailing_enabled"`
	TrailingStopPercent        float64 `yaml:"trailing_stop_percent"`
	MoveToBreakeven            bool    `yaml:"move_to_breakeven"`
	BreakevenTriggerPercent    float64 `yaml:"breakeven_trigger_percent"`
	BreakevenBufferPercent     float64 `yaml:"breakeven_buffer_percent"`
	StopTrailingAfterBreakeven bool    `yaml:"stop_trailing_after_breakeven"`

	ProtectiveStopPercent float64 `yaml:"protective_stop_percent"`
	EntryOrderType        string  `yaml:"entry_order_type"` // market, limit

	FirstTargetClosePercent   float64       `yaml:"first_target_close_percent"`
	SecondTargetClosePercent  float64       `yaml:"second_target_close_percent"`
	DefaultTargetClosePercent float64       `yaml:"default_target_close_percent"`
	FollowUpLegs              []FollowUpLeg `yaml:"follow_up_legs"`
}

// LadderStep ступень лестницы тейк-профитов
type LadderStep struct {
	ProfitPercent  float64 `yaml:"profit_percent"`
	PortionPercent float64 `yaml:"portion_percent"`
}

// FollowUpLeg дополнительная цель после первого частичного закрытия.
// PortionPercent считается от исходного размера; 0 означает "весь остаток".
type FollowUpLeg struct {
	ProfitPercent  float64 `yaml:"profit_percent"`
	PortionPercent float64 `yaml:"portion_percent"`
}

// Default политика по умолчанию
func Default() Policy {
	return Policy{
		ProfileName:            "default",
		DefaultStopLossPercent: 2,
		Ladder: []LadderStep{
			{ProfitPercent: 10, PortionPercent: 50},
			{ProfitPercent: 20, PortionPercent: 30},
			{ProfitPercent: 50, PortionPercent: 20},
		},
		SignalTPSharePercent:       60,
		TrailingEnabled:            true,
		TrailingStopPercent:        2,
		MoveToBreakeven:            true,
		BreakevenTriggerPercent:    1,
		BreakevenBufferPercent:     0.1,
		StopTrailingAfterBreakeven: false,
		ProtectiveStopPercent:      4,
		EntryOrderType:             "market",
		FirstTargetClosePercent:    50,
		SecondTargetClosePercent:   30,
		DefaultTargetClosePercent:  30,
		FollowUpLegs: []FollowUpLeg{
			{ProfitPercent: 20, PortionPercent: 30},
			{ProfitPercent: 40, PortionPercent: 0},
		},
	}
}

// Clone копия без общих слайсов
func (p Policy) Clone() Policy {
	c := p
	c.Ladder = append([]LadderStep(nil), p.Ladder...)
	c.FollowUpLegs = append([]FollowUpLeg(nil), p.FollowUpLegs...)
	return c
}
