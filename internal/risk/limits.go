package risk

import (
	"fmt"
	"time"
)

// Limits лимиты риска одного аккаунта
type Limits struct {
	MaxDailyLossPercent  float64       `yaml:"max_daily_loss_percent"`
	MaxDailyLossAmount   float64       `yaml:"max_daily_loss_amount"` // 0 = не задан
	MaxTotalLossPercent  float64       `yaml:"max_total_loss_percent"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses"`
	MaxOpenPositions     int           `yaml:"max_open_positions"`
	Cooldown             time.Duration `yaml:"cooldown"`
	TotalLossCooldown    time.Duration `yaml:"total_loss_cooldown"`
	MinBalance           float64       `yaml:"min_balance"`
}

// DefaultLimits лимиты по умолчанию
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLossPercent:  5,
		MaxTotalLossPercent:  20,
		MaxConsecutiveLosses: 3,
		MaxOpenPositions:     5,
		Cooldown:             60 * time.Minute,
		TotalLossCooldown:    24 * time.Hour,
		MinBalance:           100,
	}
}

// Merge дополняет незаданные поля значениями из base
func (l Limits) Merge(base Limits) Limits {
	if l.MaxDailyLossPercent == 0 {
		l.MaxDailyLossPercent = base.MaxDailyLossPercent
	}
	if l.MaxDailyLossAmount == 0 {
		l.MaxDailyLossAmount = base.MaxDailyLossAmount
	}
	if l.MaxTotalLossPercent == 0 {
		l.MaxTotalLossPercent = base.MaxTotalLossPercent
	}
	if l.MaxConsecutiveLosses == 0 {
		l.MaxConsecutiveLosses = base.MaxConsecutiveLosses
	}
	if l.MaxOpenPositions == 0 {
		l.MaxOpenPositions = base.MaxOpenPositions
	}
	if l.Cooldown == 0 {
		l.Cooldown = base.Cooldown
	}
	if l.TotalLossCooldown == 0 {
		l.TotalLossCooldown = base.TotalLossCooldown
	}
	if l.MinBalance == 0 {
		l.MinBalance = base.MinBalance
	}
	return l
}

// Validate проверяет лимиты
func (l Limits) Validate() error {
	if l.MaxDailyLossPercent <= 0 || l.MaxTotalLossPercent <= 0 {
		return fmt.Errorf("loss percents must be positive")
	}
	if l.MaxDailyLossAmount < 0 {
		return fmt.Errorf("max_daily_loss_amount must not be negative")
	}
	if l.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive")
	}
	if l.MaxOpenPositions <= 0 {
		return fmt.Errorf("max_open_positions must be positive")
	}
	if l.Cooldown <= 0 || l.TotalLossCooldown <= 0 {
		return fmt.Errorf("cooldowns must be positive")
	}
	if l.MinBalance < 0 {
		return fmt.Errorf("min_balance must not be negative")
	}
	return nil
}
