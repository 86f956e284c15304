package execution

import (
	"context"
	"sync"
	"time"

	"github.com/kirillm/signal-trader/internal/domain"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// PauseJournal куда пишутся постановка и снятие паузы
type PauseJournal interface {
	RecordRiskEvent(ctx context.Context, account, eventType, description, severity string) error
}

// PauseState снимок паузы
type PauseState struct {
	Active bool
	Reason string
	Since  time.Time
}

// KillSwitch глобальная пауза новых входов. Закрытия и мониторинг продолжают работать.
type KillSwitch struct {
	mu      sync.RWMutex
	state   PauseState
	journal PauseJournal
	logger  *utils.Logger
	now     func() time.Time
}

// NewKillSwitch создает выключатель. journal может быть nil.
func NewKillSwitch(journal PauseJournal, logger *utils.Logger) *KillSwitch {
	if logger == nil {
		logger = utils.Nop()
	}
	return &KillSwitch{journal: journal, logger: logger, now: time.Now}
}

// Activate ставит паузу. Повторная пауза только меняет причину, время начала остается.
// Возвращает false, если пауза уже стояла.
func (ks *KillSwitch) Activate(ctx context.Context, reason string) bool {
	ks.mu.Lock()
	was := ks.state.Active
	if !was {
		ks.state.Since = ks.now()
	}
	ks.state.Active = true
	ks.state.Reason = reason
	ks.mu.Unlock()

	if was {
		ks.logger.Info("⏸ Pause reason updated", "reason", reason)
		return false
	}
	ks.logger.Warn("🚨 KILL SWITCH ACTIVATED", "reason", reason)
	ks.record(ctx, domain.RiskEventPause, "entries paused: "+reason, domain.SeverityCritical)
	return true
}

// Deactivate снимает паузу. Возвращает false, если паузы не было.
func (ks *KillSwitch) Deactivate(ctx context.Context) bool {
	ks.mu.Lock()
	was := ks.state.Active
	ks.state = PauseState{}
	ks.mu.Unlock()

	if !was {
		return false
	}
	ks.logger.Info("✅ Kill switch deactivated")
	ks.record(ctx, domain.RiskEventResume, "entries resumed", domain.SeverityInfo)
	return true
}

// IsActive стоит ли пауза
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.state.Active
}

// State снимок паузы
func (ks *KillSwitch) State() PauseState {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.state
}

func (ks *KillSwitch) record(ctx context.Context, eventType, description, severity string) {
	if ks.journal == nil {
		return
	}
	if err := ks.journal.RecordRiskEvent(ctx, domain.AllAccounts, eventType, description, severity); err != nil {
		ks.logger.Error("Failed to record pause event", "type", eventType, "error", err)
	}
}
