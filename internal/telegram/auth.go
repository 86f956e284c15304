package telegram

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthManager права операторов и ограничение частоты команд
type AuthManager struct {
	mu       sync.Mutex
	adminIDs map[int64]bool
	limiters map[int64]*userLimiter
	perSec   int
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAuthManager создает менеджер. Пустой список админов запрещает все команды.
func NewAuthManager(adminIDs []int64, perSecond int) *AuthManager {
	if perSecond <= 0 {
		perSecond = 2
	}
	am := &AuthManager{
		adminIDs: make(map[int64]bool, len(adminIDs)),
		limiters: make(map[int64]*userLimiter),
		perSec:   perSecond,
		now:      time.Now,
	}
	for _, id := range adminIDs {
		am.adminIDs[id] = true
	}
	return am
}

// IsAdmin проверяет, является ли пользователь администратором
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.adminIDs[userID]
}

// RequireAdmin возвращает ошибку, если пользователь не администратор
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// CheckRateLimit не больше perSecond команд в секунду на пользователя
func (am *AuthManager) CheckRateLimit(userID int64) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	ul, ok := am.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rate.Limit(am.perSec), am.perSec)}
		am.limiters[userID] = ul
	}
	ul.lastSeen = now
	if !ul.limiter.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded, please slow down")
	}
	return nil
}

// CleanupRateLimiters удаляет лимитеры пользователей, молчавших дольше idle
func (am *AuthManager) CleanupRateLimiters(idle time.Duration) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	removed := 0
	for userID, ul := range am.limiters {
		if now.Sub(ul.lastSeen) > idle {
			delete(am.limiters, userID)
			removed++
		}
	}
	return removed
}
