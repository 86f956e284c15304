package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrPriceUnavailable возвращается когда цену не удалось получить ни из одного источника
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrSizing возвращается когда рассчитанный размер позиции не положителен
	ErrSizing = errors.New("invalid position size")

	// ErrRiskRejected возвращается когда риск-менеджер запретил открытие
	ErrRiskRejected = errors.New("rejected by risk manager")

	// ErrTradingPaused возвращается когда активирован kill switch
	ErrTradingPaused = errors.New("trading paused")

	// ErrTransientExchange временная ошибка биржи, допускает повтор
	ErrTransientExchange = errors.New("transient exchange error")

	// ErrPermanentExchange постоянная ошибка биржи, повтор бесполезен
	ErrPermanentExchange = errors.New("permanent exchange error")

	// ErrInsufficientMargin биржа отклонила ордер из-за нехватки маржи
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrPrecisionAdjustment возвращается когда не удалось подогнать объем под правила биржи
	ErrPrecisionAdjustment = errors.New("precision adjustment failed")

	// ErrNoPosition возвращается когда на бирже нет открытой позиции
	ErrNoPosition = errors.New("no open position")

	// ErrOrderStateUnknown ордер мог дойти до биржи, но подтвердить это не удалось
	ErrOrderStateUnknown = errors.New("order state unknown")

	// ErrUnknownAccount возвращается для неизвестного имени аккаунта
	ErrUnknownAccount = errors.New("unknown account")
)
