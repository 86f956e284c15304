package telegram

import (
	"context"
	"fmt"

	"github.com/kirillm/signal-trader/pkg/utils"
)

// CommandHandler обработчик команды, возвращает текст ответа
type CommandHandler func(ctx context.Context, args *CommandArgs) (string, error)

type route struct {
	handler CommandHandler
	admin   bool
}

// Router проверяет лимит и права и вызывает обработчик команды
type Router struct {
	routes    map[CommandType]route
	auth      *AuthManager
	formatter *Formatter
	logger    *utils.Logger
}

// NewRouter создает роутер
func NewRouter(auth *AuthManager, formatter *Formatter, logger *utils.Logger) *Router {
	if logger == nil {
		logger = utils.Nop()
	}
	return &Router{
		routes:    make(map[CommandType]route),
		auth:      auth,
		formatter: formatter,
		logger:    logger,
	}
}

// RegisterHandler команда, доступная всем
func (r *Router) RegisterHandler(command CommandType, handler CommandHandler) {
	r.routes[command] = route{handler: handler}
}

// RegisterAdminHandler команда только для администраторов
func (r *Router) RegisterAdminHandler(command CommandType, handler CommandHandler) {
	r.routes[command] = route{handler: handler, admin: true}
}

// HandleCommand обрабатывает команду и возвращает текст ответа.
// Ошибка обработчика уже отформатирована в ответе и возвращается для лога.
func (r *Router) HandleCommand(ctx context.Context, userID int64, text string) (string, error) {
	if err := r.auth.CheckRateLimit(userID); err != nil {
		return r.formatter.FormatError(err), nil
	}

	args, err := ParseCommand(text)
	if err != nil {
		return r.formatter.FormatError(err), nil
	}

	rt, ok := r.routes[CommandType(args.Command)]
	if !ok {
		return fmt.Sprintf("%s: %s", r.formatter.T("error"), r.formatter.T("unknown")), nil
	}
	if rt.admin {
		if err := r.auth.RequireAdmin(userID); err != nil {
			r.logger.Warn("🚫 Admin command denied", "user_id", userID, "command", args.Command)
			return r.formatter.T("admin_required"), nil
		}
		r.logger.Info("🛠 Admin command", "user_id", userID, "command", args.Command, "account", args.Account)
	}

	response, err := rt.handler(ctx, args)
	if err != nil {
		return r.formatter.FormatError(err), err
	}
	return response, nil
}
