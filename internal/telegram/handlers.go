package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillm/signal-trader/internal/admin"
)

// Handlers обработчики команд оператора
type Handlers struct {
	svc       *admin.Service
	formatter *Formatter
}

// NewHandlers создает новый набор обработчиков
func NewHandlers(svc *admin.Service, formatter *Formatter) *Handlers {
	return &Handlers{svc: svc, formatter: formatter}
}

// Register регистрирует команды в роутере. Все, кроме справки, только для админов.
func (h *Handlers) Register(r *Router) {
	r.RegisterHandler(CmdStart, h.HandleHelp)
	r.RegisterHandler(CmdHelp, h.HandleHelp)
	r.RegisterAdminHandler(CmdStatus, h.HandleStatus)
	r.RegisterAdminHandler(CmdPositions, h.HandlePositions)
	r.RegisterAdminHandler(CmdRisk, h.HandleRisk)
	r.RegisterAdminHandler(CmdTrades, h.HandleTrades)
	r.RegisterAdminHandler(CmdEnable, h.HandleEnable)
	r.RegisterAdminHandler(CmdDisable, h.HandleDisable)
	r.RegisterAdminHandler(CmdReset, h.HandleReset)
	r.RegisterAdminHandler(CmdPause, h.HandlePause)
	r.RegisterAdminHandler(CmdResume, h.HandleResume)
}

// HandleStatus обрабатывает команду /status
func (h *Handlers) HandleStatus(_ context.Context, _ *CommandArgs) (string, error) {
	return h.formatter.FormatStatus(h.svc.Status()), nil
}

// HandlePositions обрабатывает команду /positions [account]
func (h *Handlers) HandlePositions(_ context.Context, args *CommandArgs) (string, error) {
	positions, err := h.svc.Positions(args.Account)
	if err != nil {
		return "", err
	}
	return h.formatter.FormatPositions(positions), nil
}

// HandleRisk обрабатывает команду /risk [account]
func (h *Handlers) HandleRisk(_ context.Context, args *CommandArgs) (string, error) {
	states, err := h.svc.Risk(args.Account)
	if err != nil {
		return "", err
	}
	out := h.formatter.FormatRisk(states)
	if args.Account == "" {
		return out, nil
	}
	days, err := h.svc.Daily(args.Account)
	if err != nil {
		return "", err
	}
	if len(days) > 0 {
		out += "\n\n" + h.formatter.FormatDaily(days)
	}
	return out, nil
}

// HandleTrades обрабатывает команду /trades [account]
func (h *Handlers) HandleTrades(ctx context.Context, args *CommandArgs) (string, error) {
	trades, err := h.svc.Trades(ctx, args.Account, 10)
	if err != nil {
		return "", err
	}
	return h.formatter.FormatTrades(trades), nil
}

// HandleEnable обрабатывает команду /enable
func (h *Handlers) HandleEnable(ctx context.Context, args *CommandArgs) (string, error) {
	if err := h.svc.Enable(ctx, args.Account); err != nil {
		return "", err
	}
	return h.formatter.FormatSuccess(fmt.Sprintf("trading enabled for %s", args.Account)), nil
}

// HandleDisable обрабатывает команду /disable
func (h *Handlers) HandleDisable(ctx context.Context, args *CommandArgs) (string, error) {
	if err := h.svc.Disable(ctx, args.Account, args.Reason); err != nil {
		return "", err
	}
	return h.formatter.FormatSuccess(fmt.Sprintf("trading disabled for %s", args.Account)), nil
}

// HandleReset обрабатывает команду /reset
func (h *Handlers) HandleReset(ctx context.Context, args *CommandArgs) (string, error) {
	balance, err := h.svc.Reset(ctx, args.Account, args.Balance)
	if err != nil {
		return "", err
	}
	return h.formatter.FormatSuccess(fmt.Sprintf("risk statistics reset for %s, baseline %.2f", args.Account, balance)), nil
}

// HandlePause обрабатывает команду /pause
func (h *Handlers) HandlePause(ctx context.Context, args *CommandArgs) (string, error) {
	h.svc.Pause(ctx, args.Reason)
	return "⏸ new entries paused, closes and stops keep working", nil
}

// HandleResume обрабатывает команду /resume
func (h *Handlers) HandleResume(ctx context.Context, _ *CommandArgs) (string, error) {
	h.svc.Resume(ctx)
	return h.formatter.FormatSuccess("new entries resumed"), nil
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(_ context.Context, _ *CommandArgs) (string, error) {
	var sb strings.Builder
	sb.WriteString("🤖 Signal trader\n\n")
	sb.WriteString("/status - bot status and risk summary\n")
	sb.WriteString("/positions [account] - monitored positions\n")
	sb.WriteString("/risk [account] - risk counters\n")
	sb.WriteString("/trades [account] - recent trades\n")
	sb.WriteString("/enable ACCOUNT - clear cooldown and manual disable\n")
	sb.WriteString("/disable ACCOUNT [reason] - stop new entries on an account\n")
	sb.WriteString("/reset ACCOUNT [balance] - reset risk statistics\n")
	sb.WriteString("/pause [reason] - pause new entries everywhere\n")
	sb.WriteString("/resume - resume new entries\n")
	return sb.String(), nil
}
