package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandArgs представляет распарсенные аргументы команды
type CommandArgs struct {
	Command string
	Account string
	Reason  string
	Balance float64
	Raw     []string
}

// CommandType представляет тип команды
type CommandType string

const (
	CmdStart     CommandType = "start"
	CmdHelp      CommandType = "help"
	CmdStatus    CommandType = "status"
	CmdPositions CommandType = "positions"
	CmdRisk      CommandType = "risk"
	CmdTrades    CommandType = "trades"

	CmdEnable  CommandType = "enable"
	CmdDisable CommandType = "disable"
	CmdReset   CommandType = "reset"
	CmdPause   CommandType = "pause"
	CmdResume  CommandType = "resume"
)

// ParseCommand парсит команду и аргументы
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command")
	}

	parts := strings.Fields(text)
	if len(parts) == 0 || parts[0] == "/" {
		return nil, fmt.Errorf("empty command")
	}

	cmd := strings.TrimPrefix(parts[0], "/")
	// /status@my_bot в группах
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	cmd = normalizeCommand(cmd)

	args := &CommandArgs{
		Command: cmd,
		Raw:     parts[1:],
	}

	switch CommandType(cmd) {
	case CmdStart, CmdHelp, CmdStatus, CmdResume:
		return args, nil

	case CmdPositions, CmdRisk, CmdTrades:
		// /risk [account]
		if len(parts) >= 2 {
			args.Account = parts[1]
		}
		return args, nil

	case CmdEnable:
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /enable ACCOUNT")
		}
		args.Account = parts[1]
		return args, nil

	case CmdDisable:
		// /disable ACCOUNT [reason...]
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /disable ACCOUNT [reason]")
		}
		args.Account = parts[1]
		args.Reason = strings.Join(parts[2:], " ")
		return args, nil

	case CmdReset:
		// /reset ACCOUNT [balance]
		if len(parts) < 2 {
			return nil, fmt.Errorf("usage: /reset ACCOUNT [balance]")
		}
		args.Account = parts[1]
		if len(parts) >= 3 {
			if !isNumber(parts[2]) {
				return nil, fmt.Errorf("invalid balance: %s", parts[2])
			}
			args.Balance = parseFloat(parts[2])
			if args.Balance <= 0 {
				return nil, fmt.Errorf("balance must be positive")
			}
		}
		return args, nil

	case CmdPause:
		args.Reason = strings.Join(parts[1:], " ")
		return args, nil
	}

	return nil, fmt.Errorf("unknown command: /%s", cmd)
}

// normalizeCommand русские синонимы команд
func normalizeCommand(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))

	ruToEn := map[string]string{
		"старт":       "start",
		"помощь":      "help",
		"статус":      "status",
		"позиции":     "positions",
		"риск":        "risk",
		"сделки":      "trades",
		"включить":    "enable",
		"выключить":   "disable",
		"сброс":       "reset",
		"пауза":       "pause",
		"стоп":        "pause",
		"продолжить":  "resume",
		"возобновить": "resume",
	}

	if enCmd, ok := ruToEn[cmd]; ok {
		return enCmd
	}
	return cmd
}

// isNumber проверяет, является ли строка числом
func isNumber(s string) bool {
	_, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	return err == nil
}

// parseFloat безопасно парсит float с поддержкой запятой
func parseFloat(s string) float64 {
	s = strings.Replace(s, ",", ".", 1)
	val, _ := strconv.ParseFloat(s, 64)
	return val
}
