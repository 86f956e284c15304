package telegram

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillm/signal-trader/internal/admin"
	"github.com/kirillm/signal-trader/internal/domain"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует ответы для оператора
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

var translations = map[string]map[Lang]string{
	"status":         {LangEN: "Status", LangRU: "Статус"},
	"positions":      {LangEN: "Positions", LangRU: "Позиции"},
	"risk":           {LangEN: "Risk", LangRU: "Риск"},
	"daily":          {LangEN: "Daily PnL", LangRU: "PnL по дням"},
	"trades":         {LangEN: "Recent trades", LangRU: "Последние сделки"},
	"paused":         {LangEN: "Paused", LangRU: "Пауза"},
	"running":        {LangEN: "Running", LangRU: "Работает"},
	"enabled":        {LangEN: "Enabled", LangRU: "Включено"},
	"disabled":       {LangEN: "Disabled", LangRU: "Выключено"},
	"cooldown":       {LangEN: "Cooldown until", LangRU: "Кулдаун до"},
	"uptime":         {LangEN: "Uptime", LangRU: "Аптайм"},
	"accounts":       {LangEN: "Accounts", LangRU: "Аккаунты"},
	"open_positions": {LangEN: "Open positions", LangRU: "Открытых позиций"},
	"no_positions":   {LangEN: "No open positions", LangRU: "Нет открытых позиций"},
	"no_trades":      {LangEN: "No trades yet", LangRU: "Сделок пока нет"},
	"error":          {LangEN: "Error", LangRU: "Ошибка"},
	"success":        {LangEN: "Success", LangRU: "Успешно"},
	"access_denied":  {LangEN: "⛔ Access denied", LangRU: "⛔ Доступ запрещен"},
	"admin_required": {LangEN: "⛔ Admin permission required", LangRU: "⛔ Нужны права администратора"},
	"unknown":        {LangEN: "unknown command, see /help", LangRU: "неизвестная команда, см. /help"},
}

// T переводит строку
func (f *Formatter) T(key string) string {
	if tr, ok := translations[key]; ok {
		if s, ok := tr[f.lang]; ok {
			return s
		}
		return tr[LangEN]
	}
	return key
}

// FormatStatus сводка по боту
func (f *Formatter) FormatStatus(st admin.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s\n\n", f.T("status"))
	if st.Paused {
		fmt.Fprintf(&sb, "⏸ %s: %s\n", f.T("paused"), st.PauseReason)
	} else {
		fmt.Fprintf(&sb, "▶️ %s\n", f.T("running"))
	}
	fmt.Fprintf(&sb, "%s: %d\n", f.T("accounts"), len(st.Accounts))
	fmt.Fprintf(&sb, "%s: %d\n", f.T("open_positions"), st.OpenPositions)
	fmt.Fprintf(&sb, "%s: %s\n", f.T("uptime"), FormatDuration(st.Uptime))
	if len(st.Risk) > 0 {
		sb.WriteString("\n")
		sb.WriteString(f.formatRiskLines(st.Risk))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatPositions позиции под наблюдением
func (f *Formatter) FormatPositions(positions []*domain.PositionRecord) string {
	if len(positions) == 0 {
		return "📭 " + f.T("no_positions")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 %s (%d)\n", f.T("positions"), len(positions))
	for _, p := range positions {
		fmt.Fprintf(&sb, "\n%s %s %s [%s]\n", sideIcon(p.Side), p.Symbol, strings.ToUpper(string(p.Side)), p.Account)
		fmt.Fprintf(&sb, "  entry %s  size %s\n", formatPrice(p.EntryPrice), formatPrice(p.PositionSize))
		stop := formatPrice(p.StopLoss)
		if p.SLMovedToBreakeven {
			stop += " (BE)"
		}
		fmt.Fprintf(&sb, "  stop %s", stop)
		if p.TrailingStopPercent != nil {
			fmt.Fprintf(&sb, "  trail %.2f%%", *p.TrailingStopPercent)
		}
		sb.WriteString("\n")
		if len(p.TakeProfits) > 0 {
			tps := make([]string, 0, len(p.TakeProfits))
			for _, tp := range p.TakeProfits {
				tps = append(tps, formatPrice(tp))
			}
			fmt.Fprintf(&sb, "  tp %s\n", strings.Join(tps, " / "))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatRisk состояние риска аккаунтов
func (f *Formatter) FormatRisk(states []domain.AccountRiskState) string {
	return "🛡 " + f.T("risk") + "\n\n" + strings.TrimRight(f.formatRiskLines(states), "\n")
}

func (f *Formatter) formatRiskLines(states []domain.AccountRiskState) string {
	var sb strings.Builder
	for _, st := range states {
		state := "✅ " + f.T("enabled")
		if !st.TradingEnabled {
			state = "🚫 " + f.T("disabled")
		}
		if st.CooldownUntil != nil {
			state = fmt.Sprintf("⏳ %s %s", f.T("cooldown"), st.CooldownUntil.Format("15:04"))
		}
		fmt.Fprintf(&sb, "%s: %s\n", st.Account, state)
		fmt.Fprintf(&sb, "  balance %.2f / %.2f  daily %+.2f  total %+.2f\n",
			st.CurrentBalance, st.InitialBalance, st.DailyPnL, st.TotalPnL)
		fmt.Fprintf(&sb, "  trades %d (W%d/L%d)  loss streak %d  open %d\n",
			st.TotalTrades, st.WinningTrades, st.LosingTrades, st.ConsecutiveLosses, st.OpenPositionsCount)
	}
	return sb.String()
}

// dailyRows сколько последних дней показывать
const dailyRows = 7

// FormatDaily дневные корзины PnL, последние дни
func (f *Formatter) FormatDaily(days []domain.DailyPnL) string {
	if len(days) > dailyRows {
		days = days[len(days)-dailyRows:]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 %s\n", f.T("daily"))
	for _, d := range days {
		fmt.Fprintf(&sb, "  %s  %+.2f  trades %d (W%d/L%d)\n", d.Day.Format("2006-01-02"), d.PnL, d.Trades, d.Wins, d.Losses)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatTrades последние сделки из журнала
func (f *Formatter) FormatTrades(trades []domain.LedgerTrade) string {
	if len(trades) == 0 {
		return "📭 " + f.T("no_trades")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📜 %s\n", f.T("trades"))
	for _, t := range trades {
		fmt.Fprintf(&sb, "\n#%d %s %s [%s] %s\n", t.ID, t.Symbol, strings.ToUpper(t.Side), t.Account, t.Status)
		fmt.Fprintf(&sb, "  entry %s  qty %s", formatPrice(t.EntryPrice), formatPrice(t.Quantity))
		if t.ExitPrice != nil {
			fmt.Fprintf(&sb, "  exit %s", formatPrice(*t.ExitPrice))
		}
		if t.PnL != nil {
			fmt.Fprintf(&sb, "  pnl %+.2f", *t.PnL)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatError форматирует ошибку
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

// FormatSuccess форматирует успешный ответ
func (f *Formatter) FormatSuccess(message string) string {
	return "✅ " + message
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func sideIcon(side domain.Side) string {
	if side == domain.SideShort {
		return "🔴"
	}
	return "🟢"
}

// formatPrice без лишних нулей: 0.01972, 64000
func formatPrice(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// splitMessage разбивает длинное сообщение на части по строкам
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLength {
			if current != "" {
				messages = append(messages, current)
				current = ""
			}
			cut := maxLength
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			messages = append(messages, line[:cut])
			line = line[cut:]
		}
		if current != "" && len(current)+len(line)+1 > maxLength {
			messages = append(messages, current)
			current = line
			continue
		}
		if current != "" {
			current += "\n"
		}
		current += line
	}
	if current != "" {
		messages = append(messages, current)
	}
	return messages
}
