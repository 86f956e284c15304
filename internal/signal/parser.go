// Package signal разбирает свободный текст торговых сигналов из чатов.
package signal

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillm/signal-trader/internal/domain"
)

// Parse разбирает сообщение. false означает, что сигнала нет.
func Parse(text string) (*domain.TradingSignal, bool) {
	return ParseFor(text, ExtractSymbol(text))
}

// ParseFor разбирает сообщение с парой, найденной вне текста (ответ, контекст чата)
func ParseFor(text, symbol string) (*domain.TradingSignal, bool) {
	kind := Classify(text)
	if kind == domain.KindUnknown || symbol == "" {
		return nil, false
	}

	return &domain.TradingSignal{
		Kind:        kind,
		Symbol:      symbol,
		EntryPrice:  firstPrice(text, entryRes),
		StopLoss:    firstPrice(text, stopRes),
		TakeProfits: ExtractTakeProfits(text),
		Leverage:    extractLeverage(text),
		RawText:     text,
	}, true
}

// Classify определяет тип сигнала
func Classify(text string) domain.SignalKind {
	lower := strings.ToLower(text)

	if containsAny(lower, reviewKeywords) {
		return domain.KindUnknown
	}
	if countAny(lower, spamKeywords) >= 2 {
		return domain.KindUnknown
	}

	if directedCloseRe.MatchString(lower) {
		return domain.KindClose
	}
	if containsAny(lower, longKeywords) || longWordRe.MatchString(lower) {
		return domain.KindLong
	}
	if containsAny(lower, shortKeywords) || shortWordRe.MatchString(lower) {
		return domain.KindShort
	}
	if containsAny(lower, closeKeywords) || closeWordRe.MatchString(lower) {
		return domain.KindClose
	}

	// "TP1 已触发" без цены остается информационным сообщением
	for _, re := range tpCloseRes {
		if re.MatchString(lower) {
			return domain.KindClose
		}
	}
	return domain.KindUnknown
}

// ExtractSymbol извлекает торговую пару; пустая строка если пары нет
func ExtractSymbol(text string) string {
	clean := strings.ToUpper(urlRe.ReplaceAllString(text, " "))

	for _, re := range tagSymbolRes {
		if m := re.FindStringSubmatch(clean); m != nil {
			return tagToPair(m[1])
		}
	}

	if m := pairRe.FindStringSubmatch(clean); m != nil {
		return m[1] + "/" + m[2]
	}
	if m := concatRe.FindStringSubmatch(clean); m != nil {
		return m[1] + "/" + m[2]
	}
	if m := spacedRe.FindStringSubmatch(clean); m != nil {
		return m[1] + "/USDT"
	}
	return ""
}

// tagToPair превращает тег #BTC или #BTCUSDT в BTC/USDT
func tagToPair(tag string) string {
	if m := knownQuote.FindStringSubmatch(tag); m != nil {
		return m[1] + "/" + m[2]
	}
	return tag + "/USDT"
}

// ExtractTakeProfits собирает все цели: уникальные, по возрастанию
func ExtractTakeProfits(text string) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, re := range takeProfitRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			price, err := strconv.ParseFloat(m[1], 64)
			if err != nil || price <= 0 {
				continue
			}
			if _, ok := seen[price]; ok {
				continue
			}
			seen[price] = struct{}{}
			out = append(out, price)
		}
	}
	sort.Float64s(out)
	return out
}

// HasTPHint true если сообщение похоже на подсказку тейк-профита
func HasTPHint(text string) bool {
	return tpHintRe.MatchString(text)
}

// IsImmediateTP true если подсказку нужно исполнить сразу как первую цель
func IsImmediateTP(text string) bool {
	return immediateTPRe.MatchString(text)
}

// HasOrdinalTarget true для формулировок "第一/第二" без цены
func HasOrdinalTarget(text string) bool {
	return ordinalBackRe.MatchString(text)
}

// IsFirstTarget "first", "1st", 第一, 第1
func IsFirstTarget(text string) bool {
	return firstTargetRe.MatchString(text)
}

// IsSecondTarget "second", "2nd", 第二, 第2
func IsSecondTarget(text string) bool {
	return secondTargetRe.MatchString(text)
}

// IsTriggerNotice сообщение о сработавшей цели, а не команда на закрытие
func IsTriggerNotice(text string) bool {
	return triggerNotice.MatchString(text)
}

func firstPrice(text string, res []*regexp.Regexp) *float64 {
	for _, re := range res {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			continue
		}
		return &v
	}
	return nil
}

func extractLeverage(text string) *int {
	for _, re := range leverageRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			continue
		}
		return &v
	}
	return nil
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countAny(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
