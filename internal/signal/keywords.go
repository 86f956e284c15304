package signal

import "regexp"

// Ключевые слова направлений (упрощенный и традиционный китайский, английский)
var (
	longKeywords = []string{
		"做多", "买入", "開多", "开多", "買入",
		"市价多", "市價多", "市价进多", "市價進多",
		"现价多", "現價多", "现价进多", "現價進多",
		"轻仓多", "半仓多", "重仓多", "輕倉多", "半倉多", "重倉多",
		"轻仓开多", "半仓开多", "重仓开多", "輕倉開多", "半倉開多", "重倉開多",
		"进多", "進多", "市价开多", "市價開多", "多单", "多單", "反手多",
	}
	shortKeywords = []string{
		"做空", "卖出", "賣出", "開空", "开空",
		"市价空", "市價空", "市价进空", "市價進空",
		"现价空", "現價空", "现价进空", "現價進空",
		"轻仓空", "半仓空", "重仓空", "輕倉空", "半倉空", "重倉空",
		"轻仓开空", "半仓开空", "重仓开空", "輕倉開空", "半倉開空", "重倉開空",
		"进空", "進空", "市价开空", "市價開空", "空单", "空單", "反手空",
	}
	closeKeywords = []string{"平仓", "关闭", "平倉", "關閉", "清仓", "清倉", "平多", "平空"}

	// закрытие с указанием направления проверяется раньше направлений
	directedCloseRe = regexp.MustCompile(`(?i)平多|平空|\bclose\s+(?:long|short)\b|\bexit\s+(?:long|short)\b`)

	longWordRe  = regexp.MustCompile(`(?i)\b(?:buy|long)\b`)
	shortWordRe = regexp.MustCompile(`(?i)\b(?:sell|short)\b`)
	closeWordRe = regexp.MustCompile(`(?i)\b(?:close|exit)\b`)
)

// Исключения: обзоры, статистика, реклама
var (
	reviewKeywords = []string{
		"获利", "獲利", "盈利", "盈亏", "盈虧", "胜率", "收益", "净值",
		"战绩", "戰績", "战报", "戰報", "统计", "統計", "月度", "周度", "复盘", "復盤", "总结", "總結",
		"回顾", "回顧", "本周", "上周", "每日总结", "每天战绩", "目标已达成", "tp达成",
		"win rate", "winrate", "recap", "weekly summary", "monthly summary",
	}
	spamKeywords = []string{"号", "號", "点击", "点击进入", "免费", "体验", "每天", "每場"}
)

// Формулировки частичного закрытия
var (
	firstTargetRe  = regexp.MustCompile(`(?i)第一|第1|\bfirst\b|\b1st\b`)
	secondTargetRe = regexp.MustCompile(`(?i)第二|第2|\bsecond\b|\b2nd\b`)
	triggerNotice  = regexp.MustCompile(`(?i)止盈|已触发|已觸發|請平倉|请平仓|\btriggered\b|please\s+close`)
	immediateTPRe  = regexp.MustCompile(`第一|第1|保本|减仓|減倉`)
	ordinalBackRe  = regexp.MustCompile(`第一|第二`)
	tpHintRe       = regexp.MustCompile(`(?i)止盈|目标|\btp\d*\b|减仓|減倉|保本|到\s*\d+(?:\.\d+)?|\btarget\b`)
)

const num = `(\d+(?:\.\d+)?)`

// ordinal допускает номер цели перед ценой: "tp1: 100", "tp 2: 100", "tp1 100"
const ordinal = `(?:\s*\d{1,2}\s*[:：]|\d{1,2}\s+)?`

var (
	urlRe = regexp.MustCompile(`(?i)https?://\S+`)

	tagSymbolRes = []*regexp.Regexp{
		regexp.MustCompile(`#([A-Z0-9]{1,10})\b`),
		regexp.MustCompile(`\$([A-Z0-9]{1,10})\b`),
	}
	pairRe     = regexp.MustCompile(`([A-Z0-9]{2,10})/([A-Z]{3,5})`)
	concatRe   = regexp.MustCompile(`([A-Z0-9]{2,10})(USDT|BUSD|USDC|DAI)\b`)
	spacedRe   = regexp.MustCompile(`\b([A-Z0-9]{2,10})\s*USDT`)
	knownQuote = regexp.MustCompile(`^(.{2,})(USDT|BUSD|USDC)$`)

	entryRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bentry[:：\s]*` + num),
		regexp.MustCompile(`(?i)\bprice[:：\s]*` + num),
		regexp.MustCompile(`入场[:：\s]*` + num),
		regexp.MustCompile(`价格[:：\s]*` + num),
	}
	stopRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bstop\s*loss[:：\s]*` + num),
		regexp.MustCompile(`(?i)\bsl[:：\s]*` + num),
		regexp.MustCompile(`止损[:：\s]*` + num),
	}
	takeProfitRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btp` + ordinal + `\s*[:：]?\s*` + num),
		regexp.MustCompile(`(?i)\btake\s*profit` + ordinal + `\s*[:：]?\s*` + num),
		regexp.MustCompile(`(?i)\btarget` + ordinal + `\s*[:：]?\s*` + num),
		regexp.MustCompile(`止盈` + ordinal + `\s*[:：]?\s*` + num),
		regexp.MustCompile(`目标` + ordinal + `\s*[:：]?\s*` + num),
		regexp.MustCompile(`第[一二三四五六七八九十1-9]\s*止盈[:：\s]*` + num),
		regexp.MustCompile(`第[一二三四五六七八九十1-9]\s*目标[:：\s]*` + num),
		regexp.MustCompile(`🎯` + ordinal + `\s*[:：]?\s*` + num),
		regexp.MustCompile(`到价[:：\s]*` + num),
		regexp.MustCompile(`到[:：\s]*` + num),
		regexp.MustCompile(`(?:减仓|減倉|保本)[:：\s]*` + num),
	}
	// явная цель с ценой без слова направления трактуется как частичное закрытие
	tpCloseRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:第[一二三四五六七八九十1-9]\s*止盈|\btp\s*\d*|目标|\btarget)\s*[:：\s]+` + num),
		regexp.MustCompile(`(?:止盈|目标)\s*[:：\s]+` + num),
	}
	leverageRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bleverage[:：\s]*(\d+)x?`),
		regexp.MustCompile(`(?i)(\d+)x\s*leverage`),
		regexp.MustCompile(`杠杆[:：\s]*(\d+)`),
	}
)
