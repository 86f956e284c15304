package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/signal-trader/pkg/utils"
)

const maxMessageLength = 4096

// sender отправка сообщений; *tgbotapi.BotAPI подходит
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier очередь уведомлений в чат администратора. Notify не блокирует торговый путь.
type Notifier struct {
	api    sender
	chatID int64
	outbox chan string
	logger *utils.Logger
}

// NewNotifier создает нотификатор. chatID 0 отключает уведомления.
func NewNotifier(api sender, chatID int64, logger *utils.Logger) *Notifier {
	if logger == nil {
		logger = utils.Nop()
	}
	return &Notifier{
		api:    api,
		chatID: chatID,
		outbox: make(chan string, 256),
		logger: logger,
	}
}

// Notify ставит сообщение в очередь. При переполнении сообщение теряется.
func (n *Notifier) Notify(_ context.Context, text string) {
	if n.chatID == 0 || text == "" {
		return
	}
	select {
	case n.outbox <- text:
	default:
		n.logger.Warn("⚠️ Notification dropped, outbox full")
	}
}

// Run отправляет уведомления до отмены ctx, затем досылает накопленное
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush()
			return nil
		case text := <-n.outbox:
			sendText(n.api, n.chatID, text, n.logger)
		}
	}
}

func (n *Notifier) flush() {
	for {
		select {
		case text := <-n.outbox:
			sendText(n.api, n.chatID, text, n.logger)
		default:
			return
		}
	}
}

// sendText отправляет текст, разбивая длинные сообщения
func sendText(api sender, chatID int64, text string, logger *utils.Logger) {
	for _, part := range splitMessage(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if _, err := api.Send(msg); err != nil {
			logger.Error("Failed to send telegram message", "chat_id", chatID, "error", err)
		}
	}
}
