// Package telegram слушает чаты с сигналами, отвечает на команды оператора
// и шлет уведомления в чат администратора.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/signal-trader/internal/dispatcher"
	"github.com/kirillm/signal-trader/pkg/utils"
)

// API часть *tgbotapi.BotAPI, нужная боту
type API interface {
	sender
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// SignalHandler принимает сообщения чатов с сигналами
type SignalHandler interface {
	Handle(ctx context.Context, ev dispatcher.Event) dispatcher.Result
}

// Config настройки слушателя
type Config struct {
	SourceChats  []int64
	ReplayWindow time.Duration
	ReplayLimit  int
	QueueSize    int
}

var allowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post"}

// limiterIdle лимитеры молчащих пользователей удаляются после этого времени
const limiterIdle = 10 * time.Minute

// Bot слушатель обновлений Telegram
type Bot struct {
	api     API
	cfg     Config
	sources map[int64]bool
	signals SignalHandler
	router  *Router
	logger  *utils.Logger
	now     func() time.Time

	mu     sync.Mutex
	queues map[int64]chan dispatcher.Event
	wg     sync.WaitGroup
}

// Connect авторизует бота по токену
func Connect(token string, logger *utils.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info("Telegram bot authorized", "username", api.Self.UserName)
	return api, nil
}

// NewBot создает слушателя. router может быть nil, тогда команды игнорируются.
func NewBot(api API, cfg Config, signals SignalHandler, router *Router, logger *utils.Logger) *Bot {
	if logger == nil {
		logger = utils.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	sources := make(map[int64]bool, len(cfg.SourceChats))
	for _, id := range cfg.SourceChats {
		sources[id] = true
	}
	return &Bot{
		api:     api,
		cfg:     cfg,
		sources: sources,
		signals: signals,
		router:  router,
		logger:  logger,
		now:     time.Now,
		queues:  make(map[int64]chan dispatcher.Event),
	}
}

// Run переигрывает недавние сообщения и слушает обновления до отмены ctx.
// Перед возвратом дожидается сигналов, которые уже исполняются.
func (b *Bot) Run(ctx context.Context) error {
	defer b.stopQueues()

	offset := b.replay(ctx)

	u := tgbotapi.NewUpdate(offset)
	u.Timeout = 60
	u.AllowedUpdates = allowedUpdates
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("🤖 Listening for signals", "chats", len(b.sources), "offset", offset)

	cleanup := time.NewTicker(limiterIdle)
	defer cleanup.Stop()

	for {
		select {
		case <-cleanup.C:
			if b.router != nil {
				if n := b.router.auth.CleanupRateLimiters(limiterIdle); n > 0 {
					b.logger.Debug("Rate limiters cleaned up", "removed", n)
				}
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Stopping Telegram listener...")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd, false)
		}
	}
}

// replay забирает ожидающие обновления и пропускает через диспетчер только
// сообщения из окна, не больше лимита. Возвращает offset для живого опроса.
func (b *Bot) replay(ctx context.Context) int {
	var pending []tgbotapi.Update
	offset := 0
	for ctx.Err() == nil {
		u := tgbotapi.NewUpdate(offset)
		u.Limit = 100
		u.AllowedUpdates = allowedUpdates
		page, err := b.api.GetUpdates(u)
		if err != nil {
			b.logger.Warn("⚠️ Failed to fetch pending updates, replay skipped", "error", err)
			break
		}
		if len(page) == 0 {
			break
		}
		pending = append(pending, page...)
		offset = page[len(page)-1].UpdateID + 1
		if len(page) < u.Limit {
			break
		}
	}

	fresh := selectReplay(pending, b.now().Add(-b.cfg.ReplayWindow), b.cfg.ReplayLimit)
	if len(pending) > 0 {
		b.logger.Info("🔁 Replaying recent messages", "pending", len(pending), "replayed", len(fresh))
	}
	for _, upd := range fresh {
		b.handleUpdate(ctx, upd, true)
	}
	return offset
}

// selectReplay сообщения не старше cutoff, последние limit штук
func selectReplay(updates []tgbotapi.Update, cutoff time.Time, limit int) []tgbotapi.Update {
	var out []tgbotapi.Update
	for _, upd := range updates {
		msg, _ := messageOf(upd)
		if msg == nil || msg.Time().Before(cutoff) {
			continue
		}
		out = append(out, upd)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// messageOf сообщение обновления и признак правки
func messageOf(upd tgbotapi.Update) (*tgbotapi.Message, bool) {
	switch {
	case upd.Message != nil:
		return upd.Message, false
	case upd.ChannelPost != nil:
		return upd.ChannelPost, false
	case upd.EditedMessage != nil:
		return upd.EditedMessage, true
	case upd.EditedChannelPost != nil:
		return upd.EditedChannelPost, true
	}
	return nil, false
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update, replay bool) {
	msg, edited := messageOf(upd)
	if msg == nil || msg.Chat == nil {
		return
	}

	if b.sources[msg.Chat.ID] {
		b.enqueue(ctx, eventFromMessage(msg, edited, replay))
		return
	}

	if msg.IsCommand() && !edited && !replay && b.router != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleCommand(ctx, msg)
		}()
	}
}

// eventFromMessage событие диспетчера из сообщения Telegram
func eventFromMessage(msg *tgbotapi.Message, edited, replay bool) dispatcher.Event {
	ev := dispatcher.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      messageText(msg),
		Date:      msg.Time(),
		Edited:    edited,
		Replay:    replay,
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyText = messageText(msg.ReplyToMessage)
	}
	return ev
}

// messageText текст или подпись к картинке
func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// enqueue кладет событие в очередь чата. Одна горутина на чат сохраняет порядок сообщений.
func (b *Bot) enqueue(ctx context.Context, ev dispatcher.Event) {
	b.mu.Lock()
	q, ok := b.queues[ev.ChatID]
	if !ok {
		q = make(chan dispatcher.Event, b.cfg.QueueSize)
		b.queues[ev.ChatID] = q
		b.wg.Add(1)
		go b.worker(ctx, q)
	}
	b.mu.Unlock()

	select {
	case q <- ev:
	case <-ctx.Done():
	}
}

// worker исполняет события одного чата по порядку. Начатое исполнение
// не прерывается остановкой, еще не начатые события после остановки отбрасываются.
func (b *Bot) worker(ctx context.Context, q <-chan dispatcher.Event) {
	defer b.wg.Done()
	execCtx := context.WithoutCancel(ctx)
	for ev := range q {
		if ctx.Err() != nil {
			b.logger.Warn("⏭ Shutting down, signal not processed", "chat_id", ev.ChatID, "message_id", ev.MessageID)
			continue
		}
		b.process(execCtx, ev)
	}
}

func (b *Bot) process(ctx context.Context, ev dispatcher.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("❌ Panic while handling message", "chat_id", ev.ChatID, "message_id", ev.MessageID, "panic", r)
		}
	}()
	b.signals.Handle(ctx, ev)
}

func (b *Bot) stopQueues() {
	b.mu.Lock()
	for id, q := range b.queues {
		close(q)
		delete(b.queues, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	b.logger.Info("Received command", "user_id", userID, "chat_id", msg.Chat.ID, "text", msg.Text)

	response, err := b.router.HandleCommand(ctx, userID, msg.Text)
	if err != nil {
		b.logger.Error("Command error", "user_id", userID, "error", err)
	}
	if response != "" {
		sendText(b.api, msg.Chat.ID, response, b.logger)
	}
}
