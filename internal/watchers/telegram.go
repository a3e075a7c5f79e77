package watchers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/deskhand/internal/model"
)

// telegramAPI is the slice of the bot client the watcher needs. Tests
// substitute a scripted implementation.
type telegramAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Telegram polls a bot for incoming messages and turns each allowed message
// into a task. Offset tracking makes polling idempotent: an update is
// fetched once and acknowledged by the next request's offset.
type Telegram struct {
	token      string
	allowedIDs map[int64]struct{}
	logger     *slog.Logger
	interval   time.Duration

	api    telegramAPI
	offset int
}

// NewTelegram creates the chat watcher. An empty allowedIDs list rejects
// all senders.
func NewTelegram(token string, allowedIDs []int64, interval time.Duration, logger *slog.Logger) *Telegram {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Telegram{
		token:      token,
		allowedIDs: allowed,
		logger:     logger.With("watcher", "telegram"),
		interval:   interval,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) PollInterval() time.Duration { return t.interval }

func (t *Telegram) Initialize(ctx context.Context) error {
	if t.api != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot connected", "user", bot.Self.UserName)
	t.api = bot
	return nil
}

func (t *Telegram) Cleanup(ctx context.Context) error { return nil }

func (t *Telegram) CheckForEvents(ctx context.Context) ([]model.Event, error) {
	cfg := tgbotapi.NewUpdate(t.offset)
	cfg.Timeout = 0

	updates, err := t.api.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("telegram get updates: %w", err)
	}

	var events []model.Event
	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Text == "" {
			continue
		}
		from := u.Message.From
		if from == nil {
			continue
		}
		if _, ok := t.allowedIDs[from.ID]; !ok {
			t.logger.Warn("telegram message from unknown sender ignored", "user_id", from.ID)
			continue
		}
		events = append(events, model.NewEvent("telegram", "message", map[string]any{
			"chat_id":   u.Message.Chat.ID,
			"from":      from.UserName,
			"from_id":   from.ID,
			"text":      u.Message.Text,
			"update_id": u.UpdateID,
		}))
	}
	return events, nil
}

func (t *Telegram) EventToTask(ev model.Event) *model.Task {
	text, _ := ev.Payload["text"].(string)
	if text == "" {
		return nil
	}
	from, _ := ev.Payload["from"].(string)
	return model.NewTask("telegram",
		fmt.Sprintf("Reply to message from %s", from),
		fmt.Sprintf("New message received from %s\n\n> %s", from, text),
		clonePayload(ev.Payload))
}

func (t *Telegram) CalculatePriority(ev model.Event) model.Priority {
	text, _ := ev.Payload["text"].(string)
	return keywordPriority(text, model.PriorityP2)
}
