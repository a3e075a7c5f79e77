package actions

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/deskhand/internal/model"
)

// chatSender is the sending slice of the telegram client.
type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChatReplier sends chat_reply actions back through the telegram bot. The
// chat id comes from the task context the watcher recorded.
type ChatReplier struct {
	sender chatSender
	logger *slog.Logger
}

// NewChatReplier connects a replier to the bot. Initialization is lazy so
// the executor can be registered before the bot token is verified.
func NewChatReplier(token string, logger *slog.Logger) (*ChatReplier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return &ChatReplier{sender: bot, logger: logger}, nil
}

func (c *ChatReplier) Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	chatID, ok := chatIDFrom(taskCtx)
	if !ok {
		return fmt.Errorf("chat reply: task context has no chat_id")
	}
	body, _ := action.ActionData["body"].(string)

	msg := tgbotapi.NewMessage(chatID, body)
	if _, err := c.sender.Send(msg); err != nil {
		return fmt.Errorf("send chat reply: %w", err)
	}
	c.logger.Info("chat reply sent", "chat_id", chatID)
	return nil
}

// chatIDFrom tolerates the numeric types a chat id takes after JSON or
// in-memory round trips.
func chatIDFrom(taskCtx map[string]any) (int64, bool) {
	switch v := taskCtx["chat_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			return id, true
		}
	}
	return 0, false
}
