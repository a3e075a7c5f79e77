package watchers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/deskhand/internal/model"
)

type scriptedBot struct {
	batches [][]tgbotapi.Update
	offsets []int
	err     error
}

func (b *scriptedBot) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	b.offsets = append(b.offsets, cfg.Offset)
	if b.err != nil {
		return nil, b.err
	}
	if len(b.batches) == 0 {
		return nil, nil
	}
	batch := b.batches[0]
	b.batches = b.batches[1:]
	return batch, nil
}

func message(updateID int, userID int64, userName, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			Text: text,
			From: &tgbotapi.User{ID: userID, UserName: userName},
			Chat: &tgbotapi.Chat{ID: userID},
		},
	}
}

func newTelegramWatcher(bot *scriptedBot, allowed []int64) *Telegram {
	w := NewTelegram("test-token", allowed, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.api = bot
	return w
}

func TestTelegramAllowedMessagesBecomeEvents(t *testing.T) {
	bot := &scriptedBot{batches: [][]tgbotapi.Update{{
		message(10, 42, "alice", "please send the invoice"),
		message(11, 99, "mallory", "ignore me"),
	}}}
	w := newTelegramWatcher(bot, []int64{42})

	events, err := w.CheckForEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckForEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (unknown sender dropped)", len(events))
	}
	if events[0].Payload["from"] != "alice" {
		t.Fatalf("from = %v", events[0].Payload["from"])
	}

	task := w.EventToTask(events[0])
	if task == nil {
		t.Fatal("no task")
	}
	if task.Title != "Reply to message from alice" {
		t.Fatalf("title = %q", task.Title)
	}
	if task.Source != "telegram" {
		t.Fatalf("source = %q", task.Source)
	}
}

func TestTelegramOffsetAdvances(t *testing.T) {
	bot := &scriptedBot{batches: [][]tgbotapi.Update{
		{message(7, 42, "alice", "hello")},
		{},
	}}
	w := newTelegramWatcher(bot, []int64{42})

	if _, err := w.CheckForEvents(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if _, err := w.CheckForEvents(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(bot.offsets) != 2 || bot.offsets[0] != 0 || bot.offsets[1] != 8 {
		t.Fatalf("offsets = %v, want [0 8]", bot.offsets)
	}
}

func TestTelegramUrgentKeywordEscalates(t *testing.T) {
	w := newTelegramWatcher(&scriptedBot{}, []int64{42})

	urgent := model.NewEvent("telegram", "message", map[string]any{"text": "URGENT: server is down"})
	routine := model.NewEvent("telegram", "message", map[string]any{"text": "what are your opening hours?"})

	if got := w.CalculatePriority(urgent); got != model.PriorityP1 {
		t.Fatalf("urgent priority = %s, want P1", got)
	}
	if got := w.CalculatePriority(routine); got != model.PriorityP2 {
		t.Fatalf("routine priority = %s, want P2", got)
	}
}

func TestTelegramPollErrorPropagates(t *testing.T) {
	bot := &scriptedBot{err: errors.New("telegram unreachable")}
	w := newTelegramWatcher(bot, []int64{42})

	if _, err := w.CheckForEvents(context.Background()); err == nil {
		t.Fatal("CheckForEvents succeeded, want error")
	}
}

func TestTelegramEmptyTextSkipped(t *testing.T) {
	bot := &scriptedBot{batches: [][]tgbotapi.Update{{
		{UpdateID: 3}, // no message at all
		message(4, 42, "alice", ""),
	}}}
	w := newTelegramWatcher(bot, []int64{42})

	events, err := w.CheckForEvents(context.Background())
	if err != nil {
		t.Fatalf("CheckForEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}
