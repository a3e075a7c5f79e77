package actions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/deskhand/internal/model"
)

func TestFileOperatorCreateUpdateMove(t *testing.T) {
	root := t.TempDir()
	f := NewFileOperator(root, discard())
	ctx := context.Background()

	create := newAction(model.ActionFileOperation, map[string]any{
		"operation": "create", "path": "Notes/summary.md", "content": "v1",
	})
	if err := f.Execute(ctx, create, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Execute(ctx, create, nil); err == nil {
		t.Fatal("create over existing file succeeded")
	}

	update := newAction(model.ActionFileOperation, map[string]any{
		"operation": "update", "path": "Notes/summary.md", "content": "v2",
	})
	if err := f.Execute(ctx, update, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(root, "Notes", "summary.md"))
	if string(b) != "v2" {
		t.Fatalf("content = %q, want v2", b)
	}

	move := newAction(model.ActionFileOperation, map[string]any{
		"operation": "move", "path": "Notes/summary.md", "dest": "Archive/summary.md",
	})
	if err := f.Execute(ctx, move, nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Archive", "summary.md")); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}
}

func TestFileOperatorRefusesEscape(t *testing.T) {
	f := NewFileOperator(t.TempDir(), discard())
	for _, path := range []string{"../outside.md", "a/../../outside.md"} {
		a := newAction(model.ActionFileOperation, map[string]any{
			"operation": "create", "path": path, "content": "x",
		})
		err := f.Execute(context.Background(), a, nil)
		// filepath.Clean("/"+path) pins traversal inside the root, so
		// either an explicit refusal or a write inside the vault is
		// acceptable; what must never happen is a file outside it.
		if err == nil {
			outside := filepath.Join(filepath.Dir(f.root), "outside.md")
			if _, statErr := os.Stat(outside); statErr == nil {
				t.Fatalf("path %q escaped the vault", path)
			}
		}
	}
}

func TestCalendarAppendsEntries(t *testing.T) {
	root := t.TempDir()
	c := NewCalendar(root, discard())
	ctx := context.Background()

	for _, a := range []*model.ProposedAction{
		newAction(model.ActionCalendarEvent, map[string]any{"title": "Standup", "datetime": "2026-09-01T10:00:00Z"}),
		newAction(model.ActionCalendarEvent, map[string]any{"title": "Review", "datetime": "2026-09-02T15:30"}),
	} {
		if err := c.Execute(ctx, a, nil); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	b, err := os.ReadFile(filepath.Join(root, "Calendar.md"))
	if err != nil {
		t.Fatalf("read calendar: %v", err)
	}
	content := string(b)
	if !strings.Contains(content, "2026-09-01 10:00 | Standup") {
		t.Fatalf("calendar content:\n%s", content)
	}
	if strings.Count(content, "\n") != 2 {
		t.Fatalf("calendar lines = %d, want 2:\n%s", strings.Count(content, "\n"), content)
	}
}

func TestCalendarRejectsBadDatetime(t *testing.T) {
	c := NewCalendar(t.TempDir(), discard())
	a := newAction(model.ActionCalendarEvent, map[string]any{"title": "x", "datetime": "next tuesday"})
	if err := c.Execute(context.Background(), a, nil); err == nil {
		t.Fatal("bad datetime accepted")
	}
}

func TestInvoiceWithItems(t *testing.T) {
	root := t.TempDir()
	w := NewInvoiceWriter(root, discard())
	a := newAction(model.ActionInvoice, map[string]any{
		"client_name": "Acme Corp",
		"items": []any{
			map[string]any{"description": "Consulting", "quantity": 10.0, "unit_price": 150.0},
			map[string]any{"description": "Setup fee", "quantity": 1.0, "unit_price": 500.0},
		},
	})
	if err := w.Execute(context.Background(), a, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "Invoices"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("invoices dir: %v entries, err %v", len(entries), err)
	}
	b, _ := os.ReadFile(filepath.Join(root, "Invoices", entries[0].Name()))
	content := string(b)
	for _, want := range []string{"Acme Corp", "Consulting", "**Total:** 2000.00"} {
		if !strings.Contains(content, want) {
			t.Fatalf("invoice missing %q:\n%s", want, content)
		}
	}
}

func TestInvoiceAmountFallback(t *testing.T) {
	root := t.TempDir()
	w := NewInvoiceWriter(root, discard())
	a := newAction(model.ActionInvoice, map[string]any{"amount": 750.0, "description": "August retainer"})
	if err := w.Execute(context.Background(), a, map[string]any{"from": "billing@client.com"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "Invoices"))
	b, _ := os.ReadFile(filepath.Join(root, "Invoices", entries[0].Name()))
	content := string(b)
	if !strings.Contains(content, "billing@client.com") || !strings.Contains(content, "**Total:** 750.00") {
		t.Fatalf("invoice:\n%s", content)
	}
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, s.err
}

func TestChatReplierSendsToContextChat(t *testing.T) {
	sender := &fakeSender{}
	c := &ChatReplier{sender: sender, logger: discard()}

	a := newAction(model.ActionChatReply, map[string]any{"body": "We open at 9am."})
	err := c.Execute(context.Background(), a, map[string]any{"chat_id": float64(987654)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent type = %T", sender.sent[0])
	}
	if msg.ChatID != 987654 || msg.Text != "We open at 9am." {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestChatReplierMissingChatID(t *testing.T) {
	c := &ChatReplier{sender: &fakeSender{}, logger: discard()}
	a := newAction(model.ActionChatReply, map[string]any{"body": "x"})
	if err := c.Execute(context.Background(), a, map[string]any{}); err == nil {
		t.Fatal("Execute succeeded without chat_id")
	}
}

func TestChatReplierSendError(t *testing.T) {
	c := &ChatReplier{sender: &fakeSender{err: errors.New("blocked")}, logger: discard()}
	a := newAction(model.ActionChatReply, map[string]any{"body": "x"})
	if err := c.Execute(context.Background(), a, map[string]any{"chat_id": int64(1)}); err == nil {
		t.Fatal("Execute succeeded despite send failure")
	}
}
