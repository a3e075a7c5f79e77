package actions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/basket/deskhand/internal/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAction(at model.ActionType, data map[string]any) *model.ProposedAction {
	return model.NewProposedAction(at, "t", "r", data, 0.9)
}

func TestDispatcherRoutesToRegisteredExecutor(t *testing.T) {
	d := NewDispatcher(discard())
	var got *model.ProposedAction
	d.Register(model.ActionEmailReply, ExecutorFunc(func(_ context.Context, a *model.ProposedAction, _ map[string]any) error {
		got = a
		return nil
	}))

	a := newAction(model.ActionEmailReply, map[string]any{"body": "hello"})
	if err := d.Execute(context.Background(), a, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatal("executor not invoked with the action")
	}
}

func TestDispatcherUnregisteredType(t *testing.T) {
	d := NewDispatcher(discard())
	a := newAction(model.ActionCustom, nil)
	if err := d.Execute(context.Background(), a, nil); err == nil {
		t.Fatal("Execute succeeded without executor")
	}
}

func TestDispatcherExecutorErrorWrapped(t *testing.T) {
	d := NewDispatcher(discard())
	sentinel := errors.New("smtp down")
	d.Register(model.ActionEmailSend, ExecutorFunc(func(context.Context, *model.ProposedAction, map[string]any) error {
		return sentinel
	}))
	a := newAction(model.ActionEmailSend, map[string]any{"to": "a@b.c", "subject": "s", "body": "b"})
	err := d.Execute(context.Background(), a, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
}

func TestValidateActionData(t *testing.T) {
	tests := []struct {
		name    string
		at      model.ActionType
		data    map[string]any
		taskCtx map[string]any
		wantErr bool
	}{
		{"reply with body", model.ActionEmailReply, map[string]any{"body": "x"}, nil, false},
		{"reply missing body", model.ActionEmailReply, map[string]any{}, nil, true},
		{"chat reply with body", model.ActionChatReply, map[string]any{"body": "x"}, nil, false},
		{"send complete", model.ActionEmailSend, map[string]any{"to": "a@b.c", "subject": "s", "body": "b"}, nil, false},
		{"send missing subject", model.ActionEmailSend, map[string]any{"to": "a@b.c", "body": "b"}, nil, true},
		{"file create", model.ActionFileOperation, map[string]any{"operation": "create", "path": "x.md", "content": "c"}, nil, false},
		{"file create missing content", model.ActionFileOperation, map[string]any{"operation": "create", "path": "x.md"}, nil, true},
		{"file move", model.ActionFileOperation, map[string]any{"operation": "move", "path": "a.md", "dest": "b.md"}, nil, false},
		{"file bad op", model.ActionFileOperation, map[string]any{"operation": "delete", "path": "x"}, nil, true},
		{"calendar", model.ActionCalendarEvent, map[string]any{"title": "standup", "datetime": "2026-09-01T10:00:00Z"}, nil, false},
		{"payment complete", model.ActionPayment, map[string]any{"amount": 10.0, "recipient": "Vendor"}, nil, false},
		{"payment missing amount", model.ActionPayment, map[string]any{"recipient": "Vendor"}, nil, true},
		{"social", model.ActionSocialPost, map[string]any{"platform": "linkedin", "content": "c"}, nil, false},
		{"invoice items", model.ActionInvoice, map[string]any{"client_name": "Acme", "items": []any{}}, nil, false},
		{"invoice amount", model.ActionInvoice, map[string]any{"client_name": "Acme", "amount": 100.0, "description": "consulting"}, nil, false},
		{"invoice client from context", model.ActionInvoice, map[string]any{"amount": 100.0, "description": "d"}, map[string]any{"from": "x@y.z"}, false},
		{"invoice no client anywhere", model.ActionInvoice, map[string]any{"amount": 100.0, "description": "d"}, nil, true},
		{"invoice amount without description", model.ActionInvoice, map[string]any{"client_name": "Acme", "amount": 100.0}, nil, true},
		{"custom unconstrained", model.ActionCustom, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateActionData(newAction(tt.at, tt.data), tt.taskCtx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
