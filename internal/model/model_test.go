package model

import (
	"sort"
	"testing"
	"time"
)

func TestParseActionType(t *testing.T) {
	cases := []struct {
		in      string
		want    ActionType
		wantErr bool
	}{
		{"email_reply", ActionEmailReply, false},
		{" Email_Send ", ActionEmailSend, false},
		{"chat_reply", ActionChatReply, false},
		{"payment", ActionPayment, false},
		{"social_post", ActionSocialPost, false},
		{"invoice", ActionInvoice, false},
		{"custom", ActionCustom, false},
		{"delete_company", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseActionType(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseActionType(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseActionType(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseActionType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{
		StatusPending, StatusInProgress, StatusNeedsApproval,
		StatusApproved, StatusRejected, StatusCompleted, StatusFailed,
	} {
		got, ok := ParseStatus(string(s))
		if !ok || got != s {
			t.Errorf("ParseStatus(%q) = %q, %v", s, got, ok)
		}
	}
	if _, ok := ParseStatus("exploded"); ok {
		t.Error("ParseStatus accepted unknown status")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusRejected}
	active := []Status{StatusPending, StatusInProgress, StatusNeedsApproval, StatusApproved}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTaskIDsSortByCreation(t *testing.T) {
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, newID("task", time.Date(2026, 1, 1, 10, i, 0, 0, time.UTC)))
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("ids not sorted by creation time: %v", ids)
	}
}

func TestTaskIDsUniqueWithinSecond(t *testing.T) {
	now := time.Now()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := newID("task", now)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestAttachActionRefusedOnTerminalTask(t *testing.T) {
	task := NewTask("gmail", "t", "d", nil)
	task.Status = StatusCompleted

	action := NewProposedAction(ActionEmailReply, "reply", "because", nil, 0.9)
	if err := task.AttachAction(action); err == nil {
		t.Fatal("expected error attaching action to completed task")
	}

	task.Status = StatusPending
	if err := task.AttachAction(action); err != nil {
		t.Fatalf("attach on pending task: %v", err)
	}
	if task.ProposedAction != action {
		t.Fatal("action not attached")
	}

	// A newer proposal replaces the prior one while the task is active.
	replacement := NewProposedAction(ActionEmailSend, "send", "better", nil, 0.95)
	if err := task.AttachAction(replacement); err != nil {
		t.Fatalf("replace action: %v", err)
	}
	if task.ProposedAction != replacement {
		t.Fatal("replacement action not attached")
	}
}

func TestParsePriorityDefaultsToP2(t *testing.T) {
	if got := ParsePriority("P0"); got != PriorityP0 {
		t.Errorf("ParsePriority(P0) = %q", got)
	}
	if got := ParsePriority("whatever"); got != PriorityP2 {
		t.Errorf("ParsePriority fallback = %q, want P2", got)
	}
}

func TestNewProposedActionDefaults(t *testing.T) {
	a := NewProposedAction(ActionPayment, "pay", "invoice due", nil, 0.5)
	if !a.RequiresApproval {
		t.Error("RequiresApproval should default to true")
	}
	if a.ActionData == nil {
		t.Error("ActionData should never be nil")
	}
}
