package reason

import (
	"strings"
	"testing"

	"github.com/basket/deskhand/internal/model"
)

const validResponse = `{
  "action_type": "email_reply",
  "title": "Reply with pricing",
  "reasoning": "Handbook section 2.1 allows routine pricing replies.",
  "action_data": {"body": "Our bulk pricing starts at...", "to": "customer@example.com"},
  "confidence": 0.92,
  "handbook_references": ["Section 2.1: Email Protocol"],
  "requires_approval": false
}`

func TestParseResponsePlainObject(t *testing.T) {
	action, err := ParseResponse(validResponse)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if action.ActionType != model.ActionEmailReply {
		t.Fatalf("action type = %s, want email_reply", action.ActionType)
	}
	if action.Confidence != 0.92 {
		t.Fatalf("confidence = %v, want 0.92", action.Confidence)
	}
	if action.RequiresApproval {
		t.Fatal("requires_approval = true, want false")
	}
	if action.ActionData["to"] != "customer@example.com" {
		t.Fatalf("action data = %v", action.ActionData)
	}
}

func TestParseResponseFencedWithCommentary(t *testing.T) {
	response := "Here is my proposal:\n\n```json\n" + validResponse + "\n```\n\nLet me know."
	action, err := ParseResponse(response)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if action.Title != "Reply with pricing" {
		t.Fatalf("title = %q", action.Title)
	}
}

func TestParseResponseBalancedBraceInProse(t *testing.T) {
	response := "I think the best course of action is as follows. " + validResponse + " That is all."
	if _, err := ParseResponse(response); err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
}

func TestParseResponseDefaults(t *testing.T) {
	response := `{
	  "action_type": "custom",
	  "title": "Investigate",
	  "reasoning": "Unclear request.",
	  "confidence": 0.4
	}`
	action, err := ParseResponse(response)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !action.RequiresApproval {
		t.Fatal("requires_approval should default to true")
	}
	if action.ActionData == nil || len(action.ActionData) != 0 {
		t.Fatalf("action_data = %v, want empty map", action.ActionData)
	}
	if len(action.HandbookReferences) != 0 {
		t.Fatalf("handbook_references = %v, want empty", action.HandbookReferences)
	}
}

func TestParseResponseRejectsUnknownActionType(t *testing.T) {
	response := strings.Replace(validResponse, "email_reply", "teleport_user", 1)
	if _, err := ParseResponse(response); err == nil {
		t.Fatal("unknown action type accepted")
	}
}

func TestParseResponseRejectsOutOfRangeConfidence(t *testing.T) {
	response := strings.Replace(validResponse, "0.92", "1.7", 1)
	if _, err := ParseResponse(response); err == nil {
		t.Fatal("confidence above 1 accepted")
	}
}

func TestParseResponseRejectsMissingFields(t *testing.T) {
	for _, response := range []string{
		`{"action_type": "custom", "title": "x", "confidence": 0.5}`,
		`{"title": "x", "reasoning": "y", "confidence": 0.5}`,
		`no json here at all`,
		``,
	} {
		if _, err := ParseResponse(response); err == nil {
			t.Fatalf("accepted invalid response: %q", response)
		}
	}
}

func TestParseResponseBracesInsideStrings(t *testing.T) {
	response := `{
	  "action_type": "chat_reply",
	  "title": "Answer with sample",
	  "reasoning": "They asked for a config sample like {\"key\": \"value\"}.",
	  "action_data": {"body": "Use {\"debug\": true}"},
	  "confidence": 0.9
	}`
	action, err := ParseResponse(response)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if action.ActionType != model.ActionChatReply {
		t.Fatalf("action type = %s", action.ActionType)
	}
}
