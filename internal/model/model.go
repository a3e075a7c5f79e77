// Package model defines the core deskhand data types: watcher events,
// tasks, proposed actions, and audit records.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks by urgency. P0 is immediate, P3 is best-effort.
type Priority string

const (
	PriorityP0 Priority = "P0" // immediate
	PriorityP1 Priority = "P1" // within hours
	PriorityP2 Priority = "P2" // within a day
	PriorityP3 Priority = "P3" // when capacity allows
)

// ParsePriority returns the Priority for s, defaulting to P2 for anything
// unrecognized so a hand-edited document never fails to load.
func ParsePriority(s string) Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P0":
		return PriorityP0
	case "P1":
		return PriorityP1
	case "P3":
		return PriorityP3
	default:
		return PriorityP2
	}
}

// Status is a task lifecycle state. The authoritative status of a persisted
// task is the vault folder its document lives in; the in-memory value is a
// cache that must be re-derived from the folder after restarts.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusNeedsApproval Status = "needs_approval"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Terminal reports whether s is a final state. Terminal tasks are never
// reprocessed and their proposed action is never replaced.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// ParseStatus returns the Status matching s, or StatusPending with ok=false
// for anything unrecognized.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusNeedsApproval:
		return StatusNeedsApproval, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	}
	return StatusPending, false
}

// ActionType is the closed enumeration of operations the reasoning engine may
// propose. Unknown types are rejected at parse time, not at execution time.
type ActionType string

const (
	ActionEmailReply    ActionType = "email_reply"
	ActionEmailSend     ActionType = "email_send"
	ActionChatReply     ActionType = "chat_reply"
	ActionFileOperation ActionType = "file_operation"
	ActionCalendarEvent ActionType = "calendar_event"
	ActionPayment       ActionType = "payment"
	ActionSocialPost    ActionType = "social_post"
	ActionInvoice       ActionType = "invoice"
	ActionCustom        ActionType = "custom"
)

var actionTypes = map[ActionType]struct{}{
	ActionEmailReply:    {},
	ActionEmailSend:     {},
	ActionChatReply:     {},
	ActionFileOperation: {},
	ActionCalendarEvent: {},
	ActionPayment:       {},
	ActionSocialPost:    {},
	ActionInvoice:       {},
	ActionCustom:        {},
}

// ParseActionType validates s against the closed enumeration.
func ParseActionType(s string) (ActionType, error) {
	at := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := actionTypes[at]; !ok {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return at, nil
}

// Event is a normalized notification produced by one watcher poll cycle.
// Events are transient: they are consumed within the cycle that produced
// them and are never written to the vault.
type Event struct {
	ID        string
	Timestamp time.Time

	SourceWatcher string
	Kind          string // e.g. "new_message", "file_moved"
	Payload       map[string]any

	// LinkedTaskID is set once the event has been converted to a task.
	LinkedTaskID string
}

// NewEvent creates an Event stamped with now and a fresh id.
func NewEvent(watcher, kind string, payload map[string]any) Event {
	now := time.Now()
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:            newID("event", now),
		Timestamp:     now,
		SourceWatcher: watcher,
		Kind:          kind,
		Payload:       payload,
	}
}

// Task is a persistent unit of work derived from an Event. Its document
// lives in exactly one vault status folder at a time.
type Task struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	Source   string
	Priority Priority
	Status   Status

	Title       string
	Description string
	Context     map[string]any

	ProposedAction *ProposedAction

	HumanDecision   string
	HumanDecisionAt time.Time

	ErrorCount int
	LastError  string
}

// NewTask creates a pending Task from a watcher. Task ids sort in creation
// order; the uuid salt keeps ids unique within one clock second.
func NewTask(source, title, description string, ctx map[string]any) *Task {
	now := time.Now()
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &Task{
		ID:          newID("task", now),
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      source,
		Priority:    PriorityP2,
		Status:      StatusPending,
		Title:       title,
		Description: description,
		Context:     ctx,
	}
}

// AttachAction sets the task's proposed action, replacing any prior one.
// Attaching to a terminal task is refused.
func (t *Task) AttachAction(a *ProposedAction) error {
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s; cannot attach action", t.ID, t.Status)
	}
	t.ProposedAction = a
	t.UpdatedAt = time.Now()
	return nil
}

// ProposedAction is a structured remediation produced by the reasoning
// engine for a single task.
type ProposedAction struct {
	ID        string
	CreatedAt time.Time

	ActionType       ActionType
	RequiresApproval bool

	Title     string
	Reasoning string

	ActionData         map[string]any
	Confidence         float64 // [0.0, 1.0]
	HandbookReferences []string

	Approved      *bool
	ApprovedAt    time.Time
	ApprovalNotes string
}

// NewProposedAction creates an action proposal defaulting to requiring
// human approval.
func NewProposedAction(at ActionType, title, reasoning string, data map[string]any, confidence float64) *ProposedAction {
	now := time.Now()
	if data == nil {
		data = map[string]any{}
	}
	return &ProposedAction{
		ID:               newID("action", now),
		CreatedAt:        now,
		ActionType:       at,
		RequiresApproval: true,
		Title:            title,
		Reasoning:        reasoning,
		ActionData:       data,
		Confidence:       confidence,
	}
}

// AuditRecord is one append-only audit trail entry.
type AuditRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	EventType string `json:"event_type"`
	Actor     string `json:"actor"` // "ai" or "human"

	TaskID   string `json:"task_id,omitempty"`
	ActionID string `json:"action_id,omitempty"`

	Details map[string]any `json:"details"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewAuditRecord creates a successful audit record stamped with now.
func NewAuditRecord(eventType, actor string, details map[string]any) AuditRecord {
	now := time.Now()
	if details == nil {
		details = map[string]any{}
	}
	return AuditRecord{
		ID:        newID("audit", now),
		Timestamp: now,
		EventType: eventType,
		Actor:     actor,
		Details:   details,
		Success:   true,
	}
}

// newID builds a sortable id: <prefix>_<UTC stamp>_<uuid salt>.
func newID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, t.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}
