package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/deskhand/internal/model"
)

// Outbox writes outgoing messages and payment instructions as files under
// <home>/outbox. A delivery agent (or the operator) drains the directory;
// deskhand itself never talks to a mail server.
type Outbox struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewOutbox(homeDir string, logger *slog.Logger) *Outbox {
	return &Outbox{
		dir:    filepath.Join(homeDir, "outbox"),
		logger: logger,
		now:    time.Now,
	}
}

// OutboxMessage is the front matter of a queued outbox file.
type OutboxMessage struct {
	Kind    string `yaml:"kind"`
	To      string `yaml:"to,omitempty"`
	Subject string `yaml:"subject,omitempty"`

	// Payment fields.
	Amount    any    `yaml:"amount,omitempty"`
	Recipient string `yaml:"recipient,omitempty"`

	// Social fields.
	Platform string `yaml:"platform,omitempty"`

	ActionID string `yaml:"action_id"`
	QueuedAt string `yaml:"queued_at"`
}

func (o *Outbox) write(kind string, msg OutboxMessage, body string) error {
	sub := filepath.Join(o.dir, kind)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return fmt.Errorf("create outbox directory: %w", err)
	}
	msg.Kind = kind
	msg.QueuedAt = o.now().UTC().Format(time.RFC3339)

	fm, err := yaml.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbox front matter: %w", err)
	}
	content := fmt.Sprintf("---\n%s---\n\n%s\n", fm, strings.TrimSpace(body))

	name := fmt.Sprintf("%s_%s.md", o.now().UTC().Format("20060102_150405"), msg.ActionID)
	path := filepath.Join(sub, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write outbox file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("place outbox file: %w", err)
	}
	o.logger.Info("queued outbox message", "kind", kind, "file", name)
	return nil
}

// EmailReply queues a reply. The recipient defaults to the task's sender.
func (o *Outbox) EmailReply(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	to, _ := action.ActionData["to"].(string)
	if to == "" {
		to, _ = taskCtx["from"].(string)
	}
	if to == "" {
		return fmt.Errorf("email reply has no recipient and task context has no sender")
	}
	subject, _ := taskCtx["subject"].(string)
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	body, _ := action.ActionData["body"].(string)
	return o.write("email", OutboxMessage{To: to, Subject: subject, ActionID: action.ID}, body)
}

// EmailSend queues a fresh outgoing email.
func (o *Outbox) EmailSend(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	to, _ := action.ActionData["to"].(string)
	subject, _ := action.ActionData["subject"].(string)
	body, _ := action.ActionData["body"].(string)
	return o.write("email", OutboxMessage{To: to, Subject: subject, ActionID: action.ID}, body)
}

// Payment queues a payment instruction. Payments only reach this point
// after explicit human approval.
func (o *Outbox) Payment(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	recipient, _ := action.ActionData["recipient"].(string)
	body, _ := action.ActionData["memo"].(string)
	return o.write("payments", OutboxMessage{
		Recipient: recipient,
		Amount:    action.ActionData["amount"],
		ActionID:  action.ID,
	}, body)
}

// SocialPost queues a social media post, also human-approved by the time it
// lands here.
func (o *Outbox) SocialPost(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	platform, _ := action.ActionData["platform"].(string)
	content, _ := action.ActionData["content"].(string)
	return o.write("social", OutboxMessage{Platform: platform, ActionID: action.ID}, content)
}

// Dir returns the outbox root, for the doctor command.
func (o *Outbox) Dir() string { return o.dir }
