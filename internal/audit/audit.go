// Package audit writes the append-only action trail. Records go to
// monthly-partitioned JSONL files under <home>/logs and are mirrored to the
// sqlite ledger when one is attached.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/basket/deskhand/internal/model"
	"github.com/basket/deskhand/internal/shared"
)

// Mirror is the optional secondary sink, satisfied by *ledger.Ledger.
type Mirror interface {
	Record(ctx context.Context, rec model.AuditRecord) error
}

// Trail appends audit records to audit_YYYYMM.jsonl, rolling the partition
// when the month changes.
type Trail struct {
	logDir string
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	month   string
	mirror  Mirror
	written int64
}

// Open prepares the trail under <homeDir>/logs.
func Open(homeDir string, logger *slog.Logger) (*Trail, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &Trail{logDir: logDir, logger: logger}, nil
}

// SetMirror attaches the sqlite mirror. Safe to call at any point; nil
// detaches.
func (t *Trail) SetMirror(m Mirror) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mirror = m
}

func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Written reports how many records this trail has appended since Open.
func (t *Trail) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Append writes one record. The JSONL write is the canonical one; a mirror
// failure is logged and swallowed.
func (t *Trail) Append(rec model.AuditRecord) error {
	rec.ErrorMessage = shared.Redact(rec.ErrorMessage)
	for k, v := range rec.Details {
		if s, ok := v.(string); ok {
			rec.Details[k] = shared.Redact(shared.RedactMapValue(k, s))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	month := rec.Timestamp.UTC().Format("200601")
	if t.file == nil || month != t.month {
		if t.file != nil {
			_ = t.file.Close()
		}
		f, err := os.OpenFile(t.partitionPath(month), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open audit partition: %w", err)
		}
		t.file = f
		t.month = month
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := t.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	t.written++

	if t.mirror != nil {
		if err := t.mirror.Record(context.Background(), rec); err != nil {
			t.logger.Warn("audit mirror write failed", "error", err)
		}
	}
	return nil
}

func (t *Trail) partitionPath(month string) string {
	return filepath.Join(t.logDir, fmt.Sprintf("audit_%s.jsonl", month))
}

// Prune deletes JSONL partitions whose month is entirely older than the
// retention cutoff. The current partition is never removed.
func (t *Trail) Prune(olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(t.logDir)
	if err != nil {
		return 0, fmt.Errorf("read audit log directory: %w", err)
	}
	cutoff := olderThan.UTC().Format("200601")

	t.mu.Lock()
	current := t.month
	t.mu.Unlock()

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "audit_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		month := strings.TrimSuffix(strings.TrimPrefix(name, "audit_"), ".jsonl")
		if len(month) != 6 || month >= cutoff || month == current {
			continue
		}
		if err := os.Remove(filepath.Join(t.logDir, name)); err != nil {
			t.logger.Warn("audit partition removal failed", "file", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// The helpers below write the standard record shapes. Every watcher,
// executor, and loop decision goes through one of them so the trail stays
// uniform.

func (t *Trail) log(rec model.AuditRecord) {
	if err := t.Append(rec); err != nil {
		t.logger.Error("audit append failed", "event_type", rec.EventType, "error", err)
	}
}

func (t *Trail) TaskCreated(task *model.Task) {
	rec := model.NewAuditRecord("task_created", "ai", map[string]any{
		"source":   task.Source,
		"priority": string(task.Priority),
	})
	rec.TaskID = task.ID
	t.log(rec)
}

func (t *Trail) ActionProposed(task *model.Task, action *model.ProposedAction) {
	rec := model.NewAuditRecord("action_proposed", "ai", map[string]any{
		"action_type": string(action.ActionType),
		"confidence":  action.Confidence,
	})
	rec.TaskID = task.ID
	rec.ActionID = action.ID
	t.log(rec)
}

func (t *Trail) ApprovalDecision(task *model.Task, action *model.ProposedAction, auto bool, reason string) {
	actor := "human"
	if auto {
		actor = "ai"
	}
	rec := model.NewAuditRecord("approval_decision", actor, map[string]any{
		"auto":   auto,
		"reason": reason,
	})
	rec.TaskID = task.ID
	rec.ActionID = action.ID
	t.log(rec)
}

func (t *Trail) ActionExecuted(task *model.Task, action *model.ProposedAction, execErr error) {
	rec := model.NewAuditRecord("action_executed", "ai", map[string]any{
		"action_type": string(action.ActionType),
	})
	rec.TaskID = task.ID
	rec.ActionID = action.ID
	if execErr != nil {
		rec.Success = false
		rec.ErrorMessage = execErr.Error()
	}
	t.log(rec)
}

func (t *Trail) HumanDecision(taskID, decision string) {
	rec := model.NewAuditRecord("human_decision", "human", map[string]any{
		"decision": decision,
	})
	rec.TaskID = taskID
	t.log(rec)
}

// WatcherEvent records each raw event a watcher reports before it is
// converted into a task.
func (t *Trail) WatcherEvent(watcher, kind string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["watcher"] = watcher
	details["kind"] = kind
	t.log(model.NewAuditRecord("watcher_event", "ai", details))
}

func (t *Trail) WatcherError(watcher string, err error) {
	rec := model.NewAuditRecord("watcher_error", "ai", map[string]any{
		"watcher": watcher,
	})
	rec.Success = false
	rec.ErrorMessage = err.Error()
	t.log(rec)
}

func (t *Trail) HealthCheck(details map[string]any) {
	t.log(model.NewAuditRecord("health_check", "ai", details))
}
