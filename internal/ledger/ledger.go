// Package ledger keeps a queryable sqlite mirror of the audit trail.
// The append-only JSONL files remain the canonical record; the ledger exists
// so the health monitor and the briefing generator can count and summarize
// without re-reading month-sized log files.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/deskhand/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	ts            TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	actor         TEXT NOT NULL,
	task_id       TEXT,
	action_id     TEXT,
	success       INTEGER NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_log(event_type);
`

// Ledger wraps the sqlite handle.
type Ledger struct {
	db *sql.DB
}

// DefaultPath returns the ledger location inside the deskhand home.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, "deskhand.db")
}

// Open opens (creating if needed) the ledger database.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record mirrors one audit record. Errors are returned but callers treat
// them as non-fatal; the JSONL write is the one that matters.
func (l *Ledger) Record(ctx context.Context, rec model.AuditRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_log (id, ts, event_type, actor, task_id, action_id, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.EventType, rec.Actor,
		rec.TaskID, rec.ActionID, success, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	return nil
}

// CountSince returns the number of audit records of the given event type
// recorded at or after since.
func (l *Ledger) CountSince(ctx context.Context, eventType string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log WHERE event_type = ? AND ts >= ?;
	`, eventType, since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger count: %w", err)
	}
	return n, nil
}

// ErrorsSince returns the number of failed records since the given time,
// regardless of event type. The health monitor uses this for its
// errors-last-hour figure.
func (l *Ledger) ErrorsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log WHERE success = 0 AND ts >= ?;
	`, since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger error count: %w", err)
	}
	return n, nil
}

// WeeklySummary holds the counts the briefing generator reports.
type WeeklySummary struct {
	TasksCreated    int
	ActionsExecuted int
	ActionsFailed   int
	HumanDecisions  int
}

// Summarize builds a WeeklySummary over the window [since, now].
func (l *Ledger) Summarize(ctx context.Context, since time.Time) (WeeklySummary, error) {
	var s WeeklySummary
	var err error
	if s.TasksCreated, err = l.CountSince(ctx, "task_created", since); err != nil {
		return s, err
	}
	if s.ActionsExecuted, err = l.CountSince(ctx, "action_executed", since); err != nil {
		return s, err
	}
	if s.ActionsFailed, err = l.failedSince(ctx, "action_executed", since); err != nil {
		return s, err
	}
	if s.HumanDecisions, err = l.CountSince(ctx, "human_decision", since); err != nil {
		return s, err
	}
	return s, nil
}

func (l *Ledger) failedSince(ctx context.Context, eventType string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log WHERE event_type = ? AND success = 0 AND ts >= ?;
	`, eventType, since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger failed count: %w", err)
	}
	return n, nil
}

// Prune removes mirrored records older than the retention window. The JSONL
// partitions are pruned separately by the audit package.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM audit_log WHERE ts < ?;
	`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("ledger prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
