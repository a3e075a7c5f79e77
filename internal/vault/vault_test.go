package vault

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/deskhand/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.EnsureStructure(); err != nil {
		t.Fatalf("EnsureStructure: %v", err)
	}
	return s
}

func TestEnsureStructureCreatesFolders(t *testing.T) {
	s := newTestStore(t)
	for _, f := range append(StatusFolders, FolderInbox, FolderLogs, FolderBriefings) {
		info, err := os.Stat(filepath.Join(s.Root(), f))
		if err != nil {
			t.Fatalf("folder %s: %v", f, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", f)
		}
	}
}

func TestEnsureStructureIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureStructure(); err != nil {
		t.Fatalf("second EnsureStructure: %v", err)
	}
}

func TestSaveWritesIntoStatusFolder(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("email", "Reply to customer", "customer asked about pricing", nil)

	path, err := s.Save(task)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	wantDir := filepath.Join(s.Root(), FolderNeedsAction)
	if filepath.Dir(path) != wantDir {
		t.Fatalf("saved to %s, want %s", filepath.Dir(path), wantDir)
	}
	entries, _ := os.ReadDir(wantDir)
	for _, e := range entries {
		if e.Name()[0] == '.' {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestMoveUpdatesStatusAndFolder(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("email", "Reply", "body", nil)
	if _, err := s.Save(task); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Move(task, model.StatusNeedsApproval); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if task.Status != model.StatusNeedsApproval {
		t.Fatalf("status = %s, want %s", task.Status, model.StatusNeedsApproval)
	}
	if _, err := os.Stat(s.Path(FolderPendingApproval, task.ID)); err != nil {
		t.Fatalf("document not in Pending_Approval: %v", err)
	}
	if _, err := os.Stat(s.Path(FolderNeedsAction, task.ID)); !os.IsNotExist(err) {
		t.Fatal("document still in Needs_Action")
	}
}

func TestMoveMissingDocumentFails(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("email", "Ghost", "never saved", nil)
	if err := s.Move(task, model.StatusCompleted); err == nil {
		t.Fatal("Move of unsaved task succeeded")
	}
	if task.Status != model.StatusPending {
		t.Fatalf("status mutated on failed move: %s", task.Status)
	}
}

func TestRoundTripFolderStatusAgree(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("telegram", "Answer question", "someone asked about hours", map[string]any{
		"chat_id": "12345",
	})
	task.Priority = model.PriorityP1
	if _, err := s.Save(task); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Move(task, model.StatusInProgress); err != nil {
		t.Fatalf("Move: %v", err)
	}

	loaded, err := s.Load(s.Path(FolderInProgress, task.ID))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != model.StatusInProgress {
		t.Fatalf("loaded status = %s, want %s", loaded.Status, model.StatusInProgress)
	}
	if loaded.ID != task.ID {
		t.Fatalf("loaded id = %q, want %q", loaded.ID, task.ID)
	}
	if loaded.Priority != model.PriorityP1 {
		t.Fatalf("loaded priority = %s, want P1", loaded.Priority)
	}
}

func TestFolderDerivesStatusOverFrontMatter(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("email", "Reply", "body", nil)
	path, err := s.Save(task)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Simulate a human approving by moving the file, which leaves stale
	// front matter behind.
	moved, err := s.MovePath(path, FolderApproved)
	if err != nil {
		t.Fatalf("MovePath: %v", err)
	}
	loaded, err := s.Load(moved)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != model.StatusApproved {
		t.Fatalf("loaded status = %s, want approved", loaded.Status)
	}
}

func TestFailedStatusSurvivesDoneFolder(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("email", "Reply", "body", nil)
	task.Status = model.StatusFailed
	path, err := s.Save(task)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(s.Root(), FolderDone) {
		t.Fatalf("failed task saved to %s", filepath.Dir(path))
	}
	loaded, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != model.StatusFailed {
		t.Fatalf("loaded status = %s, want failed", loaded.Status)
	}
}

func TestListOldestFirst(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Root(), FolderNeedsAction)
	names := []string{
		"task_20260102_090000_bbbb1111.md",
		"task_20260101_080000_aaaa0000.md",
		"task_20260103_100000_cccc2222.md",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("# t\n"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Non-task files are skipped.
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, ".tmp-123.md"), []byte("x"), 0o644)

	paths, err := s.List(FolderNeedsAction)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("List returned %d paths, want 3", len(paths))
	}
	if filepath.Base(paths[0]) != "task_20260101_080000_aaaa0000.md" {
		t.Fatalf("first = %s, want oldest", filepath.Base(paths[0]))
	}
}

func TestListMissingFolder(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nonexistent"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	paths, err := s.List(FolderNeedsAction)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if paths != nil {
		t.Fatalf("List = %v, want nil", paths)
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 2; i++ {
		task := model.NewTask("email", "T", "d", nil)
		if _, err := s.Save(task); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	done := model.NewTask("email", "T", "d", nil)
	done.Status = model.StatusCompleted
	if _, err := s.Save(done); err != nil {
		t.Fatalf("Save: %v", err)
	}

	counts, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[FolderNeedsAction] != 2 {
		t.Fatalf("Needs_Action count = %d, want 2", counts[FolderNeedsAction])
	}
	if counts[FolderDone] != 1 {
		t.Fatalf("Done count = %d, want 1", counts[FolderDone])
	}
}

func TestAppendProposedActionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	task := model.NewTask("email", "Reply to invoice request", "send the invoice", nil)
	if _, err := s.Save(task); err != nil {
		t.Fatalf("Save: %v", err)
	}

	action := model.NewProposedAction(model.ActionEmailReply, "Send invoice reply",
		"handbook allows routine invoice replies",
		map[string]any{"to": "client@example.com", "body": "Invoice attached."}, 0.72)
	if err := s.Append(task, RenderProposedAction(action)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := s.Load(s.Path(FolderNeedsAction, task.ID))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := loaded.ProposedAction
	if got == nil {
		t.Fatal("proposed action not parsed back")
	}
	if got.ID != action.ID {
		t.Fatalf("action id = %q, want %q", got.ID, action.ID)
	}
	if got.ActionType != model.ActionEmailReply {
		t.Fatalf("action type = %s, want email_reply", got.ActionType)
	}
	if got.Confidence != 0.72 {
		t.Fatalf("confidence = %v, want 0.72", got.Confidence)
	}
	if got.ActionData["to"] != "client@example.com" {
		t.Fatalf("action data = %v", got.ActionData)
	}
}
