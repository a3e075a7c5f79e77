// Package vault is the folder-as-state task store. A task is one markdown
// document living in exactly one status folder; moving the document between
// folders is the state transition. The directories are the source of truth
// and in-memory state is rebuilt from them on startup.
package vault

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/basket/deskhand/internal/model"
)

// Canonical status folders. An operator transitions a task purely by moving
// its file between these directories.
const (
	FolderNeedsAction     = "Needs_Action"
	FolderPendingApproval = "Pending_Approval"
	FolderApproved        = "Approved"
	FolderRejected        = "Rejected"
	FolderInProgress      = "In_Progress"
	FolderDone            = "Done"
)

// Supporting folders. Not part of the status machine.
const (
	FolderInbox     = "Inbox"
	FolderLogs      = "Logs"
	FolderBriefings = "Briefings"
)

// StatusFolders lists the six status directories in scan order.
var StatusFolders = []string{
	FolderNeedsAction,
	FolderPendingApproval,
	FolderApproved,
	FolderRejected,
	FolderInProgress,
	FolderDone,
}

var allFolders = append(append([]string{}, StatusFolders...),
	FolderInbox, FolderLogs, FolderBriefings)

// folderByStatus is the state table. Failed tasks archive alongside
// completed ones in Done; the document front matter keeps them apart.
var folderByStatus = map[model.Status]string{
	model.StatusPending:       FolderNeedsAction,
	model.StatusNeedsApproval: FolderPendingApproval,
	model.StatusApproved:      FolderApproved,
	model.StatusRejected:      FolderRejected,
	model.StatusInProgress:    FolderInProgress,
	model.StatusCompleted:     FolderDone,
	model.StatusFailed:        FolderDone,
}

var statusByFolder = map[string]model.Status{
	FolderNeedsAction:     model.StatusPending,
	FolderPendingApproval: model.StatusNeedsApproval,
	FolderApproved:        model.StatusApproved,
	FolderRejected:        model.StatusRejected,
	FolderInProgress:      model.StatusInProgress,
	FolderDone:            model.StatusCompleted,
}

// FolderFor returns the directory a task with the given status belongs in.
func FolderFor(s model.Status) string {
	if f, ok := folderByStatus[s]; ok {
		return f
	}
	return FolderNeedsAction
}

// StatusFor returns the status encoded by a folder name.
func StatusFor(folder string) (model.Status, bool) {
	s, ok := statusByFolder[folder]
	return s, ok
}

// Store persists task documents under a vault root.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a Store for the given vault root. Call EnsureStructure before
// first use.
func New(root string, logger *slog.Logger) *Store {
	return &Store{root: root, logger: logger}
}

// Root returns the vault root path.
func (s *Store) Root() string {
	return s.root
}

// EnsureStructure creates the vault directories that do not yet exist.
func (s *Store) EnsureStructure() error {
	for _, f := range allFolders {
		if err := os.MkdirAll(filepath.Join(s.root, f), 0o755); err != nil {
			return fmt.Errorf("create vault folder %s: %w", f, err)
		}
	}
	return nil
}

// Path returns the document path for a task id inside a folder.
func (s *Store) Path(folder, taskID string) string {
	return filepath.Join(s.root, folder, taskID+".md")
}

// Save writes the task document into the folder matching its status. The
// write is atomic: a temp file in the same directory, then rename.
func (s *Store) Save(task *model.Task) (string, error) {
	folder := FolderFor(task.Status)
	path := s.Path(folder, task.ID)
	if err := s.writeAtomic(path, Render(task)); err != nil {
		return "", err
	}
	s.logger.Debug("task saved", "task_id", task.ID, "folder", folder)
	return path, nil
}

// SaveTo writes the task document into an explicit folder, for documents
// outside the status machine (Inbox drafts, briefings).
func (s *Store) SaveTo(folder, name, content string) (string, error) {
	path := filepath.Join(s.root, folder, name)
	if err := s.writeAtomic(path, content); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.md")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Move is the single transition primitive. It renames the document from the
// folder matching the task's current status into the folder for newStatus
// and updates the in-memory status only after the rename succeeds.
func (s *Store) Move(task *model.Task, newStatus model.Status) error {
	from := s.Path(FolderFor(task.Status), task.ID)
	to := s.Path(FolderFor(newStatus), task.ID)
	if from == to {
		task.Status = newStatus
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move task %s to %s: %w", task.ID, FolderFor(newStatus), err)
	}
	old := task.Status
	task.Status = newStatus
	s.logger.Debug("task moved", "task_id", task.ID, "from", string(old), "to", string(newStatus))
	return nil
}

// MovePath renames an arbitrary document into a status folder, keeping its
// file name. Used when the on-disk file, not a loaded task, is in hand.
func (s *Store) MovePath(path string, toFolder string) (string, error) {
	dest := filepath.Join(s.root, toFolder, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", filepath.Base(path), toFolder, err)
	}
	return dest, nil
}

// List returns the task document paths in a folder, oldest first. Task ids
// embed a UTC timestamp, so lexical order is creation order.
func (s *Store) List(folder string) ([]string, error) {
	dir := filepath.Join(s.root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Load reads and parses the task document at path. The containing folder,
// not the front matter, decides the status; inside Done the front matter
// distinguishes failed from completed.
func (s *Store) Load(path string) (*model.Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task document: %w", err)
	}
	task, err := Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	folder := filepath.Base(filepath.Dir(path))
	if st, ok := StatusFor(folder); ok {
		if folder == FolderDone && task.Status == model.StatusFailed {
			// keep failed
		} else {
			task.Status = st
		}
	}
	if task.ID == "" {
		task.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	return task, nil
}

// Counts returns per-status-folder document counts for the health monitor.
func (s *Store) Counts() (map[string]int, error) {
	counts := make(map[string]int, len(StatusFolders))
	for _, f := range StatusFolders {
		paths, err := s.List(f)
		if err != nil {
			return nil, err
		}
		counts[f] = len(paths)
	}
	return counts, nil
}

// Append adds content to the end of the task's current document.
func (s *Store) Append(task *model.Task, content string) error {
	path := s.Path(FolderFor(task.Status), task.ID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open task document: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("append to task document: %w", err)
	}
	return nil
}
