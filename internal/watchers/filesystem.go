package watchers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/deskhand/internal/model"
	"github.com/basket/deskhand/internal/vault"
)

// Context keys the orchestrator reads from synthetic tasks.
const (
	CtxDirective = "directive"
	CtxPath      = "path"
	CtxFilename  = "filename"
	CtxFolder    = "folder"
)

// Directives carried by synthetic tasks. The orchestrator dispatches on
// these instead of calling the reasoning engine.
const (
	DirectiveExecuteApproved = "execute_approved"
	DirectiveRecordRejection = "record_rejection"
)

const dedupWindow = 3 * time.Second

var headingRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)
var titlePrefixRe = regexp.MustCompile(`(?i)^(Task:|TODO:|Note:)\s*`)

// Filesystem watches the vault for human activity: files moved into
// Approved or Rejected, and new task drafts dropped into Inbox. Only those
// three folders are watched; watching Needs_Action would make the watcher
// react to tasks other watchers create.
type Filesystem struct {
	root    string
	poll    time.Duration
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	pending chan model.Event

	mu   sync.Mutex
	seen map[string]time.Time
	wg   sync.WaitGroup
}

// NewFilesystem creates the vault watcher for the given vault root. A
// non-positive poll interval falls back to 5 seconds.
func NewFilesystem(root string, poll time.Duration, logger *slog.Logger) *Filesystem {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Filesystem{
		root:    root,
		poll:    poll,
		logger:  logger.With("watcher", "filesystem"),
		pending: make(chan model.Event, 128),
		seen:    make(map[string]time.Time),
	}
}

func (f *Filesystem) Name() string { return "filesystem" }

func (f *Filesystem) PollInterval() time.Duration { return f.poll }

func (f *Filesystem) Initialize(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new fsnotify watcher: %w", err)
	}
	for _, folder := range []string{vault.FolderApproved, vault.FolderRejected, vault.FolderInbox} {
		dir := filepath.Join(f.root, folder)
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("watch %s: %w", folder, err)
		}
	}
	f.fsw = fsw

	f.wg.Add(1)
	go f.consume()
	f.logger.Info("vault watcher monitoring", "root", f.root)
	return nil
}

func (f *Filesystem) Cleanup(ctx context.Context) error {
	if f.fsw == nil {
		return nil
	}
	err := f.fsw.Close()
	f.wg.Wait()
	f.fsw = nil
	return err
}

// consume translates raw fsnotify events into watcher events. A rename into
// a watched directory surfaces as Create, so Create and Rename cover both
// drag-and-drop moves and fresh files. On Linux a Rename also fires for the
// old path when a file moves OUT of a watched folder, so every event is
// stat-checked and skipped when the file is already gone.
func (f *Filesystem) consume() {
	defer f.wg.Done()
	for ev := range f.fsw.Events {
		if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
			continue
		}
		name := filepath.Base(ev.Name)
		if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		if _, err := os.Stat(ev.Name); err != nil {
			continue
		}
		if f.duplicate(ev.Name) {
			continue
		}
		folder := filepath.Base(filepath.Dir(ev.Name))
		kind := ""
		switch folder {
		case vault.FolderApproved:
			kind = "approved"
		case vault.FolderRejected:
			kind = "rejected"
		case vault.FolderInbox:
			kind = "inbox"
		default:
			continue
		}
		event := model.NewEvent("filesystem", kind, map[string]any{
			CtxPath:     ev.Name,
			CtxFilename: name,
			CtxFolder:   folder,
		})
		select {
		case f.pending <- event:
		default:
			f.logger.Warn("event queue full, dropping", "path", ev.Name)
		}
	}
}

func (f *Filesystem) duplicate(path string) bool {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.seen[path]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	f.seen[path] = now
	for p, ts := range f.seen {
		if now.Sub(ts) > time.Minute {
			delete(f.seen, p)
		}
	}
	return false
}

// CheckForEvents drains the queue filled by the fsnotify goroutine.
func (f *Filesystem) CheckForEvents(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	for {
		select {
		case ev := <-f.pending:
			events = append(events, ev)
		default:
			return events, nil
		}
	}
}

func (f *Filesystem) EventToTask(ev model.Event) *model.Task {
	filename, _ := ev.Payload[CtxFilename].(string)
	path, _ := ev.Payload[CtxPath].(string)

	switch ev.Kind {
	case "approved":
		// The moved file may have disappeared again by now; the
		// orchestrator re-checks before executing.
		task := model.NewTask("filesystem",
			fmt.Sprintf("Execute approved action: %s", filename),
			fmt.Sprintf("A human approved the action in %s. Execute it.", filename),
			clonePayload(ev.Payload))
		task.Context[CtxDirective] = DirectiveExecuteApproved
		return task

	case "rejected":
		task := model.NewTask("filesystem",
			fmt.Sprintf("Learn from rejection: %s", filename),
			fmt.Sprintf("A human rejected the action in %s. Record the lesson.", filename),
			clonePayload(ev.Payload))
		task.Context[CtxDirective] = DirectiveRecordRejection
		return task

	case "inbox":
		return model.NewTask("filesystem",
			extractTitle(path),
			fmt.Sprintf("New task from Inbox: %s", filename),
			clonePayload(ev.Payload))
	}
	return nil
}

func (f *Filesystem) CalculatePriority(ev model.Event) model.Priority {
	switch ev.Kind {
	case "approved":
		return model.PriorityP0
	case "rejected":
		return model.PriorityP1
	case "inbox":
		if title, ok := ev.Payload["title"].(string); ok {
			return keywordPriority(title, model.PriorityP2)
		}
		if path, ok := ev.Payload[CtxPath].(string); ok {
			return keywordPriority(extractTitle(path), model.PriorityP2)
		}
	}
	return model.PriorityP2
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// extractTitle pulls a human-friendly title out of an Inbox draft: the first
// markdown heading, else the first non-empty line, else the file name.
func extractTitle(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), ".md")
	fallback := fmt.Sprintf("New task: %s", stem)

	b, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	content := string(b)

	if m := headingRe.FindStringSubmatch(content); m != nil {
		title := strings.TrimSpace(titlePrefixRe.ReplaceAllString(strings.TrimSpace(m[1]), ""))
		if title != "" {
			return truncate(title, 100)
		}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "---") {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		if line != "" {
			return truncate(line, 100)
		}
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
