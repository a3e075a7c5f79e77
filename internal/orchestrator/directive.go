package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/deskhand/internal/bus"
	"github.com/basket/deskhand/internal/model"
	"github.com/basket/deskhand/internal/watchers"
)

const lessonsFile = "Lessons_Learned.md"

// handleDirective executes the synthetic tasks the filesystem watcher
// creates when a human moves a task document into Approved or Rejected.
func (o *Orchestrator) handleDirective(ctx context.Context, task *model.Task, directive string) error {
	switch directive {
	case watchers.DirectiveExecuteApproved:
		return o.executeApproved(ctx, task)
	case watchers.DirectiveRecordRejection:
		return o.recordRejection(ctx, task)
	default:
		o.logger.Warn("unknown directive, completing task without action",
			"task_id", task.ID, "directive", directive)
		return o.completeSynthetic(task)
	}
}

// executeApproved loads the human-approved task document, runs its attached
// action, and files both the approved document and the synthetic task under
// Done. A missing document is benign: the file may have been moved again
// before this cycle ran.
func (o *Orchestrator) executeApproved(ctx context.Context, task *model.Task) error {
	path, _ := task.Context[watchers.CtxPath].(string)
	if path == "" {
		return fmt.Errorf("approved-task directive %s has no path", task.ID)
	}

	approved, err := o.store.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.logger.Info("approved document no longer present, skipping",
				"task_id", task.ID, "path", path)
			return o.completeSynthetic(task)
		}
		return err
	}
	if approved.ProposedAction == nil {
		o.logger.Warn("approved document carries no proposed action",
			"task_id", task.ID, "approved_id", approved.ID)
		return o.completeSynthetic(task)
	}

	o.trail.HumanDecision(approved.ID, "approved")
	o.bus.Publish(bus.TopicApprovalDecided, bus.ApprovalEvent{
		TaskID:   approved.ID,
		ActionID: approved.ProposedAction.ID,
		Approved: true,
		Reason:   "approved by human via file move",
	})
	if o.metrics != nil {
		o.metrics.PendingApprovals.Add(ctx, -1)
	}

	execErr := o.execute(ctx, approved, approved.ProposedAction, approved.Context)
	if execErr != nil {
		// Keep the approved document in Approved so a later cycle or the
		// operator can see what failed.
		return execErr
	}
	if err := o.store.Move(approved, model.StatusCompleted); err != nil {
		return err
	}
	o.publishStateChange(approved, model.StatusApproved)
	return o.completeSynthetic(task)
}

// recordRejection appends a line to the lessons file so future prompts can
// carry the operator's feedback, then files the rejected document's status
// and completes the synthetic task.
func (o *Orchestrator) recordRejection(ctx context.Context, task *model.Task) error {
	path, _ := task.Context[watchers.CtxPath].(string)
	filename, _ := task.Context[watchers.CtxFilename].(string)

	var summary string
	if path != "" {
		if rejected, err := o.store.Load(path); err == nil {
			summary = rejected.Title
			o.trail.HumanDecision(rejected.ID, "rejected")
			if rejected.ProposedAction != nil {
				summary = fmt.Sprintf("%s (%s)", rejected.Title, rejected.ProposedAction.ActionType)
				o.bus.Publish(bus.TopicApprovalDecided, bus.ApprovalEvent{
					TaskID:   rejected.ID,
					ActionID: rejected.ProposedAction.ID,
					Approved: false,
					Reason:   "rejected by human via file move",
				})
				if o.metrics != nil {
					o.metrics.PendingApprovals.Add(ctx, -1)
				}
			}
		}
	}
	if summary == "" {
		summary = filename
		o.trail.HumanDecision(task.ID, "rejected")
	}

	line := fmt.Sprintf("- %s: proposal rejected: %s\n",
		time.Now().UTC().Format("2006-01-02"), summary)
	if err := o.appendLesson(line); err != nil {
		o.logger.Error("failed to record lesson", "error", err)
	}
	return o.completeSynthetic(task)
}

func (o *Orchestrator) appendLesson(line string) error {
	p := filepath.Join(o.store.Root(), lessonsFile)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		if _, err := f.WriteString("# Lessons Learned\n\n"); err != nil {
			return err
		}
	}
	_, err = f.WriteString(line)
	return err
}

func (o *Orchestrator) completeSynthetic(task *model.Task) error {
	if err := o.store.Move(task, model.StatusCompleted); err != nil {
		return err
	}
	o.publishStateChange(task, model.StatusPending)
	return nil
}
