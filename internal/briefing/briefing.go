// Package briefing generates the weekly operator briefing and runs the
// audit retention sweep on a cron schedule.
package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/basket/deskhand/internal/audit"
	"github.com/basket/deskhand/internal/ledger"
	"github.com/basket/deskhand/internal/vault"
)

// retentionSchedule runs the sweep nightly at 03:00.
const retentionSchedule = "0 3 * * *"

// Scheduler owns the cron jobs for the weekly briefing and the audit
// retention sweep.
type Scheduler struct {
	store         *vault.Store
	trail         *audit.Trail
	ledger        *ledger.Ledger
	logger        *slog.Logger
	schedule      string
	retentionDays int
	now           func() time.Time

	cron *cron.Cron
}

// New builds a scheduler. ledger may be nil when the sqlite mirror is
// disabled; the briefing then reports vault counts only.
func New(store *vault.Store, trail *audit.Trail, l *ledger.Ledger, logger *slog.Logger, schedule string, retentionDays int) *Scheduler {
	return &Scheduler{
		store:         store,
		trail:         trail,
		ledger:        l,
		logger:        logger.With("component", "briefing"),
		schedule:      schedule,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Start registers the cron jobs and launches the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.GenerateBriefing(ctx); err != nil {
			s.logger.Error("briefing generation failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("briefing schedule %q: %w", s.schedule, err)
	}
	if _, err := c.AddFunc(retentionSchedule, func() {
		if err := s.RetentionSweep(ctx); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("briefing scheduler started", "schedule", s.schedule, "retention_days", s.retentionDays)
	return nil
}

// Stop halts the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// GenerateBriefing writes a markdown summary of the last seven days to the
// vault's Briefings folder.
func (s *Scheduler) GenerateBriefing(ctx context.Context) error {
	now := s.now().UTC()
	since := now.Add(-7 * 24 * time.Hour)

	counts, err := s.store.Counts()
	if err != nil {
		return fmt.Errorf("vault counts: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Weekly Briefing - %s\n\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Covering %s through %s.\n\n", since.Format("2006-01-02"), now.Format("2006-01-02"))

	if s.ledger != nil {
		sum, err := s.ledger.Summarize(ctx, since)
		if err != nil {
			s.logger.Warn("ledger summary unavailable", "error", err)
		} else {
			b.WriteString("## Activity\n\n")
			fmt.Fprintf(&b, "- Tasks created: %d\n", sum.TasksCreated)
			fmt.Fprintf(&b, "- Actions executed: %d\n", sum.ActionsExecuted)
			fmt.Fprintf(&b, "- Actions failed: %d\n", sum.ActionsFailed)
			fmt.Fprintf(&b, "- Human decisions: %d\n\n", sum.HumanDecisions)
		}
	}

	b.WriteString("## Task Backlog\n\n")
	for _, folder := range vault.StatusFolders {
		fmt.Fprintf(&b, "- %s: %d\n", folder, counts[folder])
	}
	if counts[vault.FolderPendingApproval] > 0 {
		fmt.Fprintf(&b, "\n%d proposal(s) are waiting for your review in Pending_Approval.\n",
			counts[vault.FolderPendingApproval])
	}

	name := fmt.Sprintf("briefing_%s.md", now.Format("2006-01-02"))
	path, err := s.store.SaveTo(vault.FolderBriefings, name, b.String())
	if err != nil {
		return err
	}
	s.logger.Info("briefing written", "path", path)
	return nil
}

// RetentionSweep removes audit partitions and ledger rows older than the
// retention window.
func (s *Scheduler) RetentionSweep(ctx context.Context) error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)

	removed, err := s.trail.Prune(cutoff)
	if err != nil {
		return fmt.Errorf("prune audit partitions: %w", err)
	}
	var rows int64
	if s.ledger != nil {
		rows, err = s.ledger.Prune(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune ledger: %w", err)
		}
	}
	s.logger.Info("retention sweep complete",
		"cutoff", cutoff.Format("2006-01-02"), "partitions_removed", removed, "rows_removed", rows)
	return nil
}
