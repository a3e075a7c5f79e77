package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/basket/deskhand/internal/ledger"
	"github.com/basket/deskhand/internal/vault"
)

const dashboardFile = "Dashboard.md"

// SetLedger attaches the sqlite audit mirror so health checks can report
// recent error counts. Optional; without it the dashboard omits them.
func (o *Orchestrator) SetLedger(l *ledger.Ledger) {
	o.ledger = l
}

// healthLoop periodically snapshots watcher and vault state, appends a
// health_check audit record, and rewrites the vault dashboard. Health
// failures are logged and never stop the loop.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	for {
		if err := o.healthCheck(ctx); err != nil {
			o.logger.Error("health check failed", "error", err)
		}
		if o.clock.Sleep(ctx, o.opts.HealthInterval) != nil {
			return
		}
	}
}

func (o *Orchestrator) healthCheck(ctx context.Context) error {
	counts, err := o.store.Counts()
	if err != nil {
		return fmt.Errorf("vault counts: %w", err)
	}

	details := map[string]any{
		"task_counts":    counts,
		"watcher_errors": o.watcherErrs.Load(),
	}
	watcherStates := make(map[string]string, len(o.runners))
	for _, r := range o.runners {
		st := r.Status()
		watcherStates[st.Name] = string(st.State)
	}
	details["watchers"] = watcherStates

	errorsLastDay := -1
	if o.ledger != nil {
		n, err := o.ledger.ErrorsSince(ctx, o.clock.Now().Add(-24*time.Hour))
		if err != nil {
			o.logger.Warn("ledger error count unavailable", "error", err)
		} else {
			errorsLastDay = n
			details["errors_24h"] = n
		}
	}

	o.trail.HealthCheck(details)
	return o.writeDashboard(counts, watcherStates, errorsLastDay)
}

// writeDashboard renders the at-a-glance status file at the vault root.
func (o *Orchestrator) writeDashboard(counts map[string]int, watcherStates map[string]string, errorsLastDay int) error {
	var b strings.Builder
	b.WriteString("# Deskhand Dashboard\n\n")
	fmt.Fprintf(&b, "Updated: %s\n\n", o.clock.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Tasks\n\n")
	b.WriteString("| Folder | Count |\n|---|---|\n")
	for _, folder := range vault.StatusFolders {
		fmt.Fprintf(&b, "| %s | %d |\n", folder, counts[folder])
	}
	b.WriteString("\n## Watchers\n\n")
	if len(watcherStates) == 0 {
		b.WriteString("No watchers running.\n")
	} else {
		names := make([]string, 0, len(watcherStates))
		for name := range watcherStates {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("| Watcher | State |\n|---|---|\n")
		for _, name := range names {
			fmt.Fprintf(&b, "| %s | %s |\n", name, watcherStates[name])
		}
	}
	if errorsLastDay >= 0 {
		fmt.Fprintf(&b, "\n## Errors (last 24h)\n\n%d\n", errorsLastDay)
	}

	path := filepath.Join(o.store.Root(), dashboardFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
