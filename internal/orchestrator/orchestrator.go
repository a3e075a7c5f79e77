// Package orchestrator runs the processing loops: the ralph loop that
// drains Needs_Action through the reasoning engine, the human-decision
// reconciliation, and the health monitor.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/deskhand/internal/actions"
	"github.com/basket/deskhand/internal/audit"
	"github.com/basket/deskhand/internal/bus"
	"github.com/basket/deskhand/internal/ledger"
	"github.com/basket/deskhand/internal/model"
	dotel "github.com/basket/deskhand/internal/otel"
	"github.com/basket/deskhand/internal/policy"
	"github.com/basket/deskhand/internal/reason"
	"github.com/basket/deskhand/internal/vault"
	"github.com/basket/deskhand/internal/watcher"
	"github.com/basket/deskhand/internal/watchers"
)

// Options configures the orchestrator loops.
type Options struct {
	RalphInterval      time.Duration
	MaxConcurrentTasks int
	HealthInterval     time.Duration
	HandbookPath       string
	GoalsPath          string

	// RalphDisabled turns off the autonomous loop. Watchers still create
	// tasks; they sit in Needs_Action until a manual iteration runs.
	RalphDisabled bool
}

func (o *Options) normalize() {
	if o.RalphInterval <= 0 {
		o.RalphInterval = 5 * time.Minute
	}
	if o.MaxConcurrentTasks <= 0 {
		o.MaxConcurrentTasks = 3
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Minute
	}
}

// Orchestrator owns the loops and the watcher runners.
type Orchestrator struct {
	opts       Options
	store      *vault.Store
	trail      *audit.Trail
	bus        *bus.Bus
	policy     policy.Policy
	engine     reason.Engine
	dispatcher *actions.Dispatcher
	logger     *slog.Logger
	clock      watcher.Clock
	tracer     trace.Tracer
	metrics    *dotel.Metrics
	ledger     *ledger.Ledger

	runners []*watcher.Runner

	// watcherErrs counts watcher.error bus events since start, reported by
	// the health monitor.
	watcherErrs atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an orchestrator. tracer and metrics may be nil-equivalent
// no-ops from the otel package.
func New(opts Options, store *vault.Store, trail *audit.Trail, b *bus.Bus, pol policy.Policy,
	engine reason.Engine, dispatcher *actions.Dispatcher, logger *slog.Logger,
	clock watcher.Clock, tracer trace.Tracer, metrics *dotel.Metrics) *Orchestrator {
	opts.normalize()
	if clock == nil {
		clock = watcher.RealClock()
	}
	return &Orchestrator{
		opts:       opts,
		store:      store,
		trail:      trail,
		bus:        b,
		policy:     pol,
		engine:     engine,
		dispatcher: dispatcher,
		logger:     logger.With("component", "orchestrator"),
		clock:      clock,
		tracer:     tracer,
		metrics:    metrics,
	}
}

// AddRunner registers a watcher runner started and stopped with the
// orchestrator.
func (o *Orchestrator) AddRunner(r *watcher.Runner) {
	o.runners = append(o.runners, r)
}

// Start launches the watcher runners, the ralph loop, and the health
// monitor. A watcher that fails to initialize is logged and skipped; the
// rest of the system still comes up.
func (o *Orchestrator) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("orchestrator already started")
	}
	o.cancel = cancel
	o.mu.Unlock()

	for _, r := range o.runners {
		if err := r.Start(loopCtx); err != nil {
			o.logger.Error("watcher failed to start", "error", err)
		}
	}

	sub := o.bus.Subscribe(bus.TopicWatcherError)

	o.wg.Add(3)
	go func() {
		defer o.wg.Done()
		if o.opts.RalphDisabled {
			o.logger.Warn("autonomous loop disabled, tasks wait for manual iterations")
			<-loopCtx.Done()
			return
		}
		o.ralphLoop(loopCtx)
	}()
	go func() {
		defer o.wg.Done()
		o.healthLoop(loopCtx)
	}()
	go func() {
		defer o.wg.Done()
		defer o.bus.Unsubscribe(sub)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-sub.Ch():
				o.watcherErrs.Add(1)
			}
		}
	}()

	o.logger.Info("orchestrator started",
		"ralph_interval", o.opts.RalphInterval,
		"max_concurrent_tasks", o.opts.MaxConcurrentTasks)
	return nil
}

// Stop cancels all loops and waits for them to exit.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	for _, r := range o.runners {
		r.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	o.logger.Info("orchestrator stopped")
}

// ralphLoop drains Needs_Action on a fixed interval. Loop-level errors are
// caught, logged, and followed by a flat 60s backoff; the loop never exits
// on a single task's failure.
func (o *Orchestrator) ralphLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		start := o.clock.Now()
		err := o.Iteration(ctx)
		if o.metrics != nil {
			o.metrics.RalphIterDur.Record(ctx, o.clock.Now().Sub(start).Seconds())
		}

		wait := o.opts.RalphInterval
		if err != nil {
			o.logger.Error("ralph iteration failed", "error", err)
			o.trail.WatcherError("ralph_loop", err)
			wait = time.Minute
		}
		if o.clock.Sleep(ctx, wait) != nil {
			return
		}
	}
}

// Iteration is a single pass: scan Needs_Action oldest first, process at
// most MaxConcurrentTasks task documents. Per-task failures are logged and
// do not abort the batch.
func (o *Orchestrator) Iteration(ctx context.Context) error {
	paths, err := o.store.List(vault.FolderNeedsAction)
	if err != nil {
		return fmt.Errorf("scan needs-action: %w", err)
	}
	if len(paths) == 0 {
		return nil
	}
	if len(paths) > o.opts.MaxConcurrentTasks {
		paths = paths[:o.opts.MaxConcurrentTasks]
	}
	o.logger.Info("processing tasks", "count", len(paths))

	for _, path := range paths {
		if ctx.Err() != nil {
			return nil
		}
		if err := o.processPath(ctx, path); err != nil {
			o.logger.Error("task processing failed", "path", path, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) processPath(ctx context.Context, path string) error {
	task, err := o.store.Load(path)
	if err != nil {
		return err
	}

	ctx, span := dotel.StartSpan(ctx, o.tracer, "orchestrator.process_task",
		dotel.AttrTaskID.String(task.ID),
		dotel.AttrPriority.String(string(task.Priority)))
	defer span.End()

	if directive, ok := task.Context[watchers.CtxDirective].(string); ok && directive != "" {
		return o.handleDirective(ctx, task, directive)
	}
	return o.processWithEngine(ctx, task, path)
}

// processWithEngine runs the standard path: prompt the reasoning engine,
// validate its proposal, then execute or queue for approval. Engine and
// parse failures leave the task untouched for the next cycle.
func (o *Orchestrator) processWithEngine(ctx context.Context, task *model.Task, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read task document: %w", err)
	}

	handbook := reason.LoadContextFile(o.opts.HandbookPath, "No handbook on file. Require approval for anything non-trivial.")
	goals := reason.LoadContextFile(o.opts.GoalsPath, "No business goals on file.")
	prompt := reason.BuildPrompt(handbook, goals, string(content))

	reasonStart := o.clock.Now()
	response, err := o.engine.Propose(ctx, prompt)
	if o.metrics != nil {
		o.metrics.ReasonDuration.Record(ctx, o.clock.Now().Sub(reasonStart).Seconds())
	}
	if err != nil {
		return fmt.Errorf("reasoning engine: %w", err)
	}

	action, err := reason.ParseResponse(response)
	if err != nil {
		return fmt.Errorf("engine response for %s: %w", task.ID, err)
	}
	if err := task.AttachAction(action); err != nil {
		return err
	}
	o.trail.ActionProposed(task, action)
	o.bus.Publish(bus.TopicActionProposed, bus.ActionEvent{
		TaskID:     task.ID,
		ActionID:   action.ID,
		ActionType: string(action.ActionType),
		Confidence: action.Confidence,
	})

	decision := o.policy.Decide(action)
	o.trail.ApprovalDecision(task, action, decision.AutoApprove, decision.Reason)

	if !decision.AutoApprove {
		if o.metrics != nil {
			o.metrics.ApprovalsHuman.Add(ctx, 1)
			o.metrics.PendingApprovals.Add(ctx, 1)
		}
		o.logger.Info("action requires approval",
			"task_id", task.ID, "action_id", action.ID, "reason", decision.Reason)
		if err := o.store.Append(task, vault.RenderProposedAction(action)); err != nil {
			return err
		}
		if err := o.store.Move(task, model.StatusNeedsApproval); err != nil {
			return err
		}
		o.publishStateChange(task, model.StatusPending)
		o.bus.Publish(bus.TopicApprovalRequested, bus.ApprovalEvent{
			TaskID: task.ID, ActionID: action.ID, Reason: decision.Reason,
		})
		return nil
	}

	if o.metrics != nil {
		o.metrics.ApprovalsAuto.Add(ctx, 1)
	}
	o.logger.Info("action auto-approved",
		"task_id", task.ID, "action_id", action.ID, "confidence", action.Confidence)
	o.bus.Publish(bus.TopicApprovalDecided, bus.ApprovalEvent{
		TaskID: task.ID, ActionID: action.ID, Auto: true, Approved: true, Reason: decision.Reason,
	})

	if err := o.execute(ctx, task, action, task.Context); err != nil {
		// The task stays in Needs_Action; a failed auto-approved action
		// must never be silently marked complete.
		return err
	}
	if err := o.store.Move(task, model.StatusCompleted); err != nil {
		return err
	}
	o.publishStateChange(task, model.StatusPending)
	return nil
}

// execute is the single action execution path, shared by auto-approval and
// human approval.
func (o *Orchestrator) execute(ctx context.Context, task *model.Task, action *model.ProposedAction, taskCtx map[string]any) error {
	ctx, span := dotel.StartClientSpan(ctx, o.tracer, "orchestrator.execute_action",
		dotel.AttrActionID.String(action.ID),
		dotel.AttrActionType.String(string(action.ActionType)))
	defer span.End()

	err := o.dispatcher.Execute(ctx, action, taskCtx)
	o.trail.ActionExecuted(task, action, err)

	ev := bus.ActionEvent{
		TaskID:     task.ID,
		ActionID:   action.ID,
		ActionType: string(action.ActionType),
		Confidence: action.Confidence,
	}
	if err != nil {
		ev.Err = err.Error()
		if o.metrics != nil {
			o.metrics.ActionsFailed.Add(ctx, 1)
		}
	} else if o.metrics != nil {
		o.metrics.ActionsExecuted.Add(ctx, 1)
	}
	o.bus.Publish(bus.TopicActionExecuted, ev)
	return err
}

func (o *Orchestrator) publishStateChange(task *model.Task, old model.Status) {
	o.bus.Publish(bus.TopicTaskStateChanged, bus.TaskEvent{
		TaskID:    task.ID,
		Source:    task.Source,
		Priority:  string(task.Priority),
		OldStatus: string(old),
		NewStatus: string(task.Status),
	})
}
