package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/deskhand/internal/audit"
	"github.com/basket/deskhand/internal/bus"
	"github.com/basket/deskhand/internal/model"
	dotel "github.com/basket/deskhand/internal/otel"
	"github.com/basket/deskhand/internal/vault"
)

// State is the runner lifecycle state.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateBackingOff State = "backing_off"
)

const (
	// Per-cycle retry schedule.
	retryAttempts = 3
	retryWaitMin  = 4 * time.Second
	retryWaitMax  = 60 * time.Second

	// Loop-level backoff after a cycle exhausts its retries.
	loopBackoffStep = 60 * time.Second
	loopBackoffMax  = 5 * time.Minute
)

// Runner drives one Watcher: initialize, poll on an interval, retry failed
// cycles, and self-stop after too many consecutive failures. A self-stopped
// watcher stays down until restarted by an operator; one broken channel must
// not keep retrying forever in the background.
type Runner struct {
	w      Watcher
	store  *vault.Store
	trail  *audit.Trail
	bus    *bus.Bus
	logger *slog.Logger
	clock  Clock

	// MaxCycleFailures is the consecutive failed cycle count that triggers
	// self-stop. Zero means the default of 3.
	MaxCycleFailures int

	// Metrics is optional; nil disables instrumentation.
	Metrics *dotel.Metrics

	mu         sync.Mutex
	state      State
	lastCheck  time.Time
	errorCount int
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewRunner wires a watcher to the store, audit trail, and bus.
func NewRunner(w Watcher, store *vault.Store, trail *audit.Trail, b *bus.Bus, logger *slog.Logger, clock Clock) *Runner {
	if clock == nil {
		clock = RealClock()
	}
	return &Runner{
		w:      w,
		store:  store,
		trail:  trail,
		bus:    b,
		logger: logger.With("watcher", w.Name()),
		clock:  clock,
		state:  StateStopped,
	}
}

// Status is a point-in-time snapshot for the health monitor.
type Status struct {
	Name       string
	State      State
	LastCheck  time.Time
	ErrorCount int
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Name:       r.w.Name(),
		State:      r.state,
		LastCheck:  r.lastCheck,
		ErrorCount: r.errorCount,
	}
}

// Running reports whether the poll loop is live.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRunning || r.state == StateBackingOff
}

// Start initializes the watcher and launches the poll loop. A failed
// Initialize leaves the runner stopped and returns the error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateStopped {
		r.mu.Unlock()
		return fmt.Errorf("watcher %s already running", r.w.Name())
	}
	r.state = StateStarting
	r.mu.Unlock()

	if err := r.w.Initialize(ctx); err != nil {
		r.setState(StateStopped)
		r.trail.WatcherError(r.w.Name(), err)
		return fmt.Errorf("initialize watcher %s: %w", r.w.Name(), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.state = StateRunning
	r.errorCount = 0
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	r.logger.Info("watcher started")
	go r.loop(loopCtx, done)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) maxFailures() int {
	if r.MaxCycleFailures > 0 {
		return r.MaxCycleFailures
	}
	return 3
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := r.w.Cleanup(context.Background()); err != nil {
			r.logger.Warn("watcher cleanup failed", "error", err)
		}
		r.setState(StateStopped)
		r.bus.Publish(bus.TopicWatcherStopped, bus.WatcherEvent{Watcher: r.w.Name()})
		r.logger.Info("watcher stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		err := r.checkAndProcess(ctx)
		if err == nil {
			r.mu.Lock()
			r.errorCount = 0
			r.state = StateRunning
			r.mu.Unlock()
			if r.clock.Sleep(ctx, r.w.PollInterval()) != nil {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		r.errorCount++
		n := r.errorCount
		r.state = StateBackingOff
		r.mu.Unlock()

		r.logger.Error("watcher cycle failed", "attempt", n, "error", err)
		r.trail.WatcherError(r.w.Name(), err)
		if r.Metrics != nil {
			r.Metrics.WatcherErrors.Add(ctx, 1,
				metric.WithAttributes(dotel.AttrWatcher.String(r.w.Name())))
		}
		r.bus.Publish(bus.TopicWatcherError, bus.WatcherEvent{Watcher: r.w.Name(), Err: err.Error()})

		if n >= r.maxFailures() {
			r.logger.Error("watcher exceeded failure threshold, stopping", "failures", n)
			return
		}

		backoff := time.Duration(n) * loopBackoffStep
		if backoff > loopBackoffMax {
			backoff = loopBackoffMax
		}
		if r.clock.Sleep(ctx, backoff) != nil {
			return
		}
	}
}

// checkAndProcess runs one poll cycle with its own short retry schedule.
// Event processing failures do not fail the cycle; only the poll itself
// retries.
func (r *Runner) checkAndProcess(ctx context.Context) error {
	pollStart := r.clock.Now()
	events, err := r.poll(ctx)
	if r.Metrics != nil {
		r.Metrics.PollDuration.Record(ctx, r.clock.Now().Sub(pollStart).Seconds(),
			metric.WithAttributes(dotel.AttrWatcher.String(r.w.Name())))
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.lastCheck = r.clock.Now()
	r.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	r.logger.Info("events found", "count", len(events))

	for _, ev := range events {
		r.trail.WatcherEvent(r.w.Name(), ev.Kind, map[string]any{"event_id": ev.ID})
		if err := r.processEvent(ctx, ev); err != nil {
			r.logger.Error("event processing failed", "event_id", ev.ID, "error", err)
			r.trail.WatcherError(r.w.Name(), err)
		}
	}
	return nil
}

func (r *Runner) poll(ctx context.Context) ([]model.Event, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		events, err := r.w.CheckForEvents(ctx)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt == retryAttempts {
			break
		}

		wait := retryWaitMin << (attempt - 1)
		if wait > retryWaitMax {
			wait = retryWaitMax
		}
		r.logger.Warn("poll failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if r.clock.Sleep(ctx, wait) != nil {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("poll failed after %d attempts: %w", retryAttempts, lastErr)
}

func (r *Runner) processEvent(ctx context.Context, ev model.Event) error {
	task := r.w.EventToTask(ev)
	if task == nil {
		r.logger.Debug("event requires no action", "event_id", ev.ID)
		return nil
	}
	task.Priority = r.w.CalculatePriority(ev)

	if _, err := r.store.Save(task); err != nil {
		return fmt.Errorf("persist task from event %s: %w", ev.ID, err)
	}

	r.trail.TaskCreated(task)
	if r.Metrics != nil {
		r.Metrics.TasksCreated.Add(ctx, 1,
			metric.WithAttributes(dotel.AttrWatcher.String(r.w.Name())))
	}
	r.bus.Publish(bus.TopicTaskCreated, bus.TaskEvent{
		TaskID:    task.ID,
		Source:    task.Source,
		Priority:  string(task.Priority),
		NewStatus: string(task.Status),
	})
	r.logger.Info("task created", "task_id", task.ID, "priority", string(task.Priority))
	return nil
}
