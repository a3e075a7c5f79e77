// Package watcher defines the channel watcher contract and the runner that
// schedules watchers with retry and backoff.
package watcher

import (
	"context"
	"time"

	"github.com/basket/deskhand/internal/model"
)

// Watcher observes one external channel and turns observations into tasks.
// Implementations must be safe to poll from a single goroutine; the runner
// never calls CheckForEvents concurrently.
type Watcher interface {
	// Name identifies the watcher in logs, audit entries, and health output.
	Name() string

	// PollInterval is the idle delay between successful poll cycles.
	PollInterval() time.Duration

	// Initialize acquires channel resources. Called once before polling.
	Initialize(ctx context.Context) error

	// CheckForEvents returns new observations since the previous call.
	// Implementations handle their own deduplication.
	CheckForEvents(ctx context.Context) ([]model.Event, error)

	// EventToTask converts an event into a task, or nil when the event
	// requires no action.
	EventToTask(ev model.Event) *model.Task

	// CalculatePriority assigns urgency to an event's task.
	CalculatePriority(ev model.Event) model.Priority

	// Cleanup releases channel resources. Called once after the loop exits.
	Cleanup(ctx context.Context) error
}

// Clock abstracts time for the runner so backoff schedules are testable.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
