package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all deskhand metric instruments.
type Metrics struct {
	TasksCreated     metric.Int64Counter
	ActionsExecuted  metric.Int64Counter
	ActionsFailed    metric.Int64Counter
	ApprovalsAuto    metric.Int64Counter
	ApprovalsHuman   metric.Int64Counter
	WatcherErrors    metric.Int64Counter
	PollDuration     metric.Float64Histogram
	ReasonDuration   metric.Float64Histogram
	RalphIterDur     metric.Float64Histogram
	PendingApprovals metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("deskhand.tasks.created",
		metric.WithDescription("Tasks created from watcher events"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionsExecuted, err = meter.Int64Counter("deskhand.actions.executed",
		metric.WithDescription("Actions dispatched to executors"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionsFailed, err = meter.Int64Counter("deskhand.actions.failed",
		metric.WithDescription("Executor failures"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalsAuto, err = meter.Int64Counter("deskhand.approvals.auto",
		metric.WithDescription("Actions auto-approved by policy"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalsHuman, err = meter.Int64Counter("deskhand.approvals.human",
		metric.WithDescription("Actions routed to human approval"),
	)
	if err != nil {
		return nil, err
	}

	m.WatcherErrors, err = meter.Int64Counter("deskhand.watcher.errors",
		metric.WithDescription("Watcher poll cycle failures"),
	)
	if err != nil {
		return nil, err
	}

	m.PollDuration, err = meter.Float64Histogram("deskhand.watcher.poll.duration",
		metric.WithDescription("Watcher poll cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ReasonDuration, err = meter.Float64Histogram("deskhand.reason.duration",
		metric.WithDescription("Reasoning CLI call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RalphIterDur, err = meter.Float64Histogram("deskhand.ralph.iteration.duration",
		metric.WithDescription("Processing loop iteration duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PendingApprovals, err = meter.Int64UpDownCounter("deskhand.approvals.pending",
		metric.WithDescription("Tasks currently awaiting human approval"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
