package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentrelay"

// Metrics holds all relay metric instruments.
type Metrics struct {
	TasksSubmitted      metric.Int64Counter
	TasksCompleted      metric.Int64Counter
	TasksFailed         metric.Int64Counter
	TaskDuration        metric.Float64Histogram
	EventsRelayed       metric.Int64Counter
	Retries             metric.Int64Counter
	BreakerTransitions  metric.Int64Counter
	SubscriberOverflows metric.Int64Counter
	RouteMisses         metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("agentrelay.tasks.submitted",
		metric.WithDescription("Number of tasks accepted"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("agentrelay.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("agentrelay.tasks.failed",
		metric.WithDescription("Number of tasks failed, by failure kind"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("agentrelay.task.duration_seconds",
		metric.WithDescription("Task duration from creation to terminal state in seconds"))
	if err != nil {
		return nil, err
	}

	m.EventsRelayed, err = meter.Int64Counter("agentrelay.events.relayed",
		metric.WithDescription("Number of downstream frames appended as task events"))
	if err != nil {
		return nil, err
	}

	m.Retries, err = meter.Int64Counter("agentrelay.downstream.retries",
		metric.WithDescription("Number of downstream call retries"))
	if err != nil {
		return nil, err
	}

	m.BreakerTransitions, err = meter.Int64Counter("agentrelay.breaker.transitions",
		metric.WithDescription("Number of circuit breaker state changes"))
	if err != nil {
		return nil, err
	}

	m.SubscriberOverflows, err = meter.Int64Counter("agentrelay.subscribers.overflows",
		metric.WithDescription("Number of subscribers disconnected for falling behind"))
	if err != nil {
		return nil, err
	}

	m.RouteMisses, err = meter.Int64Counter("agentrelay.router.misses",
		metric.WithDescription("Number of work requests no routing rule accepted"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
