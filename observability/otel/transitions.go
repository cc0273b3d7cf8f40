package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	ledgererrors "daoledger/core/errors"
)

// TransitionRecorder mirrors host transition outcomes into OpenTelemetry
// instruments so they reach the OTLP collector alongside traces.
type TransitionRecorder struct {
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewTransitionRecorder creates the instruments on meter.
func NewTransitionRecorder(meter metric.Meter) (*TransitionRecorder, error) {
	count, err := meter.Int64Counter("daoledger.transitions",
		metric.WithDescription("Ledger transitions by operation and outcome."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("daoledger.transition.duration",
		metric.WithDescription("Ledger transition latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &TransitionRecorder{count: count, duration: duration}, nil
}

// Observe has the signature of host.Observer.
func (r *TransitionRecorder) Observe(operation string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ledgererrors.KindOf(err).String()
	}
	ctx := context.Background()
	r.count.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	r.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}
