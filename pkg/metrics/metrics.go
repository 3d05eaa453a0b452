// Package metrics records custom New Relic metrics, events and traces. Every
// function is a no-op when the context carries no New Relic application or
// transaction.
package metrics

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicContextKey is the context key holding a *newrelic.Application.
type NewRelicContextKey struct{}

// NewContext returns a copy of ctx carrying app. A nil app returns ctx unchanged.
func NewContext(ctx context.Context, app *newrelic.Application) context.Context {
	if app == nil {
		return ctx
	}
	return context.WithValue(ctx, NewRelicContextKey{}, app)
}

// FromContext returns the application carried by ctx.
func FromContext(ctx context.Context) (*newrelic.Application, bool) {
	if ctx == nil {
		return nil, false
	}
	nr, ok := ctx.Value(NewRelicContextKey{}).(*newrelic.Application)
	return nr, ok && nr != nil
}

// RecordCount records a count metric
func RecordCount(ctx context.Context, metricName string, count uint64) {
	if nr, ok := FromContext(ctx); ok {
		nr.RecordCustomMetric(metricName, float64(count))
	}
}

// RecordDuration records a duration metric in milliseconds
func RecordDuration(ctx context.Context, metricName string, duration time.Duration) {
	if nr, ok := FromContext(ctx); ok {
		nr.RecordCustomMetric(metricName, float64(duration/time.Millisecond))
	}
}
