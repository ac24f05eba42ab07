package port

import (
	"context"
	"time"
)

type MetricsRecorder interface {
	Observe(ctx context.Context, operation, outcome string, duration time.Duration)
	Retry(operation string)
	Drift(category string)
}

type NopMetrics struct{}

func (NopMetrics) Observe(context.Context, string, string, time.Duration) {}
func (NopMetrics) Retry(string)                                           {}
func (NopMetrics) Drift(string)                                           {}
