// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for the orchestrator.
var meter = otel.Meter("gauntlet.workflow")

// Metrics for verification runs.
var (
	runsTotal       metric.Int64Counter
	stageDuration   metric.Float64Histogram
	patternsBlocked metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runsTotal, err = meter.Int64Counter(
			"gauntlet_runs_total",
			metric.WithDescription("Total runs by terminal status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stageDuration, err = meter.Float64Histogram(
			"gauntlet_stage_duration_seconds",
			metric.WithDescription("Duration of sandboxed stages"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		patternsBlocked, err = meter.Int64Counter(
			"gauntlet_patterns_blocked_total",
			metric.WithDescription("Dangerous patterns that blocked a script"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRun records the terminal status of a run.
//
// Thread Safety: Safe for concurrent use.
func recordRun(ctx context.Context, status Status) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}
	runsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status.String())),
	)
}

// recordStage records how long a sandboxed stage ran.
func recordStage(ctx context.Context, stage Stage, duration time.Duration, timedOut bool) {
	if err := initMetrics(); err != nil {
		return
	}
	stageDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", stage.String()),
			attribute.Bool("timed_out", timedOut),
		),
	)
}

// recordBlocked records patterns that blocked a script.
func recordBlocked(ctx context.Context, stage Stage, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	patternsBlocked.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("stage", stage.String())),
	)
}
