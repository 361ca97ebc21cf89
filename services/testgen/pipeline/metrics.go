// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for the generation pipeline.
var (
	tracer = otel.Tracer("testweaver.pipeline")
	meter  = otel.Meter("testweaver.pipeline")
)

// Metrics for pipeline runs.
var (
	targetsProcessed metric.Int64Counter
	generationTotal  metric.Int64Counter
	runDuration      metric.Float64Histogram
	fixAttempts      metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		targetsProcessed, err = meter.Int64Counter(
			"testweaver_targets_processed_total",
			metric.WithDescription("Total number of targets the pipeline attempted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		generationTotal, err = meter.Int64Counter(
			"testweaver_generations_total",
			metric.WithDescription("Generation outcomes by final target state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"testweaver_run_duration_seconds",
			metric.WithDescription("Duration of full pipeline runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fixAttempts, err = meter.Int64Histogram(
			"testweaver_fix_attempts",
			metric.WithDescription("Repair rounds consumed per failing test file"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordTargetOutcome records the final state of one target.
func recordTargetOutcome(ctx context.Context, state TargetState) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	targetsProcessed.Add(ctx, 1, attrs)
	generationTotal.Add(ctx, 1, attrs)
}

// recordRunMetrics records metrics for a completed pipeline run.
func recordRunMetrics(ctx context.Context, mode string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("success", success),
	))
}

// recordFixAttempts records repair rounds for one test file.
func recordFixAttempts(ctx context.Context, attempts int, recovered bool) {
	if err := initMetrics(); err != nil {
		return
	}
	fixAttempts.Record(ctx, int64(attempts), metric.WithAttributes(
		attribute.Bool("recovered", recovered),
	))
}

// startRunSpan creates a span for a pipeline run.
func startRunSpan(ctx context.Context, runID, mode string, targetCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.String("pipeline.mode", mode),
			attribute.Int("pipeline.target_count", targetCount),
		),
	)
}
