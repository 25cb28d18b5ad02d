// Package hooks provides production-ready Hook, Logger and metrics
// implementations for the engine.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

// StepName is the metrics name of one interceptor: "<chain>.<interceptor>".
func StepName(info core.InterceptInfo) string { return info.Chain + "." + info.Interceptor }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each interceptor.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeIntercept(ctx context.Context, info core.InterceptInfo) context.Context {
	h.logger.Debug("interceptor.start",
		"chain", info.Chain,
		"interceptor", info.Interceptor,
		"index", info.Index,
		"request_id", info.RequestID,
	)
	return ctx
}

func (h *LoggingHook) AfterIntercept(_ context.Context, info core.InterceptInfo, d time.Duration, err error) {
	switch {
	case err == nil:
		h.logger.Debug("interceptor.done",
			"chain", info.Chain,
			"interceptor", info.Interceptor,
			"request_id", info.RequestID,
			"duration_ms", d.Milliseconds(),
		)
	case apperrors.IsSoft(err):
		h.logger.Debug("interceptor.stopped",
			"chain", info.Chain,
			"interceptor", info.Interceptor,
			"request_id", info.RequestID,
			"reason", err.Error(),
		)
	default:
		h.logger.Warn("interceptor.error",
			"chain", info.Chain,
			"interceptor", info.Interceptor,
			"request_id", info.RequestID,
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
	}
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64 // call count per step
	stepErrors      map[string]int64
	errorCategories map[string]int64
	results         map[core.DataFrom]int64
}

var _ core.MetricsCollector = (*InMemoryMetrics)(nil)

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
		errorCategories: make(map[string]int64),
		results:         make(map[core.DataFrom]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	m.mu.Lock()
	m.stepDurationsMs[stepName] += d.Milliseconds()
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordError(stepName string, category string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.errorCategories[category]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordResult(from core.DataFrom) {
	m.mu.Lock()
	m.results[from]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StepDurationsMs: copyCounts(m.stepDurationsMs),
		StepCalls:       copyCounts(m.stepCalls),
		StepErrors:      copyCounts(m.stepErrors),
		ErrorCategories: copyCounts(m.errorCategories),
		Results:         make(map[core.DataFrom]int64, len(m.results)),
	}
	for k, v := range m.results {
		snap.Results[k] = v
	}
	return snap
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs map[string]int64
	StepCalls       map[string]int64
	StepErrors      map[string]int64
	ErrorCategories map[string]int64
	// Results counts finished executions by the tier that served them.
	Results map[core.DataFrom]int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds interceptor events into a MetricsCollector.  Soft
// failures (cancellation, depth limits) are timed but not counted as errors.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeIntercept(ctx context.Context, _ core.InterceptInfo) context.Context {
	return ctx
}

func (h *MetricsHook) AfterIntercept(_ context.Context, info core.InterceptInfo, d time.Duration, err error) {
	name := StepName(info)
	h.collector.RecordProcessingTime(name, d)
	if err != nil && !apperrors.IsSoft(err) {
		h.collector.RecordError(name, string(apperrors.CategoryOf(err)))
	}
}
