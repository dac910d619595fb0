// Package observability wires the OpenTelemetry metric pipeline with a
// Prometheus exporter and scrape endpoint.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"zen/internal/logging"
)

// MetricsCollector manages all metrics for the event delivery subsystem.
type MetricsCollector struct {
	meter metric.Meter

	// Context metrics
	contextsActive  metric.Int64UpDownCounter
	contextsCreated metric.Int64Counter
	quotaRejections metric.Int64Counter

	// Run metrics
	runsStarted metric.Int64Counter
	runDuration metric.Float64Histogram
	runsFast    metric.Int64Counter

	// Event metrics
	eventsEmitted       metric.Int64Counter
	isolationViolations metric.Int64Counter
	slaBreaches         metric.Int64Counter

	// Tool metrics
	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram

	logger logging.Logger

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector. The scrape endpoint is
// started separately via StartPrometheusServer.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NewMetricsCollector creates a collector. A disabled config yields an
// inert collector whose record methods are safe no-ops.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	collector := &MetricsCollector{logger: logging.OrNop(logger)}
	if !config.Enabled {
		return collector, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("zen")
	collector.meter = meter

	if collector.contextsActive, err = meter.Int64UpDownCounter(
		"zen.contexts.active",
		metric.WithDescription("Number of active execution contexts"),
		metric.WithUnit("{context}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create contexts_active gauge: %w", err)
	}

	if collector.contextsCreated, err = meter.Int64Counter(
		"zen.contexts.created.total",
		metric.WithDescription("Total execution contexts created"),
		metric.WithUnit("{context}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create contexts_created counter: %w", err)
	}

	if collector.quotaRejections, err = meter.Int64Counter(
		"zen.contexts.quota_rejections.total",
		metric.WithDescription("Context creations rejected by tier quota"),
		metric.WithUnit("{rejection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create quota_rejections counter: %w", err)
	}

	if collector.runsStarted, err = meter.Int64Counter(
		"zen.runs.started.total",
		metric.WithDescription("Total agent runs started"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create runs_started counter: %w", err)
	}

	if collector.runDuration, err = meter.Float64Histogram(
		"zen.run.duration",
		metric.WithDescription("Agent run wall-clock duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create run_duration histogram: %w", err)
	}

	if collector.runsFast, err = meter.Int64Counter(
		"zen.runs.below_real_work_floor.total",
		metric.WithDescription("Completed runs faster than the real-work floor"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create runs_fast counter: %w", err)
	}

	if collector.eventsEmitted, err = meter.Int64Counter(
		"zen.events.emitted.total",
		metric.WithDescription("Total events emitted, by type"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create events_emitted counter: %w", err)
	}

	if collector.isolationViolations, err = meter.Int64Counter(
		"zen.isolation.violations.total",
		metric.WithDescription("Cross-user access attempts detected and rejected"),
		metric.WithUnit("{violation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create isolation_violations counter: %w", err)
	}

	if collector.slaBreaches, err = meter.Int64Counter(
		"zen.events.sla_breaches.total",
		metric.WithDescription("Soft SLA breaches by event type"),
		metric.WithUnit("{breach}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sla_breaches counter: %w", err)
	}

	if collector.toolExecutions, err = meter.Int64Counter(
		"zen.tool.executions.total",
		metric.WithDescription("Total tool executions"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool_executions counter: %w", err)
	}

	if collector.toolDuration, err = meter.Float64Histogram(
		"zen.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool_duration histogram: %w", err)
	}

	return collector, nil
}

// StartPrometheusServer starts the scrape endpoint. Calling it again while
// a server is running is a no-op; the running server stays authoritative.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	if m.prometheusServer != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	m.prometheusServer = srv

	go func() {
		m.logger.Info("Prometheus metrics server listening on :%d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Prometheus server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the scrape server.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordContextCreated records a successful context creation.
func (m *MetricsCollector) RecordContextCreated(ctx context.Context, tier string) {
	if m.contextsCreated == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tier", tier))
	m.contextsCreated.Add(ctx, 1, attrs)
	m.contextsActive.Add(ctx, 1, attrs)
}

// RecordContextTerminated records a context leaving the active set.
func (m *MetricsCollector) RecordContextTerminated(ctx context.Context, tier, reason string) {
	if m.contextsActive == nil {
		return
	}
	m.contextsActive.Add(ctx, -1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("reason", reason),
	))
}

// RecordQuotaRejection records a creation rejected by tier quota.
func (m *MetricsCollector) RecordQuotaRejection(ctx context.Context, tier string) {
	if m.quotaRejections == nil {
		return
	}
	m.quotaRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordIsolationViolation records a rejected cross-user attempt.
func (m *MetricsCollector) RecordIsolationViolation(ctx context.Context, operation string) {
	if m.isolationViolations == nil {
		return
	}
	m.isolationViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RunStarted counts a started agent run.
func (m *MetricsCollector) RunStarted(userID string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Add(context.Background(), 1)
}

// RunFinished records the run duration histogram.
func (m *MetricsCollector) RunFinished(duration time.Duration, degraded, failed bool) {
	if m.runDuration == nil {
		return
	}
	m.runDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.Bool("degraded", degraded),
		attribute.Bool("failed", failed),
	))
}

// EventEmitted counts one emitted event by type.
func (m *MetricsCollector) EventEmitted(eventType string) {
	if m.eventsEmitted == nil {
		return
	}
	m.eventsEmitted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// ToolExecuted records one tool execution.
func (m *MetricsCollector) ToolExecuted(tool string, duration time.Duration, success bool) {
	if m.toolExecutions == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	)
	m.toolExecutions.Add(context.Background(), 1, attrs)
	m.toolDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// SLABreached counts one soft SLA breach by event type.
func (m *MetricsCollector) SLABreached(eventType string) {
	if m.slaBreaches == nil {
		return
	}
	m.slaBreaches.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// FastRun counts a run that finished below the real-work floor.
func (m *MetricsCollector) FastRun(duration time.Duration) {
	if m.runsFast == nil {
		return
	}
	m.runsFast.Add(context.Background(), 1)
}
