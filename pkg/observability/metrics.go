// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig controls the Prometheus metrics pipeline.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SetDefaults applies defaults for unset fields.
func (c *MetricsConfig) SetDefaults() {}

// Metrics records runtime measurements. A nil or disabled implementation
// must be safe to call.
type Metrics interface {
	RecordAgentCall(ctx context.Context, agent string, duration time.Duration, tokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// OTELMetrics is the OpenTelemetry-backed Metrics implementation, exported
// through the Prometheus registry. The zero value records nothing.
type OTELMetrics struct {
	agentDuration    metric.Float64Histogram
	agentCallsTotal  metric.Int64Counter
	agentErrorsTotal metric.Int64Counter
	agentTokensTotal metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	memoryOps         metric.Int64Counter
	consolidatedTotal metric.Int64Counter
	cleanedTotal      metric.Int64Counter
	plansTotal        metric.Int64Counter
	circuitEvents     metric.Int64Counter

	provider *sdkmetric.MeterProvider
}

var _ Metrics = (*OTELMetrics)(nil)

// InitMetrics builds the metric instruments and registers the Prometheus
// exporter with the default registry. Disabled config yields a no-op
// instance.
func InitMetrics(_ context.Context, cfg MetricsConfig) (*OTELMetrics, error) {
	if !cfg.Enabled {
		return &OTELMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := provider.Meter("ensemble")

	m := &OTELMetrics{provider: provider}

	var instErr error
	histogram := func(name, desc string) metric.Float64Histogram {
		if instErr != nil {
			return nil
		}
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc))
		if err != nil {
			instErr = fmt.Errorf("creating %s: %w", name, err)
		}
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if instErr != nil {
			return nil
		}
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			instErr = fmt.Errorf("creating %s: %w", name, err)
		}
		return c
	}

	m.agentDuration = histogram("ensemble_agent_call_duration_seconds", "Sub-agent task duration in seconds")
	m.agentCallsTotal = counter("ensemble_agent_calls_total", "Total sub-agent task executions")
	m.agentErrorsTotal = counter("ensemble_agent_errors_total", "Total sub-agent task failures")
	m.agentTokensTotal = counter("ensemble_agent_tokens_used_total", "Total tokens consumed by sub-agents")

	m.toolDuration = histogram("ensemble_tool_execution_duration_seconds", "Tool execution duration in seconds")
	m.toolCallsTotal = counter("ensemble_tool_calls_total", "Total tool calls")
	m.toolErrorsTotal = counter("ensemble_tool_errors_total", "Total tool errors")

	m.llmDuration = histogram("ensemble_llm_request_duration_seconds", "LLM request duration in seconds")
	m.llmInputTokens = counter("ensemble_llm_tokens_input_total", "Total input tokens sent to providers")
	m.llmOutputTokens = counter("ensemble_llm_tokens_output_total", "Total output tokens received from providers")
	m.llmErrorsTotal = counter("ensemble_llm_errors_total", "Total LLM provider errors")

	m.httpDuration = histogram("ensemble_http_request_duration_seconds", "HTTP request duration in seconds")
	m.httpRequests = counter("ensemble_http_requests_total", "Total HTTP requests")

	m.memoryOps = counter("ensemble_memory_operations_total", "Total memory store operations")
	m.consolidatedTotal = counter("ensemble_memories_consolidated_total", "Total memories promoted to long-term storage")
	m.cleanedTotal = counter("ensemble_memories_cleaned_total", "Total memories removed by cleanup")
	m.plansTotal = counter("ensemble_plans_created_total", "Total plans produced")
	m.circuitEvents = counter("ensemble_circuit_transitions_total", "Total circuit breaker state transitions")

	if instErr != nil {
		return nil, instErr
	}
	return m, nil
}

// Shutdown flushes and stops the meter provider.
func (m *OTELMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *OTELMetrics) RecordAgentCall(ctx context.Context, agent string, duration time.Duration, tokens int, err error) {
	if m == nil || m.agentDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("agent", agent))

	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentCallsTotal.Add(ctx, 1, attrs)
	if tokens > 0 {
		m.agentTokensTotal.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.agentErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *OTELMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("tool", tool))

	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *OTELMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model", model))

	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *OTELMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	)

	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// MetricsObserver bridges runtime events into counters.
type MetricsObserver struct {
	metrics *OTELMetrics
}

var _ Observer = (*MetricsObserver)(nil)

// NewMetricsObserver wraps metrics as an Observer.
func NewMetricsObserver(metrics *OTELMetrics) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

func (o *MetricsObserver) addMemoryOp(ctx context.Context, op string) {
	if o.metrics == nil || o.metrics.memoryOps == nil {
		return
	}
	o.metrics.memoryOps.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (o *MetricsObserver) MemoryInserted(ctx context.Context, _, _, _ string) {
	o.addMemoryOp(ctx, "insert")
}

func (o *MetricsObserver) MemoryUpdated(ctx context.Context, _ string) {
	o.addMemoryOp(ctx, "update")
}

func (o *MetricsObserver) MemoryDeleted(ctx context.Context, _ string) {
	o.addMemoryOp(ctx, "delete")
}

func (o *MetricsObserver) MemoriesConsolidated(ctx context.Context, _ string, count int) {
	if o.metrics == nil || o.metrics.consolidatedTotal == nil {
		return
	}
	o.metrics.consolidatedTotal.Add(ctx, int64(count))
}

func (o *MetricsObserver) MemoriesCleaned(ctx context.Context, count int) {
	if o.metrics == nil || o.metrics.cleanedTotal == nil {
		return
	}
	o.metrics.cleanedTotal.Add(ctx, int64(count))
}

func (o *MetricsObserver) PlanningCreated(ctx context.Context, _ int) {
	if o.metrics == nil || o.metrics.plansTotal == nil {
		return
	}
	o.metrics.plansTotal.Add(ctx, 1)
}

func (o *MetricsObserver) SubAgentCompleted(context.Context, string, time.Duration, bool) {
	// Covered by RecordAgentCall at the execution site.
}

func (o *MetricsObserver) CircuitOpened(ctx context.Context, component string) {
	o.recordCircuit(ctx, component, "open")
}

func (o *MetricsObserver) CircuitClosed(ctx context.Context, component string) {
	o.recordCircuit(ctx, component, "closed")
}

func (o *MetricsObserver) recordCircuit(ctx context.Context, component, state string) {
	if o.metrics == nil || o.metrics.circuitEvents == nil {
		return
	}
	o.metrics.circuitEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("state", state),
	))
}
