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
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Config bundles tracing and metrics settings.
type Config struct {
	Tracing TracerConfig  `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SetDefaults applies defaults for unset fields.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Manager owns the telemetry pipelines and the composite Observer handed to
// runtime components.
type Manager struct {
	mu             sync.RWMutex
	config         Config
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	metrics        *OTELMetrics
	observer       Observer
}

// NewManager builds an uninitialized Manager. Call Initialize before use.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = Logger()
	}
	return &Manager{
		config:   cfg,
		logger:   logger,
		observer: NopObserver{},
	}
}

// Initialize starts the tracer and metric pipelines.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics

	m.observer = NewMultiObserver(
		NewLogObserver(m.logger),
		NewMetricsObserver(metrics),
	)

	return nil
}

// Tracer returns a named tracer from the installed provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return noopTracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// Metrics returns the metrics sink. Safe to call before Initialize.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return (*OTELMetrics)(nil)
	}
	return m.metrics
}

// Observer returns the composite event observer.
func (m *Manager) Observer() Observer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observer
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Shutdown flushes exporters. Components must be stopped first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		if err := spt.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if m.metrics != nil {
		if err := m.metrics.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
