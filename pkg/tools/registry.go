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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/ensemble/pkg/observability"
	"github.com/kadirpekel/ensemble/pkg/registry"
)

// entry pairs a tool with the source that contributed it; "" marks locally
// registered tools.
type entry struct {
	tool   Tool
	source string
}

// Registry holds the tools available to sub-agents and executes them with
// schema validation, tracing and metrics.
type Registry struct {
	entries *registry.BaseRegistry[entry]
	sources *registry.BaseRegistry[Source]
	metrics observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithMetrics records tool execution measurements.
func WithMetrics(m observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: registry.NewBaseRegistry[entry](),
		sources: registry.NewBaseRegistry[Source](),
		tracer:  otel.Tracer("ensemble.tools"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a locally constructed tool. Duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	return r.entries.Register(def.Name, entry{tool: t})
}

// RegisterSource attaches a source, discovers its tools and registers them.
func (r *Registry) RegisterSource(ctx context.Context, src Source) error {
	if src.Name() == "" {
		return fmt.Errorf("source has no name")
	}
	if err := r.sources.Register(src.Name(), src); err != nil {
		return err
	}
	return r.discoverSource(ctx, src)
}

// DiscoverAll re-discovers every attached source, replacing its tools.
// A failing source is logged and skipped; its previous tools stay
// registered.
func (r *Registry) DiscoverAll(ctx context.Context) {
	for _, src := range r.sources.List() {
		if err := r.discoverSource(ctx, src); err != nil {
			r.logger.Warn("tool discovery failed", "source", src.Name(), "error", err)
		}
	}
}

func (r *Registry) discoverSource(ctx context.Context, src Source) error {
	discovered, err := src.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering tools from %s: %w", src.Name(), err)
	}

	// Drop the source's previous tools before re-registering.
	for _, name := range r.entries.Names() {
		if e, ok := r.entries.Get(name); ok && e.source == src.Name() {
			_ = r.entries.Remove(name)
		}
	}

	for _, t := range discovered {
		name := t.Definition().Name
		if err := r.entries.Register(name, entry{tool: t, source: src.Name()}); err != nil {
			r.logger.Warn("tool name conflict, skipping", "tool", name, "source", src.Name())
		}
	}
	return nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries.Get(name)
	return ok
}

// All returns every tool definition sorted by name.
func (r *Registry) All() []Definition {
	defs := make([]Definition, 0, r.entries.Count())
	for _, e := range r.entries.List() {
		defs = append(defs, e.tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates params against the tool's schema and runs it inside a
// span. Failures surface as ErrUnknownTool, *InvalidParametersError or
// *ExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, tctx *ToolContext) (any, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	finish := func(result any, err error) (any, error) {
		duration := time.Since(start)
		if r.metrics != nil {
			r.metrics.RecordToolExecution(ctx, name, duration, err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))
		return result, err
	}

	e, ok := r.entries.Get(name)
	if !ok {
		return finish(nil, fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}

	def := e.tool.Definition()
	if err := validateParams(name, def.Parameters, params); err != nil {
		return finish(nil, err)
	}

	result, err := e.tool.Execute(ctx, params, tctx)
	if err != nil {
		return finish(nil, &ExecutionError{Tool: name, Err: err})
	}
	return finish(result, nil)
}

// Close releases every attached source.
func (r *Registry) Close() error {
	var firstErr error
	for _, src := range r.sources.List() {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
