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

// Package observability wires structured logging, typed runtime events,
// OpenTelemetry metrics and tracing into one place. Components receive an
// Observer and never talk to exporters directly.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives lifecycle notifications from the runtime. Implementations
// must be safe for concurrent use and must not block; slow sinks should
// buffer internally.
type Observer interface {
	MemoryInserted(ctx context.Context, id, memoryType, userID string)
	MemoryUpdated(ctx context.Context, id string)
	MemoryDeleted(ctx context.Context, id string)
	MemoriesConsolidated(ctx context.Context, userID string, count int)
	MemoriesCleaned(ctx context.Context, count int)
	PlanningCreated(ctx context.Context, taskCount int)
	SubAgentCompleted(ctx context.Context, name string, duration time.Duration, success bool)
	CircuitOpened(ctx context.Context, component string)
	CircuitClosed(ctx context.Context, component string)
}

// NopObserver discards every event.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) MemoryInserted(context.Context, string, string, string)        {}
func (NopObserver) MemoryUpdated(context.Context, string)                         {}
func (NopObserver) MemoryDeleted(context.Context, string)                         {}
func (NopObserver) MemoriesConsolidated(context.Context, string, int)             {}
func (NopObserver) MemoriesCleaned(context.Context, int)                          {}
func (NopObserver) PlanningCreated(context.Context, int)                          {}
func (NopObserver) SubAgentCompleted(context.Context, string, time.Duration, bool) {}
func (NopObserver) CircuitOpened(context.Context, string)                         {}
func (NopObserver) CircuitClosed(context.Context, string)                         {}

// MultiObserver fans each event out to every registered observer in order.
type MultiObserver struct {
	observers []Observer
}

var _ Observer = (*MultiObserver)(nil)

// NewMultiObserver combines observers into one. Nil entries are skipped.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, o := range observers {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
	return m
}

func (m *MultiObserver) MemoryInserted(ctx context.Context, id, memoryType, userID string) {
	for _, o := range m.observers {
		o.MemoryInserted(ctx, id, memoryType, userID)
	}
}

func (m *MultiObserver) MemoryUpdated(ctx context.Context, id string) {
	for _, o := range m.observers {
		o.MemoryUpdated(ctx, id)
	}
}

func (m *MultiObserver) MemoryDeleted(ctx context.Context, id string) {
	for _, o := range m.observers {
		o.MemoryDeleted(ctx, id)
	}
}

func (m *MultiObserver) MemoriesConsolidated(ctx context.Context, userID string, count int) {
	for _, o := range m.observers {
		o.MemoriesConsolidated(ctx, userID, count)
	}
}

func (m *MultiObserver) MemoriesCleaned(ctx context.Context, count int) {
	for _, o := range m.observers {
		o.MemoriesCleaned(ctx, count)
	}
}

func (m *MultiObserver) PlanningCreated(ctx context.Context, taskCount int) {
	for _, o := range m.observers {
		o.PlanningCreated(ctx, taskCount)
	}
}

func (m *MultiObserver) SubAgentCompleted(ctx context.Context, name string, duration time.Duration, success bool) {
	for _, o := range m.observers {
		o.SubAgentCompleted(ctx, name, duration, success)
	}
}

func (m *MultiObserver) CircuitOpened(ctx context.Context, component string) {
	for _, o := range m.observers {
		o.CircuitOpened(ctx, component)
	}
}

func (m *MultiObserver) CircuitClosed(ctx context.Context, component string) {
	for _, o := range m.observers {
		o.CircuitClosed(ctx, component)
	}
}

// LogObserver writes every event to a slog logger at debug level, except
// circuit transitions which are warnings.
type LogObserver struct {
	logger *slog.Logger
}

var _ Observer = (*LogObserver)(nil)

// NewLogObserver builds a LogObserver. A nil logger falls back to
// slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) MemoryInserted(ctx context.Context, id, memoryType, userID string) {
	l.logger.DebugContext(ctx, "memory inserted", "id", id, "type", memoryType, "user_id", userID)
}

func (l *LogObserver) MemoryUpdated(ctx context.Context, id string) {
	l.logger.DebugContext(ctx, "memory updated", "id", id)
}

func (l *LogObserver) MemoryDeleted(ctx context.Context, id string) {
	l.logger.DebugContext(ctx, "memory deleted", "id", id)
}

func (l *LogObserver) MemoriesConsolidated(ctx context.Context, userID string, count int) {
	l.logger.InfoContext(ctx, "memories consolidated", "user_id", userID, "count", count)
}

func (l *LogObserver) MemoriesCleaned(ctx context.Context, count int) {
	l.logger.InfoContext(ctx, "memories cleaned", "count", count)
}

func (l *LogObserver) PlanningCreated(ctx context.Context, taskCount int) {
	l.logger.DebugContext(ctx, "plan created", "task_count", taskCount)
}

func (l *LogObserver) SubAgentCompleted(ctx context.Context, name string, duration time.Duration, success bool) {
	l.logger.DebugContext(ctx, "sub-agent completed", "agent", name, "duration", duration, "success", success)
}

func (l *LogObserver) CircuitOpened(ctx context.Context, component string) {
	l.logger.WarnContext(ctx, "circuit opened", "component", component)
}

func (l *LogObserver) CircuitClosed(ctx context.Context, component string) {
	l.logger.InfoContext(ctx, "circuit closed", "component", component)
}
