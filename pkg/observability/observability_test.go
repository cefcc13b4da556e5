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
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

// recordingObserver counts received events for fan-out assertions.
type recordingObserver struct {
	NopObserver
	inserted     int
	consolidated int
	circuitOpen  int
}

func (r *recordingObserver) MemoryInserted(context.Context, string, string, string) {
	r.inserted++
}

func (r *recordingObserver) MemoriesConsolidated(context.Context, string, int) {
	r.consolidated++
}

func (r *recordingObserver) CircuitOpened(context.Context, string) {
	r.circuitOpen++
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
		{"", slog.LevelWarn},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTextHandler_Format(t *testing.T) {
	var sb strings.Builder
	handler := &textHandler{writer: &sb, level: slog.LevelInfo}
	logger := slog.New(handler)

	logger.Info("request handled", "status", 200)
	logger.Debug("should be filtered")

	out := sb.String()
	if !strings.Contains(out, "INFO request handled status=200") {
		t.Errorf("output = %q, want INFO line with attributes", out)
	}
	if strings.Contains(out, "filtered") {
		t.Errorf("output = %q, debug record should be suppressed", out)
	}
}

func TestTextHandler_WithAttrs(t *testing.T) {
	var sb strings.Builder
	handler := &textHandler{writer: &sb, level: slog.LevelInfo}
	logger := slog.New(handler).With("component", "server")

	logger.Info("started")

	if !strings.Contains(sb.String(), "component=server") {
		t.Errorf("output = %q, want inherited attribute", sb.String())
	}
}

func TestMultiObserver_FanOut(t *testing.T) {
	first := &recordingObserver{}
	second := &recordingObserver{}
	multi := NewMultiObserver(first, nil, second)

	ctx := context.Background()
	multi.MemoryInserted(ctx, "id-1", "SHORT_TERM", "alice")
	multi.MemoriesConsolidated(ctx, "alice", 3)
	multi.CircuitOpened(ctx, "llm")

	for i, obs := range []*recordingObserver{first, second} {
		if obs.inserted != 1 {
			t.Errorf("observer %d inserted = %d, want 1", i, obs.inserted)
		}
		if obs.consolidated != 1 {
			t.Errorf("observer %d consolidated = %d, want 1", i, obs.consolidated)
		}
		if obs.circuitOpen != 1 {
			t.Errorf("observer %d circuitOpen = %d, want 1", i, obs.circuitOpen)
		}
	}
}

func TestLogObserver_AllEvents(t *testing.T) {
	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLogObserver(logger)

	ctx := context.Background()
	obs.MemoryInserted(ctx, "id", "SHORT_TERM", "u")
	obs.MemoryUpdated(ctx, "id")
	obs.MemoryDeleted(ctx, "id")
	obs.MemoriesConsolidated(ctx, "u", 2)
	obs.MemoriesCleaned(ctx, 5)
	obs.PlanningCreated(ctx, 4)
	obs.SubAgentCompleted(ctx, "research-agent", time.Second, true)
	obs.CircuitOpened(ctx, "llm")
	obs.CircuitClosed(ctx, "llm")

	out := sb.String()
	for _, want := range []string{
		"memory inserted", "memory updated", "memory deleted",
		"memories consolidated", "memories cleaned", "plan created",
		"sub-agent completed", "circuit opened", "circuit closed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q", want)
		}
	}
}

func TestDisabledMetrics_SafeToCall(t *testing.T) {
	metrics, err := InitMetrics(context.Background(), MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitMetrics() error = %v", err)
	}

	ctx := context.Background()
	metrics.RecordAgentCall(ctx, "general-purpose", time.Second, 10, nil)
	metrics.RecordToolExecution(ctx, "calculate", time.Millisecond, nil)
	metrics.RecordLLMCall(ctx, "gpt-4o", time.Second, 100, 50, nil)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/requests", 200, time.Millisecond)

	var nilMetrics *OTELMetrics
	nilMetrics.RecordAgentCall(ctx, "x", 0, 0, nil)

	obs := NewMetricsObserver(metrics)
	obs.MemoryInserted(ctx, "id", "SHORT_TERM", "u")
	obs.CircuitOpened(ctx, "llm")
}

func TestHTTPMiddleware_RecordsStatus(t *testing.T) {
	recorder := &statusRecorder{}
	handler := HTTPMiddleware(nil, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/requests", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("response code = %d, want 418", rec.Code)
	}
	if recorder.status != http.StatusTeapot {
		t.Errorf("recorded status = %d, want 418", recorder.status)
	}
	if recorder.method != http.MethodGet {
		t.Errorf("recorded method = %q, want GET", recorder.method)
	}
}

func TestHTTPMiddleware_DefaultsTo200(t *testing.T) {
	recorder := &statusRecorder{}
	handler := HTTPMiddleware(nil, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if recorder.status != http.StatusOK {
		t.Errorf("recorded status = %d, want 200", recorder.status)
	}
}

// statusRecorder implements Metrics and keeps the last HTTP observation.
type statusRecorder struct {
	method string
	path   string
	status int
}

func (s *statusRecorder) RecordAgentCall(context.Context, string, time.Duration, int, error) {}
func (s *statusRecorder) RecordToolExecution(context.Context, string, time.Duration, error)  {}
func (s *statusRecorder) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {
}

func (s *statusRecorder) RecordHTTPRequest(_ context.Context, method, path string, statusCode int, _ time.Duration) {
	s.method = method
	s.path = path
	s.status = statusCode
}

func TestManager_Lifecycle(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	manager := NewManager(cfg, logger)

	if err := manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if manager.Observer() == nil {
		t.Error("Observer() = nil")
	}
	if manager.Metrics() == nil {
		t.Error("Metrics() = nil")
	}
	if manager.Tracer("test") == nil {
		t.Error("Tracer() = nil")
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
