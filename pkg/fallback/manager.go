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

// Package fallback wraps fallible operations in recovery strategies (retry,
// alternatives, degraded results, fail-fast) behind per-component circuit
// breakers, so callers deal in typed outcomes instead of raised errors.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/observability"
)

// Strategy selects the recovery behaviour for a failed operation.
type Strategy string

const (
	StrategyRetry       Strategy = "retry"
	StrategyAlternative Strategy = "alternative"
	StrategyDegraded    Strategy = "degraded"
	StrategyFailFast    Strategy = "fail_fast"
)

// Component names used across the runtime. Breakers and default strategies
// are keyed by these.
const (
	ComponentLLM       = "llm"
	ComponentMemory    = "memory"
	ComponentTools     = "tools"
	ComponentPlanning  = "planning"
	ComponentSubAgents = "subagents"
)

// Operation is any fallible call the manager can supervise.
type Operation func(ctx context.Context) (any, error)

// Alternative is a named substitute tried when the primary operation fails.
type Alternative struct {
	Name string
	Run  Operation
}

// DegradedHandler synthesises a reduced result from the failure that
// triggered it.
type DegradedHandler func(ctx context.Context, cause error) (any, error)

// Context describes one supervised call.
type Context struct {
	// Component keys the breaker and the default strategy.
	Component string

	// OperationType is informational, for logs and events.
	OperationType string

	// Alternatives are tried in order under the alternative strategy.
	Alternatives []Alternative

	// DegradedHandler serves the degraded strategy, and is the last resort
	// of the alternative strategy when every alternative failed.
	DegradedHandler DegradedHandler

	// Strategy overrides the component default when set.
	Strategy Strategy
}

// Result is the typed outcome of a supervised call. Execute always returns
// a Result; Err is only set when Success is false.
type Result struct {
	Success  bool
	Value    any
	Err      error
	Kind     Kind
	Degraded bool

	// ServedBy names the alternative that produced the value, empty when
	// the primary operation succeeded.
	ServedBy string

	// Attempts counts primary executions including retries.
	Attempts int
}

// Manager supervises operations per component.
type Manager struct {
	cfg        config.FallbackConfig
	strategies map[string]Strategy
	observer   observability.Observer
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// Option customises a Manager.
type Option func(*Manager)

// WithObserver routes circuit transitions to o.
func WithObserver(o observability.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a manager from cfg. Per-component default strategies
// come from cfg.Strategies; components without an entry default to retry.
func NewManager(cfg *config.FallbackConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:        *cfg,
		strategies: make(map[string]Strategy, len(cfg.Strategies)),
		observer:   observability.NopObserver{},
		logger:     slog.Default(),
		breakers:   make(map[string]*Breaker),
	}
	for component, s := range cfg.Strategies {
		m.strategies[component] = Strategy(s)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker returns the component's breaker, creating it on first use.
func (m *Manager) Breaker(component string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	br, ok := m.breakers[component]
	if !ok {
		br = NewBreaker(m.cfg.Breaker)
		br.onOpen = func() {
			m.logger.Warn("circuit opened", "component", component)
			m.observer.CircuitOpened(context.Background(), component)
		}
		br.onClose = func() {
			m.logger.Info("circuit closed", "component", component)
			m.observer.CircuitClosed(context.Background(), component)
		}
		m.breakers[component] = br
	}
	return br
}

// Execute runs op under the component's breaker and strategy. It never
// panics and always returns a Result; failures that exhaust every recovery
// surface as Success:false with a classified Err.
func (m *Manager) Execute(ctx context.Context, op Operation, fctx Context) Result {
	strategy := fctx.Strategy
	if strategy == "" {
		strategy = m.strategies[fctx.Component]
	}
	if strategy == "" {
		strategy = StrategyRetry
	}

	br := m.Breaker(fctx.Component)
	if err := br.Allow(fctx.Component); err != nil {
		// Rejected without running; the rejection does not feed the breaker.
		return m.recover(ctx, fctx, strategy, err, 0)
	}

	var (
		value    any
		err      error
		attempts int
	)
	if strategy == StrategyRetry {
		value, err, attempts = m.retry(ctx, op)
	} else {
		value, err = safeCall(ctx, op)
		attempts = 1
	}

	// Retries collapse into one logical call: only the terminal outcome
	// feeds the breaker.
	br.Record(err == nil)

	if err == nil {
		return Result{Success: true, Value: value, Attempts: attempts}
	}
	m.logger.Debug("operation failed",
		"component", fctx.Component,
		"operation", fctx.OperationType,
		"strategy", string(strategy),
		"attempts", attempts,
		"error", err)
	return m.recoverAfter(ctx, fctx, strategy, err, attempts)
}

// recover handles failures that happened before the primary ran (breaker
// rejections): retry and fail-fast report the failure, alternatives and
// degraded handlers may still serve.
func (m *Manager) recover(ctx context.Context, fctx Context, strategy Strategy, cause error, attempts int) Result {
	switch strategy {
	case StrategyAlternative, StrategyDegraded:
		return m.recoverAfter(ctx, fctx, strategy, cause, attempts)
	default:
		return failure(cause, attempts)
	}
}

func (m *Manager) recoverAfter(ctx context.Context, fctx Context, strategy Strategy, cause error, attempts int) Result {
	switch strategy {
	case StrategyAlternative:
		for _, alt := range fctx.Alternatives {
			value, err := safeCall(ctx, alt.Run)
			if err == nil {
				return Result{Success: true, Value: value, ServedBy: alt.Name, Attempts: attempts}
			}
			m.logger.Debug("alternative failed",
				"component", fctx.Component, "alternative", alt.Name, "error", err)
			cause = err
		}
		return m.degrade(ctx, fctx, cause, attempts)
	case StrategyDegraded:
		return m.degrade(ctx, fctx, cause, attempts)
	default:
		return failure(cause, attempts)
	}
}

// degrade serves the degraded handler when one is configured and degraded
// mode is enabled, otherwise reports the original failure.
func (m *Manager) degrade(ctx context.Context, fctx Context, cause error, attempts int) Result {
	if fctx.DegradedHandler == nil || !m.cfg.DegradedEnabled() {
		return failure(cause, attempts)
	}
	value, err := fctx.DegradedHandler(ctx, cause)
	if err != nil {
		return failure(cause, attempts)
	}
	return Result{
		Success:  true,
		Value:    value,
		Kind:     KindDegradedResult,
		Degraded: true,
		Attempts: attempts,
	}
}

// retry runs op with exponential backoff: attempt 1 immediately, attempt k
// after min(base*backoff^(k-1), max) with ±25% jitter. Breaker rejections
// and context expiry end the loop early.
func (m *Manager) retry(ctx context.Context, op Operation) (any, error, int) {
	var lastErr error
	maxAttempts := m.cfg.Retry.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, m.retryDelay(attempt)); err != nil {
				return nil, lastErr, attempt - 1
			}
		}
		value, err := safeCall(ctx, op)
		if err == nil {
			return value, nil, attempt
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr, attempt
		}
	}
	return nil, lastErr, maxAttempts
}

func (m *Manager) retryDelay(attempt int) time.Duration {
	delay := float64(m.cfg.Retry.BaseDelay) * math.Pow(m.cfg.Retry.Backoff, float64(attempt-1))
	delay = math.Min(delay, float64(m.cfg.Retry.MaxDelay))
	jittered := delay * (0.75 + 0.5*rand.Float64())
	return time.Duration(jittered)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// safeCall converts a panicking operation into an error so Execute can keep
// its never-panics contract.
func safeCall(ctx context.Context, op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func failure(cause error, attempts int) Result {
	return Result{
		Success:  false,
		Err:      cause,
		Kind:     Classify(cause),
		Attempts: attempts,
	}
}
