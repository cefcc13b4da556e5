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

package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/llms"
)

func testConfig() *config.FallbackConfig {
	cfg := &config.FallbackConfig{
		Retry: config.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Backoff:    2.0,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 2,
			Cooldown:         100 * time.Millisecond,
			Window:           time.Minute,
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestExecuteSuccess(t *testing.T) {
	m := NewManager(testConfig())

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	}, Context{Component: "test"})

	require.True(t, res.Success)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	m := NewManager(testConfig())

	calls := 0
	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, &llms.Error{Kind: llms.KindTransport, Message: "connection reset"}
		}
		return "ok", nil
	}, Context{Component: "flaky", Strategy: StrategyRetry})

	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestRetryExhaustionClassifies(t *testing.T) {
	m := NewManager(testConfig())

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, &llms.Error{Kind: llms.KindRateLimited, Message: "429"}
	}, Context{Component: "limited", Strategy: StrategyRetry})

	require.False(t, res.Success)
	assert.Equal(t, KindRateLimited, res.Kind)
	assert.Equal(t, 3, res.Attempts, "one initial attempt plus two retries")
}

func TestFailFastDoesNotRetry(t *testing.T) {
	m := NewManager(testConfig())

	calls := 0
	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("boom")
	}, Context{Component: "ff", Strategy: StrategyFailFast})

	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindInternal, res.Kind)
}

func TestAlternativeChain(t *testing.T) {
	m := NewManager(testConfig())

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("primary down")
	}, Context{
		Component: "alt",
		Strategy:  StrategyAlternative,
		Alternatives: []Alternative{
			{Name: "first", Run: func(ctx context.Context) (any, error) { return nil, errors.New("also down") }},
			{Name: "second", Run: func(ctx context.Context) (any, error) { return "served", nil }},
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, "served", res.Value)
	assert.Equal(t, "second", res.ServedBy)
}

func TestAlternativesExhaustedFallToDegraded(t *testing.T) {
	m := NewManager(testConfig())

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("primary down")
	}, Context{
		Component: "alt-degraded",
		Strategy:  StrategyAlternative,
		Alternatives: []Alternative{
			{Name: "first", Run: func(ctx context.Context) (any, error) { return nil, errors.New("down too") }},
		},
		DegradedHandler: func(ctx context.Context, cause error) (any, error) {
			return "reduced", nil
		},
	})

	require.True(t, res.Success)
	assert.True(t, res.Degraded)
	assert.Equal(t, "reduced", res.Value)
	assert.Equal(t, KindDegradedResult, res.Kind)
}

func TestDegradedStrategy(t *testing.T) {
	m := NewManager(testConfig())

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("down")
	}, Context{
		Component: "deg",
		Strategy:  StrategyDegraded,
		DegradedHandler: func(ctx context.Context, cause error) (any, error) {
			return "degraded value", nil
		},
	})

	require.True(t, res.Success)
	assert.True(t, res.Degraded)
	assert.Equal(t, "degraded value", res.Value)
}

func TestDegradedDisabledFallsThroughToFailure(t *testing.T) {
	cfg := testConfig()
	cfg.EnableDegraded = config.BoolPtr(false)
	m := NewManager(cfg)

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("down")
	}, Context{
		Component: "deg-off",
		Strategy:  StrategyDegraded,
		DegradedHandler: func(ctx context.Context, cause error) (any, error) {
			return "should not be served", nil
		},
	})

	assert.False(t, res.Success)
	assert.False(t, res.Degraded)
}

func TestExecuteNeverPanics(t *testing.T) {
	m := NewManager(testConfig())

	res := m.Execute(context.Background(), func(ctx context.Context) (any, error) {
		panic("unexpected")
	}, Context{Component: "panicky", Strategy: StrategyFailFast})

	require.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "panicked")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"circuit", &CircuitOpenError{Component: "llm"}, KindCircuitOpen},
		{"llm transport", &llms.Error{Kind: llms.KindTransport}, KindTransport},
		{"llm rate limited", &llms.Error{Kind: llms.KindRateLimited}, KindRateLimited},
		{"invalid output", ErrInvalidOutput, KindInvalidOutput},
		{"wrapped", errors.Join(errors.New("outer"), context.DeadlineExceeded), KindTimeout},
		{"unknown", errors.New("mystery"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
