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

package config

import (
	"fmt"
	"time"
)

// RetryConfig tunes the retry strategy: attempt 1 runs immediately, attempt
// k sleeps min(base * backoff^(k-1), max) with jitter.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries,omitempty"`
	BaseDelay  time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay   time.Duration `yaml:"max_delay,omitempty"`
	Backoff    float64       `yaml:"backoff,omitempty"`
}

// SetDefaults applies default values.
func (c *RetryConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Backoff == 0 {
		c.Backoff = 2.0
	}
}

// BreakerConfig tunes the per-component circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the failure count within Window that opens the
	// circuit.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`

	// Cooldown is how long an open circuit rejects calls before allowing a
	// probe.
	Cooldown time.Duration `yaml:"cooldown,omitempty"`

	// Window is the sliding interval over which failures are counted.
	Window time.Duration `yaml:"window,omitempty"`
}

// SetDefaults applies default values.
func (c *BreakerConfig) SetDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
}

// FallbackConfig tunes resilient execution.
type FallbackConfig struct {
	Retry   RetryConfig   `yaml:"retry,omitempty"`
	Breaker BreakerConfig `yaml:"breaker,omitempty"`

	// EnableDegraded allows the degraded strategy to produce reduced
	// results. When false, degraded execution reports plain failure.
	// Default: true.
	EnableDegraded *bool `yaml:"enable_degraded,omitempty"`

	// Strategies overrides the fallback strategy per component name.
	// Valid values: retry, alternative, degraded, fail_fast.
	Strategies map[string]string `yaml:"strategies,omitempty"`
}

// SetDefaults applies default values.
func (c *FallbackConfig) SetDefaults() {
	c.Retry.SetDefaults()
	c.Breaker.SetDefaults()
	if c.EnableDegraded == nil {
		c.EnableDegraded = BoolPtr(true)
	}
}

// Validate checks the fallback configuration.
func (c *FallbackConfig) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative")
	}
	if c.Retry.Backoff < 1 {
		return fmt.Errorf("retry.backoff must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 || c.Breaker.Window <= 0 {
		return fmt.Errorf("breaker durations must be positive")
	}
	for component, strategy := range c.Strategies {
		switch strategy {
		case "retry", "alternative", "degraded", "fail_fast":
		default:
			return fmt.Errorf("invalid strategy %q for component %q", strategy, component)
		}
	}
	return nil
}

// DegradedEnabled reports whether degraded results are permitted.
func (c *FallbackConfig) DegradedEnabled() bool {
	return c.EnableDegraded == nil || *c.EnableDegraded
}
