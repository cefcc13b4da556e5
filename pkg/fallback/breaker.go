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
	"sync"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"
)

// BreakerState is one of the three circuit positions.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitState is a point-in-time snapshot of one component's breaker.
type CircuitState struct {
	State         BreakerState
	FailureCount  int
	LastFailureAt time.Time
	OpenedAt      time.Time
}

// Breaker is a per-component circuit breaker. Closed passes calls through
// and counts failures inside a sliding window; once the threshold is hit it
// opens and rejects until the cooldown elapses, then admits exactly one
// probe whose outcome decides between closing and re-opening.
type Breaker struct {
	mu  sync.Mutex
	cfg config.BreakerConfig

	state         BreakerState
	failureCount  int
	windowStart   time.Time
	lastFailureAt time.Time
	openedAt      time.Time
	probing       bool

	// now is replaceable in tests.
	now func() time.Time

	// onOpen and onClose fire on state transitions, outside hot paths but
	// under the breaker lock; keep them cheap.
	onOpen  func()
	onClose func()
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. An open circuit rejects with
// *CircuitOpenError until the cooldown has elapsed; half-open admits a
// single in-flight probe.
func (b *Breaker) Allow(component string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return &CircuitOpenError{Component: component}
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return &CircuitOpenError{Component: component}
		}
		b.probing = true
		return nil
	}
}

// Record feeds one logical call outcome into the breaker. Retried calls
// report only their terminal outcome.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.failureCount = 0
			if b.onClose != nil {
				b.onClose()
			}
		} else {
			b.state = StateOpen
			b.openedAt = now
			b.lastFailureAt = now
		}
		return
	}

	if success || b.state != StateClosed {
		return
	}

	if b.failureCount == 0 || now.Sub(b.windowStart) > b.cfg.Window {
		b.failureCount = 0
		b.windowStart = now
	}
	b.failureCount++
	b.lastFailureAt = now

	if b.failureCount >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
		if b.onOpen != nil {
			b.onOpen()
		}
	}
}

// Snapshot returns the current circuit state.
func (b *Breaker) Snapshot() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
		OpenedAt:      b.openedAt,
	}
}
