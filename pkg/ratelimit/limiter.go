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

// Package ratelimit throttles request submission per caller using fixed
// time windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"
)

// Store tracks per-key usage counters with window expiry.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment adds one to the counter for key, starting a fresh window
	// of the given length when none is active, and returns the new count
	// plus the window's end.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error

	// Close releases the store.
	Close() error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining requests in the current window. Zero when denied.
	Remaining int64

	// RetryAfter is how long until the window resets. Set when denied.
	RetryAfter time.Duration
}

// Limiter enforces a requests-per-window bound per caller key.
type Limiter struct {
	cfg   config.RateLimitConfig
	store Store
}

// NewLimiter builds a limiter over the given store.
func NewLimiter(cfg config.RateLimitConfig, store Store) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	return &Limiter{cfg: cfg, store: store}, nil
}

// Allow records one request for key and reports whether it fits the
// configured budget. A disabled limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) (*Decision, error) {
	if !l.cfg.Enabled {
		return &Decision{Allowed: true, Remaining: l.cfg.Requests}, nil
	}
	if key == "" {
		return nil, fmt.Errorf("ratelimit: key cannot be empty")
	}

	count, windowEnd, err := l.store.Increment(ctx, key, l.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: incrementing %q: %w", key, err)
	}

	if count > l.cfg.Requests {
		retry := time.Until(windowEnd)
		if retry < 0 {
			retry = 0
		}
		return &Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return &Decision{Allowed: true, Remaining: l.cfg.Requests - count}, nil
}

// Reset clears the budget for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
