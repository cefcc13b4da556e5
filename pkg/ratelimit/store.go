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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int64
	end   time.Time
}

// MemoryStore keeps counters in process memory. Suitable for a single
// instance; a shared deployment needs a store backed by common storage.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Increment implements Store. Expired windows restart transparently.
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w, ok := s.windows[key]
	if !ok || w.end.Before(now) {
		w = &window{end: now.Add(length)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.end, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Close clears all counters.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*window)
	return nil
}

// Prune drops windows that ended before cutoff, bounding memory on long
// runs with many distinct callers.
func (s *MemoryStore) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if w.end.Before(cutoff) {
			delete(s.windows, key)
		}
	}
}
