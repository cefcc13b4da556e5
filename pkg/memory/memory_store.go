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

package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used by default and in tests. One
// mutex guards the map; every compound operation (insert, field update,
// access accounting) runs atomically under it.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Memory
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Memory)}
}

// Insert stores a copy of m, detached from the caller's value.
func (s *MemoryStore) Insert(_ context.Context, m *Memory) (string, error) {
	entry := m.Clone()
	prepareInsert(entry, func() string { return uuid.New().String() })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return entry.ID, nil
}

// Query filters, scores, orders and paginates, then performs access
// accounting on the returned entries.
func (s *MemoryStore) Query(_ context.Context, q *Query) ([]*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Memory
	for _, m := range s.entries {
		if matchesAll(m, q.Predicates) {
			candidates = append(candidates, m)
		}
	}

	selected := evaluate(q, candidates)

	now := timeNow()
	out := make([]*Memory, len(selected))
	for i, m := range selected {
		m.LastAccessed = now
		m.AccessCount++
		out[i] = m.Clone()
	}
	return out, nil
}

// Update applies fields and bumps the version by exactly one.
func (s *MemoryStore) Update(_ context.Context, id string, fields map[Field]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	// Apply onto a copy first so a bad field leaves the entry untouched.
	updated := m.Clone()
	for f, v := range fields {
		if err := applyField(updated, f, v); err != nil {
			return false, err
		}
	}
	updated.Version = m.Version + 1
	updated.UpdatedAt = timeNow()
	s.entries[id] = updated
	return true, nil
}

// Delete removes the entry; deleting twice reports false the second time.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

// Count returns how many entries satisfy the predicates.
func (s *MemoryStore) Count(_ context.Context, preds ...Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.entries {
		if matchesAll(m, preds) {
			n++
		}
	}
	return n, nil
}

// FindByID returns the entry with access accounting applied.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.LastAccessed = timeNow()
	m.AccessCount++
	return m.Clone(), nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}
