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
	"fmt"
	"time"
)

// timeNow is replaceable in tests that exercise retention windows.
var timeNow = time.Now

// Store is the persistence contract of the memory system. Implementations
// must make per-id updates atomic: version bumps, access accounting and
// field application for one id never interleave.
//
// Query and FindByID perform access accounting on every returned entry
// (LastAccessed set to now, AccessCount incremented) and return detached
// copies.
type Store interface {
	// Insert stores the memory and returns its id, assigning one when
	// unset.
	Insert(ctx context.Context, m *Memory) (string, error)

	// Query evaluates the predicate conjunction plus the optional relevance
	// clause, ordered and paginated.
	Query(ctx context.Context, q *Query) ([]*Memory, error)

	// Update applies the field map to the memory, incrementing its version
	// by exactly one. It reports false when the id does not exist.
	Update(ctx context.Context, id string, fields map[Field]any) (bool, error)

	// Delete removes the memory, reporting false when it was already gone.
	Delete(ctx context.Context, id string) (bool, error)

	// Count returns how many memories satisfy the predicates.
	Count(ctx context.Context, preds ...Predicate) (int, error)

	// FindByID returns the memory or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Memory, error)

	// Close releases store resources.
	Close() error
}

// applyField mutates one updatable field on m. The updatable set is
// narrower than the queryable set; stores share this to keep semantics
// identical.
func applyField(m *Memory, f Field, v any) error {
	switch f {
	case FieldContent:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", f, v)
		}
		m.Content = s
	case FieldCategory:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", f, v)
		}
		m.Category = s
	case FieldType:
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", f, v)
		}
		m.Type = Kind(s)
	case FieldImportance:
		n, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("field %s: expected number, got %T", f, v)
		}
		m.Importance = n
	case FieldConfidence:
		n, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("field %s: expected number, got %T", f, v)
		}
		m.Confidence = n
	case FieldConsolidated:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("field %s: expected bool, got %T", f, v)
		}
		m.Consolidated = b
	case FieldConsolidatedAt:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("field %s: expected time, got %T", f, v)
		}
		m.ConsolidatedAt = &t
	case FieldExpiresAt:
		switch t := v.(type) {
		case nil:
			m.ExpiresAt = nil
		case time.Time:
			m.ExpiresAt = &t
		default:
			return fmt.Errorf("field %s: expected time or nil, got %T", f, v)
		}
	default:
		return fmt.Errorf("field %s is not updatable", f)
	}
	return nil
}

// prepareInsert fills derived fields before a store persists m.
func prepareInsert(m *Memory, newID func() string) {
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = m.CreatedAt
	}
	if m.Version == 0 {
		m.Version = 1
	}
}
