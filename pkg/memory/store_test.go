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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInsertAssignsDerivedFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Memory{Content: "hello", UserID: "u1", Tier: TierShortTerm})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	m, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Version)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, m.CreatedAt, m.UpdatedAt)
}

func TestMemoryStoreInsertDetachesCallerValue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	src := &Memory{Content: "original", UserID: "u1", Tier: TierLongTerm, Tags: []string{"a"}}
	id, err := store.Insert(ctx, src)
	require.NoError(t, err)

	src.Content = "mutated"
	src.Tags[0] = "z"

	m, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "original", m.Content)
	assert.Equal(t, []string{"a"}, m.Tags)
}

func TestMemoryStoreFindByIDAccounting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Memory{Content: "x", UserID: "u1", Tier: TierLongTerm})
	require.NoError(t, err)

	first, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	second, err := store.FindByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.AccessCount)
	assert.Equal(t, int64(2), second.AccessCount)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Memory{Content: "before", UserID: "u1", Tier: TierLongTerm, Importance: 0.3})
	require.NoError(t, err)

	ok, err := store.Update(ctx, id, map[Field]any{
		FieldContent:    "after",
		FieldImportance: 0.7,
	})
	require.NoError(t, err)
	require.True(t, ok)

	m, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "after", m.Content)
	assert.Equal(t, 0.7, m.Importance)
	assert.Equal(t, int64(2), m.Version)
}

func TestMemoryStoreUpdateBadFieldLeavesEntryUntouched(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Memory{Content: "before", UserID: "u1", Tier: TierLongTerm})
	require.NoError(t, err)

	_, err = store.Update(ctx, id, map[Field]any{
		FieldContent:    "after",
		FieldImportance: "not a number",
	})
	require.Error(t, err)

	m, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "before", m.Content)
	assert.Equal(t, int64(1), m.Version)
}

func TestMemoryStoreUpdateImmutableField(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Memory{Content: "x", UserID: "u1", Tier: TierLongTerm})
	require.NoError(t, err)

	_, err = store.Update(ctx, id, map[Field]any{FieldUserID: "u2"})
	assert.Error(t, err)
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	store := NewMemoryStore()

	ok, err := store.Update(context.Background(), "missing", map[Field]any{FieldContent: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, &Memory{Content: "x", UserID: "u1", Tier: TierShortTerm})
	require.NoError(t, err)

	existed, err := store.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStoreQueryAndCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, m := range []*Memory{
		{Content: "alice fact one", UserID: "alice", Tier: TierLongTerm, Importance: 0.9},
		{Content: "alice fact two", UserID: "alice", Tier: TierLongTerm, Importance: 0.4},
		{Content: "bob fact", UserID: "bob", Tier: TierLongTerm, Importance: 0.5},
		{Content: "alice chat", UserID: "alice", SessionID: "s1", Tier: TierShortTerm},
	} {
		_, err := store.Insert(ctx, m)
		require.NoError(t, err)
	}

	n, err := store.Count(ctx, Equals(FieldUserID, "alice"), Equals(FieldTier, TierLongTerm))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Query(ctx, NewQuery(
		Equals(FieldUserID, "alice"),
		Equals(FieldTier, TierLongTerm),
	).SortBy(FieldImportance, true))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice fact one", got[0].Content)
	assert.Equal(t, int64(1), got[0].AccessCount)
}

func TestMemoryStoreQueryClearsExpiredWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	_, err := store.Insert(ctx, &Memory{Content: "expired", UserID: "u1", Tier: TierShortTerm, ExpiresAt: &past})
	require.NoError(t, err)
	_, err = store.Insert(ctx, &Memory{Content: "live", UserID: "u1", Tier: TierShortTerm, ExpiresAt: &future})
	require.NoError(t, err)

	got, err := store.Query(ctx, NewQuery(
		Equals(FieldUserID, "u1"),
		GreaterThan(FieldExpiresAt, time.Now()),
	))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].Content)
}
