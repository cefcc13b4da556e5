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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/observability"
)

func testConfig() *config.MemoryConfig {
	cfg := &config.MemoryConfig{}
	cfg.SetDefaults()
	return cfg
}

// freezeTime pins the package clock to start and returns an advance
// function. The original clock is restored when the test ends.
func freezeTime(t *testing.T, start time.Time) func(time.Duration) {
	t.Helper()
	current := start
	orig := timeNow
	timeNow = func() time.Time { return current }
	t.Cleanup(func() { timeNow = orig })
	return func(d time.Duration) { current = current.Add(d) }
}

func TestAddShortTermSetsTierAndExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, start)

	cfg := testConfig()
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	got, err := mgr.AddShortTerm(ctx, &Memory{
		Content:   "User asked about the weather",
		UserID:    "alice",
		SessionID: "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, TierShortTerm, got.Tier)
	assert.Equal(t, KindConversation, got.Type)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, start.Add(cfg.ShortTermRetention), *got.ExpiresAt)
}

func TestAddShortTermRejectsMissingFields(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddShortTerm(ctx, &Memory{UserID: "alice"})
	assert.Error(t, err)
	_, err = mgr.AddShortTerm(ctx, &Memory{Content: "no user"})
	assert.Error(t, err)
}

func TestAddShortTermEvictsOldestPastCap(t *testing.T) {
	advance := freezeTime(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	cfg.MaxShortTerm = 3
	store := NewMemoryStore()
	mgr := NewManager(cfg, store)
	ctx := context.Background()

	contents := []string{"first message", "second message", "third message", "fourth message"}
	for _, c := range contents {
		_, err := mgr.AddShortTerm(ctx, &Memory{Content: c, UserID: "alice", SessionID: "s1"})
		require.NoError(t, err)
		advance(time.Minute)
	}

	got, err := mgr.GetShortTerm(ctx, "alice", "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first; the oldest entry is gone.
	assert.Equal(t, "fourth message", got[0].Content)
	assert.Equal(t, "second message", got[2].Content)
}

func TestShortTermCapIsPerSession(t *testing.T) {
	advance := freezeTime(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	cfg.MaxShortTerm = 2
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	for _, session := range []string{"s1", "s2"} {
		for i := 0; i < 2; i++ {
			_, err := mgr.AddShortTerm(ctx, &Memory{Content: "msg " + session, UserID: "alice", SessionID: session})
			require.NoError(t, err)
			advance(time.Second)
		}
	}

	for _, session := range []string{"s1", "s2"} {
		got, err := mgr.GetShortTerm(ctx, "alice", session, 0)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
}

func TestGetShortTermExcludesExpired(t *testing.T) {
	advance := freezeTime(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddShortTerm(ctx, &Memory{Content: "stale", UserID: "alice", SessionID: "s1"})
	require.NoError(t, err)

	advance(cfg.ShortTermRetention + time.Minute)

	_, err = mgr.AddShortTerm(ctx, &Memory{Content: "fresh", UserID: "alice", SessionID: "s1"})
	require.NoError(t, err)

	got, err := mgr.GetShortTerm(ctx, "alice", "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Content)
}

func TestAddLongTermMergesSimilarMemory(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	first, err := mgr.AddLongTerm(ctx, &Memory{
		Content:    "User prefers metric units for all measurements and temperatures",
		UserID:     "alice",
		Category:   "preferences",
		Importance: 0.6,
		Confidence: 0.7,
	})
	require.NoError(t, err)

	merged, err := mgr.AddLongTerm(ctx, &Memory{
		Content:    "User prefers metric units for all measurements and temperatures in celsius",
		UserID:     "alice",
		Category:   "preferences",
		Importance: 0.9,
		Confidence: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, merged.ID)
	assert.Contains(t, merged.Content, "(Updated:")
	assert.Equal(t, 0.9, merged.Importance)
	assert.Equal(t, 0.7, merged.Confidence)
	assert.Greater(t, merged.Version, first.Version)

	n, err := mgr.store.Count(ctx, Equals(FieldUserID, "alice"), Equals(FieldTier, TierLongTerm))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddLongTermKeepsDistinctMemories(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddLongTerm(ctx, &Memory{Content: "User works as a marine biologist", UserID: "alice", Category: "facts"})
	require.NoError(t, err)
	_, err = mgr.AddLongTerm(ctx, &Memory{Content: "User grew up in Lisbon", UserID: "alice", Category: "facts"})
	require.NoError(t, err)

	n, err := mgr.store.Count(ctx, Equals(FieldUserID, "alice"), Equals(FieldTier, TierLongTerm))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAddLongTermEvictsLowestImportance(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLongTerm = 2
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddLongTerm(ctx, &Memory{Content: "barely matters", UserID: "alice", Importance: 0.1})
	require.NoError(t, err)
	_, err = mgr.AddLongTerm(ctx, &Memory{Content: "quite important", UserID: "alice", Importance: 0.8})
	require.NoError(t, err)
	_, err = mgr.AddLongTerm(ctx, &Memory{Content: "critical detail", UserID: "alice", Importance: 0.9})
	require.NoError(t, err)

	got, err := mgr.Query(ctx, NewQuery(Equals(FieldUserID, "alice"), Equals(FieldTier, TierLongTerm)))
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, "barely matters", m.Content)
	}
}

func TestAddUserPreferenceUpsert(t *testing.T) {
	cfg := testConfig() // update threshold 0.7
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	first, err := mgr.AddUserPreference(ctx, Preference{
		UserID:     "alice",
		Category:   "communication",
		Key:        "response style",
		Content:    "response style: concise answers",
		Importance: 0.5,
		Confidence: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, TierUserPreference, first.Tier)
	assert.Equal(t, KindPreference, first.Type)

	t.Run("identical restatement only bumps scores", func(t *testing.T) {
		got, err := mgr.AddUserPreference(ctx, Preference{
			UserID:     "alice",
			Category:   "communication",
			Key:        "response style",
			Content:    "response style: concise answers",
			Importance: 0.9,
			Confidence: 0.4,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "response style: concise answers", got.Content)
		assert.Equal(t, 0.9, got.Importance)
		assert.Equal(t, 0.6, got.Confidence)
	})

	t.Run("confident update overwrites content", func(t *testing.T) {
		got, err := mgr.AddUserPreference(ctx, Preference{
			UserID:     "alice",
			Category:   "communication",
			Key:        "response style",
			Content:    "response style: detailed answers with examples",
			Confidence: 0.8,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "response style: detailed answers with examples", got.Content)
	})

	t.Run("tentative update appends", func(t *testing.T) {
		got, err := mgr.AddUserPreference(ctx, Preference{
			UserID:     "alice",
			Category:   "communication",
			Key:        "response style",
			Content:    "response style: maybe bullet points",
			Confidence: 0.3,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		lines := strings.Split(got.Content, "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "response style: detailed answers with examples", lines[0])
		assert.Equal(t, "response style: maybe bullet points", lines[1])
	})

	n, err := mgr.store.Count(ctx, Equals(FieldUserID, "alice"), Equals(FieldTier, TierUserPreference))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddUserPreferenceSeparateCategories(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddUserPreference(ctx, Preference{UserID: "alice", Category: "food", Content: "cuisine: italian"})
	require.NoError(t, err)
	_, err = mgr.AddUserPreference(ctx, Preference{UserID: "alice", Category: "music", Content: "genre: jazz"})
	require.NoError(t, err)

	all, err := mgr.GetUserPreferences(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	food, err := mgr.GetUserPreferences(ctx, "alice", "food")
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, "cuisine: italian", food[0].Content)
}

func TestSearchLongTermKeywordFallback(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddLongTerm(ctx, &Memory{Content: "User enjoys hiking in the mountains", UserID: "alice"})
	require.NoError(t, err)
	_, err = mgr.AddLongTerm(ctx, &Memory{Content: "User dislikes crowded beaches", UserID: "alice"})
	require.NoError(t, err)
	_, err = mgr.AddLongTerm(ctx, &Memory{Content: "Bob enjoys hiking too", UserID: "bob"})
	require.NoError(t, err)

	got, err := mgr.SearchLongTerm(ctx, "alice", "hiking mountains", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID)
	assert.Contains(t, got[0].Content, "hiking")
}

func TestSearchWithContextResolvesRelated(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	target, err := mgr.AddLongTerm(ctx, &Memory{Content: "User completed the marathon training plan", UserID: "alice"})
	require.NoError(t, err)

	_, err = mgr.AddLongTerm(ctx, &Memory{
		Content: "User is preparing for a marathon in spring",
		UserID:  "alice",
		Relationships: []Relationship{
			{TargetID: target.ID, Kind: RelationSupports, Strength: 0.8},
			{TargetID: "dangling-id", Kind: RelationRelated, Strength: 0.2},
		},
	})
	require.NoError(t, err)

	results, err := mgr.SearchWithContext(ctx, "marathon", "alice", &SearchOptions{SessionID: "s1"})
	require.NoError(t, err)

	// Both memories match the query, so the relationship target is already
	// present and must not be duplicated into Related.
	assert.Len(t, results.LongTerm, 2)
	assert.Empty(t, results.Related)

	// Narrow the long-term section so the target memory arrives via the
	// relationship edge instead.
	results, err = mgr.SearchWithContext(ctx, "preparing spring", "alice", &SearchOptions{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results.LongTerm, 1)
	require.Len(t, results.Related, 1)
	assert.Equal(t, target.ID, results.Related[0].ID)
}

func TestConsolidatePromotesImportantShortTerm(t *testing.T) {
	cfg := testConfig() // consolidation threshold 0.8
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	important, err := mgr.AddShortTerm(ctx, &Memory{
		Content:    "User revealed they are changing careers to data science",
		UserID:     "alice",
		SessionID:  "s1",
		Importance: 0.9,
	})
	require.NoError(t, err)
	_, err = mgr.AddShortTerm(ctx, &Memory{
		Content:    "User said hello",
		UserID:     "alice",
		SessionID:  "s1",
		Importance: 0.1,
	})
	require.NoError(t, err)

	promoted, err := mgr.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	longTerm, err := mgr.Query(ctx, NewQuery(Equals(FieldUserID, "alice"), Equals(FieldTier, TierLongTerm)))
	require.NoError(t, err)
	require.Len(t, longTerm, 1)
	assert.Equal(t, important.ID, longTerm[0].ExtractedFrom)

	source, err := mgr.FindByID(ctx, important.ID)
	require.NoError(t, err)
	assert.True(t, source.Consolidated)
	require.NotNil(t, source.ConsolidatedAt)

	// Re-running finds nothing new to promote.
	promoted, err = mgr.Consolidate(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, promoted)

	longTerm, err = mgr.Query(ctx, NewQuery(Equals(FieldUserID, "alice"), Equals(FieldTier, TierLongTerm)))
	require.NoError(t, err)
	assert.Len(t, longTerm, 1)
}

func TestCleanupRemovesExpired(t *testing.T) {
	advance := freezeTime(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	mgr := NewManager(cfg, NewMemoryStore())
	ctx := context.Background()

	_, err := mgr.AddShortTerm(ctx, &Memory{Content: "old chatter", UserID: "alice", SessionID: "s1"})
	require.NoError(t, err)

	advance(cfg.ShortTermRetention + time.Minute)

	_, err = mgr.AddShortTerm(ctx, &Memory{Content: "recent chatter", UserID: "alice", SessionID: "s1"})
	require.NoError(t, err)

	removed, err := mgr.Cleanup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := mgr.store.Count(ctx, Equals(FieldUserID, "alice"), Equals(FieldTier, TierShortTerm))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertDispatchesByTier(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	shortID, err := mgr.Insert(ctx, &Memory{Content: "chat", UserID: "u", SessionID: "s", Tier: TierShortTerm})
	require.NoError(t, err)
	short, err := mgr.FindByID(ctx, shortID)
	require.NoError(t, err)
	assert.NotNil(t, short.ExpiresAt)

	longID, err := mgr.Insert(ctx, &Memory{Content: "a lasting fact", UserID: "u", Tier: TierLongTerm})
	require.NoError(t, err)
	long, err := mgr.FindByID(ctx, longID)
	require.NoError(t, err)
	assert.Nil(t, long.ExpiresAt)

	_, err = mgr.Insert(ctx, &Memory{Content: "x", UserID: "u", Tier: Tier("bogus")})
	assert.Error(t, err)
}

func TestUpdateKeepsExpiryOnItsTier(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	ctx := context.Background()

	short, err := mgr.AddShortTerm(ctx, &Memory{Content: "chat", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	long, err := mgr.AddLongTerm(ctx, &Memory{Content: "a lasting fact", UserID: "u"})
	require.NoError(t, err)

	// Long-term entries never expire; short-term entries always do.
	_, err = mgr.Update(ctx, long.ID, map[Field]any{FieldExpiresAt: time.Now().Add(time.Hour)})
	assert.Error(t, err)
	_, err = mgr.Update(ctx, short.ID, map[Field]any{FieldExpiresAt: nil})
	assert.Error(t, err)

	// Moving a short-term expiry forward is fine.
	later := time.Now().Add(2 * time.Hour)
	ok, err := mgr.Update(ctx, short.ID, map[Field]any{FieldExpiresAt: later})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mgr.FindByID(ctx, short.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, later, *got.ExpiresAt)

	ok, err = mgr.Update(ctx, "missing", map[Field]any{FieldExpiresAt: nil})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteEmitsObserverEvent(t *testing.T) {
	recorder := &eventRecorder{}
	mgr := NewManager(testConfig(), NewMemoryStore(), WithObserver(recorder))
	ctx := context.Background()

	m, err := mgr.AddLongTerm(ctx, &Memory{Content: "to be removed", UserID: "u"})
	require.NoError(t, err)

	existed, err := mgr.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = mgr.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	assert.Equal(t, []string{m.ID}, recorder.deleted)
	assert.Equal(t, []string{m.ID}, recorder.inserted)
}

func TestManagerCloseIdempotent(t *testing.T) {
	mgr := NewManager(testConfig(), NewMemoryStore())
	mgr.Start()
	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())
}

type eventRecorder struct {
	observability.NopObserver
	inserted     []string
	deleted      []string
	consolidated int
	cleaned      int
}

func (r *eventRecorder) MemoryInserted(_ context.Context, id, _, _ string) {
	r.inserted = append(r.inserted, id)
}

func (r *eventRecorder) MemoryDeleted(_ context.Context, id string) {
	r.deleted = append(r.deleted, id)
}

func (r *eventRecorder) MemoriesConsolidated(_ context.Context, _ string, count int) {
	r.consolidated += count
}

func (r *eventRecorder) MemoriesCleaned(_ context.Context, count int) {
	r.cleaned += count
}
