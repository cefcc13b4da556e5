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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateMatches(t *testing.T) {
	expires := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	m := &Memory{
		ID:         "m1",
		Content:    "Alice prefers concise answers",
		Type:       KindPreference,
		Category:   "communication",
		Importance: 0.8,
		Confidence: 0.9,
		UserID:     "alice",
		SessionID:  "s1",
		Tier:       TierUserPreference,
		ExpiresAt:  &expires,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:    2,
	}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"equals string", Equals(FieldUserID, "alice"), true},
		{"equals miss", Equals(FieldUserID, "bob"), false},
		{"equals tier value", Equals(FieldTier, TierUserPreference), true},
		{"equals kind value", Equals(FieldType, KindPreference), true},
		{"not equals", NotEquals(FieldCategory, "food"), true},
		{"less than number", LessThan(FieldImportance, 0.9), true},
		{"at least number", AtLeast(FieldConfidence, 0.9), true},
		{"greater than time", GreaterThan(FieldCreatedAt, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)), true},
		{"less than expiry", LessThan(FieldExpiresAt, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)), true},
		{"contains case-insensitive", ContainsText(FieldContent, "CONCISE"), true},
		{"contains miss", ContainsText(FieldContent, "verbose"), false},
		{"in", In(FieldCategory, "food", "communication"), true},
		{"in miss", In(FieldCategory, "food", "travel"), false},
		{"between", Between(FieldImportance, 0.5, 1.0), true},
		{"between exclusive miss", Between(FieldImportance, 0.81, 1.0), false},
		{"version as number", AtLeast(FieldVersion, 2), true},
		{"incomparable types", LessThan(FieldUserID, 42), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Matches(m))
		})
	}
}

func TestPredicateNilExpiry(t *testing.T) {
	m := &Memory{ID: "m1", Tier: TierLongTerm}

	assert.True(t, Equals(FieldExpiresAt, nil).Matches(m))
	assert.False(t, LessThan(FieldExpiresAt, time.Now()).Matches(m))
	assert.False(t, GreaterThan(FieldExpiresAt, time.Now()).Matches(m))
}

func TestEvaluateOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mems := []*Memory{
		{ID: "a", Content: "first", Importance: 0.2, CreatedAt: base},
		{ID: "b", Content: "second", Importance: 0.9, CreatedAt: base.Add(time.Hour)},
		{ID: "c", Content: "third", Importance: 0.5, CreatedAt: base.Add(2 * time.Hour)},
	}

	t.Run("default is creation time descending", func(t *testing.T) {
		got := evaluate(NewQuery(), mems)
		require.Len(t, got, 3)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "a", got[2].ID)
	})

	t.Run("explicit order wins", func(t *testing.T) {
		got := evaluate(NewQuery().SortBy(FieldImportance, true), mems)
		require.Len(t, got, 3)
		assert.Equal(t, "b", got[0].ID)
		assert.Equal(t, "a", got[2].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		got := evaluate(NewQuery().SortBy(FieldImportance, false).Page(1, 1), mems)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID)
	})

	t.Run("offset past end", func(t *testing.T) {
		assert.Empty(t, evaluate(NewQuery().Page(10, 5), mems))
	})
}

func TestEvaluateSemantic(t *testing.T) {
	mems := []*Memory{
		{ID: "a", Content: "Alice enjoys hiking in the mountains"},
		{ID: "b", Content: "Bob likes hiking trails near rivers"},
		{ID: "c", Content: "Unrelated grocery list"},
	}

	got := evaluate(NewQuery().WithSemantic("hiking mountains", 10), mems)
	require.Len(t, got, 2)
	// Both query tokens appear in a, only one in b.
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestEvaluateSemanticPhraseMatch(t *testing.T) {
	mems := []*Memory{
		{ID: "a", Content: "Alice prefers Concise Answers always"},
		{ID: "b", Content: "answers that are short but elsewhere"},
	}

	got := evaluate(NewQuery().WithSemantic("concise answers", 10), mems)
	require.NotEmpty(t, got)
	assert.Equal(t, "a", got[0].ID)
}

func TestEvaluateSemanticLimitNarrowsQueryLimit(t *testing.T) {
	mems := []*Memory{
		{ID: "a", Content: "hiking one"},
		{ID: "b", Content: "hiking two"},
		{ID: "c", Content: "hiking three"},
	}

	got := evaluate(NewQuery().WithSemantic("hiking", 2).Page(10, 0), mems)
	assert.Len(t, got, 2)
}

func TestEvaluateSimilar(t *testing.T) {
	mems := []*Memory{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0.9, 0.1}},
		{ID: "c", Embedding: []float32{0, 1}},
		{ID: "d"}, // no embedding
	}

	got := evaluate(NewQuery().WithSimilar([]float32{1, 0}, 0.5), mems)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		want    float64
	}{
		{"whole phrase", "concise answers", "please give Concise Answers here", 1.0},
		{"partial tokens", "hiking mountains rivers", "I love hiking near mountains", 2.0 / 3.0},
		{"no overlap", "quantum physics", "grocery shopping list", 0},
		{"empty query", "", "anything", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, keywordScore(tt.query, tokenize(tt.query), tt.content), 1e-9)
		})
	}
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity("alice likes hiking", "Alice likes hiking!"))
	assert.Equal(t, 0.0, jaccardSimilarity("alpha beta", "gamma delta"))
	assert.Greater(t, jaccardSimilarity("alice likes hiking trails", "alice likes hiking"), 0.7)
}

func TestSharesPrefix(t *testing.T) {
	long := "User prefers metric units for all measurements and temperatures"
	assert.True(t, sharesPrefix(long, long+" in Celsius", 50))
	assert.True(t, sharesPrefix("short", "SHORT and then some", 50))
	assert.False(t, sharesPrefix("User prefers metric units", "User dislikes metric units", 50))
}

func TestMergeContents(t *testing.T) {
	assert.Equal(t, "likes tea (Updated: likes green tea)", mergeContents("likes tea", "likes green tea"))
}
