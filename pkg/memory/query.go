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
	"sort"
	"strings"
	"time"
)

// Field enumerates the queryable attributes of a Memory. Stores match on
// this closed set; there is no reflective field access.
type Field string

const (
	FieldID            Field = "id"
	FieldContent       Field = "content"
	FieldType          Field = "type"
	FieldCategory      Field = "category"
	FieldImportance    Field = "importance"
	FieldConfidence    Field = "confidence"
	FieldUserID        Field = "user_id"
	FieldSessionID     Field = "session_id"
	FieldTier          Field = "tier"
	FieldExpiresAt     Field = "expires_at"
	FieldExtractedFrom  Field = "extracted_from"
	FieldConsolidated   Field = "consolidated"
	FieldConsolidatedAt Field = "consolidated_at"
	FieldCreatedAt     Field = "created_at"
	FieldUpdatedAt     Field = "updated_at"
	FieldLastAccessed  Field = "last_accessed"
	FieldAccessCount   Field = "access_count"
	FieldVersion       Field = "version"
)

// Op is a predicate operator.
type Op string

const (
	OpEquals    Op = "eq"
	OpNotEquals Op = "neq"
	OpLess      Op = "lt"
	OpAtMost    Op = "lte"
	OpGreater   Op = "gt"
	OpAtLeast   Op = "gte"
	OpContains  Op = "contains"
	OpIn        Op = "in"
	OpBetween   Op = "between"
)

// Predicate is one conjunct of a query.
type Predicate struct {
	Field  Field
	Op     Op
	Value  any
	Values []any // in
	Lo, Hi any   // between
}

func Equals(f Field, v any) Predicate      { return Predicate{Field: f, Op: OpEquals, Value: v} }
func NotEquals(f Field, v any) Predicate   { return Predicate{Field: f, Op: OpNotEquals, Value: v} }
func LessThan(f Field, v any) Predicate    { return Predicate{Field: f, Op: OpLess, Value: v} }
func AtMost(f Field, v any) Predicate      { return Predicate{Field: f, Op: OpAtMost, Value: v} }
func GreaterThan(f Field, v any) Predicate { return Predicate{Field: f, Op: OpGreater, Value: v} }
func AtLeast(f Field, v any) Predicate     { return Predicate{Field: f, Op: OpAtLeast, Value: v} }
func ContainsText(f Field, substr string) Predicate {
	return Predicate{Field: f, Op: OpContains, Value: substr}
}
func In(f Field, vs ...any) Predicate      { return Predicate{Field: f, Op: OpIn, Values: vs} }
func Between(f Field, lo, hi any) Predicate {
	return Predicate{Field: f, Op: OpBetween, Lo: lo, Hi: hi}
}

// SemanticClause scores entries by lexical overlap with Text: an entry
// containing the whole phrase (case-insensitive) scores 1.0, otherwise the
// fraction of query tokens present in its content. Zero scores are
// excluded.
type SemanticClause struct {
	Text  string
	Limit int
}

// SimilarClause scores entries by cosine similarity against Vector,
// excluding entries below Threshold or without an embedding.
type SimilarClause struct {
	Vector    []float32
	Threshold float64
}

// Order sorts results by one field.
type Order struct {
	Field Field
	Desc  bool
}

// Query is a conjunction of predicates plus at most one relevance clause.
// Results honour Order when set, else relevance score descending, else
// creation time descending, then Offset/Limit.
type Query struct {
	Predicates []Predicate
	Semantic   *SemanticClause
	Similar    *SimilarClause
	OrderBy    *Order
	Limit      int
	Offset     int
}

// NewQuery starts a query with the given predicates.
func NewQuery(preds ...Predicate) *Query {
	return &Query{Predicates: preds}
}

// Where appends a predicate.
func (q *Query) Where(p Predicate) *Query {
	q.Predicates = append(q.Predicates, p)
	return q
}

// WithSemantic attaches lexical relevance scoring.
func (q *Query) WithSemantic(text string, limit int) *Query {
	q.Semantic = &SemanticClause{Text: text, Limit: limit}
	return q
}

// WithSimilar attaches cosine-similarity scoring.
func (q *Query) WithSimilar(vector []float32, threshold float64) *Query {
	q.Similar = &SimilarClause{Vector: vector, Threshold: threshold}
	return q
}

// SortBy sets the explicit result order.
func (q *Query) SortBy(f Field, desc bool) *Query {
	q.OrderBy = &Order{Field: f, Desc: desc}
	return q
}

// Page sets limit and offset.
func (q *Query) Page(limit, offset int) *Query {
	q.Limit = limit
	q.Offset = offset
	return q
}

// fieldValue projects one field of a memory for predicate evaluation.
// Numeric fields project to float64, times to time.Time, the rest to their
// natural type.
func fieldValue(m *Memory, f Field) any {
	switch f {
	case FieldID:
		return m.ID
	case FieldContent:
		return m.Content
	case FieldType:
		return string(m.Type)
	case FieldCategory:
		return m.Category
	case FieldImportance:
		return m.Importance
	case FieldConfidence:
		return m.Confidence
	case FieldUserID:
		return m.UserID
	case FieldSessionID:
		return m.SessionID
	case FieldTier:
		return string(m.Tier)
	case FieldExpiresAt:
		if m.ExpiresAt == nil {
			return nil
		}
		return *m.ExpiresAt
	case FieldExtractedFrom:
		return m.ExtractedFrom
	case FieldConsolidated:
		return m.Consolidated
	case FieldConsolidatedAt:
		if m.ConsolidatedAt == nil {
			return nil
		}
		return *m.ConsolidatedAt
	case FieldCreatedAt:
		return m.CreatedAt
	case FieldUpdatedAt:
		return m.UpdatedAt
	case FieldLastAccessed:
		return m.LastAccessed
	case FieldAccessCount:
		return float64(m.AccessCount)
	case FieldVersion:
		return float64(m.Version)
	default:
		return nil
	}
}

// Matches evaluates the predicate against m.
func (p Predicate) Matches(m *Memory) bool {
	got := fieldValue(m, p.Field)
	switch p.Op {
	case OpEquals:
		return compareEqual(got, p.Value)
	case OpNotEquals:
		return !compareEqual(got, p.Value)
	case OpLess:
		c, ok := compareOrder(got, p.Value)
		return ok && c < 0
	case OpAtMost:
		c, ok := compareOrder(got, p.Value)
		return ok && c <= 0
	case OpGreater:
		c, ok := compareOrder(got, p.Value)
		return ok && c > 0
	case OpAtLeast:
		c, ok := compareOrder(got, p.Value)
		return ok && c >= 0
	case OpContains:
		s, ok := got.(string)
		substr, ok2 := p.Value.(string)
		return ok && ok2 && strings.Contains(strings.ToLower(s), strings.ToLower(substr))
	case OpIn:
		for _, v := range p.Values {
			if compareEqual(got, v) {
				return true
			}
		}
		return false
	case OpBetween:
		lo, okLo := compareOrder(got, p.Lo)
		hi, okHi := compareOrder(got, p.Hi)
		return okLo && okHi && lo >= 0 && hi <= 0
	default:
		return false
	}
}

func matchesAll(m *Memory, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Matches(m) {
			return false
		}
	}
	return true
}

func compareEqual(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
		return false
	}
	if gt, ok := got.(time.Time); ok {
		if wt, ok := asTime(want); ok {
			return gt.Equal(wt)
		}
		return false
	}
	if gs, ok := got.(string); ok {
		if ws, ok := asString(want); ok {
			return gs == ws
		}
		return false
	}
	return got == want
}

// compareOrder returns -1/0/1 for got versus want, or ok=false when the
// values are not comparable.
func compareOrder(got, want any) (int, bool) {
	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(want)
		if !ok {
			return 0, false
		}
		switch {
		case gf < wf:
			return -1, true
		case gf > wf:
			return 1, true
		default:
			return 0, true
		}
	}
	if gt, ok := got.(time.Time); ok {
		wt, ok := asTime(want)
		if !ok {
			return 0, false
		}
		switch {
		case gt.Before(wt):
			return -1, true
		case gt.After(wt):
			return 1, true
		default:
			return 0, true
		}
	}
	if gs, ok := got.(string); ok {
		ws, ok := asString(want)
		if !ok {
			return 0, false
		}
		return strings.Compare(gs, ws), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case Kind:
		return string(s), true
	case Tier:
		return string(s), true
	default:
		return "", false
	}
}

// scored pairs a memory with its relevance for sorting.
type scored struct {
	mem   *Memory
	score float64
}

// evaluate runs the full query pipeline over candidates that already
// passed the predicate conjunction: relevance scoring, ordering and
// pagination. Shared by both store implementations.
func evaluate(q *Query, candidates []*Memory) []*Memory {
	var hits []scored
	switch {
	case q.Semantic != nil:
		queryTokens := tokenize(q.Semantic.Text)
		for _, m := range candidates {
			score := keywordScore(q.Semantic.Text, queryTokens, m.Content)
			if score > 0 {
				hits = append(hits, scored{mem: m, score: score})
			}
		}
	case q.Similar != nil:
		for _, m := range candidates {
			if len(m.Embedding) == 0 {
				continue
			}
			score := cosineSimilarity(q.Similar.Vector, m.Embedding)
			if score >= q.Similar.Threshold {
				hits = append(hits, scored{mem: m, score: score})
			}
		}
	default:
		for _, m := range candidates {
			hits = append(hits, scored{mem: m})
		}
	}

	switch {
	case q.OrderBy != nil:
		sort.SliceStable(hits, func(i, j int) bool {
			c, ok := compareOrder(fieldValue(hits[i].mem, q.OrderBy.Field), fieldValue(hits[j].mem, q.OrderBy.Field))
			if !ok {
				return false
			}
			if q.OrderBy.Desc {
				return c > 0
			}
			return c < 0
		})
	case q.Semantic != nil || q.Similar != nil:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	default:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].mem.CreatedAt.After(hits[j].mem.CreatedAt) })
	}

	limit := q.Limit
	if q.Semantic != nil && q.Semantic.Limit > 0 && (limit == 0 || q.Semantic.Limit < limit) {
		limit = q.Semantic.Limit
	}

	if q.Offset >= len(hits) {
		return nil
	}
	hits = hits[q.Offset:]
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]*Memory, len(hits))
	for i, h := range hits {
		out[i] = h.mem
	}
	return out
}
