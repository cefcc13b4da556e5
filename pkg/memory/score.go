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
	"math"
	"strings"
)

// tokenize splits text into a lowercase word set, trimming punctuation and
// dropping words of one or two characters.
func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 2 {
			words[word] = struct{}{}
		}
	}
	return words
}

// keywordScore is the lexical relevance baseline: 1.0 when the content
// contains the whole query phrase case-insensitively, otherwise the
// fraction of query tokens present in the content.
func keywordScore(query string, queryTokens map[string]struct{}, content string) float64 {
	if query == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(content), strings.ToLower(query)) {
		return 1.0
	}
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenize(content)
	matched := 0
	for word := range queryTokens {
		if _, ok := docTokens[word]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// jaccardSimilarity measures word-set overlap between two texts, used by
// long-term conflict resolution.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenize(a)
	setB := tokenize(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// sharesPrefix reports whether two contents agree on their leading n
// characters (or their full length when shorter), the cheap candidate
// filter before the Jaccard comparison.
func sharesPrefix(a, b string, n int) bool {
	if len(a) > n {
		a = a[:n]
	}
	if len(b) > n {
		b = b[:n]
	}
	if len(a) < len(b) {
		return strings.EqualFold(a, b[:len(a)])
	}
	return strings.EqualFold(a[:len(b)], b)
}

// mergeContents combines a memory's existing content with an update. The
// sentinel keeps both texts intact so no information is lost.
func mergeContents(existing, update string) string {
	return existing + " (Updated: " + update + ")"
}
