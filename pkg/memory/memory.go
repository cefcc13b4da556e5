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

// Package memory implements the tiered memory system: short-term entries
// with a TTL, long-term entries with conflict resolution, and user
// preferences with upsert semantics, over a pluggable Store queried through
// a closed predicate model.
package memory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an id does not resolve to a memory.
var ErrNotFound = errors.New("memory not found")

// Kind categorises what a memory records.
type Kind string

const (
	KindConversation   Kind = "conversation"
	KindPreference     Kind = "preference"
	KindFact           Kind = "fact"
	KindInterest       Kind = "interest"
	KindTaskResult     Kind = "task_result"
	KindPlanningResult Kind = "planning_result"
	KindExtractedFact  Kind = "extracted_fact"
)

// Tier is the retention class of a memory.
type Tier string

const (
	// TierShortTerm entries carry an expiry and a per-session cap.
	TierShortTerm Tier = "short_term"

	// TierLongTerm entries persist until the per-user cap evicts the least
	// important ones.
	TierLongTerm Tier = "long_term"

	// TierUserPreference entries are upserted by user, category and key.
	TierUserPreference Tier = "user_preference"
)

// RelationKind labels an edge between two memories.
type RelationKind string

const (
	RelationRelated     RelationKind = "related"
	RelationContradicts RelationKind = "contradicts"
	RelationSupports    RelationKind = "supports"
	RelationFollows     RelationKind = "follows"
)

// Relationship is one directed edge in the memory graph. Targets are held
// by id only and resolved lazily; related memories are never embedded.
type Relationship struct {
	TargetID string       `json:"targetId"`
	Kind     RelationKind `json:"kind"`
	Strength float64      `json:"strength"`
}

// Memory is one stored entry of any tier.
type Memory struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Type       Kind           `json:"type"`
	Category   string         `json:"category,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Importance float64        `json:"importance"`
	Confidence float64        `json:"confidence"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`

	Tier      Tier       `json:"memoryType"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// ExtractedFrom is the short-term source id when this entry was
	// produced by consolidation.
	ExtractedFrom string `json:"extractedFrom,omitempty"`

	Consolidated   bool       `json:"consolidated,omitempty"`
	ConsolidatedAt *time.Time `json:"consolidatedAt,omitempty"`

	Relationships []Relationship `json:"relationships,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastAccessed time.Time `json:"lastAccessed"`
	AccessCount  int64     `json:"accessCount"`
	Version      int64     `json:"version"`
}

// Expired reports whether a short-term memory has outlived its retention.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Clone deep-copies the memory so callers can mutate the result freely.
func (m *Memory) Clone() *Memory {
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Relationships != nil {
		c.Relationships = append([]Relationship(nil), m.Relationships...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	if m.ConsolidatedAt != nil {
		t := *m.ConsolidatedAt
		c.ConsolidatedAt = &t
	}
	return &c
}
