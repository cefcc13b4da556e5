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
	"log/slog"

	"github.com/kadirpekel/ensemble/pkg/embedder"
	"github.com/kadirpekel/ensemble/pkg/vector"
)

// VectorIndex upgrades long-term recall from lexical overlap to embedding
// similarity. It is optional: the manager falls back to the keyword scorer
// when no index is attached, and index failures never fail the memory
// operation that triggered them.
type VectorIndex struct {
	provider   vector.Provider
	embedder   embedder.Embedder
	collection string
	logger     *slog.Logger
}

// NewVectorIndex ensures the collection exists and returns the index.
func NewVectorIndex(ctx context.Context, provider vector.Provider, emb embedder.Embedder, collection string) (*VectorIndex, error) {
	if collection == "" {
		collection = "ensemble-memories"
	}
	if err := provider.CreateCollection(ctx, collection, emb.Dimension()); err != nil {
		return nil, fmt.Errorf("creating memory collection: %w", err)
	}
	return &VectorIndex{
		provider:   provider,
		embedder:   emb,
		collection: collection,
		logger:     slog.Default(),
	}, nil
}

// Index embeds the memory's content and upserts it, keyed by memory id.
func (ix *VectorIndex) Index(ctx context.Context, m *Memory) error {
	vec, err := ix.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embedding memory %s: %w", m.ID, err)
	}
	metadata := map[string]any{
		"user_id":  m.UserID,
		"tier":     string(m.Tier),
		"type":     string(m.Type),
		"category": m.Category,
	}
	if err := ix.provider.Upsert(ctx, ix.collection, m.ID, vec, metadata); err != nil {
		return fmt.Errorf("indexing memory %s: %w", m.ID, err)
	}
	return nil
}

// Search returns ids of the user's most similar memories, best first.
func (ix *VectorIndex) Search(ctx context.Context, userID, query string, limit int) ([]string, error) {
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := ix.provider.SearchWithFilter(ctx, ix.collection, vec, limit, map[string]any{
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Remove drops the memory from the index. Missing entries are not an
// error.
func (ix *VectorIndex) Remove(ctx context.Context, id string) error {
	return ix.provider.Delete(ctx, ix.collection, id)
}

// Close releases the provider and embedder.
func (ix *VectorIndex) Close() error {
	if err := ix.provider.Close(); err != nil {
		return err
	}
	return ix.embedder.Close()
}
