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

// Package vector provides pluggable vector database backends for similarity
// search over memory embeddings.
package vector

import (
	"context"
	"fmt"

	"github.com/kadirpekel/ensemble/pkg/config"
)

// Result is one similarity match.
type Result struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	Score    float32
}

// Provider abstracts a vector database. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Upsert adds or updates a document with its vector.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search finds the topK most similar vectors.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines vector similarity with metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a document by ID.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteByFilter removes all documents matching the filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// CreateCollection ensures a collection exists with the given dimension.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases provider resources.
	Close() error
}

// NewFromConfig builds the provider the config names. Callers check
// cfg.Enabled; an enabled config always yields a concrete provider.
func NewFromConfig(cfg *config.VectorConfig) (Provider, error) {
	switch cfg.Provider {
	case "chromem":
		return NewChromemProvider(ChromemConfig{PersistPath: cfg.Path})
	case "qdrant":
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
	case "pinecone":
		return NewPineconeProvider(PineconeConfig{
			APIKey:    cfg.APIKey,
			IndexHost: cfg.IndexHost,
			IndexName: cfg.Collection,
			Namespace: cfg.Namespace,
		})
	default:
		return nil, fmt.Errorf("unsupported vector provider: %s (supported: chromem, qdrant, pinecone)", cfg.Provider)
	}
}
