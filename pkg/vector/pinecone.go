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

package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the Pinecone vector provider.
type PineconeConfig struct {
	// APIKey is required for Pinecone authentication.
	APIKey string

	// IndexHost is the index endpoint. When set, the provider connects
	// directly instead of resolving the host via DescribeIndex.
	IndexHost string

	// IndexName is the default index to use.
	IndexName string

	// Namespace scopes all operations (optional).
	Namespace string
}

// PineconeProvider implements Provider against the Pinecone managed service.
type PineconeProvider struct {
	client    *pinecone.Client
	config    PineconeConfig
	indexName string
}

var _ Provider = (*PineconeProvider)(nil)

// NewPineconeProvider creates a new Pinecone provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "ensemble-index"
	}

	return &PineconeProvider{
		client:    client,
		config:    cfg,
		indexName: indexName,
	}, nil
}

func (p *PineconeProvider) Name() string {
	return "pinecone"
}

func (p *PineconeProvider) getIndexConnection(ctx context.Context, indexName string) (*pinecone.IndexConnection, error) {
	host := p.config.IndexHost
	if host == "" {
		index, err := p.client.DescribeIndex(ctx, indexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %s: %w", indexName, err)
		}
		host = index.Host
	}

	indexConn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: p.config.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return indexConn, nil
}

func (p *PineconeProvider) resolveIndex(collection string) string {
	if collection == "" {
		return p.indexName
	}
	return collection
}

// Upsert adds or updates a document with its vector.
func (p *PineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var pineconeMetadata *pinecone.Metadata
	if len(metadata) > 0 {
		pineconeMetadata, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = indexConn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vector,
		Metadata: pineconeMetadata,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// Search finds the topK most similar vectors.
func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

// SearchWithFilter combines vector similarity with metadata filtering.
func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeResults(queryResponse.Matches), nil
}

// Delete removes a document by ID.
func (p *PineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return err
	}
	defer indexConn.Close()

	if err := indexConn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

// DeleteByFilter removes all documents matching the filter.
func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	if err := indexConn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// CreateCollection checks that the index exists. Pinecone indexes are
// provisioned out of band, so a missing index is an error rather than an
// implicit create.
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	indexName := p.resolveIndex(collection)

	// A direct host means the index was provisioned already.
	if p.config.IndexHost != "" {
		return nil
	}

	indexes, err := p.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == indexName {
			return nil
		}
	}
	return fmt.Errorf("index %s does not exist; create it via the Pinecone console or API", indexName)
}

// DeleteCollection is not supported; indexes are managed out of band.
func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	return fmt.Errorf("index deletion not supported; delete index %s via the Pinecone console or API", p.resolveIndex(collection))
}

// Close is a no-op; connections are per-call.
func (p *PineconeProvider) Close() error {
	return nil
}

func convertPineconeResults(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))
	for _, scored := range matches {
		if scored.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if scored.Vector.Metadata != nil {
			for k, v := range scored.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}

		content := ""
		if str, ok := metadata["content"].(string); ok {
			content = str
		}

		results = append(results, Result{
			ID:       scored.Vector.Id,
			Content:  content,
			Vector:   scored.Vector.Values,
			Metadata: metadata,
			Score:    scored.Score,
		})
	}
	return results
}
