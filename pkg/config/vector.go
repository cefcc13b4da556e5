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

package config

import "fmt"

// VectorConfig configures the optional vector index for semantic memory
// search. When disabled, semantic scoring falls back to token overlap.
type VectorConfig struct {
	// Enabled turns vector indexing on.
	Enabled bool `yaml:"enabled,omitempty"`

	// Provider is chromem (embedded, default), qdrant or pinecone.
	Provider string `yaml:"provider,omitempty"`

	// Collection names the index collection.
	Collection string `yaml:"collection,omitempty"`

	// Path persists the chromem database. Empty keeps it in memory.
	Path string `yaml:"path,omitempty"`

	// Host and Port locate a qdrant instance (gRPC).
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// APIKey authenticates against qdrant or pinecone.
	APIKey string `yaml:"api_key,omitempty"`

	// IndexHost is the pinecone index endpoint.
	IndexHost string `yaml:"index_host,omitempty"`

	// Namespace is the pinecone namespace.
	Namespace string `yaml:"namespace,omitempty"`

	// Dimension of stored vectors. Must match the embedder.
	Dimension int `yaml:"dimension,omitempty"`

	// UseTLS enables TLS for qdrant connections.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "memories"
	}
	if c.Provider == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

// Validate checks the vector configuration.
func (c *VectorConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Provider {
	case "chromem":
	case "qdrant":
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant")
		}
	case "pinecone":
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
		if c.IndexHost == "" {
			return fmt.Errorf("index_host is required for pinecone")
		}
	default:
		return fmt.Errorf("invalid provider %q (valid: chromem, qdrant, pinecone)", c.Provider)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// EmbedderConfig configures the embedding client used by the vector index.
type EmbedderConfig struct {
	// Provider is currently "openai" (covers any OpenAI-compatible API).
	Provider string `yaml:"provider,omitempty"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Defaults to OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Dimension of produced vectors.
	Dimension int `yaml:"dimension,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("invalid provider %q (valid: openai)", c.Provider)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}
