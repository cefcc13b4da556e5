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

// Package provider abstracts configuration sources. A provider loads raw
// config bytes from somewhere (local file, consul, etcd, zookeeper) and can
// signal changes for hot reload.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source kind.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a string to a Type. Empty means file.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts a configuration source.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type reports the source kind for logging.
	Type() Type

	// Load reads the raw config bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source changes.
	// Cancel the context to stop watching; the channel is closed when the
	// watch ends. A nil channel means the source does not support watching.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases the provider's resources.
	Close() error
}

// Config selects and parameterizes a provider.
type Config struct {
	// Type of the source (file, consul, etcd, zookeeper).
	Type Type

	// Path is the file path or remote key.
	Path string

	// Endpoints of the remote store. Unused for files.
	Endpoints []string
}

// New builds the provider described by cfg.
func New(cfg Config) (Provider, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	switch cfg.Type {
	case TypeFile, "":
		return NewFileProvider(cfg.Path)
	case TypeConsul:
		return NewConsulProvider(cfg.Endpoints, cfg.Path)
	case TypeEtcd:
		return NewEtcdProvider(cfg.Endpoints, cfg.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(cfg.Endpoints, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
