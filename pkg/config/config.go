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

// Package config defines the declarative configuration surface of the
// runtime. Every section follows the same contract: yaml tags, SetDefaults
// for unset fields, Validate for constraint checks.
package config

import (
	"fmt"
	"time"

	"github.com/kadirpekel/ensemble/pkg/observability"
)

// Config is the root configuration document.
type Config struct {
	LLM           LLMConfig            `yaml:"llm,omitempty"`
	Embedder      EmbedderConfig       `yaml:"embedder,omitempty"`
	Vector        VectorConfig         `yaml:"vector,omitempty"`
	Memory        MemoryConfig         `yaml:"memory,omitempty"`
	Fallback      FallbackConfig       `yaml:"fallback,omitempty"`
	Deadlines     DeadlineConfig       `yaml:"deadlines,omitempty"`
	Agents        []AgentConfig        `yaml:"agents,omitempty"`
	Tools         ToolsConfig          `yaml:"tools,omitempty"`
	Storage       StorageConfig        `yaml:"storage,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
	Logging       LoggingConfig        `yaml:"logging,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Memory.SetDefaults()
	c.Fallback.SetDefaults()
	c.Deadlines.SetDefaults()
	for i := range c.Agents {
		c.Agents[i].SetDefaults()
	}
	c.Tools.SetDefaults()
	c.Storage.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and returns the first violation.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Fallback.Validate(); err != nil {
		return fmt.Errorf("fallback: %w", err)
	}
	if err := c.Deadlines.Validate(); err != nil {
		return fmt.Errorf("deadlines: %w", err)
	}
	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		if err := c.Agents[i].Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if seen[c.Agents[i].Name] {
			return fmt.Errorf("agents: duplicate name %q", c.Agents[i].Name)
		}
		seen[c.Agents[i].Name] = true
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// DeadlineConfig bounds the three nested execution scopes. Each inner scope
// is also cut short by its parent's remaining budget.
type DeadlineConfig struct {
	// Request caps one orchestrated request end to end.
	Request time.Duration `yaml:"request,omitempty"`

	// LLM caps a single provider call.
	LLM time.Duration `yaml:"llm,omitempty"`

	// Tool caps a single tool execution.
	Tool time.Duration `yaml:"tool,omitempty"`
}

// SetDefaults applies the standard request/llm/tool budgets.
func (c *DeadlineConfig) SetDefaults() {
	if c.Request == 0 {
		c.Request = 5 * time.Minute
	}
	if c.LLM == 0 {
		c.LLM = 30 * time.Second
	}
	if c.Tool == 0 {
		c.Tool = 30 * time.Second
	}
}

// Validate checks the deadline configuration.
func (c *DeadlineConfig) Validate() error {
	if c.Request <= 0 || c.LLM <= 0 || c.Tool <= 0 {
		return fmt.Errorf("deadlines must be positive")
	}
	return nil
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty"`

	// Format is text, verbose or json.
	Format string `yaml:"format,omitempty"`

	// File redirects logs from stderr to a file when set.
	File string `yaml:"file,omitempty"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Format {
	case "", "text", "verbose", "json":
	default:
		return fmt.Errorf("invalid format %q (valid: text, verbose, json)", c.Format)
	}
	return nil
}

// StorageConfig selects the persistence backend shared by the memory store
// and the session service.
type StorageConfig struct {
	// Backend is "memory" for in-process maps or "sql" for a database.
	Backend string `yaml:"backend,omitempty"`

	// Database configures the SQL backend. Ignored for "memory".
	Database DatabaseConfig `yaml:"database,omitempty"`
}

// SetDefaults applies default values.
func (c *StorageConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sql" {
		c.Database.SetDefaults()
	}
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sql":
		return c.Database.Validate()
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
}

// BoolPtr returns a pointer to b, for optional boolean fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Float64Ptr returns a pointer to f, for optional numeric fields.
func Float64Ptr(f float64) *float64 {
	return &f
}
