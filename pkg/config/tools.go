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

// MCPServerConfig declares one MCP server launched over stdio. Its tools
// are registered under "<name>__<tool>".
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Validate checks the MCP server declaration.
func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Command == "" {
		return fmt.Errorf("command is required for server %q", c.Name)
	}
	return nil
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	// DocumentRoot is the directory the document extraction tool may read
	// from. Empty disables host file access for extraction.
	DocumentRoot string `yaml:"document_root,omitempty"`

	// MCPServers lists external MCP tool servers to attach at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// SetDefaults applies default values.
func (c *ToolsConfig) SetDefaults() {}

// Validate checks the tools configuration.
func (c *ToolsConfig) Validate() error {
	seen := make(map[string]bool, len(c.MCPServers))
	for i := range c.MCPServers {
		if err := c.MCPServers[i].Validate(); err != nil {
			return fmt.Errorf("mcp_servers[%d]: %w", i, err)
		}
		if seen[c.MCPServers[i].Name] {
			return fmt.Errorf("mcp_servers: duplicate name %q", c.MCPServers[i].Name)
		}
		seen[c.MCPServers[i].Name] = true
	}
	return nil
}
